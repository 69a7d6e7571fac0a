package config

import (
	"sort"

	"gopkg.in/ini.v1"
)

// LoadHosts reads a host inventory: one section per group, one host per key.
//
//	[was]
//	dmgr=was01.example.com
//	node1=was02.example.com
func LoadHosts(filePath string) (map[string][]string, error) {
	cfg, err := ini.Load(filePath)
	if err != nil {
		return nil, err
	}

	hosts := make(map[string][]string)

	for _, section := range cfg.Sections() {
		name := section.Name()
		for _, key := range section.Keys() {
			hosts[name] = append(hosts[name], key.String())
		}
	}

	return hosts, nil
}

// Hostnames flattens groups into a de-duplicated list, groups in name order
// and hosts in file order. With no groups given, every group is used.
func Hostnames(hosts map[string][]string, groups ...string) []string {
	if len(groups) == 0 {
		for group := range hosts {
			groups = append(groups, group)
		}
		sort.Strings(groups)
	}

	seen := map[string]bool{}
	var out []string
	for _, group := range groups {
		for _, h := range hosts[group] {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out
}
