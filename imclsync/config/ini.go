package config

import (
	"fmt"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/steelcutops/imclsync/imclsync/reconciler"
)

const defaultsSection = "defaults"

// parseINI reads the flat form of a desired-state file:
//
//	[defaults]
//	tool_path = /opt/IBM/InstallationManager/eclipse/tools/imcl
//	repositories = /mnt/repos/WAS90,/mnt/repos/JDK8
//
//	[com.ibm.websphere.ND.v90_9.0.5007.20210301_1241]
//	state = present
//	dest = /opt/IBM/WebSphere/AppServer
//
// Every section other than defaults is a package named after the section,
// unless it sets name explicitly. Keys outside any section count as defaults.
func parseINI(data []byte) (*File, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{}, data)
	if err != nil {
		return nil, err
	}

	var f File
	for _, section := range cfg.Sections() {
		name := section.Name()
		switch {
		case name == ini.DefaultSection || strings.EqualFold(name, defaultsSection):
			if err := readSettings(section, &f.Defaults, nil); err != nil {
				return nil, err
			}
		default:
			p := Package{Name: name}
			if err := readSettings(section, &p.Settings, &p); err != nil {
				return nil, err
			}
			f.Packages = append(f.Packages, p)
		}
	}
	return &f, nil
}

// readSettings fills s from section. p is nil for the defaults section.
func readSettings(section *ini.Section, s *Settings, p *Package) error {
	for _, key := range section.Keys() {
		value := strings.TrimSpace(key.String())
		switch key.Name() {
		case "tool_path":
			s.ToolPath = value
		case "repositories":
			s.Repositories = splitList(value)
		case "dest":
			s.InstallationDirectory = value
		case "shared_resources_dir":
			s.SharedResourcesDirectory = value
		case "response_file":
			s.ResponseFile = value
		case "properties":
			props, err := reconciler.ParseProperties(value)
			if err != nil {
				return fmt.Errorf("section %s: %w", section.Name(), err)
			}
			s.Properties = props
		case "secure_storage_file":
			s.SecureStorageFile = value
		case "master_password_file":
			s.MasterPasswordFile = value
		case "log_dir":
			s.LogDirectory = value
		case "name", "state":
			if p == nil {
				return fmt.Errorf("section %s: %s is only valid in a package section", section.Name(), key.Name())
			}
			if key.Name() == "name" {
				p.Name = value
			} else {
				p.State = value
			}
		default:
			return fmt.Errorf("section %s: unknown key %q", section.Name(), key.Name())
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
