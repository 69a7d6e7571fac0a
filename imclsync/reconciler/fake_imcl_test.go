package reconciler

import (
	"context"
	"strings"
	"sync"
	"time"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
	pm "github.com/steelcutops/imclsync/imclsync/packagemanager"
)

// fakeIMCL answers imcl command lines from a MemoryInventory, so install,
// uninstall and list stay consistent with each other across calls.
type fakeIMCL struct {
	mu        sync.Mutex
	inventory *pm.MemoryInventory
	calls     []cm.CommandConfig

	// results overrides the outcome per verb (listInstalledPackages,
	// install, uninstall, rollback).
	results map[string]cm.CommandResult
	errs    map[string]error
	onRun   func(ctx context.Context, verb string)
}

func newFakeIMCL(installed ...string) *fakeIMCL {
	return &fakeIMCL{
		inventory: pm.NewMemoryInventory(installed...),
		results:   map[string]cm.CommandResult{},
		errs:      map[string]error{},
	}
}

var imclVerbs = map[string]bool{"listInstalledPackages": true, "install": true, "uninstall": true, "rollback": true}

func parseVerb(args []string) (verb, name string) {
	for i, arg := range args {
		if imclVerbs[arg] {
			if i+1 < len(args) {
				return arg, args[i+1]
			}
			return arg, ""
		}
	}
	return "", ""
}

func (f *fakeIMCL) Run(ctx context.Context, config cm.CommandConfig) (cm.CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, config)
	f.mu.Unlock()

	verb, name := parseVerb(config.Args)
	if f.onRun != nil {
		f.onRun(ctx, verb)
	}
	if err, ok := f.errs[verb]; ok {
		return cm.CommandResult{Command: config.String(), ExitCode: -1}, err
	}
	if result, ok := f.results[verb]; ok {
		result.Command = config.String()
		return result, nil
	}

	switch verb {
	case "listInstalledPackages":
		packages, _ := f.inventory.Query(ctx)
		return cm.CommandResult{Command: config.String(), STDOUT: strings.Join(packages, "\n") + "\n"}, nil
	case "install":
		f.inventory.Add(name)
		return cm.CommandResult{Command: config.String(), STDOUT: "Installed " + name}, nil
	case "uninstall":
		f.inventory.Remove(name)
		return cm.CommandResult{Command: config.String(), STDOUT: "Uninstalled " + name}, nil
	case "rollback":
		return cm.CommandResult{Command: config.String(), STDOUT: "Rolled back " + name}, nil
	}
	return cm.CommandResult{Command: config.String(), ExitCode: 127, STDERR: "unknown command"}, nil
}

func (f *fakeIMCL) verbs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var verbs []string
	for _, c := range f.calls {
		verb, _ := parseVerb(c.Args)
		verbs = append(verbs, verb)
	}
	return verbs
}

func (f *fakeIMCL) mutatingCalls() int {
	n := 0
	for _, verb := range f.verbs() {
		if verb != "listInstalledPackages" {
			n++
		}
	}
	return n
}

func (f *fakeIMCL) lastCall() cm.CommandConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeProbe struct {
	exists bool
	err    error
	paths  []string
}

func (p *fakeProbe) Exists(ctx context.Context, path string) (bool, error) {
	p.paths = append(p.paths, path)
	return p.exists, p.err
}

type observation struct {
	state, action   string
	changed, failed bool
}

type fakeMetrics struct {
	observations []observation
	unavailable  int
}

func (m *fakeMetrics) ObserveReconcile(state, action string, changed, failed bool, elapsed time.Duration) {
	m.observations = append(m.observations, observation{state, action, changed, failed})
}

func (m *fakeMetrics) InventoryUnavailable() {
	m.unavailable++
}
