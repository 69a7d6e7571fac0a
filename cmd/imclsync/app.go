package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
	"github.com/steelcutops/imclsync/imclsync/config"
	"github.com/steelcutops/imclsync/imclsync/host"
	"github.com/steelcutops/imclsync/imclsync/hostgroup"
	"github.com/steelcutops/imclsync/imclsync/metrics"
	pm "github.com/steelcutops/imclsync/imclsync/packagemanager"
	"github.com/steelcutops/imclsync/imclsync/reconciler"
	"github.com/steelcutops/imclsync/imclsync/statemanager"
	"github.com/steelcutops/imclsync/logger"
)

const defaultToolPath = "/opt/IBM/InstallationManager/eclipse/tools/imcl"

// errResultsFailed means the run completed but at least one reconciliation
// failed. It maps to exit status 1; every other error maps to 2.
var errResultsFailed = errors.New("one or more reconciliations failed")

type flags struct {
	Concurrency        int
	Debug              bool
	Groups             []string
	Hostnames          []string
	IniFilePath        string
	JournalDir         string
	KeyPassPrompt      bool
	KnownHosts         string
	LogFormat          string
	LogLevel           string
	Match              string
	MetricsFile        string
	NoColor            bool
	Output             string
	PasswordPrompt     bool
	Preflight          bool
	QueryTimeout       time.Duration
	ActionTimeout      time.Duration
	Sudo               bool
	SudoPasswordPrompt bool
	Username           string
}

type app struct {
	flags  flags
	stdout io.Writer
	stderr io.Writer
	log    logger.Logger

	// hostOptions are appended to every host, after the flag-derived ones.
	hostOptions []host.HostOption
	// readSecret prompts for a password without echo.
	readSecret func(prompt string) (string, error)
	now        func() time.Time
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		log:    logger.Discard(),
		now:    time.Now,
	}
	a.readSecret = a.promptTerminal
	return a
}

func (a *app) configureLogger() error {
	level := a.flags.LogLevel
	if a.flags.Debug {
		level = "debug"
	}
	std := logrus.StandardLogger()
	if err := logger.Configure(std, logger.Config{Level: level, Format: a.flags.LogFormat, Output: a.stderr}); err != nil {
		return err
	}
	a.log = logger.Wrap(std)
	a.log.Debug("Debug mode enabled")
	return nil
}

func (a *app) promptTerminal(prompt string) (string, error) {
	fmt.Fprint(a.stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func (a *app) readPasswords() (password, keyPass, sudoPass string, err error) {
	if a.flags.PasswordPrompt {
		if password, err = a.readSecret("Enter the password: "); err != nil {
			return "", "", "", fmt.Errorf("failed to read password: %w", err)
		}
	}
	if a.flags.KeyPassPrompt {
		if keyPass, err = a.readSecret("Enter the key passphrase: "); err != nil {
			return "", "", "", fmt.Errorf("failed to read key passphrase: %w", err)
		}
	}
	if a.flags.SudoPasswordPrompt {
		if sudoPass, err = a.readSecret("Enter the sudo password: "); err != nil {
			return "", "", "", fmt.Errorf("failed to read sudo password: %w", err)
		}
	}
	return password, keyPass, sudoPass, nil
}

func (a *app) buildHostOptions() ([]host.HostOption, error) {
	password, keyPass, sudoPass, err := a.readPasswords()
	if err != nil {
		return nil, err
	}
	match, err := pm.ParseMatchMode(a.flags.Match)
	if err != nil {
		return nil, err
	}

	options := []host.HostOption{
		host.WithSSHClient(cm.RealSSHDialer{}),
		host.WithLogger(a.log),
		host.WithSudo(a.flags.Sudo),
		host.WithPreflight(a.flags.Preflight),
		host.WithReconcilerOptions(
			reconciler.WithMatch(match),
			reconciler.WithQueryTimeout(a.flags.QueryTimeout),
			reconciler.WithActionTimeout(a.flags.ActionTimeout),
		),
	}
	if a.flags.Username != "" {
		options = append(options, host.WithUser(a.flags.Username))
	}
	if password != "" {
		options = append(options, host.WithPassword(password))
	}
	if keyPass != "" {
		options = append(options, host.WithKeyPassphrase(keyPass))
	}
	if sudoPass != "" {
		options = append(options, host.WithSudoPassword(sudoPass))
	}
	if a.flags.KnownHosts != "" {
		cb, err := cm.KnownHostsCallback(a.flags.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts: %w", err)
		}
		options = append(options, host.WithHostKeyCallback(cb))
	}
	return options, nil
}

// hostnames merges --hostname with the hosts INI; localhost when neither is set.
func (a *app) hostnames() ([]string, error) {
	names := append([]string(nil), a.flags.Hostnames...)

	if a.flags.IniFilePath != "" {
		hostsMap, err := config.LoadHosts(a.flags.IniFilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read INI file: %w", err)
		}
		for _, name := range config.Hostnames(hostsMap, a.flags.Groups...) {
			a.log.Debug("Adding host from inventory", "host", name)
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		names = append(names, "localhost")
	}
	return names, nil
}

func (a *app) initializeHosts(m *metrics.Metrics) (*hostgroup.HostGroup, error) {
	names, err := a.hostnames()
	if err != nil {
		return nil, err
	}
	options, err := a.buildHostOptions()
	if err != nil {
		return nil, err
	}

	hostGroup := hostgroup.NewHostGroup()
	for _, hostname := range names {
		if hostGroup.HasHost(hostname) {
			continue
		}
		opts := append(append([]host.HostOption{}, options...), a.hostOptions...)
		if m != nil {
			opts = append(opts, host.WithMetrics(m.ForHost(hostname)))
		}
		server, err := host.NewHost(hostname, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create host %s: %w", hostname, err)
		}
		hostGroup.AddHost(server)
	}
	return hostGroup, nil
}

func (a *app) newMetrics() *metrics.Metrics {
	if a.flags.MetricsFile == "" {
		return nil
	}
	return metrics.New()
}

func (a *app) newJournal() (statemanager.StateManager, error) {
	if a.flags.JournalDir == "" {
		return nil, nil
	}
	return statemanager.NewFileStateManager(a.flags.JournalDir, nil)
}

// reconcileAll runs every request on every host. Hosts run in parallel up to
// --concurrency; requests on one host run strictly in order.
func (a *app) reconcileAll(ctx context.Context, requests []config.Request, dryRun bool) error {
	m := a.newMetrics()
	journal, err := a.newJournal()
	if err != nil {
		return err
	}
	hostGroup, err := a.initializeHosts(m)
	if err != nil {
		return err
	}

	rep := newReport(dryRun)
	err = hostGroup.Each(ctx, a.flags.Concurrency, func(ctx context.Context, h *host.Host) error {
		for _, req := range requests {
			res := h.Reconcile(ctx, req.Spec, req.State, dryRun)
			rep.add(h.Hostname, res)
			if journal != nil {
				if err := recordResult(ctx, journal, h.Hostname, res); err != nil {
					a.log.Warn("Failed to write journal record", "host", h.Hostname, "package", res.Package, "error", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if m != nil {
		m.MarkRun(a.now())
		if err := m.WriteTextfile(a.flags.MetricsFile); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	if err := rep.write(a.stdout, a.flags.Output); err != nil {
		return err
	}
	if rep.failed() > 0 {
		return errResultsFailed
	}
	return nil
}

func recordResult(ctx context.Context, journal statemanager.StateManager, hostname string, res reconciler.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	_, err = journal.Save(ctx, statemanager.State{
		ResourceID:  hostname + "/" + res.Package,
		Data:        data,
		ChangedBy:   "imclsync",
		Description: fmt.Sprintf("%s: %s", res.State, res.Action),
	})
	return err
}
