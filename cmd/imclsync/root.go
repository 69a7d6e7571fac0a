package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steelcutops/imclsync/imclsync/reconciler"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "imclsync",
		Short: "Converge IBM Installation Manager packages to a desired state",
		Long: `imclsync queries the packages installed by imcl and runs the single
install, update, uninstall or rollback command needed to reach the desired
state. Runs are idempotent, and --check reports what would change without
changing anything.

Hosts other than localhost are reached over SSH.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.configureLogger(); err != nil {
				return err
			}
			switch strings.ToLower(a.flags.Output) {
			case "", "text", "json":
			default:
				return fmt.Errorf("unknown output format %q, expected text or json", a.flags.Output)
			}
			if a.flags.NoColor {
				color.NoColor = true
			}
			if a.flags.Concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			return nil
		},
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	f := &a.flags
	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	pf.StringVar(&f.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&f.LogFormat, "log-format", "text", "Log format (text or json)")
	pf.StringVarP(&f.Output, "output", "o", "text", "Result output format (text or json)")
	pf.BoolVar(&f.NoColor, "no-color", false, "Disable colored text output")

	pf.StringArrayVar(&f.Hostnames, "hostname", nil, "Hostname to connect to (repeatable)")
	pf.StringVar(&f.IniFilePath, "ini", "", "Path to INI file with host groups")
	pf.StringSliceVar(&f.Groups, "group", nil, "Only use these groups from --ini")
	pf.IntVar(&f.Concurrency, "concurrency", 1, "Maximum number of hosts processed at once")
	pf.StringVar(&f.Username, "username", "", "Username to use for SSH connection")
	pf.BoolVar(&f.PasswordPrompt, "password", false, "Prompt for the SSH password")
	pf.BoolVar(&f.KeyPassPrompt, "keypass", false, "Prompt for the passphrase of SSH keys")
	pf.BoolVar(&f.SudoPasswordPrompt, "sudo-password", false, "Prompt for the sudo password")
	pf.StringVar(&f.KnownHosts, "known-hosts", "", "Verify SSH host keys against this known_hosts file")

	pf.BoolVar(&f.Sudo, "sudo", false, "Run imcl through sudo")
	pf.BoolVar(&f.Preflight, "preflight", false, "Check that the imcl binary exists before reconciling (one extra command per package)")
	pf.StringVar(&f.Match, "match", "contains", "How package names match installed packages (contains or exact)")
	pf.DurationVar(&f.QueryTimeout, "query-timeout", reconciler.DefaultQueryTimeout, "Timeout for listing installed packages")
	pf.DurationVar(&f.ActionTimeout, "action-timeout", reconciler.DefaultActionTimeout, "Timeout for install, update, uninstall and rollback")

	pf.StringVar(&f.JournalDir, "journal-dir", "", "Write a JSON record of every result to this directory")
	pf.StringVar(&f.MetricsFile, "metrics-file", "", "Write Prometheus metrics to this file (textfile collector format)")

	rootCmd.AddCommand(newReconcileCmd(a))
	rootCmd.AddCommand(newApplyCmd(a))
	rootCmd.AddCommand(newListCmd(a))

	return rootCmd
}
