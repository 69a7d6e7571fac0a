package main

import (
	"github.com/spf13/cobra"

	"github.com/steelcutops/imclsync/imclsync/config"
)

func newApplyCmd(a *app) *cobra.Command {
	var file, toolPath string
	var check bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile every package listed in a desired-state file",
		Long: `Reads a desired-state file (.yaml, .yml, .toml or .ini) holding shared
defaults and an ordered list of packages, then reconciles each package in
order on every host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(file)
			if err != nil {
				return err
			}
			requests, err := f.Requests()
			if err != nil {
				return err
			}
			for i := range requests {
				if requests[i].Spec.ToolPath == "" {
					requests[i].Spec.ToolPath = toolPath
				}
			}
			a.log.Debug("Loaded desired state", "file", file, "packages", len(requests))

			return a.reconcileAll(cmd.Context(), requests, check)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Desired-state file")
	cmd.Flags().StringVar(&toolPath, "tool-path", defaultToolPath, "Path to imcl for packages whose file entry sets none")
	cmd.Flags().BoolVar(&check, "check", false, "Report what would change without changing anything")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
