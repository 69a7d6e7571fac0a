package main

import (
	"github.com/spf13/cobra"

	"github.com/steelcutops/imclsync/imclsync/config"
	"github.com/steelcutops/imclsync/imclsync/reconciler"
)

type reconcileFlags struct {
	State      string
	Properties string
	Check      bool
}

func newReconcileCmd(a *app) *cobra.Command {
	var spec reconciler.InstallSpec
	var rf reconcileFlags

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring one package to the desired state",
		Example: `  imclsync reconcile --name com.ibm.websphere.ND.v90_9.0.5007.20210301_1241 --state present \
    --repo /mnt/repos/WAS90 --dest /opt/IBM/WebSphere/AppServer --shared /opt/IBM/IMShared`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := reconciler.ParseDesiredState(rf.State)
			if err != nil {
				return err
			}
			if rf.Properties != "" {
				spec.Properties, err = reconciler.ParseProperties(rf.Properties)
				if err != nil {
					return err
				}
			}

			return a.reconcileAll(cmd.Context(), []config.Request{{Spec: spec, State: state}}, rf.Check)
		},
	}

	cmd.Flags().StringVar(&spec.Name, "name", "", "Package identifier, e.g. com.ibm.websphere.ND.v90_9.0.5007.20210301_1241")
	cmd.Flags().StringVar(&rf.State, "state", "present", "Desired state: present, absent, update or rollback")
	cmd.Flags().StringVar(&spec.ToolPath, "tool-path", defaultToolPath, "Path to imcl on the host")
	cmd.Flags().StringSliceVar(&spec.Repositories, "repo", nil, "Repository location (repeatable or comma separated)")
	cmd.Flags().StringVar(&spec.InstallationDirectory, "dest", "", "Installation directory")
	cmd.Flags().StringVar(&spec.SharedResourcesDirectory, "shared", "", "Shared resources directory")
	cmd.Flags().StringVar(&spec.LogDirectory, "log-dir", "", "Directory for imcl log files (default /tmp)")
	cmd.Flags().StringVar(&rf.Properties, "properties", "", "Install properties as key=value,key=value")
	cmd.Flags().StringVar(&spec.SecureStorageFile, "secure-storage-file", "", "Secure storage file for authenticated repositories")
	cmd.Flags().StringVar(&spec.MasterPasswordFile, "master-password-file", "", "Master password file for the secure storage file")
	cmd.Flags().StringVar(&spec.ResponseFile, "response-file", "", "Response file (accepted but not used)")
	cmd.Flags().BoolVar(&rf.Check, "check", false, "Report what would change without changing anything")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
