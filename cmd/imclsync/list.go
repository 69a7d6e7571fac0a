package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/steelcutops/imclsync/imclsync/host"
	pm "github.com/steelcutops/imclsync/imclsync/packagemanager"
)

func newListCmd(a *app) *cobra.Command {
	var toolPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed packages on every host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listAllPackages(cmd.Context(), toolPath)
		},
	}
	cmd.Flags().StringVar(&toolPath, "tool-path", defaultToolPath, "Path to imcl on the host")

	return cmd
}

func (a *app) listAllPackages(ctx context.Context, toolPath string) error {
	hostGroup, err := a.initializeHosts(nil)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	packages := map[string][]string{}

	err = hostGroup.Each(ctx, a.flags.Concurrency, func(ctx context.Context, h *host.Host) error {
		inventory := &pm.IMCLInventory{CommandManager: h.CommandManager, ToolPath: toolPath, Sudo: h.Sudo}

		var qctx context.Context
		var cancel context.CancelFunc
		if a.flags.QueryTimeout > 0 {
			qctx, cancel = context.WithTimeout(ctx, a.flags.QueryTimeout)
		} else {
			qctx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		installed, err := inventory.Query(qctx)
		if err != nil {
			return fmt.Errorf("failed to list packages: %w", err)
		}

		mu.Lock()
		packages[h.Hostname] = installed
		mu.Unlock()
		return nil
	})

	if writeErr := writePackages(a, packages); writeErr != nil {
		return writeErr
	}
	return err
}

func writePackages(a *app, packages map[string][]string) error {
	if strings.EqualFold(a.flags.Output, "json") {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(packages)
	}

	hosts := make([]string, 0, len(packages))
	for h := range packages {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	for _, h := range hosts {
		fmt.Fprintf(a.stdout, "Packages on %s:\n", h)
		for _, p := range packages[h] {
			fmt.Fprintln(a.stdout, p)
		}
	}
	return nil
}
