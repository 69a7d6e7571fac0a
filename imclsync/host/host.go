package host

import (
	"context"
	"errors"

	"golang.org/x/crypto/ssh"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
	"github.com/steelcutops/imclsync/imclsync/filemanager"
	"github.com/steelcutops/imclsync/imclsync/reconciler"
	"github.com/steelcutops/imclsync/logger"
)

// Host is one machine whose packages are reconciled, local or over SSH.
type Host struct {
	Hostname string
	cm.Credentials
	SSHClient       cm.SSHDialer
	HostKeyCallback ssh.HostKeyCallback
	Sudo            bool
	Preflight       bool

	Logger  logger.Logger
	Metrics reconciler.Metrics

	CommandManager cm.CommandManager
	FileManager    *filemanager.UnixFileManager
	Reconciler     *reconciler.Reconciler

	reconcilerOptions []reconciler.Option
}

// NewHost wires the command, file and reconcile layers for hostname.
func NewHost(hostname string, options ...HostOption) (*Host, error) {
	if hostname == "" {
		return nil, errors.New("hostname is empty")
	}

	h := &Host{Hostname: hostname}
	for _, option := range options {
		option(h)
	}

	if h.Logger == nil {
		h.Logger = logger.Discard()
	}
	h.Logger = h.Logger.With("host", hostname)

	if h.CommandManager == nil {
		h.CommandManager = &cm.UnixCommandManager{
			Hostname:        hostname,
			SSHClient:       h.SSHClient,
			Credentials:     h.Credentials,
			HostKeyCallback: h.HostKeyCallback,
		}
	}
	h.FileManager = filemanager.NewFileManager(h.CommandManager)

	opts := []reconciler.Option{
		reconciler.WithLogger(h.Logger),
		reconciler.WithSudo(h.Sudo),
	}
	if h.Metrics != nil {
		opts = append(opts, reconciler.WithMetrics(h.Metrics))
	}
	if h.Preflight {
		opts = append(opts, reconciler.WithProbe(h.FileManager))
	}
	opts = append(opts, h.reconcilerOptions...)
	h.Reconciler = reconciler.New(h.CommandManager, opts...)

	return h, nil
}

// Reconcile runs one reconciliation on this host.
func (h *Host) Reconcile(ctx context.Context, spec reconciler.InstallSpec, desired reconciler.DesiredState, dryRun bool) reconciler.Result {
	return h.Reconciler.Reconcile(ctx, spec, desired, dryRun)
}
