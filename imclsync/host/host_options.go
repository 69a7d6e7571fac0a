package host

import (
	"golang.org/x/crypto/ssh"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
	"github.com/steelcutops/imclsync/imclsync/reconciler"
	"github.com/steelcutops/imclsync/logger"
)

type HostOption func(*Host)

// WithUser returns a HostOption that sets the user for a Host.
func WithUser(user string) HostOption {
	return func(host *Host) {
		host.User = user
	}
}

// WithPassword returns a HostOption that sets the password for a Host.
func WithPassword(password string) HostOption {
	return func(host *Host) {
		host.Password = password
	}
}

// WithKeyPassphrase returns a HostOption that sets the key passphrase for a Host.
func WithKeyPassphrase(keyPassphrase string) HostOption {
	return func(host *Host) {
		host.KeyPassphrase = keyPassphrase
	}
}

// WithSudoPassword returns a HostOption that sets the sudo password for a Host.
func WithSudoPassword(password string) HostOption {
	return func(host *Host) {
		host.SudoPassword = password
	}
}

func WithSSHClient(client cm.SSHDialer) HostOption {
	return func(host *Host) {
		host.SSHClient = client
	}
}

// WithHostKeyCallback enables host key verification, e.g. from known_hosts.
func WithHostKeyCallback(cb ssh.HostKeyCallback) HostOption {
	return func(host *Host) {
		host.HostKeyCallback = cb
	}
}

// WithSudo runs every imcl invocation through sudo -S.
func WithSudo(sudo bool) HostOption {
	return func(host *Host) {
		host.Sudo = sudo
	}
}

// WithPreflight checks the tool path exists before reconciling.
func WithPreflight(preflight bool) HostOption {
	return func(host *Host) {
		host.Preflight = preflight
	}
}

func WithLogger(l logger.Logger) HostOption {
	return func(host *Host) {
		host.Logger = l
	}
}

func WithMetrics(m reconciler.Metrics) HostOption {
	return func(host *Host) {
		host.Metrics = m
	}
}

// WithCommandManager replaces the local/SSH command manager, mostly for tests.
func WithCommandManager(commandManager cm.CommandManager) HostOption {
	return func(host *Host) {
		host.CommandManager = commandManager
	}
}

// WithReconcilerOptions are applied after the host's own reconciler options.
func WithReconcilerOptions(opts ...reconciler.Option) HostOption {
	return func(host *Host) {
		host.reconcilerOptions = append(host.reconcilerOptions, opts...)
	}
}
