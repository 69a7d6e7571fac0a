package commandmanager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// waitDelay bounds how long Wait keeps draining pipes after the process was
// killed, so a child that leaked its stdout to a grandchild cannot pin us.
const waitDelay = 10 * time.Second

const defaultDialTimeout = 30 * time.Second

var (
	ErrSudoPassword   = errors.New("sudo: incorrect password provided")
	ErrSudoNotAllowed = errors.New("sudo: user is not in the sudoers file")
)

type SSHDialer interface {
	Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error)
}

// RealSSHDialer dials with golang.org/x/crypto/ssh.
type RealSSHDialer struct{}

func (RealSSHDialer) Dial(network, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	cfg := *config
	cfg.Timeout = timeout
	return ssh.Dial(network, addr, &cfg)
}

type UnixCommandManager struct {
	Hostname  string
	SSHClient SSHDialer
	Credentials

	// HostKeyCallback verifies remote host keys. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
	// KeyManager overrides the agent/file key lookup.
	KeyManager SSHKeyManager
}

func (u *UnixCommandManager) Run(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if u.isLocal() {
		logrus.WithFields(logrus.Fields{"hostname": u.Hostname, "command": config.Command}).Debug("Running local command")
		return u.RunLocal(ctx, config)
	}

	logrus.WithFields(logrus.Fields{"hostname": u.Hostname, "command": config.Command}).Debug("Running remote command")
	return u.RunRemote(ctx, config)
}

func (u *UnixCommandManager) RunLocal(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if config.Command == "" {
		return CommandResult{ExitCode: -1}, errors.New("empty command")
	}

	name, args := config.Command, config.Args
	if config.Sudo {
		name = "sudo"
		args = append([]string{"-S", config.Command}, config.Args...)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	if len(config.Env) > 0 {
		cmd.Env = append(os.Environ(), config.Env...)
	}
	if config.Sudo {
		cmd.Stdin = strings.NewReader(u.SudoPassword + "\n")
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	result := CommandResult{
		Command:   config.String(),
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		ExitCode:  getExitCode(err),
		Duration:  time.Since(start),
		Timestamp: start,
	}

	if err != nil && ctx.Err() != nil {
		return result, fmt.Errorf("%s: %w", config.Command, ctx.Err())
	}
	if config.Sudo {
		if sudoErr := checkSudo(result); sudoErr != nil {
			return result, sudoErr
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return result, nil
	}
	return result, err
}

func (u *UnixCommandManager) getSSHConfig() (*ssh.ClientConfig, error) {
	var authMethod ssh.AuthMethod

	if u.Password != "" {
		logrus.WithField("hostname", u.Hostname).Debug("Using password authentication")
		authMethod = ssh.Password(u.Password)
	} else {
		logrus.WithField("hostname", u.Hostname).Debug("Using public key authentication")
		keyManager := u.KeyManager
		if keyManager == nil {
			if u.KeyPassphrase != "" {
				keyManager = FileSSHKeyManager{}
			} else {
				keyManager = AgentSSHKeyManager{}
			}
		}

		keys, err := keyManager.ReadPrivateKeys(u.KeyPassphrase)
		if err != nil {
			return nil, err
		}

		authMethod = ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			return keys, nil
		})
	}

	hostKeyCallback := u.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            u.User,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

func (u *UnixCommandManager) RunRemote(ctx context.Context, config CommandConfig) (CommandResult, error) {
	if u.SSHClient == nil {
		return CommandResult{ExitCode: -1}, errors.New("SSHClient is not initialized")
	}

	sshConfig, err := u.getSSHConfig()
	if err != nil {
		return CommandResult{ExitCode: -1}, err
	}

	dialTimeout := defaultDialTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < dialTimeout {
		dialTimeout = time.Until(deadline)
	}

	client, err := u.SSHClient.Dial("tcp", u.address(), sshConfig, dialTimeout)
	if err != nil {
		return CommandResult{ExitCode: -1}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return CommandResult{ExitCode: -1}, err
	}
	defer session.Close()

	cmdStr := config.String()
	if config.Sudo {
		session.Stdin = strings.NewReader(u.SudoPassword + "\n")
	}

	var stdout, stderr strings.Builder
	session.Stdout = &stdout
	session.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdStr)
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		// Kill the remote side and wait for Run to return so the session
		// goroutines are gone before we report.
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		logrus.WithFields(logrus.Fields{"hostname": u.Hostname, "command": cmdStr}).Error("Remote command cancelled")
		return CommandResult{
			Command:   cmdStr,
			STDOUT:    stdout.String(),
			STDERR:    stderr.String(),
			ExitCode:  -1,
			Duration:  time.Since(start),
			Timestamp: start,
		}, fmt.Errorf("%s: %w", config.Command, ctx.Err())
	}

	result := CommandResult{
		Command:   cmdStr,
		STDOUT:    stdout.String(),
		STDERR:    stderr.String(),
		Duration:  time.Since(start),
		Timestamp: start,
	}

	var exitErr *ssh.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitStatus()
		runErr = nil
	default:
		result.ExitCode = -1
	}

	if config.Sudo {
		if sudoErr := checkSudo(result); sudoErr != nil {
			return result, sudoErr
		}
	}

	return result, runErr
}

func (u *UnixCommandManager) isLocal() bool {
	return u.Hostname == "" || u.Hostname == "localhost" || u.Hostname == "127.0.0.1"
}

func (u *UnixCommandManager) address() string {
	if _, _, err := net.SplitHostPort(u.Hostname); err == nil {
		return u.Hostname
	}
	return net.JoinHostPort(u.Hostname, "22")
}

// checkSudo maps sudo's own failure messages to errors. Output of a command
// that exited 0 is never inspected.
func checkSudo(result CommandResult) error {
	if result.ExitCode == 0 {
		return nil
	}
	output := result.STDERR + result.STDOUT
	if strings.Contains(output, "incorrect password") {
		return ErrSudoPassword
	}
	if strings.Contains(output, "is not in the sudoers file") {
		return ErrSudoNotAllowed
	}
	return nil
}

func getExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
