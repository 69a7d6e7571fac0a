package filemanager

import (
	"context"
	"errors"
	"fmt"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
)

// Probe answers marker-path questions such as "is the imcl binary there" or
// "does the install root exist".
type Probe interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// UnixFileManager probes paths through a CommandManager, so the same code
// works for local and SSH hosts.
type UnixFileManager struct {
	CommandManager cm.CommandManager
}

func NewFileManager(commandManager cm.CommandManager) *UnixFileManager {
	return &UnixFileManager{CommandManager: commandManager}
}

// Exists runs `test -e`. Exit 0 means present, exit 1 absent; anything else
// is an error carrying STDERR.
func (ufm *UnixFileManager) Exists(ctx context.Context, path string) (bool, error) {
	return ufm.test(ctx, "-e", path)
}

// IsDir runs `test -d`.
func (ufm *UnixFileManager) IsDir(ctx context.Context, path string) (bool, error) {
	return ufm.test(ctx, "-d", path)
}

func (ufm *UnixFileManager) test(ctx context.Context, flag, path string) (bool, error) {
	result, err := ufm.CommandManager.Run(ctx, cm.CommandConfig{
		Command: "test",
		Args:    []string{flag, path},
	})
	if err == nil && result.ExitCode == 1 {
		return false, nil
	}
	if err := handleCommandResult(result, err); err != nil {
		return false, err
	}
	return true, nil
}

func handleCommandResult(result cm.CommandResult, err error) error {
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		if result.STDERR == "" {
			return fmt.Errorf("exit status %d", result.ExitCode)
		}
		return errors.New(result.STDERR)
	}
	return nil
}
