package packagemanager

import (
	"context"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
)

const listInstalledPackages = "listInstalledPackages"

// IMCLInventory lists packages with `imcl listInstalledPackages`.
type IMCLInventory struct {
	CommandManager cm.CommandManager
	ToolPath       string
	Sudo           bool
	Match          MatchMode
}

func NewIMCLInventory(commandManager cm.CommandManager, toolPath string) *IMCLInventory {
	return &IMCLInventory{CommandManager: commandManager, ToolPath: toolPath}
}

func (i *IMCLInventory) Query(ctx context.Context) ([]string, error) {
	config := cm.CommandConfig{
		Command: i.ToolPath,
		Args:    []string{listInstalledPackages},
		Sudo:    i.Sudo,
	}

	result, err := i.CommandManager.Run(ctx, config)
	if err != nil || result.ExitCode != 0 {
		return nil, &UnavailableError{
			Command:  config.String(),
			ExitCode: result.ExitCode,
			Stdout:   result.STDOUT,
			Stderr:   result.STDERR,
			Err:      err,
		}
	}

	return ParsePackageList(result.STDOUT), nil
}

func (i *IMCLInventory) IsInstalled(ctx context.Context, name string) (bool, error) {
	packages, err := i.Query(ctx)
	if err != nil {
		return false, err
	}
	return Contains(packages, name, i.Match), nil
}
