package reconciler

import (
	"fmt"
	"path"
	"strings"
	"time"

	cm "github.com/steelcutops/imclsync/imclsync/commandmanager"
)

const defaultLogDirectory = "/tmp"

// logTimestamp keeps file names sortable and free of characters that need
// quoting.
const logTimestamp = "20060102T150405Z"

// LogPath returns a per-invocation log file for the tool, unique by time and
// run id.
func LogPath(dir string, action Action, now time.Time, runID string) string {
	if dir == "" {
		dir = defaultLogDirectory
	}
	if len(runID) > 8 {
		runID = runID[:8]
	}
	name := fmt.Sprintf("imcl-%s-%s-%s.log", action.verb(), now.UTC().Format(logTimestamp), runID)
	return path.Join(dir, name)
}

// argBuilder assembles an argv one flag at a time. Empty optional values are
// skipped so callers never branch on them.
type argBuilder struct {
	args []string
}

func (b *argBuilder) word(words ...string) *argBuilder {
	b.args = append(b.args, words...)
	return b
}

func (b *argBuilder) flag(name, value string) *argBuilder {
	return b.word(name, value)
}

func (b *argBuilder) optional(name, value string) *argBuilder {
	if value == "" {
		return b
	}
	return b.flag(name, value)
}

func installCommand(spec InstallSpec, logPath string) cm.CommandConfig {
	b := &argBuilder{}
	b.word("-acceptLicense").
		flag("-repositories", strings.Join(spec.Repositories, ",")).
		flag("-installationDirectory", spec.InstallationDirectory).
		flag("-log", logPath).
		flag("-sharedResourcesDirectory", spec.SharedResourcesDirectory).
		word("install", spec.Name).
		optional("-properties", RenderProperties(spec.Properties))
	if spec.SecureStorageFile != "" && spec.MasterPasswordFile != "" {
		b.flag("-secureStorageFile", spec.SecureStorageFile).
			flag("-masterPasswordFile", spec.MasterPasswordFile)
	}
	return cm.CommandConfig{Command: spec.ToolPath, Args: b.args}
}

func updateCommand(spec InstallSpec, logPath string) cm.CommandConfig {
	b := &argBuilder{}
	b.word("-acceptLicense").
		flag("-sharedResourcesDirectory", spec.SharedResourcesDirectory).
		word("install", spec.Name).
		flag("-repositories", strings.Join(spec.Repositories, ",")).
		flag("-log", logPath)
	return cm.CommandConfig{Command: spec.ToolPath, Args: b.args}
}

func uninstallCommand(spec InstallSpec, logPath string) cm.CommandConfig {
	b := &argBuilder{}
	b.word("uninstall", spec.Name).flag("-log", logPath)
	return cm.CommandConfig{Command: spec.ToolPath, Args: b.args}
}

func rollbackCommand(spec InstallSpec) cm.CommandConfig {
	b := &argBuilder{}
	b.word("rollback", spec.Name)
	return cm.CommandConfig{Command: spec.ToolPath, Args: b.args}
}

// BuildCommand returns the command for action. NoOp and unknown actions have
// no command.
func BuildCommand(spec InstallSpec, action Action, logPath string) (cm.CommandConfig, error) {
	switch action {
	case ActionInstalled:
		return installCommand(spec, logPath), nil
	case ActionUpdated:
		return updateCommand(spec, logPath), nil
	case ActionUninstalled:
		return uninstallCommand(spec, logPath), nil
	case ActionRolledBack:
		return rollbackCommand(spec), nil
	default:
		return cm.CommandConfig{}, fmt.Errorf("no command for action %q", action)
	}
}
