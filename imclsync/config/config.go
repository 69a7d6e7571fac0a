package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/steelcutops/imclsync/imclsync/reconciler"
)

// Settings are the InstallSpec fields a desired-state file can set, either
// once under defaults or per package.
type Settings struct {
	ToolPath                 string            `yaml:"tool_path,omitempty" toml:"tool_path"`
	Repositories             []string          `yaml:"repositories,omitempty" toml:"repositories"`
	InstallationDirectory    string            `yaml:"dest,omitempty" toml:"dest"`
	SharedResourcesDirectory string            `yaml:"shared_resources_dir,omitempty" toml:"shared_resources_dir"`
	ResponseFile             string            `yaml:"response_file,omitempty" toml:"response_file"`
	Properties               map[string]string `yaml:"properties,omitempty" toml:"properties"`
	SecureStorageFile        string            `yaml:"secure_storage_file,omitempty" toml:"secure_storage_file"`
	MasterPasswordFile       string            `yaml:"master_password_file,omitempty" toml:"master_password_file"`
	LogDirectory             string            `yaml:"log_dir,omitempty" toml:"log_dir"`
}

type Package struct {
	Name     string `yaml:"name" toml:"name" validate:"required"`
	State    string `yaml:"state" toml:"state" validate:"required,oneof=present absent update rollback"`
	Settings `yaml:",inline"`
}

// File is a desired-state document: shared defaults plus an ordered list of
// packages. Packages are reconciled in file order.
type File struct {
	Defaults Settings  `yaml:"defaults" toml:"defaults"`
	Packages []Package `yaml:"packages" toml:"packages" validate:"required,min=1,dive"`
}

// Request is one reconciliation to perform.
type Request struct {
	Spec  reconciler.InstallSpec
	State reconciler.DesiredState
}

var validate = validator.New()

// Load reads a desired-state file. The format follows the extension: .yaml,
// .yml, .toml or .ini.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f *File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		f, err = parseYAML(data)
	case ".toml":
		f, err = parseTOML(data)
	case ".ini":
		f, err = parseINI(data)
	default:
		return nil, fmt.Errorf("unsupported desired-state file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for i := range f.Packages {
		f.Packages[i].State = strings.ToLower(strings.TrimSpace(f.Packages[i].State))
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return f, nil
}

func parseYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func parseTOML(data []byte) (*File, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys: %v", undecoded)
	}
	return &f, nil
}

// Requests merges defaults into every package, in file order.
func (f *File) Requests() ([]Request, error) {
	requests := make([]Request, 0, len(f.Packages))
	for _, p := range f.Packages {
		state, err := reconciler.ParseDesiredState(p.State)
		if err != nil {
			return nil, fmt.Errorf("package %s: %w", p.Name, err)
		}
		s := merge(f.Defaults, p.Settings)
		requests = append(requests, Request{
			State: state,
			Spec: reconciler.InstallSpec{
				Name:                     p.Name,
				ToolPath:                 s.ToolPath,
				Repositories:             s.Repositories,
				InstallationDirectory:    s.InstallationDirectory,
				SharedResourcesDirectory: s.SharedResourcesDirectory,
				ResponseFile:             s.ResponseFile,
				Properties:               s.Properties,
				SecureStorageFile:        s.SecureStorageFile,
				MasterPasswordFile:       s.MasterPasswordFile,
				LogDirectory:             s.LogDirectory,
			},
		})
	}
	return requests, nil
}

// merge lets every set field of override win. Properties merge key by key.
func merge(defaults, override Settings) Settings {
	out := defaults
	setString(&out.ToolPath, override.ToolPath)
	setString(&out.InstallationDirectory, override.InstallationDirectory)
	setString(&out.SharedResourcesDirectory, override.SharedResourcesDirectory)
	setString(&out.ResponseFile, override.ResponseFile)
	setString(&out.SecureStorageFile, override.SecureStorageFile)
	setString(&out.MasterPasswordFile, override.MasterPasswordFile)
	setString(&out.LogDirectory, override.LogDirectory)

	if len(override.Repositories) > 0 {
		out.Repositories = override.Repositories
	}
	out.Repositories = append([]string(nil), out.Repositories...)

	if len(defaults.Properties)+len(override.Properties) > 0 {
		out.Properties = make(map[string]string, len(defaults.Properties)+len(override.Properties))
		for k, v := range defaults.Properties {
			out.Properties[k] = v
		}
		for k, v := range override.Properties {
			out.Properties[k] = v
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
