package reconciler

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

// InstallSpec carries everything needed to build a package command. Which
// fields are required depends on the desired state; see Validate.
type InstallSpec struct {
	Name     string `json:"name" validate:"required"`
	ToolPath string `json:"tool_path" validate:"required"`

	Repositories             []string `json:"repositories" validate:"required,min=1,dive,required"`
	InstallationDirectory    string   `json:"dest" validate:"required"`
	SharedResourcesDirectory string   `json:"shared_resources_dir" validate:"required"`

	// ResponseFile is accepted but not used to drive installs.
	ResponseFile string `json:"response_file,omitempty"`
	// Properties are passed to install as -properties k=v,k=v in key order.
	Properties map[string]string `json:"properties,omitempty"`

	SecureStorageFile  string `json:"secure_storage_file,omitempty" validate:"required_with=MasterPasswordFile"`
	MasterPasswordFile string `json:"master_password_file,omitempty" validate:"required_with=SecureStorageFile"`

	// LogDirectory receives the per-invocation tool log. Defaults to /tmp.
	LogDirectory string `json:"log_dir,omitempty"`
}

var requiredFields = map[DesiredState][]string{
	StatePresent: {
		"Name", "ToolPath", "Repositories", "InstallationDirectory", "SharedResourcesDirectory",
		"SecureStorageFile", "MasterPasswordFile",
	},
	StateUpdated:    {"Name", "ToolPath", "Repositories", "SharedResourcesDirectory"},
	StateAbsent:     {"Name", "ToolPath"},
	StateRolledBack: {"Name", "ToolPath"},
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks that spec can serve state. All problems are reported
// together.
func (spec InstallSpec) Validate(state DesiredState) error {
	fields, ok := requiredFields[state]
	if !ok {
		return fmt.Errorf("unknown desired state %q", state)
	}

	var result *multierror.Error

	if err := validate.StructPartial(spec, fields...); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			result = multierror.Append(result, fieldError(fe, state))
		}
	}

	if state == StatePresent {
		for key := range spec.Properties {
			if key == "" || strings.ContainsAny(key, "=,") {
				result = multierror.Append(result, fmt.Errorf("property key %q must be non-empty and must not contain '=' or ','", key))
			}
		}
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = joinErrors
	return result
}

func fieldError(fe validator.FieldError, state DesiredState) error {
	switch fe.Tag() {
	case "required_with":
		return fmt.Errorf("%s is required when %s is set", fe.Field(), pairedField(fe.Param()))
	case "min":
		return fmt.Errorf("%s needs at least %s entry for state %s", fe.Field(), fe.Param(), state)
	default:
		return fmt.Errorf("%s is required for state %s", fe.Field(), state)
	}
}

func pairedField(goName string) string {
	if f, ok := reflect.TypeOf(InstallSpec{}).FieldByName(goName); ok {
		if name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]; name != "" {
			return name
		}
	}
	return goName
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// RenderProperties formats properties as k=v pairs sorted by key.
func RenderProperties(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+props[k])
	}
	return strings.Join(pairs, ",")
}

// ParseProperties is the inverse of RenderProperties.
func ParseProperties(s string) (map[string]string, error) {
	props := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", pair)
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return props, nil
}
