package reconciler

import (
	"fmt"
	"strings"
)

// DesiredState is what the caller wants for a package.
type DesiredState string

const (
	StatePresent    DesiredState = "present"
	StateAbsent     DesiredState = "absent"
	StateUpdated    DesiredState = "update"
	StateRolledBack DesiredState = "rollback"
)

var desiredStates = []DesiredState{StatePresent, StateAbsent, StateUpdated, StateRolledBack}

func ParseDesiredState(s string) (DesiredState, error) {
	for _, state := range desiredStates {
		if strings.EqualFold(s, string(state)) {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown state %q, expected one of present, absent, update, rollback", s)
}

func (d DesiredState) Valid() bool {
	for _, state := range desiredStates {
		if d == state {
			return true
		}
	}
	return false
}

// Action is what a reconciliation did or, in dry-run, would do.
type Action string

const (
	ActionInstalled   Action = "installed"
	ActionUpdated     Action = "updated"
	ActionUninstalled Action = "uninstalled"
	ActionRolledBack  Action = "rolled_back"
	ActionNoOp        Action = "noop"
)

// verb is used in log file names and metric labels.
func (a Action) verb() string {
	switch a {
	case ActionInstalled:
		return "install"
	case ActionUpdated:
		return "update"
	case ActionUninstalled:
		return "uninstall"
	case ActionRolledBack:
		return "rollback"
	default:
		return "noop"
	}
}

// Result is the outcome of one Reconcile call. Every field is set on every
// path. Command is the rendered command line that ran or, in dry-run, would
// have run. A failed inventory query records the query instead; no-ops and
// configuration errors leave it empty.
type Result struct {
	Package   string       `json:"package"`
	State     DesiredState `json:"state"`
	DryRun    bool         `json:"dry_run"`
	Changed   bool         `json:"changed"`
	Action    Action       `json:"action"`
	Message   string       `json:"msg"`
	Command   string       `json:"command,omitempty"`
	Stdout    string       `json:"stdout"`
	Stderr    string       `json:"stderr"`
	Failed    bool         `json:"failed"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`

	Err *Error `json:"-"`
}

// Error returns the classified failure, or nil when the result succeeded.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}
