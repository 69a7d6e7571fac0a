package packagemanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Inventory is the package manager's view of what is installed. It is
// always queried live; nothing is cached between calls.
type Inventory interface {
	Query(ctx context.Context) ([]string, error)
	IsInstalled(ctx context.Context, name string) (bool, error)
}

// MatchMode decides how a package name is compared with inventory entries.
type MatchMode int

const (
	// MatchContains treats a package as installed when its name is a
	// substring of any inventory entry. A name that is a prefix of another
	// installed package therefore also matches.
	MatchContains MatchMode = iota
	// MatchExact requires an inventory entry equal to the name.
	MatchExact
)

func (m MatchMode) String() string {
	switch m {
	case MatchContains:
		return "contains"
	case MatchExact:
		return "exact"
	default:
		return "unknown"
	}
}

func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(s) {
	case "", "contains":
		return MatchContains, nil
	case "exact":
		return MatchExact, nil
	default:
		return MatchContains, fmt.Errorf("unknown match mode %q", s)
	}
}

var ErrInventoryUnavailable = errors.New("package inventory unavailable")

// UnavailableError is returned when the list-installed query could not run
// or exited non-zero.
type UnavailableError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInventoryUnavailable, e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %s exited with status %d", ErrInventoryUnavailable, e.Command, e.ExitCode)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrInventoryUnavailable
}

// ParsePackageList splits list output into identifiers: one per non-empty
// line, surrounding whitespace trimmed, order kept.
func ParsePackageList(output string) []string {
	var packages []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		packages = append(packages, line)
	}
	return packages
}

// Contains applies mode to every entry of packages.
func Contains(packages []string, name string, mode MatchMode) bool {
	if name == "" {
		return false
	}
	for _, installed := range packages {
		switch mode {
		case MatchExact:
			if installed == name {
				return true
			}
		default:
			if strings.Contains(installed, name) {
				return true
			}
		}
	}
	return false
}
