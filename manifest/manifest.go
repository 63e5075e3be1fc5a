// Package manifest parses and validates service manifests: the identity a
// service declares about itself in its source.
package manifest

import (
	"fmt"
	"regexp"
)

// Kind is the execution shape of a service.
type Kind string

const (
	KindSingleCommand Kind = "single_command"
	KindCommandFlow   Kind = "command_flow"
	KindListener      Kind = "listener"
)

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Manifest is the identity of a service as declared in its source.
type Manifest struct {
	ID            string `yaml:"id"`
	Version       string `yaml:"version"`
	Kind          Kind   `yaml:"kind"`
	Command       string `yaml:"command,omitempty"`
	Description   string `yaml:"description,omitempty"`
	SchemaVersion int    `yaml:"schemaVersion"`
}

// Validate checks that id, version, and kind are present, version matches
// \d+.\d+.\d+, and command is set unless kind is listener.
func (m Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalid)
	}
	if m.Version == "" || !versionPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: version %q does not match d+.d+.d+", ErrInvalid, m.Version)
	}
	switch m.Kind {
	case KindSingleCommand, KindCommandFlow:
		if m.Command == "" {
			return fmt.Errorf("%w: service %q requires a command", ErrInvalid, m.ID)
		}
	case KindListener:
		// command is optional/ignored for listeners.
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, m.Kind)
	}
	return nil
}
