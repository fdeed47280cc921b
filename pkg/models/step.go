package models

import "strings"

// Step is a single unit inside a job: either a reference to a registered
// action ("uses") or a shell command line ("run"). Exactly one of the two
// must be set.
type Step struct {
	Name           string            `json:"name,omitempty"`
	Uses           string            `json:"uses,omitempty"` // Action reference, name@version
	With           map[string]string `json:"with,omitempty"`
	Run            string            `json:"run,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutMinutes int               `json:"timeout_minutes,omitempty" validate:"gte=0"`
}

func (s *Step) IsUses() bool {
	return s.Uses != ""
}

func (s *Step) IsRun() bool {
	return s.Run != ""
}

// Label returns a short human-readable identifier for logs and run records:
// the step name, the action reference, or the first line of the command.
func (s *Step) Label() string {
	if s.Name != "" {
		return s.Name
	}

	if s.Uses != "" {
		return s.Uses
	}

	line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")

	return line
}
