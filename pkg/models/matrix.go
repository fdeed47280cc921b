package models

import (
	"sort"
	"strings"
)

// Matrix parameterizes a job over a declared list of entries. One job
// instance is produced per entry; sibling instances are independent.
type Matrix struct {
	Include []MatrixEntry `json:"include" validate:"required,min=1"`
}

// MatrixEntry is one declared combination of matrix values. The canonical
// shape pairs a compilation target triple with a runner image name.
type MatrixEntry map[string]string

// Well-known matrix keys.
const (
	MatrixKeyTarget = "target"
	MatrixKeyOS     = "os"
)

func (e MatrixEntry) Target() string {
	return e[MatrixKeyTarget]
}

func (e MatrixEntry) OS() string {
	return e[MatrixKeyOS]
}

func (e MatrixEntry) Empty() bool {
	return len(e) == 0
}

// Keys returns the entry's keys sorted for deterministic iteration.
func (e MatrixEntry) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Label identifies the entry in job instance names: the target triple when
// present, otherwise all values joined in key order.
func (e MatrixEntry) Label() string {
	if target := e.Target(); target != "" {
		return target
	}

	values := make([]string, 0, len(e))
	for _, k := range e.Keys() {
		values = append(values, e[k])
	}

	return strings.Join(values, ", ")
}

// minTripleParts is the minimum number of dash-separated components in a
// target triple (arch, vendor, os).
const minTripleParts = 3

// ValidTargetTriple reports whether s looks like a compilation target
// triple such as x86_64-unknown-linux-gnu.
func ValidTargetTriple(s string) bool {
	if s == "" {
		return false
	}

	parts := strings.Split(s, "-")
	if len(parts) < minTripleParts {
		return false
	}

	for _, part := range parts {
		if part == "" {
			return false
		}
	}

	return true
}
