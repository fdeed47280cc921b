package registry

import (
	"errors"
	"strings"
)

// ErrInvalidActionRef indicates a uses value that is not name@version.
var ErrInvalidActionRef = errors.New("invalid action reference")

// ParseActionRef splits an action reference into its name and version.
// References must carry an explicit version, e.g. actions/checkout@v4.
func ParseActionRef(ref string) (name, version string, err error) {
	name, version, found := strings.Cut(ref, "@")
	if !found || name == "" || version == "" {
		return "", "", ErrInvalidActionRef
	}

	return name, version, nil
}
