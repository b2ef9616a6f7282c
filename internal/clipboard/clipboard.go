package clipboard

import (
	"errors"
	"strings"
)

// ErrUnavailable is returned when the build has no system clipboard support
var ErrUnavailable = errors.New("clipboard is not available in this build")

// ErrEmpty is returned when there is nothing to copy
var ErrEmpty = errors.New("nothing to copy")

// CopyText writes text to the system clipboard
func CopyText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	return write([]byte(text))
}
