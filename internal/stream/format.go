package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	NoContentPlaceholder   = "(no content)"
	EmptyStringPlaceholder = "(empty string)"
)

// FormatStructured renders a tool input or output for display
func FormatStructured(value any) string {
	switch v := value.(type) {
	case nil:
		return NoContentPlaceholder
	case string:
		if strings.TrimSpace(v) == "" {
			return EmptyStringPlaceholder
		}
		return v
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(out)
}
