// internal/nodeid/parser.go
package nodeid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// segmentRegex matches a single segment of an identifier.
var segmentRegex = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// Parse creates an ID from its canonical string representation.
func Parse(rawID string) (ID, error) {
	if rawID == "" {
		return ID{}, fmt.Errorf("identifier cannot be empty")
	}

	segments := strings.Split(rawID, separator)
	for _, seg := range segments {
		if seg == "" {
			return ID{}, fmt.Errorf("identifier %q contains empty segment", rawID)
		}
		if !segmentRegex.MatchString(seg) {
			return ID{}, fmt.Errorf("invalid segment %q in identifier %q", seg, rawID)
		}
		if _, err := strconv.Atoi(seg); err != nil {
			return ID{}, fmt.Errorf("segment %q out of range: %w", seg, err)
		}
	}
	return ID{path: rawID}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and constants.
func MustParse(rawID string) ID {
	id, err := Parse(rawID)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.path), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
