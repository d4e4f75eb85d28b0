package wire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Target addresses a fan-out delivery: one socket id or room, or several.
// It is parsed once from JSON where it may be a string or an array.
type Target struct {
	ids  []string
	many bool
}

// Single addresses one socket id or room.
func Single(id string) Target {
	id = strings.TrimSpace(id)
	if id == "" {
		return Target{}
	}
	return Target{ids: []string{id}}
}

// Many addresses several socket ids or rooms. Blank and duplicate ids are
// dropped.
func Many(ids []string) Target {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return Target{ids: out, many: true}
}

// IDs returns the addressed socket ids or rooms.
func (t Target) IDs() []string {
	return append([]string(nil), t.ids...)
}

// Empty reports whether the target addresses nothing.
func (t Target) Empty() bool {
	return len(t.ids) == 0
}

func (t Target) String() string {
	if t.many {
		return "[" + strings.Join(t.ids, ",") + "]"
	}
	if len(t.ids) == 0 {
		return ""
	}
	return t.ids[0]
}

// MarshalJSON implements json.Marshaler.
func (t Target) MarshalJSON() ([]byte, error) {
	if t.many {
		return json.Marshal(t.ids)
	}
	if len(t.ids) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(t.ids[0])
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Target) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = Target{}
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Single(s)
		return nil
	case b[0] == '[':
		var ids []string
		if err := json.Unmarshal(b, &ids); err != nil {
			return fmt.Errorf("target must be a string or an array of strings: %w", err)
		}
		*t = Many(ids)
		return nil
	default:
		return fmt.Errorf("target must be a string or an array of strings, got %s", b)
	}
}
