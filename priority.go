package tierload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxPriority is the priority ceiling used unless [WithMaxPriority] is
// given.
const DefaultMaxPriority Priority = 9

// ErrInvalidPriority is returned for negative or unparsable priorities.
var ErrInvalidPriority = errors.New("tierload: priority must be greater than or equal to zero")

// Priority orders tiers within a sweep. Lower values are more urgent: tier 0
// is flushed before tier 1, and so on.
type Priority int

// ParsePriority creates a new [Priority] from the given value. Integers,
// decimal strings and [fmt.Stringer] values are accepted.
func ParsePriority(p any) (Priority, error) {
	var n int
	switch v := p.(type) {
	case Priority:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	case int32:
		n = int(v)
	case uint:
		n = int(v)
	case uint32:
		n = int(v)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, v)
		}
		n = i
	case fmt.Stringer:
		return ParsePriority(v.String())
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidPriority, p)
	}

	priority := Priority(n)
	if err := priority.Validate(); err != nil {
		return 0, err
	}
	return priority, nil
}

// Validate reports whether p can be used to request a tier.
func (p Priority) Validate() error {
	if p < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return nil
}

// Normalize clamps p to ceiling.
func (p Priority) Normalize(ceiling Priority) Priority {
	return min(p, ceiling)
}

func (p Priority) String() string {
	return strconv.Itoa(int(p))
}

// UnmarshalJSON accepts both numbers and decimal strings.
func (p *Priority) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var raw any = strings.Trim(string(b), `"`)
	if len(b) > 0 && b[0] != '"' {
		var n int
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidPriority, b)
		}
		raw = n
	}

	parsed, err := ParsePriority(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UnmarshalText implements [encoding.TextUnmarshaler], used by flag and
// config decoders.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
