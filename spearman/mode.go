package spearman

import (
	"fmt"
	"strings"
)

// Mode selects how missing observations are handled.
type Mode int

const (
	// Everything propagates missing data: a pair of columns with any missing
	// value correlates to NaN.
	Everything Mode = iota
	// AllObs fails the whole computation if any column holds a missing value.
	AllObs
	// CompleteObs assumes the caller guarantees there is no missing data and
	// performs no filtering.
	CompleteObs
)

// String returns the mode's wire name.
func (m Mode) String() string {
	switch m {
	case Everything:
		return "everything"
	case AllObs:
		return "all.obs"
	case CompleteObs:
		return "complete.obs"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= Everything && m <= CompleteObs
}

// ParseMode parses a mode name. Both the wire names ("everything",
// "all.obs", "complete.obs") and the Go names are accepted, ignoring case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "everything":
		return Everything, nil
	case "all.obs", "allobs", "all_obs":
		return AllObs, nil
	case "complete.obs", "completeobs", "complete_obs":
		return CompleteObs, nil
	default:
		return Everything, fmt.Errorf("unknown correlation mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid correlation mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
