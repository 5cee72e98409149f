package lifecycle

import "fmt"

// Outcome is the closed set of verification results
type Outcome int

const (
	NotFound Outcome = iota + 1
	Banned
	Expired
	NeedsGate
	Activated
	HWIDMismatch
	Valid
)

var outcomeNames = map[Outcome]string{
	NotFound:     "not_found",
	Banned:       "banned",
	Expired:      "expired",
	NeedsGate:    "needs_gate",
	Activated:    "activated",
	HWIDMismatch: "hwid_mismatch",
	Valid:        "valid",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Success reports whether the client may proceed
func (o Outcome) Success() bool {
	return o == Activated || o == Valid
}

// MarshalText implements encoding.TextMarshaler
func (o Outcome) MarshalText() ([]byte, error) {
	if _, ok := outcomeNames[o]; !ok {
		return nil, fmt.Errorf("unknown outcome %d", int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (o *Outcome) UnmarshalText(text []byte) error {
	for outcome, name := range outcomeNames {
		if name == string(text) {
			*o = outcome
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}
