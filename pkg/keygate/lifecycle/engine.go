// Package lifecycle decides the verification outcome of a key. It performs no I/O:
// persisting a requested bind is the caller's job.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/mikepea/keygate/pkg/keygate/models"
)

// ErrInvariantViolation means a stored record is internally inconsistent
var ErrInvariantViolation = errors.New("key record invariant violated")

// Bind is a request to bind hwid to an unbound key
type Bind struct {
	HWID        string
	ActivatedAt time.Time
}

// Decision is the result of evaluating a record. When Bind is set the Outcome
// (Activated) only stands if the conditional bind commits.
type Decision struct {
	Outcome Outcome
	Bind    *Bind
}

// Engine evaluates key records against a supplied HWID
type Engine struct {
	// GateEnabled makes a locked record stop at NeedsGate
	GateEnabled bool
}

// Evaluate applies the priority chain Banned > Expired > NeedsGate > bind-or-check.
// The record must exist.
func (e Engine) Evaluate(key *models.Key, hwid string, now time.Time) (Decision, error) {
	if err := checkInvariants(key); err != nil {
		return Decision{}, err
	}

	if key.Banned {
		return Decision{Outcome: Banned}, nil
	}
	if key.IsExpired(now) {
		return Decision{Outcome: Expired}, nil
	}
	if e.GateEnabled && !key.Unlocked {
		return Decision{Outcome: NeedsGate}, nil
	}

	if !key.IsBound() {
		return Decision{
			Outcome: Activated,
			Bind:    &Bind{HWID: hwid, ActivatedAt: now},
		}, nil
	}
	return Decision{Outcome: matchHWID(key, hwid)}, nil
}

// Recheck decides the outcome after a lost bind race, from the re-read record.
// ok is false when the record is unbound again (reset in between) and the whole
// evaluation has to start over.
func (e Engine) Recheck(key *models.Key, hwid string) (outcome Outcome, ok bool, err error) {
	if err := checkInvariants(key); err != nil {
		return 0, false, err
	}
	if !key.IsBound() {
		return 0, false, nil
	}
	return matchHWID(key, hwid), true, nil
}

func matchHWID(key *models.Key, hwid string) Outcome {
	if *key.HWID != hwid {
		return HWIDMismatch
	}
	return Valid
}

func checkInvariants(key *models.Key) error {
	if key.IsBound() != (key.ActivatedAt != nil) {
		return fmt.Errorf("%w: key %s has hwid=%t activated_at=%t",
			ErrInvariantViolation, key.ID, key.IsBound(), key.ActivatedAt != nil)
	}
	return nil
}
