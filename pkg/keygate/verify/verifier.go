// Package verify runs key verification: load the record, evaluate it and persist
// the first HWID bind through the store's conditional update.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikepea/keygate/pkg/keygate/lifecycle"
	"github.com/mikepea/keygate/pkg/keygate/store"
	"github.com/rs/zerolog"
)

var (
	// ErrStoreUnavailable marks a failure that says nothing about the key; callers should retry
	ErrStoreUnavailable = errors.New("record store unavailable")
	// ErrBindContention means the key kept flipping between bound and unbound
	// (admin resets racing verification) for every attempt
	ErrBindContention = errors.New("key binding did not settle")
)

// GateLinker builds the gate link for a locked key
type GateLinker interface {
	URL(keyID string) (string, error)
}

// Result is the outcome of one verification
type Result struct {
	Outcome lifecycle.Outcome
	GateURL string
}

// Verifier is the lifecycle engine's only caller
type Verifier struct {
	keys     store.KeyStore
	engine   lifecycle.Engine
	gate     GateLinker
	attempts int
	logger   zerolog.Logger
	now      func() time.Time
}

// NewVerifier creates a verifier. gate may be nil when gating is disabled.
func NewVerifier(keys store.KeyStore, engine lifecycle.Engine, gate GateLinker, attempts int, logger zerolog.Logger) *Verifier {
	if attempts < 1 {
		attempts = 1
	}
	return &Verifier{
		keys:     keys,
		engine:   engine,
		gate:     gate,
		attempts: attempts,
		logger:   logger,
		now:      time.Now,
	}
}

// Verify checks keyID against hwid. A returned error never carries a lifecycle
// outcome. Store failures wrap ErrStoreUnavailable and corrupt records wrap
// lifecycle.ErrInvariantViolation.
func (v *Verifier) Verify(ctx context.Context, keyID, hwid string) (Result, error) {
	for attempt := 1; attempt <= v.attempts; attempt++ {
		key, err := v.keys.Get(ctx, keyID)
		if errors.Is(err, store.ErrNotFound) {
			return Result{Outcome: lifecycle.NotFound}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}

		decision, err := v.engine.Evaluate(key, hwid, v.now())
		if err != nil {
			return Result{}, err
		}

		switch {
		case decision.Outcome == lifecycle.NeedsGate:
			return v.gateResult(keyID)
		case decision.Bind == nil:
			return Result{Outcome: decision.Outcome}, nil
		}

		bound, err := v.keys.BindHWID(ctx, keyID, decision.Bind.HWID, decision.Bind.ActivatedAt)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		if bound {
			v.logger.Info().Str("key", keyID).Str("hwid", hwid).Msg("key activated")
			return Result{Outcome: lifecycle.Activated}, nil
		}

		// Another writer bound the key first: the stored HWID decides.
		current, err := v.keys.Get(ctx, keyID)
		if errors.Is(err, store.ErrNotFound) {
			return Result{Outcome: lifecycle.NotFound}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}

		outcome, settled, err := v.engine.Recheck(current, hwid)
		if err != nil {
			return Result{}, err
		}
		if settled {
			return Result{Outcome: outcome}, nil
		}

		v.logger.Debug().Str("key", keyID).Int("attempt", attempt).Msg("key unbound again after lost bind, retrying")
	}

	return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, ErrBindContention)
}

func (v *Verifier) gateResult(keyID string) (Result, error) {
	result := Result{Outcome: lifecycle.NeedsGate}
	if v.gate == nil {
		return result, nil
	}
	link, err := v.gate.URL(keyID)
	if err != nil {
		return Result{}, fmt.Errorf("build gate url for %s: %w", keyID, err)
	}
	result.GateURL = link
	return result, nil
}
