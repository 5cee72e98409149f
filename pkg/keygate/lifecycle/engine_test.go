package lifecycle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mikepea/keygate/pkg/keygate/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func boundKey(hwid string) *models.Key {
	return &models.Key{ID: "K", HWID: ptr(hwid), ActivatedAt: ptr(now.Add(-time.Hour)), Unlocked: true}
}

func TestEvaluate(t *testing.T) {
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name     string
		engine   Engine
		key      *models.Key
		hwid     string
		want     Outcome
		wantBind bool
	}{
		{"unbound activates", Engine{}, &models.Key{ID: "K", Unlocked: true}, "ABC", Activated, true},
		{"bound same hwid", Engine{}, boundKey("ABC"), "ABC", Valid, false},
		{"bound other hwid", Engine{}, boundKey("ABC"), "XYZ", HWIDMismatch, false},
		{"banned", Engine{}, &models.Key{ID: "K", Banned: true, Unlocked: true}, "ABC", Banned, false},
		{"banned and bound", Engine{}, func() *models.Key { k := boundKey("ABC"); k.Banned = true; return k }(), "ABC", Banned, false},
		{"expired unbound", Engine{}, &models.Key{ID: "K", ExpireAt: &yesterday, Unlocked: true}, "ABC", Expired, false},
		{"expired bound", Engine{}, func() *models.Key { k := boundKey("ABC"); k.ExpireAt = &yesterday; return k }(), "ABC", Expired, false},
		{"not yet expired", Engine{}, &models.Key{ID: "K", ExpireAt: &tomorrow, Unlocked: true}, "ABC", Activated, true},
		{"locked with gate", Engine{GateEnabled: true}, &models.Key{ID: "K"}, "ABC", NeedsGate, false},
		{"locked without gate", Engine{}, &models.Key{ID: "K"}, "ABC", Activated, true},
		{"unlocked with gate", Engine{GateEnabled: true}, &models.Key{ID: "K", Unlocked: true}, "ABC", Activated, true},
		{"locked bound key with gate", Engine{GateEnabled: true}, func() *models.Key { k := boundKey("ABC"); k.Unlocked = false; return k }(), "ABC", NeedsGate, false},
		{"banned beats everything", Engine{GateEnabled: true}, &models.Key{ID: "K", Banned: true, ExpireAt: &yesterday}, "ANY", Banned, false},
		{"expired beats gate", Engine{GateEnabled: true}, &models.Key{ID: "K", ExpireAt: &yesterday}, "ANY", Expired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := tt.engine.Evaluate(tt.key, tt.hwid, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Outcome)
			if tt.wantBind {
				require.NotNil(t, d.Bind)
				assert.Equal(t, tt.hwid, d.Bind.HWID)
				assert.Equal(t, now, d.Bind.ActivatedAt)
			} else {
				assert.Nil(t, d.Bind)
			}
		})
	}
}

func TestEvaluateDoesNotMutate(t *testing.T) {
	key := &models.Key{ID: "K", Unlocked: true}

	_, err := Engine{}.Evaluate(key, "ABC", now)
	require.NoError(t, err)

	assert.Nil(t, key.HWID)
	assert.Nil(t, key.ActivatedAt)
}

func TestEvaluateInvariantViolation(t *testing.T) {
	hwidOnly := &models.Key{ID: "K1", HWID: ptr("ABC"), Unlocked: true}
	_, err := Engine{}.Evaluate(hwidOnly, "ABC", now)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Contains(t, err.Error(), "K1")

	activatedOnly := &models.Key{ID: "K2", ActivatedAt: ptr(now), Unlocked: true}
	_, err = Engine{}.Evaluate(activatedOnly, "ABC", now)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// A banned record is still reported as corrupt
	hwidOnly.Banned = true
	_, err = Engine{}.Evaluate(hwidOnly, "ABC", now)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestRecheck(t *testing.T) {
	e := Engine{}

	outcome, ok, err := e.Recheck(boundKey("ABC"), "ABC")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Valid, outcome)

	outcome, ok, err = e.Recheck(boundKey("ABC"), "XYZ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, HWIDMismatch, outcome)

	_, ok, err = e.Recheck(&models.Key{ID: "K"}, "ABC")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = e.Recheck(&models.Key{ID: "K", HWID: ptr("ABC")}, "ABC")
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestOutcomeText(t *testing.T) {
	for outcome, name := range outcomeNames {
		text, err := outcome.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, name, string(text))

		var back Outcome
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, outcome, back)
	}

	_, err := Outcome(0).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "outcome(0)", Outcome(0).String())

	var o Outcome
	assert.Error(t, o.UnmarshalText([]byte("maybe")))

	b, err := json.Marshal(struct {
		Outcome Outcome `json:"outcome"`
	}{HWIDMismatch})
	require.NoError(t, err)
	assert.JSONEq(t, `{"outcome":"hwid_mismatch"}`, string(b))
}

func TestOutcomeSuccess(t *testing.T) {
	assert.True(t, Activated.Success())
	assert.True(t, Valid.Success())
	for _, o := range []Outcome{NotFound, Banned, Expired, NeedsGate, HWIDMismatch} {
		assert.False(t, o.Success(), o.String())
	}
}
