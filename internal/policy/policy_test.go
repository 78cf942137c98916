package policy

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/pricelab/internal/api"
)

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(p *Policy)
		field string
	}{
		{"ok", func(p *Policy) {}, ""},
		{"missing version", func(p *Policy) { p.Version = "" }, "version"},
		{"positive min", func(p *Policy) { p.MinDeltaPercent = 1 }, "min_delta_percent"},
		{"min below floor", func(p *Policy) { p.MinDeltaPercent = -25 }, "min_delta_percent"},
		{"max above ceiling", func(p *Policy) { p.MaxDeltaPercent = 21 }, "max_delta_percent"},
		{"zero variants", func(p *Policy) { p.MaxVariants = 0 }, "max_variants"},
		{"unknown flag", func(p *Policy) { p.Flags = map[string]bool{"yolo": true} }, "flags.yolo"},
		{"bad limits", func(p *Policy) { p.Limits = &Limits{RequestsPerSecond: 0, Burst: 1} }, "limits"},
		{"nan min", func(p *Policy) { p.MinDeltaPercent = math.NaN() }, "delta_percent"},
		{"infinite max", func(p *Policy) { p.MaxDeltaPercent = math.Inf(1) }, "delta_percent"},
		{"nan rate", func(p *Policy) { p.Limits = &Limits{RequestsPerSecond: math.NaN(), Burst: 1} }, "limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.edit(p)
			err := p.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestPolicy_Bound(t *testing.T) {
	p := &Policy{Version: "1", MinDeltaPercent: -5, MaxDeltaPercent: 8, MaxVariants: 4}

	g, warnings := p.Bound(api.Guardrails{MinDeltaPercent: -10, MaxDeltaPercent: 10, MaxVariants: 10})
	assert.Equal(t, api.Guardrails{MinDeltaPercent: -5, MaxDeltaPercent: 8, MaxVariants: 4}, g)
	assert.Len(t, warnings, 3)
	assert.Contains(t, warnings[0], "min_delta_percent -10.00 clamped to store policy -5.00")

	g, warnings = p.Bound(api.Guardrails{MinDeltaPercent: -2, MaxDeltaPercent: 3, MaxVariants: 2})
	assert.Equal(t, api.Guardrails{MinDeltaPercent: -2, MaxDeltaPercent: 3, MaxVariants: 2}, g)
	assert.Empty(t, warnings)
}

func TestPolicy_HashIsStable(t *testing.T) {
	a := &Policy{Version: "1", MinDeltaPercent: -5, MaxDeltaPercent: 8, MaxVariants: 4,
		Flags: map[string]bool{FlagManualApplyOnly: true}}
	b := &Policy{Version: "1", MinDeltaPercent: -5, MaxDeltaPercent: 8, MaxVariants: 4,
		Flags: map[string]bool{FlagManualApplyOnly: true}, Description: "ignored",
		Limits: &Limits{RequestsPerSecond: 1, Burst: 1}}

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	b.MaxVariants = 5
	hc, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

const sampleFile = `
default:
  version: "2026-10"
  min_delta_percent: -15
  max_delta_percent: 15
  max_variants: 20
stores:
  boutique:
    version: "2026-10-b"
    min_delta_percent: -5
    max_delta_percent: 5
    max_variants: 5
    flags:
      manual_apply_only: true
    limits:
      requests_per_second: 2
      burst: 4
`

func TestParse(t *testing.T) {
	reg, err := Parse([]byte(sampleFile))
	require.NoError(t, err)

	assert.Equal(t, []string{"boutique"}, reg.Stores())

	b := reg.For("boutique")
	assert.Equal(t, "2026-10-b", b.Version)
	assert.True(t, b.Enabled(FlagManualApplyOnly))
	require.NotNil(t, b.Limits)
	assert.Equal(t, 4, b.Limits.Burst)

	other := reg.For("unknown")
	assert.Equal(t, "2026-10", other.Version)
	assert.False(t, other.Enabled(FlagManualApplyOnly))
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("default: [1, 2"))
	assert.Error(t, err)

	_, err = Parse([]byte("stores:\n  s1:\n    version: x\n    min_delta_percent: 3\n    max_variants: 2\n"))
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "min_delta_percent", ve.Field)
}

func TestLoad(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().Version, reg.For("any").Version)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0644))

	reg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, reg.For("boutique").MaxVariants)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
