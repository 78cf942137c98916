package pricing

import (
	"math"

	"github.com/storefront-labs/pricelab/internal/api"
)

// NormalizeGuardrails fills defaults for missing fields, rejects min > max and
// clamps every field into its hard range.
func NormalizeGuardrails(in *api.GuardrailsInput) (api.Guardrails, error) {
	g := api.DefaultGuardrails()
	if in == nil {
		return g, nil
	}

	if in.MinDeltaPercent != nil {
		g.MinDeltaPercent = *in.MinDeltaPercent
	}
	if in.MaxDeltaPercent != nil {
		g.MaxDeltaPercent = *in.MaxDeltaPercent
	}
	if in.MaxVariants != nil {
		g.MaxVariants = *in.MaxVariants
	}

	if math.IsNaN(g.MinDeltaPercent) || math.IsNaN(g.MaxDeltaPercent) {
		return api.Guardrails{}, api.Validationf("guardrails must be numbers")
	}
	if g.MinDeltaPercent > g.MaxDeltaPercent {
		return api.Guardrails{}, api.Validationf("min_delta_percent (%.2f) must not exceed max_delta_percent (%.2f)",
			g.MinDeltaPercent, g.MaxDeltaPercent)
	}

	return ClampGuardrails(g), nil
}

// ClampGuardrails forces each field into its hard range
func ClampGuardrails(g api.Guardrails) api.Guardrails {
	g.MinDeltaPercent = Clamp(g.MinDeltaPercent, api.MinDeltaFloor, 0)
	g.MaxDeltaPercent = Clamp(g.MaxDeltaPercent, 0, api.MaxDeltaCeiling)
	if g.MaxVariants < 1 {
		g.MaxVariants = 1
	}
	if g.MaxVariants > api.MaxVariantsCap {
		g.MaxVariants = api.MaxVariantsCap
	}
	return g
}

// Clamp bounds x to [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	return math.Min(math.Max(x, lo), hi)
}
