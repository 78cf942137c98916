package pricing

import (
	"fmt"

	"github.com/storefront-labs/pricelab/internal/api"
	"github.com/storefront-labs/pricelab/internal/catalog"
)

// Heuristic thresholds. Units and revenue refer to the trailing 30 days.
const (
	highVelocityUnits   = 40
	constrainedStockMax = 8
	strongDemandUnits   = 25
	lowSellThroughUnits = 3
	excessStockMin      = 20
	softDemandUnits     = 8
	softDemandStockMin  = 12
	activationStockMin  = 5

	cheapPriceMax   = 5.0
	cheapMaxCut     = -2.0
	premiumPriceMin = 200.0
	premiumMaxRaise = 4.0
)

// Decision is the outcome of the delta policy for one candidate
type Decision struct {
	DeltaPercent float64
	Rationale    string
}

// Hold reports whether the decision leaves the price unchanged
func (d Decision) Hold() bool {
	return d.DeltaPercent == 0
}

// Decide maps a candidate's recent performance and inventory position to a
// signed percentage delta within the guardrails. First matching rule wins.
func Decide(c catalog.Candidate, g api.Guardrails) Decision {
	delta, reason := baseDelta(c)

	if c.Price <= cheapPriceMax && delta < cheapMaxCut {
		delta = cheapMaxCut
		reason += "; cut limited for low-priced item"
	}
	if c.Price >= premiumPriceMin && delta > premiumMaxRaise {
		delta = premiumMaxRaise
		reason += "; raise capped for premium item"
	}

	clamped := Clamp(delta, g.MinDeltaPercent, g.MaxDeltaPercent)
	if clamped != delta {
		reason += fmt.Sprintf("; clamped from %+.2f%% to guardrails", delta)
	}
	return Decision{DeltaPercent: clamped, Rationale: reason}
}

func baseDelta(c catalog.Candidate) (float64, string) {
	units := c.Units30d
	available := c.Available

	switch {
	case available <= 0:
		return 0, "no inventory"
	case units >= highVelocityUnits && available <= constrainedStockMax:
		return 6, "high velocity, constrained stock"
	case units >= strongDemandUnits:
		return 3, "strong demand"
	case units <= lowSellThroughUnits && available >= excessStockMin:
		return -7, "low sell-through, excess stock"
	case units <= softDemandUnits && available >= softDemandStockMin:
		return -4, "soft demand"
	case c.Revenue30d == 0 && available >= activationStockMin:
		return -5, "activation discount"
	default:
		return 0, "hold"
	}
}
