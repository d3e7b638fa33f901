package scoringdomain

import (
	"slices"
)

// CompetitionResult is the outcome of a competition activity.
type CompetitionResult string

const (
	CompetitionWin  CompetitionResult = "win"
	CompetitionLoss CompetitionResult = "loss"
)

// RiskOutcome is the outcome of a risk activity.
type RiskOutcome string

const (
	RiskOutcomeNone      RiskOutcome = ""
	RiskOutcomePenalized RiskOutcome = "penalized"
)

// Options carries the situational inputs of a submission.
type Options struct {
	CompetitionResult CompetitionResult
	PenaltyCaught     bool
	RiskOutcome       RiskOutcome
}

// Calculation is the full breakdown of a point calculation.
type Calculation struct {
	Points  Points
	Base    float64
	Factor  float64
	Raw     float64
	Clamped bool
	// Applied lists the multiplier ids that contributed to Factor, sorted.
	Applied []string
}

// Calculator computes points against one immutable catalog.
type Calculator struct {
	catalog *Catalog
}

// NewCalculator creates a Calculator bound to catalog.
func NewCalculator(catalog *Catalog) *Calculator {
	return &Calculator{catalog: catalog}
}

// Catalog returns the catalog the calculator was built with.
func (c *Calculator) Catalog() *Catalog {
	return c.catalog
}

// CalculatePoints returns the validated points for one submission.
func (c *Calculator) CalculatePoints(def ActivityDefinition, multiplierIDs []string, quantity Quantity, opts Options) Points {
	return c.Calculate(def, multiplierIDs, quantity, opts).Points
}

// Calculate resolves base points by activity kind, doubles caught penalties, stacks every known
// applicable multiplier once, multiplies by quantity, then clamps and rounds into the catalog bounds.
// Unknown or inapplicable multiplier ids are skipped. The function is pure.
func (c *Calculator) Calculate(def ActivityDefinition, multiplierIDs []string, quantity Quantity, opts Options) Calculation {
	base := basePoints(def, opts)

	if def.Category == CategoryPenalty && opts.PenaltyCaught {
		base *= 2
	}
	base = FiniteOr(base, 0)

	// Selected multipliers are a set; sorting makes the product independent of input order.
	ids := slices.Clone(multiplierIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	factor := 1.0
	applied := []string{}
	for _, id := range ids {
		m, ok := c.catalog.Multiplier(id)
		if !ok || !m.AppliesTo(def.Category) {
			continue
		}
		factor *= m.Factor
		applied = append(applied, id)
	}

	quantity = min(max(quantity, 1), MaxQuantity)

	raw := base * factor * float64(quantity)
	points, clamped := c.catalog.Bounds().Clamp(raw)

	return Calculation{
		Points:  points,
		Base:    base,
		Factor:  factor,
		Raw:     raw,
		Clamped: clamped,
		Applied: applied,
	}
}

func basePoints(def ActivityDefinition, opts Options) float64 {
	switch s := def.Scoring.(type) {
	case RiskScoring:
		if opts.RiskOutcome == RiskOutcomePenalized {
			return s.Penalty
		}
		return s.Base
	case CompetitionScoring:
		if opts.CompetitionResult == CompetitionWin {
			return s.Win
		}
		return s.Loss
	case FixedScoring:
		return s.Base
	default:
		return 0
	}
}
