package scoringdomain

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Category groups activity definitions.
type Category string

const (
	CategoryConsumable  Category = "consumable"
	CategoryCompetition Category = "competition"
	CategoryTask        Category = "task"
	CategoryRandomTask  Category = "randomTask"
	CategoryBonus       Category = "bonus"
	CategoryPenalty     Category = "penalty"
)

// AdminAdjustmentActivityID is the reserved activity id used for manual score adjustments.
// It is never part of a catalog and cannot be submitted directly.
const AdminAdjustmentActivityID = "admin_adjustment"

var validCategories = []Category{
	CategoryConsumable,
	CategoryCompetition,
	CategoryTask,
	CategoryRandomTask,
	CategoryBonus,
	CategoryPenalty,
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if slices.Contains(validCategories, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown activity category %q", s)
}

// IsConsumable reports whether multipliers use the consumable applicability flag for this category.
func (c Category) IsConsumable() bool {
	return c == CategoryConsumable
}

// Scoring is the per-kind point source of an activity definition.
// The set of variants is closed: FixedScoring, CompetitionScoring and RiskScoring.
type Scoring interface {
	isScoring()
}

// FixedScoring awards the same base points every time.
type FixedScoring struct {
	Base float64
}

// CompetitionScoring awards Win or Loss depending on the outcome.
type CompetitionScoring struct {
	Win  float64
	Loss float64
}

// RiskScoring awards Base normally and Penalty when the risk outcome is penalized.
type RiskScoring struct {
	Base              float64
	Penalty           float64
	PenaltyActivityID string
}

func (FixedScoring) isScoring()       {}
func (CompetitionScoring) isScoring() {}
func (RiskScoring) isScoring()        {}

// ActivityDefinition is an immutable catalog entry.
type ActivityDefinition struct {
	ID          string
	Name        string
	Category    Category
	Group       string // drink, food, ...; display only
	Scoring     Scoring
	OneTimeOnly bool
	Unlimited   bool

	// EligibleMultiplierIDs lists the multipliers that apply to this activity, in catalog order.
	EligibleMultiplierIDs []string
}

// HasRiskPenalty reports whether the activity has a penalized outcome.
func (d ActivityDefinition) HasRiskPenalty() bool {
	_, ok := d.Scoring.(RiskScoring)
	return ok
}

// MultiplierDefinition is an immutable situational modifier.
type MultiplierDefinition struct {
	ID                   string
	Name                 string
	Factor               float64
	AppliesToConsumables bool
	AppliesToOthers      bool
}

// AppliesTo implements the applicability rule: consumables use AppliesToConsumables, every other
// category uses AppliesToOthers.
func (m MultiplierDefinition) AppliesTo(c Category) bool {
	if c.IsConsumable() {
		return m.AppliesToConsumables
	}
	return m.AppliesToOthers
}

// Catalog is the immutable set of activity and multiplier definitions plus the point bounds.
// A Catalog is safe for concurrent use; none of its methods mutate it.
type Catalog struct {
	activities  map[string]ActivityDefinition
	activityIDs []string
	multipliers map[string]MultiplierDefinition
	multIDs     []string
	bounds      Bounds
}

var (
	ErrDuplicateDefinition = errors.New("duplicate catalog definition")
	ErrInvalidDefinition   = errors.New("invalid catalog definition")
)

// NewCatalog validates the definitions and builds a Catalog. Definition order is preserved for listings.
// When an activity has no EligibleMultiplierIDs they are derived from the applicability rule.
func NewCatalog(activities []ActivityDefinition, multipliers []MultiplierDefinition, bounds Bounds) (*Catalog, error) {
	if bounds.Min >= bounds.Max {
		return nil, fmt.Errorf("%w: bounds min %d must be below max %d", ErrInvalidDefinition, bounds.Min, bounds.Max)
	}

	c := &Catalog{
		activities:  make(map[string]ActivityDefinition, len(activities)),
		multipliers: make(map[string]MultiplierDefinition, len(multipliers)),
		bounds:      bounds,
	}

	for _, m := range multipliers {
		if m.ID == "" {
			return nil, fmt.Errorf("%w: multiplier without id", ErrInvalidDefinition)
		}
		if _, exists := c.multipliers[m.ID]; exists {
			return nil, fmt.Errorf("%w: multiplier %q", ErrDuplicateDefinition, m.ID)
		}
		if FiniteOr(m.Factor, 0) <= 0 {
			return nil, fmt.Errorf("%w: multiplier %q factor must be a positive number", ErrInvalidDefinition, m.ID)
		}
		c.multipliers[m.ID] = m
		c.multIDs = append(c.multIDs, m.ID)
	}

	for _, a := range activities {
		if a.ID == "" {
			return nil, fmt.Errorf("%w: activity without id", ErrInvalidDefinition)
		}
		if a.ID == AdminAdjustmentActivityID {
			return nil, fmt.Errorf("%w: activity id %q is reserved", ErrInvalidDefinition, a.ID)
		}
		if _, exists := c.activities[a.ID]; exists {
			return nil, fmt.Errorf("%w: activity %q", ErrDuplicateDefinition, a.ID)
		}
		if _, err := ParseCategory(string(a.Category)); err != nil {
			return nil, fmt.Errorf("%w: activity %q: %v", ErrInvalidDefinition, a.ID, err)
		}
		if err := checkScoring(a); err != nil {
			return nil, err
		}
		if a.EligibleMultiplierIDs == nil {
			a.EligibleMultiplierIDs = c.applicableIDs(a.Category)
		} else {
			a.EligibleMultiplierIDs = slices.Clone(a.EligibleMultiplierIDs)
		}
		c.activities[a.ID] = a
		c.activityIDs = append(c.activityIDs, a.ID)
	}

	return c, nil
}

func checkScoring(a ActivityDefinition) error {
	switch s := a.Scoring.(type) {
	case CompetitionScoring:
		if a.Category != CategoryCompetition {
			return fmt.Errorf("%w: activity %q: win/loss scoring requires the competition category", ErrInvalidDefinition, a.ID)
		}
	case FixedScoring:
		if a.Category == CategoryCompetition {
			return fmt.Errorf("%w: competition %q needs both win and loss points", ErrInvalidDefinition, a.ID)
		}
	case RiskScoring:
		if a.Category == CategoryCompetition {
			return fmt.Errorf("%w: competition %q cannot carry a risk penalty", ErrInvalidDefinition, a.ID)
		}
		if s.PenaltyActivityID == "" {
			return fmt.Errorf("%w: activity %q: risk penalty without a penalty activity", ErrInvalidDefinition, a.ID)
		}
	case nil:
		return fmt.Errorf("%w: activity %q has no scoring", ErrInvalidDefinition, a.ID)
	}
	return nil
}

func (c *Catalog) applicableIDs(cat Category) []string {
	ids := []string{}
	for _, id := range c.multIDs {
		if c.multipliers[id].AppliesTo(cat) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Bounds returns the clamping range.
func (c *Catalog) Bounds() Bounds {
	return c.bounds
}

// Activity looks up an activity definition by id.
func (c *Catalog) Activity(id string) (ActivityDefinition, bool) {
	a, ok := c.activities[id]
	if ok {
		a.EligibleMultiplierIDs = slices.Clone(a.EligibleMultiplierIDs)
	}
	return a, ok
}

// Multiplier looks up a multiplier definition by id.
func (c *Catalog) Multiplier(id string) (MultiplierDefinition, bool) {
	m, ok := c.multipliers[id]
	return m, ok
}

// Activities returns every activity definition in catalog order.
func (c *Catalog) Activities() []ActivityDefinition {
	out := make([]ActivityDefinition, 0, len(c.activityIDs))
	for _, id := range c.activityIDs {
		a, _ := c.Activity(id)
		out = append(out, a)
	}
	return out
}

// Multipliers returns every multiplier definition in catalog order.
func (c *Catalog) Multipliers() []MultiplierDefinition {
	out := make([]MultiplierDefinition, 0, len(c.multIDs))
	for _, id := range c.multIDs {
		out = append(out, c.multipliers[id])
	}
	return out
}

// ByCategory returns the activities of one category in catalog order.
func (c *Catalog) ByCategory(cat Category) []ActivityDefinition {
	var out []ActivityDefinition
	for _, a := range c.Activities() {
		if a.Category == cat {
			out = append(out, a)
		}
	}
	return out
}

// Search returns activities whose name contains query, case-insensitively, sorted by name.
func (c *Catalog) Search(query string) []ActivityDefinition {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []ActivityDefinition
	for _, a := range c.Activities() {
		if strings.Contains(strings.ToLower(a.Name), q) {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b ActivityDefinition) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// ApplicableMultipliers returns the multipliers that would affect def, in catalog order.
func (c *Catalog) ApplicableMultipliers(def ActivityDefinition) []MultiplierDefinition {
	var out []MultiplierDefinition
	for _, id := range c.multIDs {
		if m := c.multipliers[id]; m.AppliesTo(def.Category) {
			out = append(out, m)
		}
	}
	return out
}
