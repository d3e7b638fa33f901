package scoringdomain

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type catalogFile struct {
	Bounds struct {
		Min *int `yaml:"min"`
		Max *int `yaml:"max"`
	} `yaml:"bounds"`
	Multipliers []multiplierEntry `yaml:"multipliers"`
	Activities  []activityEntry   `yaml:"activities"`
}

type multiplierEntry struct {
	ID                   string  `yaml:"id"`
	Name                 string  `yaml:"name"`
	Factor               float64 `yaml:"factor"`
	AppliesToConsumables bool    `yaml:"applies_to_consumables"`
	AppliesToOthers      bool    `yaml:"applies_to_others"`
}

type activityEntry struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Category      string   `yaml:"category"`
	Group         string   `yaml:"group"`
	BasePoints    *float64 `yaml:"base_points"`
	WinPoints     *float64 `yaml:"win_points"`
	LossPoints    *float64 `yaml:"loss_points"`
	OneTimeOnly   bool     `yaml:"one_time_only"`
	Unlimited     bool     `yaml:"unlimited"`
	RiskPenaltyID string   `yaml:"risk_penalty_id"`
	Multipliers   []string `yaml:"multipliers"`
}

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}

	bounds := DefaultBounds
	if f.Bounds.Min != nil {
		bounds.Min = Points(*f.Bounds.Min)
	}
	if f.Bounds.Max != nil {
		bounds.Max = Points(*f.Bounds.Max)
	}

	multipliers := make([]MultiplierDefinition, 0, len(f.Multipliers))
	for _, m := range f.Multipliers {
		multipliers = append(multipliers, MultiplierDefinition(m))
	}

	// Risk penalties reference penalty activities by id, so index base points first.
	base := make(map[string]*float64, len(f.Activities))
	for _, a := range f.Activities {
		base[a.ID] = a.BasePoints
	}

	activities := make([]ActivityDefinition, 0, len(f.Activities))
	for _, a := range f.Activities {
		def := ActivityDefinition{
			ID:                    a.ID,
			Name:                  a.Name,
			Category:              Category(a.Category),
			Group:                 a.Group,
			OneTimeOnly:           a.OneTimeOnly,
			Unlimited:             a.Unlimited,
			EligibleMultiplierIDs: a.Multipliers,
		}

		switch {
		case a.WinPoints != nil || a.LossPoints != nil:
			if a.WinPoints == nil || a.LossPoints == nil {
				return nil, fmt.Errorf("%w: competition %q needs both win_points and loss_points", ErrInvalidDefinition, a.ID)
			}
			def.Scoring = CompetitionScoring{Win: *a.WinPoints, Loss: *a.LossPoints}
		case a.BasePoints == nil:
			return nil, fmt.Errorf("%w: activity %q needs base_points", ErrInvalidDefinition, a.ID)
		case a.RiskPenaltyID != "":
			penalty, ok := base[a.RiskPenaltyID]
			if !ok || penalty == nil {
				return nil, fmt.Errorf("%w: activity %q references unknown risk penalty %q", ErrInvalidDefinition, a.ID, a.RiskPenaltyID)
			}
			def.Scoring = RiskScoring{Base: *a.BasePoints, Penalty: *penalty, PenaltyActivityID: a.RiskPenaltyID}
		default:
			def.Scoring = FixedScoring{Base: *a.BasePoints}
		}

		activities = append(activities, def)
	}

	return NewCatalog(activities, multipliers, bounds)
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return LoadCatalog(data)
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return LoadCatalog(defaultCatalogYAML)
})

// DefaultCatalog returns the built-in catalog. It panics if the embedded document is invalid,
// which the package tests guard against.
func DefaultCatalog() *Catalog {
	c, err := defaultCatalog()
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}
