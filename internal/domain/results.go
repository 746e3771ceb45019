package domain

import "time"

// NormalizedValue is a lab or demographic value expressed in its canonical unit.
// Unavailable values carry Value 0 and must never enter arithmetic.
type NormalizedValue struct {
	Parameter  Parameter   `json:"parameter"`
	Value      float64     `json:"value"`
	Unit       string      `json:"unit,omitempty"`
	Source     ValueSource `json:"source"`
	ObservedAt *time.Time  `json:"observed_at,omitempty"`
	Outdated   bool        `json:"outdated,omitempty"`
}

// Available reports whether the value may be used in calculations.
func (v NormalizedValue) Available() bool {
	return v.Source == SourceMeasured || v.Source == SourceEstimated
}

// Unavailable builds a missing value marker for the parameter.
func Unavailable(p Parameter) NormalizedValue {
	return NormalizedValue{Parameter: p, Source: SourceUnavailable}
}

// NormalizedValues is the set of resolved parameters for one computation.
type NormalizedValues map[Parameter]NormalizedValue

// Get returns the value for p, or an unavailable marker when p was never resolved.
func (nv NormalizedValues) Get(p Parameter) NormalizedValue {
	if v, ok := nv[p]; ok {
		return v
	}
	return Unavailable(p)
}

// Evidence is one matched record supporting a risk flag.
type Evidence struct {
	ResourceID string `json:"resource_id,omitempty"`
	System     string `json:"system,omitempty"`
	Code       string `json:"code,omitempty"`
	Display    string `json:"display,omitempty"`
}

// RiskFlag is the outcome of one rule category.
type RiskFlag struct {
	Category FlagCategory `json:"category"`
	Present  bool         `json:"present"`
	Evidence []Evidence   `json:"evidence"`
}

// FlagSet holds the evaluated flags keyed by category.
type FlagSet map[FlagCategory]RiskFlag

// Has reports whether the category was evaluated and found present.
func (fs FlagSet) Has(c FlagCategory) bool {
	return fs[c].Present
}

// AnyOf reports whether at least one of the categories is present.
func (fs FlagSet) AnyOf(categories ...FlagCategory) bool {
	for _, c := range categories {
		if fs.Has(c) {
			return true
		}
	}
	return false
}

// ScoreComponent is one line of the score breakdown. Value holds the normalized value for
// continuous terms; Present holds the flag state for categorical terms.
type ScoreComponent struct {
	Parameter  string      `json:"parameter"`
	Value      *float64    `json:"value,omitempty"`
	Unit       string      `json:"unit,omitempty"`
	Present    *bool       `json:"present,omitempty"`
	Source     ValueSource `json:"source,omitempty"`
	Points     float64     `json:"points"`
	ObservedAt *time.Time  `json:"observed_at,omitempty"`
	Outdated   bool        `json:"outdated,omitempty"`
}

// HBRResult is the PRECISE-HBR outcome for one computation.
type HBRResult struct {
	Components          []ScoreComponent `json:"components"`
	RawScore            float64          `json:"raw_score"`
	TotalScore          int              `json:"total_score"`
	Category            RiskCategory     `json:"category"`
	BleedingRiskPercent float64          `json:"bleeding_risk_percent"`
	Missing             []Parameter      `json:"missing,omitempty"`
}

// FactorContribution describes one active hazard-model factor.
type FactorContribution struct {
	Factor      string  `json:"factor"`
	Description string  `json:"description,omitempty"`
	Value       float64 `json:"value"`
	Coefficient float64 `json:"coefficient"`
	HazardRatio float64 `json:"hazard_ratio"`
}

// TradeoffResult holds independent bleeding and thrombotic probabilities at the model horizon.
type TradeoffResult struct {
	BleedingProbability   float64              `json:"bleeding_probability"`
	ThromboticProbability float64              `json:"thrombotic_probability"`
	BleedingLP            float64              `json:"bleeding_linear_predictor"`
	ThromboticLP          float64              `json:"thrombotic_linear_predictor"`
	BleedingFactors       []FactorContribution `json:"bleeding_factors"`
	ThromboticFactors     []FactorContribution `json:"thrombotic_factors"`
	Missing               []string             `json:"missing,omitempty"`
}

// Assessment bundles both results for callers that need the full picture.
type Assessment struct {
	PatientID string            `json:"patient_id,omitempty"`
	HBR       *HBRResult        `json:"precise_hbr"`
	Tradeoff  *TradeoffResult   `json:"tradeoff"`
	Values    []NormalizedValue `json:"normalized_values"`
	Flags     []RiskFlag        `json:"flags"`
}
