package service

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
)

// Component names for the categorical and summary lines of the breakdown.
const (
	ComponentBase   = "base"
	ComponentARCHBR = "arc_hbr"
)

// direction of a continuous term: risk rises with the value, or falls with it.
type direction int

const (
	rising direction = iota
	falling
)

type scoreTerm struct {
	parameter domain.Parameter
	direction direction
	config    domain.TermConfig
}

// points returns the non-negative contribution of a value after clamping.
func (t scoreTerm) points(value float64) float64 {
	if t.config.ClampMin != nil && value < *t.config.ClampMin {
		value = *t.config.ClampMin
	}
	if t.config.ClampMax != nil && value > *t.config.ClampMax {
		value = *t.config.ClampMax
	}

	delta := value - t.config.Reference
	if t.direction == falling {
		delta = -delta
	}
	return math.Max(0, delta*t.config.Weight)
}

// ScoreCalculator computes the PRECISE-HBR weighted sum.
type ScoreCalculator struct {
	logger *logrus.Logger
	config domain.ScoreConfig
	terms  []scoreTerm
}

// NewScoreCalculator creates a score calculator for the given weights.
func NewScoreCalculator(cfg domain.ScoreConfig, logger *logrus.Logger) *ScoreCalculator {
	return &ScoreCalculator{
		logger: logger,
		config: cfg,
		terms: []scoreTerm{
			{parameter: domain.ParamAge, direction: rising, config: cfg.Age},
			{parameter: domain.ParamHemoglobin, direction: falling, config: cfg.Hemoglobin},
			{parameter: domain.ParamEGFR, direction: falling, config: cfg.EGFR},
			{parameter: domain.ParamWBC, direction: rising, config: cfg.WBC},
		},
	}
}

// Calculate builds the ordered component breakdown and the rounded total. Category and
// bleeding risk are left for the classifier.
func (s *ScoreCalculator) Calculate(values domain.NormalizedValues, flags domain.FlagSet) *domain.HBRResult {
	result := &domain.HBRResult{
		Components: make([]domain.ScoreComponent, 0, 8+len(domain.ARCHBRFactors)),
		Missing:    []domain.Parameter{},
	}

	raw := s.config.Base
	result.Components = append(result.Components, domain.ScoreComponent{
		Parameter: ComponentBase,
		Points:    s.config.Base,
	})

	for _, term := range s.terms {
		v := values.Get(term.parameter)
		component := domain.ScoreComponent{
			Parameter: string(term.parameter),
			Source:    v.Source,
		}
		if v.Available() {
			component.Value = domain.Float64Ptr(v.Value)
			component.Unit = v.Unit
			component.ObservedAt = v.ObservedAt
			component.Outdated = v.Outdated
			component.Points = term.points(v.Value)
			raw += component.Points
		} else {
			component.Source = domain.SourceUnavailable
			result.Missing = append(result.Missing, term.parameter)
		}
		result.Components = append(result.Components, component)
	}

	raw += appendFlag(result, string(domain.FlagPriorBleeding), flags.Has(domain.FlagPriorBleeding), s.config.PriorBleedingPoints)
	raw += appendFlag(result, string(domain.FlagOralAnticoagulation), flags.Has(domain.FlagOralAnticoagulation), s.config.OralAnticoagulationPoints)

	// Individual ARC-HBR criteria are informational; the summary line carries the points.
	for _, category := range domain.ARCHBRFactors {
		appendFlag(result, string(category), flags.Has(category), 0)
	}
	raw += appendFlag(result, ComponentARCHBR, flags.AnyOf(domain.ARCHBRFactors...), s.config.ARCHBRPoints)

	result.RawScore = raw
	result.TotalScore = roundHalfUp(raw)

	s.logger.WithFields(logrus.Fields{
		"raw_score":   raw,
		"total_score": result.TotalScore,
		"missing":     result.Missing,
	}).Debug("Calculated PRECISE-HBR score")

	return result
}

// appendFlag adds a categorical line worth weight points when present.
func appendFlag(result *domain.HBRResult, name string, present bool, weight float64) float64 {
	points := 0.0
	if present {
		points = weight
	}
	result.Components = append(result.Components, domain.ScoreComponent{
		Parameter: name,
		Present:   &present,
		Points:    points,
	})
	return points
}

// roundHalfUp rounds x.5 away from zero for the non-negative scores the calculator produces.
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
