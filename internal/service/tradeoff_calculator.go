package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
)

// Hazard factor kinds
const (
	FactorFlag       = "flag"
	FactorRange      = "range"
	FactorContinuous = "continuous"
)

type hazardFactor struct {
	name        string
	description string
	kind        string
	flag        domain.FlagCategory
	parameter   domain.Parameter
	min         *float64
	max         *float64
	reference   float64
	coefficient float64
}

// value returns the factor value and whether its input was available.
func (f hazardFactor) value(values domain.NormalizedValues, flags domain.FlagSet) (float64, bool) {
	switch f.kind {
	case FactorFlag:
		if flags.Has(f.flag) {
			return 1, true
		}
		return 0, true
	case FactorRange:
		v := values.Get(f.parameter)
		if !v.Available() {
			return 0, false
		}
		if f.min != nil && v.Value < *f.min {
			return 0, true
		}
		if f.max != nil && v.Value >= *f.max {
			return 0, true
		}
		return 1, true
	case FactorContinuous:
		v := values.Get(f.parameter)
		if !v.Available() {
			return 0, false
		}
		return v.Value - f.reference, true
	default:
		return 0, false
	}
}

func (f hazardFactor) contribution(value float64) domain.FactorContribution {
	hr := math.Exp(f.coefficient)
	return domain.FactorContribution{
		Factor:      f.name,
		Description: fmt.Sprintf("%s (HR: %g)", f.description, roundTo(hr, 2)),
		Value:       value,
		Coefficient: f.coefficient,
		HazardRatio: hr,
	}
}

// endpointModel is a proportional-hazards model for one endpoint at the model horizon.
type endpointModel struct {
	baselineSurvival float64
	factors          []hazardFactor
}

// probability converts a linear predictor to an event probability in [0, 1].
func (m endpointModel) probability(lp float64) float64 {
	p := 1 - math.Pow(m.baselineSurvival, math.Exp(lp))
	switch {
	case math.IsNaN(p):
		return 1
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// TradeoffCalculator estimates independent 1-year bleeding and thrombotic probabilities.
type TradeoffCalculator struct {
	logger     *logrus.Logger
	bleeding   endpointModel
	thrombotic endpointModel
	known      map[string]bool
}

// NewTradeoffCalculator builds both endpoint models.
func NewTradeoffCalculator(cfg domain.TradeoffConfig, logger *logrus.Logger) (*TradeoffCalculator, error) {
	bleeding, err := buildEndpoint("tradeoff.bleeding", cfg.Bleeding)
	if err != nil {
		return nil, err
	}
	thrombotic, err := buildEndpoint("tradeoff.thrombotic", cfg.Thrombotic)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, f := range bleeding.factors {
		known[f.name] = true
	}
	for _, f := range thrombotic.factors {
		known[f.name] = true
	}

	return &TradeoffCalculator{
		logger:     logger,
		bleeding:   bleeding,
		thrombotic: thrombotic,
		known:      known,
	}, nil
}

func buildEndpoint(section string, cfg domain.EndpointConfig) (endpointModel, error) {
	m := endpointModel{baselineSurvival: cfg.BaselineSurvival}
	if m.baselineSurvival == 0 {
		m.baselineSurvival = 1 - cfg.BaselineEventRatePercent/100
	}
	if m.baselineSurvival <= 0 || m.baselineSurvival >= 1 {
		return m, domain.NewConfigurationError(section, "baseline survival %v is outside (0, 1)", m.baselineSurvival)
	}

	for _, fc := range cfg.Factors {
		f := hazardFactor{
			name:        fc.Name,
			description: fc.Description,
			kind:        fc.Kind,
			flag:        domain.FlagCategory(fc.Flag),
			parameter:   domain.Parameter(fc.Parameter),
			min:         fc.Min,
			max:         fc.Max,
			reference:   fc.Reference,
		}
		switch {
		case fc.Coefficient != nil:
			f.coefficient = *fc.Coefficient
		case fc.HazardRatio != nil && *fc.HazardRatio > 0:
			f.coefficient = math.Log(*fc.HazardRatio)
		default:
			return m, domain.NewConfigurationError(section, "factor %q has no coefficient", fc.Name)
		}
		if f.description == "" {
			f.description = f.name
		}
		m.factors = append(m.factors, f)
	}
	return m, nil
}

// Factors returns the names of every configured factor, sorted.
func (t *TradeoffCalculator) Factors() []string {
	names := make([]string, 0, len(t.known))
	for name := range t.known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compute evaluates both endpoints from normalized values and flags. Factors whose input is
// unavailable contribute nothing and their parameter is reported as missing.
func (t *TradeoffCalculator) Compute(values domain.NormalizedValues, flags domain.FlagSet) *domain.TradeoffResult {
	result := &domain.TradeoffResult{
		BleedingFactors:   []domain.FactorContribution{},
		ThromboticFactors: []domain.FactorContribution{},
		Missing:           []string{},
	}
	missing := make(map[string]bool)

	evaluate := func(m endpointModel) (float64, []domain.FactorContribution) {
		lp := 0.0
		active := []domain.FactorContribution{}
		for _, f := range m.factors {
			v, ok := f.value(values, flags)
			if !ok {
				if !missing[string(f.parameter)] {
					missing[string(f.parameter)] = true
					result.Missing = append(result.Missing, string(f.parameter))
				}
				continue
			}
			if v == 0 {
				continue
			}
			lp += f.coefficient * v
			active = append(active, f.contribution(v))
		}
		return lp, active
	}

	result.BleedingLP, result.BleedingFactors = evaluate(t.bleeding)
	result.ThromboticLP, result.ThromboticFactors = evaluate(t.thrombotic)
	result.BleedingProbability = t.bleeding.probability(result.BleedingLP)
	result.ThromboticProbability = t.thrombotic.probability(result.ThromboticLP)

	t.logger.WithFields(logrus.Fields{
		"bleeding_probability":   result.BleedingProbability,
		"thrombotic_probability": result.ThromboticProbability,
		"missing":                result.Missing,
	}).Debug("Computed tradeoff probabilities")

	return result
}

// ComputeFromFactors evaluates both endpoints from explicit factor keys, as in a what-if
// session. Keys set flag and range factors to 1; continuous factors stay at their reference.
// Unknown keys are ignored.
func (t *TradeoffCalculator) ComputeFromFactors(active map[string]bool) *domain.TradeoffResult {
	result := &domain.TradeoffResult{
		BleedingFactors:   []domain.FactorContribution{},
		ThromboticFactors: []domain.FactorContribution{},
	}

	evaluate := func(m endpointModel) (float64, []domain.FactorContribution) {
		lp := 0.0
		contributions := []domain.FactorContribution{}
		for _, f := range m.factors {
			if f.kind == FactorContinuous || !active[f.name] {
				continue
			}
			lp += f.coefficient
			contributions = append(contributions, f.contribution(1))
		}
		return lp, contributions
	}

	result.BleedingLP, result.BleedingFactors = evaluate(t.bleeding)
	result.ThromboticLP, result.ThromboticFactors = evaluate(t.thrombotic)
	result.BleedingProbability = t.bleeding.probability(result.BleedingLP)
	result.ThromboticProbability = t.thrombotic.probability(result.ThromboticLP)

	for key, on := range active {
		if on && !t.known[key] {
			t.logger.WithField("factor", key).Debug("Ignoring unknown tradeoff factor")
		}
	}

	return result
}

func roundTo(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}
