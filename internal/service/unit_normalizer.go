package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
)

// labParameter is the compiled lookup for one laboratory parameter.
type labParameter struct {
	canonicalUnit string
	loincCodes    map[string]bool
	searchTerms   []string
	factors       map[string]float64
}

// UnitNormalizer resolves laboratory observations into canonical units.
type UnitNormalizer struct {
	logger     *logrus.Logger
	parameters map[domain.Parameter]*labParameter
	staleAfter time.Duration
}

// NewUnitNormalizer compiles the unit configuration into lookup tables.
func NewUnitNormalizer(cfg domain.UnitConfig, logger *logrus.Logger) (*UnitNormalizer, error) {
	n := &UnitNormalizer{
		logger:     logger,
		parameters: make(map[domain.Parameter]*labParameter, len(cfg.Parameters)),
		staleAfter: cfg.StaleAfter,
	}

	for name, pc := range cfg.Parameters {
		if pc.CanonicalUnit == "" {
			return nil, domain.NewConfigurationError("units.parameters."+name, "canonical_unit is required")
		}
		lp := &labParameter{
			canonicalUnit: normalizeUnit(pc.CanonicalUnit),
			loincCodes:    make(map[string]bool, len(pc.LOINCCodes)),
			factors:       make(map[string]float64, len(pc.Conversions)+1),
		}
		for _, code := range pc.LOINCCodes {
			lp.loincCodes[code] = true
		}
		for _, term := range pc.SearchTerms {
			lp.searchTerms = append(lp.searchTerms, strings.ToLower(term))
		}
		lp.factors[lp.canonicalUnit] = 1.0
		for _, conv := range pc.Conversions {
			lp.factors[normalizeUnit(conv.Unit)] = conv.Factor
		}
		n.parameters[domain.Parameter(name)] = lp
	}

	for _, p := range domain.LabParameters {
		if _, ok := n.parameters[p]; !ok {
			return nil, domain.NewConfigurationError("units.parameters", "missing parameter %q", p)
		}
	}

	return n, nil
}

// CanonicalUnit returns the canonical unit of a lab parameter.
func (n *UnitNormalizer) CanonicalUnit(p domain.Parameter) string {
	if lp, ok := n.parameters[p]; ok {
		return lp.canonicalUnit
	}
	return ""
}

// Normalize selects the most recent observation for the parameter and converts it to the
// canonical unit. Absent data and unknown units yield an unavailable value, never an error.
func (n *UnitNormalizer) Normalize(observations []domain.Observation, p domain.Parameter, asOf time.Time) domain.NormalizedValue {
	lp, ok := n.parameters[p]
	if !ok {
		n.logger.WithField("parameter", p).Warn("Normalization requested for unconfigured parameter")
		return domain.Unavailable(p)
	}

	obs := n.selectObservation(observations, lp)
	if obs == nil {
		n.logger.WithField("parameter", p).Debug("No observation found")
		return domain.Unavailable(p)
	}

	value, err := n.convert(lp, *obs.Value, obs.Unit)
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"parameter":      p,
			"observation_id": obs.ID,
			"unit":           obs.Unit,
			"canonical_unit": lp.canonicalUnit,
		}).Warn("Unit conversion failed; treating value as unavailable")
		return domain.Unavailable(p)
	}

	nv := domain.NormalizedValue{
		Parameter:  p,
		Value:      value,
		Unit:       lp.canonicalUnit,
		Source:     domain.SourceMeasured,
		ObservedAt: obs.EffectiveTime,
	}
	nv.Outdated = n.isOutdated(obs.EffectiveTime, asOf)
	return nv
}

// NormalizeAll resolves every lab parameter, estimating eGFR from creatinine when no direct
// eGFR observation is usable. Age is carried as a demographic value.
func (n *UnitNormalizer) NormalizeAll(bundle *domain.ClinicalBundle) domain.NormalizedValues {
	values := make(domain.NormalizedValues, len(domain.LabParameters)+1)

	if age := bundle.Demographics.Age; age != nil {
		values[domain.ParamAge] = domain.NormalizedValue{
			Parameter: domain.ParamAge,
			Value:     float64(*age),
			Unit:      "years",
			Source:    domain.SourceMeasured,
		}
	} else {
		values[domain.ParamAge] = domain.Unavailable(domain.ParamAge)
	}

	for _, p := range domain.LabParameters {
		values[p] = n.Normalize(bundle.Observations, p, bundle.AsOf)
	}

	if !values[domain.ParamEGFR].Available() {
		values[domain.ParamEGFR] = n.EstimateEGFR(values[domain.ParamCreatinine], bundle.Demographics)
	}

	return values
}

// EstimateEGFR applies CKD-EPI 2021 to a normalized creatinine value.
func (n *UnitNormalizer) EstimateEGFR(creatinine domain.NormalizedValue, demo domain.Demographics) domain.NormalizedValue {
	if !creatinine.Available() || demo.Age == nil || !demo.Gender.IsValid() {
		return domain.Unavailable(domain.ParamEGFR)
	}

	egfr, ok := CKDEPI2021(creatinine.Value, *demo.Age, demo.Gender)
	if !ok {
		return domain.Unavailable(domain.ParamEGFR)
	}

	n.logger.WithFields(logrus.Fields{
		"creatinine": creatinine.Value,
		"age":        *demo.Age,
		"gender":     demo.Gender,
		"egfr":       egfr,
	}).Debug("Estimated eGFR from creatinine")

	return domain.NormalizedValue{
		Parameter:  domain.ParamEGFR,
		Value:      egfr,
		Unit:       n.CanonicalUnit(domain.ParamEGFR),
		Source:     domain.SourceEstimated,
		ObservedAt: creatinine.ObservedAt,
		Outdated:   creatinine.Outdated,
	}
}

// selectObservation returns the most recent numeric observation matching the parameter by
// LOINC code, falling back to text search only when no coded match exists. Undated
// observations rank after dated ones; ties keep input order.
func (n *UnitNormalizer) selectObservation(observations []domain.Observation, lp *labParameter) *domain.Observation {
	if best := latest(observations, lp.matchesCode); best != nil {
		return best
	}
	return latest(observations, lp.matchesText)
}

func latest(observations []domain.Observation, match func(*domain.Observation) bool) *domain.Observation {
	var best *domain.Observation
	for i := range observations {
		obs := &observations[i]
		if obs.Value == nil || !match(obs) {
			continue
		}
		if best == nil || newer(obs.EffectiveTime, best.EffectiveTime) {
			best = obs
		}
	}
	return best
}

func (n *UnitNormalizer) convert(lp *labParameter, value float64, unit string) (float64, error) {
	factor, ok := lp.factors[normalizeUnit(unit)]
	if !ok {
		return 0, fmt.Errorf("no conversion from %q to %q", unit, lp.canonicalUnit)
	}
	return value * factor, nil
}

func (n *UnitNormalizer) isOutdated(observed *time.Time, asOf time.Time) bool {
	if observed == nil || asOf.IsZero() || n.staleAfter <= 0 {
		return false
	}
	return asOf.Sub(*observed) > n.staleAfter
}

func (lp *labParameter) matchesCode(obs *domain.Observation) bool {
	for _, coding := range obs.Code.Coding {
		if (coding.System == "" || coding.System == domain.SystemLOINC) && lp.loincCodes[coding.Code] {
			return true
		}
	}
	return false
}

func (lp *labParameter) matchesText(obs *domain.Observation) bool {
	if len(lp.searchTerms) == 0 {
		return false
	}
	text := obs.Code.SearchText()
	if text == "" {
		return false
	}
	for _, term := range lp.searchTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// newer reports whether a is strictly more recent than b.
func newer(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}

func normalizeUnit(unit string) string {
	return strings.ToLower(strings.TrimSpace(unit))
}
