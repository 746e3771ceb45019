package config

import (
	"math"

	"github.com/precise-hbr-server/internal/domain"
)

// RequiredCategories are the rule categories the engine cannot run without.
var RequiredCategories = []domain.FlagCategory{
	domain.FlagPriorBleeding,
	domain.FlagBleedingDiathesis,
	domain.FlagCirrhosisPortalHTN,
	domain.FlagActiveCancer,
	domain.FlagOralAnticoagulation,
	domain.FlagNSAIDCorticosteroid,
	domain.FlagDualAntiplatelet,
	domain.FlagDiabetes,
	domain.FlagPriorMI,
	domain.FlagSmoker,
	domain.FlagNSTEMISTEMI,
	domain.FlagComplexPCI,
	domain.FlagBareMetalStent,
	domain.FlagCOPD,
}

var validSources = map[string]bool{
	"condition":   true,
	"medication":  true,
	"procedure":   true,
	"observation": true,
}

var validMatcherKinds = map[string]bool{
	"exact":   true,
	"prefix":  true,
	"keyword": true,
}

// ValidateEngine checks that every code set, conversion table and model coefficient the engine
// needs is present and consistent.
func ValidateEngine(cfg *domain.EngineConfig) error {
	if err := validateUnits(&cfg.Units); err != nil {
		return err
	}
	if err := validateRules(&cfg.Rules); err != nil {
		return err
	}
	if err := validateScore(&cfg.Score); err != nil {
		return err
	}
	if err := validateClassifier(&cfg.Classifier); err != nil {
		return err
	}
	if err := validateEndpoint("tradeoff.bleeding", &cfg.Tradeoff.Bleeding); err != nil {
		return err
	}
	return validateEndpoint("tradeoff.thrombotic", &cfg.Tradeoff.Thrombotic)
}

func validateUnits(cfg *domain.UnitConfig) error {
	if cfg.StaleAfter < 0 {
		return domain.NewConfigurationError("units", "stale_after must not be negative")
	}
	for _, p := range domain.LabParameters {
		param, ok := cfg.Parameters[string(p)]
		if !ok {
			return domain.NewConfigurationError("units.parameters", "missing parameter %q", p)
		}
		if param.CanonicalUnit == "" {
			return domain.NewConfigurationError("units.parameters."+string(p), "canonical_unit is required")
		}
		if len(param.LOINCCodes) == 0 {
			return domain.NewConfigurationError("units.parameters."+string(p), "at least one LOINC code is required")
		}
		for _, conv := range param.Conversions {
			if conv.Unit == "" || conv.Factor <= 0 || math.IsInf(conv.Factor, 0) {
				return domain.NewConfigurationError("units.parameters."+string(p), "invalid conversion %q -> %v", conv.Unit, conv.Factor)
			}
		}
	}
	return nil
}

func validateRules(cfg *domain.RulesConfig) error {
	if cfg.PlateletThreshold <= 0 {
		return domain.NewConfigurationError("rules", "platelet_threshold must be positive")
	}
	for _, category := range RequiredCategories {
		if _, ok := cfg.Categories[string(category)]; !ok {
			return domain.NewConfigurationError("rules.categories", "missing code set for %q", category)
		}
	}
	for name, rule := range cfg.Categories {
		section := "rules.categories." + name
		if !domain.FlagCategory(name).IsKnown() {
			return domain.NewConfigurationError(section, "unknown category")
		}
		if !validSources[rule.Source] {
			return domain.NewConfigurationError(section, "invalid source %q", rule.Source)
		}
		if len(rule.Groups) == 0 {
			return domain.NewConfigurationError(section, "at least one matcher group is required")
		}
		for _, group := range rule.Groups {
			if len(group.Matchers) == 0 {
				return domain.NewConfigurationError(section, "group %q has no matchers", group.Name)
			}
			for _, matcher := range group.Matchers {
				if err := validateMatcher(section, matcher); err != nil {
					return err
				}
			}
		}
		for _, matcher := range rule.Exclude {
			if err := validateMatcher(section+".exclude", matcher); err != nil {
				return err
			}
		}
		if rule.Source == "observation" && len(rule.ValueCodes) == 0 {
			return domain.NewConfigurationError(section, "observation rules require value_codes")
		}
	}
	return nil
}

func validateMatcher(section string, m domain.MatcherConfig) error {
	if !validMatcherKinds[m.Kind] {
		return domain.NewConfigurationError(section, "invalid matcher kind %q", m.Kind)
	}
	if m.Kind != "keyword" && m.System == "" {
		return domain.NewConfigurationError(section, "%s matcher requires a system", m.Kind)
	}
	if len(m.Codes) == 0 {
		return domain.NewConfigurationError(section, "matcher for %q has no codes", m.System)
	}
	return nil
}

func validateScore(cfg *domain.ScoreConfig) error {
	terms := map[string]domain.TermConfig{
		"age":        cfg.Age,
		"hemoglobin": cfg.Hemoglobin,
		"egfr":       cfg.EGFR,
		"wbc":        cfg.WBC,
	}
	for name, term := range terms {
		if term.Weight < 0 {
			return domain.NewConfigurationError("score."+name, "weight must not be negative")
		}
		if term.ClampMin != nil && term.ClampMax != nil && *term.ClampMin > *term.ClampMax {
			return domain.NewConfigurationError("score."+name, "clamp_min exceeds clamp_max")
		}
	}
	if cfg.PriorBleedingPoints < 0 || cfg.OralAnticoagulationPoints < 0 || cfg.ARCHBRPoints < 0 {
		return domain.NewConfigurationError("score", "categorical points must not be negative")
	}
	return nil
}

func validateClassifier(cfg *domain.ClassifierConfig) error {
	if cfg.HBRMinScore <= 0 || cfg.VeryHBRMinScore <= cfg.HBRMinScore {
		return domain.NewConfigurationError("classifier", "thresholds must satisfy 0 < hbr_min_score < very_hbr_min_score (got %d, %d)",
			cfg.HBRMinScore, cfg.VeryHBRMinScore)
	}
	if len(cfg.RiskCurve) < 2 {
		return domain.NewConfigurationError("classifier.risk_curve", "at least two anchors are required")
	}
	for i := 1; i < len(cfg.RiskCurve); i++ {
		prev, cur := cfg.RiskCurve[i-1], cfg.RiskCurve[i]
		if cur.Score <= prev.Score {
			return domain.NewConfigurationError("classifier.risk_curve", "scores must be strictly increasing at anchor %d", i)
		}
		if cur.Percent < prev.Percent {
			return domain.NewConfigurationError("classifier.risk_curve", "percent must be non-decreasing at anchor %d", i)
		}
	}
	return nil
}

func validateEndpoint(section string, cfg *domain.EndpointConfig) error {
	switch {
	case cfg.BaselineSurvival != 0:
		if cfg.BaselineSurvival <= 0 || cfg.BaselineSurvival >= 1 {
			return domain.NewConfigurationError(section, "baseline_survival must be in (0, 1)")
		}
	case cfg.BaselineEventRatePercent != 0:
		if cfg.BaselineEventRatePercent <= 0 || cfg.BaselineEventRatePercent >= 100 {
			return domain.NewConfigurationError(section, "baseline_event_rate_percent must be in (0, 100)")
		}
	default:
		return domain.NewConfigurationError(section, "a baseline survival or event rate is required")
	}
	if len(cfg.Factors) == 0 {
		return domain.NewConfigurationError(section, "at least one factor is required")
	}
	for _, f := range cfg.Factors {
		if f.Name == "" {
			return domain.NewConfigurationError(section, "factor name is required")
		}
		if (f.Coefficient == nil) == (f.HazardRatio == nil) {
			return domain.NewConfigurationError(section, "factor %q needs exactly one of coefficient or hazard_ratio", f.Name)
		}
		if f.HazardRatio != nil && *f.HazardRatio <= 0 {
			return domain.NewConfigurationError(section, "factor %q hazard_ratio must be positive", f.Name)
		}
		switch f.Kind {
		case "flag":
			if !domain.FlagCategory(f.Flag).IsKnown() {
				return domain.NewConfigurationError(section, "factor %q references unknown flag %q", f.Name, f.Flag)
			}
		case "range", "continuous":
			if !isModelParameter(domain.Parameter(f.Parameter)) {
				return domain.NewConfigurationError(section, "factor %q references unknown parameter %q", f.Name, f.Parameter)
			}
			if f.Kind == "range" && f.Min == nil && f.Max == nil {
				return domain.NewConfigurationError(section, "range factor %q needs min or max", f.Name)
			}
		default:
			return domain.NewConfigurationError(section, "factor %q has invalid kind %q", f.Name, f.Kind)
		}
	}
	return nil
}

func isModelParameter(p domain.Parameter) bool {
	if p == domain.ParamAge {
		return true
	}
	for _, lab := range domain.LabParameters {
		if p == lab {
			return true
		}
	}
	return false
}
