package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/precise-hbr-server/internal/config"
	"github.com/precise-hbr-server/internal/domain"
)

const meterName = "precise-hbr"

// Engine wires the normalizer, rule checker, calculators and classifier into the two
// assessment flows. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	logger     *logrus.Logger
	config     domain.EngineConfig
	normalizer *UnitNormalizer
	rules      *RuleChecker
	score      *ScoreCalculator
	classifier *RiskClassifier
	tradeoff   *TradeoffCalculator

	hbrCalculations      metric.Int64Counter
	hbrScore             metric.Float64Histogram
	tradeoffCalculations metric.Int64Counter
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMeter records engine metrics on the given meter instead of the global one.
func WithMeter(meter metric.Meter) EngineOption {
	return func(e *Engine) {
		e.initMetrics(meter)
	}
}

// NewEngine validates the configuration and builds every component. Configuration problems
// are returned as *domain.ConfigurationError.
func NewEngine(cfg domain.EngineConfig, logger *logrus.Logger, opts ...EngineOption) (*Engine, error) {
	if err := config.ValidateEngine(&cfg); err != nil {
		return nil, err
	}

	normalizer, err := NewUnitNormalizer(cfg.Units, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build unit normalizer: %w", err)
	}
	rules, err := NewRuleChecker(cfg.Rules, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule checker: %w", err)
	}
	tradeoff, err := NewTradeoffCalculator(cfg.Tradeoff, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build tradeoff calculator: %w", err)
	}

	e := &Engine{
		logger:     logger,
		config:     cfg,
		normalizer: normalizer,
		rules:      rules,
		score:      NewScoreCalculator(cfg.Score, logger),
		classifier: NewRiskClassifier(cfg.Classifier),
		tradeoff:   tradeoff,
	}
	e.initMetrics(otel.Meter(meterName))
	for _, opt := range opts {
		opt(e)
	}

	logger.WithFields(logrus.Fields{
		"rule_categories":    len(rules.Categories()),
		"tradeoff_factors":   len(tradeoff.Factors()),
		"hbr_min_score":      cfg.Classifier.HBRMinScore,
		"very_hbr_min_score": cfg.Classifier.VeryHBRMinScore,
	}).Info("Risk engine initialized")

	return e, nil
}

func (e *Engine) initMetrics(meter metric.Meter) {
	var err error
	if e.hbrCalculations, err = meter.Int64Counter("precise_hbr_calculations_total",
		metric.WithDescription("PRECISE-HBR calculations by risk category")); err != nil {
		e.logger.WithError(err).Warn("Failed to create precise_hbr_calculations_total counter")
		e.hbrCalculations = noop.Int64Counter{}
	}
	if e.hbrScore, err = meter.Float64Histogram("precise_hbr_score",
		metric.WithDescription("Distribution of PRECISE-HBR total scores")); err != nil {
		e.logger.WithError(err).Warn("Failed to create precise_hbr_score histogram")
		e.hbrScore = noop.Float64Histogram{}
	}
	if e.tradeoffCalculations, err = meter.Int64Counter("tradeoff_calculations_total",
		metric.WithDescription("Bleeding/thrombosis tradeoff calculations by mode")); err != nil {
		e.logger.WithError(err).Warn("Failed to create tradeoff_calculations_total counter")
		e.tradeoffCalculations = noop.Int64Counter{}
	}
}

// Config returns the engine configuration in effect.
func (e *Engine) Config() domain.EngineConfig {
	return e.config
}

// AssessPreciseHBR runs normalization, rule evaluation, scoring and classification.
func (e *Engine) AssessPreciseHBR(ctx context.Context, bundle *domain.ClinicalBundle) (*domain.HBRResult, error) {
	values, flags, err := e.prepare(bundle)
	if err != nil {
		return nil, err
	}
	return e.scoreAndClassify(ctx, bundle, values, flags), nil
}

// AssessTradeoff runs normalization, rule evaluation and the tradeoff model.
func (e *Engine) AssessTradeoff(ctx context.Context, bundle *domain.ClinicalBundle) (*domain.TradeoffResult, error) {
	values, flags, err := e.prepare(bundle)
	if err != nil {
		return nil, err
	}
	return e.computeTradeoff(ctx, bundle, values, flags), nil
}

// Assess runs both flows over one normalization and rule pass.
func (e *Engine) Assess(ctx context.Context, bundle *domain.ClinicalBundle) (*domain.Assessment, error) {
	values, flags, err := e.prepare(bundle)
	if err != nil {
		return nil, err
	}

	return &domain.Assessment{
		PatientID: bundle.PatientID,
		HBR:       e.scoreAndClassify(ctx, bundle, values, flags),
		Tradeoff:  e.computeTradeoff(ctx, bundle, values, flags),
		Values:    orderedValues(values),
		Flags:     e.orderedFlags(flags),
	}, nil
}

// InteractiveTradeoff evaluates the tradeoff model from explicit factor keys.
func (e *Engine) InteractiveTradeoff(ctx context.Context, active map[string]bool) *domain.TradeoffResult {
	result := e.tradeoff.ComputeFromFactors(active)
	e.tradeoffCalculations.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "interactive")))
	return result
}

// TradeoffFactors lists the factor keys accepted by InteractiveTradeoff.
func (e *Engine) TradeoffFactors() []string {
	return e.tradeoff.Factors()
}

func (e *Engine) prepare(bundle *domain.ClinicalBundle) (domain.NormalizedValues, domain.FlagSet, error) {
	if bundle == nil {
		return nil, nil, domain.NewValidationError("bundle", "clinical bundle is required", nil)
	}
	if err := bundle.Validate(); err != nil {
		return nil, nil, err
	}

	values := e.normalizer.NormalizeAll(bundle)
	flags := e.rules.EvaluateAll(bundle, values)
	return values, flags, nil
}

func (e *Engine) scoreAndClassify(ctx context.Context, bundle *domain.ClinicalBundle, values domain.NormalizedValues, flags domain.FlagSet) *domain.HBRResult {
	result := e.score.Calculate(values, flags)
	e.classifier.Apply(result)

	attrs := metric.WithAttributes(attribute.String("category", string(result.Category)))
	e.hbrCalculations.Add(ctx, 1, attrs)
	e.hbrScore.Record(ctx, float64(result.TotalScore), attrs)

	e.logger.WithFields(logrus.Fields{
		"patient_id":    bundle.PatientID,
		"total_score":   result.TotalScore,
		"risk_category": result.Category,
		"bleeding_risk": result.BleedingRiskPercent,
		"missing":       len(result.Missing),
	}).Info("PRECISE-HBR assessment completed")

	return result
}

func (e *Engine) computeTradeoff(ctx context.Context, bundle *domain.ClinicalBundle, values domain.NormalizedValues, flags domain.FlagSet) *domain.TradeoffResult {
	result := e.tradeoff.Compute(values, flags)
	e.tradeoffCalculations.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", "bundle")))

	e.logger.WithFields(logrus.Fields{
		"patient_id":             bundle.PatientID,
		"bleeding_probability":   result.BleedingProbability,
		"thrombotic_probability": result.ThromboticProbability,
		"missing":                len(result.Missing),
	}).Info("Tradeoff assessment completed")

	return result
}

func orderedValues(values domain.NormalizedValues) []domain.NormalizedValue {
	out := make([]domain.NormalizedValue, 0, len(values))
	out = append(out, values.Get(domain.ParamAge))
	for _, p := range domain.LabParameters {
		out = append(out, values.Get(p))
	}
	return out
}

func (e *Engine) orderedFlags(flags domain.FlagSet) []domain.RiskFlag {
	out := make([]domain.RiskFlag, 0, len(flags))
	for _, category := range e.rules.Categories() {
		if flag, ok := flags[category]; ok {
			out = append(out, flag)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Present && !out[j].Present })
	return out
}
