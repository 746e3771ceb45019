package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
)

// Tool names
const (
	ToolCalculatePreciseHBR = "calculate_precise_hbr"
	ToolCalculateTradeoff   = "calculate_tradeoff"
	ToolExplainConfig       = "explain_config"
)

// CalculatePreciseHBRParams defines parameters for the calculate_precise_hbr tool
type CalculatePreciseHBRParams struct {
	Bundle *domain.ClinicalBundle `json:"bundle"`
}

// CalculateTradeoffParams defines parameters for the calculate_tradeoff tool. Factors selects
// the interactive mode and takes precedence over Bundle.
type CalculateTradeoffParams struct {
	Bundle  *domain.ClinicalBundle `json:"bundle,omitempty"`
	Factors map[string]bool        `json:"factors,omitempty"`
}

// ExplainConfigParams defines parameters for the explain_config tool
type ExplainConfigParams struct {
	Section string `json:"section,omitempty"`
}

type toolDefinition struct {
	definition *mcp.Tool
	handler    mcp.ToolHandler
}

func (s *Server) toolDefinitions() []toolDefinition {
	bundle := &jsonschema.Schema{
		Type:        "object",
		Description: "Materialized clinical bundle: patient_id, demographics {age, gender}, observations, conditions, medications, procedures, as_of",
	}

	return []toolDefinition{
		{
			definition: &mcp.Tool{
				Name:        ToolCalculatePreciseHBR,
				Description: "Calculate the PRECISE-HBR bleeding risk score, risk category and 1-year bleeding risk from a clinical bundle",
				InputSchema: &jsonschema.Schema{
					Type:       "object",
					Properties: map[string]*jsonschema.Schema{"bundle": bundle},
					Required:   []string{"bundle"},
				},
			},
			handler: s.handleCalculatePreciseHBR,
		},
		{
			definition: &mcp.Tool{
				Name:        ToolCalculateTradeoff,
				Description: "Estimate 1-year bleeding and thrombotic event probabilities from a clinical bundle, or from explicit factor keys",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"bundle": bundle,
						"factors": {
							Type:                 "object",
							Description:          "Factor keys set to true, for example {\"smoker\": true}",
							AdditionalProperties: &jsonschema.Schema{Type: "boolean"},
						},
					},
				},
			},
			handler: s.handleCalculateTradeoff,
		},
		{
			definition: &mcp.Tool{
				Name:        ToolExplainConfig,
				Description: "Describe the active scoring weights, category thresholds, risk curve, rule categories and tradeoff model",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"section": {
							Type: "string",
							Enum: []any{"score", "classifier", "rules", "tradeoff"},
						},
					},
				},
			},
			handler: s.handleExplainConfig,
		},
	}
}

func (s *Server) handleCalculatePreciseHBR(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.calculatePreciseHBR(ctx, req.Params.Arguments), nil
}

func (s *Server) handleCalculateTradeoff(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.calculateTradeoff(ctx, req.Params.Arguments), nil
}

func (s *Server) handleExplainConfig(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.explainConfig(req.Params.Arguments), nil
}

func (s *Server) calculatePreciseHBR(ctx context.Context, arguments json.RawMessage) *mcp.CallToolResult {
	s.logger.WithField("tool", ToolCalculatePreciseHBR).Info("Tool invoked")

	var params CalculatePreciseHBRParams
	if err := decodeArguments(arguments, &params); err != nil {
		return s.createErrorResult("Invalid parameters", err)
	}
	if params.Bundle == nil {
		return s.createErrorResult("Missing required parameter", errors.New("bundle is required"))
	}
	s.defaultAsOf(params.Bundle)

	result, err := s.engine.AssessPreciseHBR(ctx, params.Bundle)
	if err != nil {
		return s.createErrorResult("Calculation failed", err)
	}

	summary := fmt.Sprintf("PRECISE-HBR score %d (%s), estimated 1-year bleeding risk %.1f%%",
		result.TotalScore, result.Category.Label(), result.BleedingRiskPercent)
	if len(result.Missing) > 0 {
		summary += fmt.Sprintf(". Missing: %s", joinParameters(result.Missing))
	}
	return s.createResult(summary, result)
}

func (s *Server) calculateTradeoff(ctx context.Context, arguments json.RawMessage) *mcp.CallToolResult {
	s.logger.WithField("tool", ToolCalculateTradeoff).Info("Tool invoked")

	var params CalculateTradeoffParams
	if err := decodeArguments(arguments, &params); err != nil {
		return s.createErrorResult("Invalid parameters", err)
	}

	var result *domain.TradeoffResult
	switch {
	case params.Factors != nil:
		result = s.engine.InteractiveTradeoff(ctx, params.Factors)
	case params.Bundle != nil:
		s.defaultAsOf(params.Bundle)
		var err error
		result, err = s.engine.AssessTradeoff(ctx, params.Bundle)
		if err != nil {
			return s.createErrorResult("Calculation failed", err)
		}
	default:
		return s.createErrorResult("Missing required parameter",
			fmt.Errorf("either bundle or factors is required; known factors: %s", strings.Join(s.engine.TradeoffFactors(), ", ")))
	}

	summary := fmt.Sprintf("1-year bleeding risk %.1f%%, thrombotic risk %.1f%%",
		result.BleedingProbability*100, result.ThromboticProbability*100)
	return s.createResult(summary, result)
}

func (s *Server) explainConfig(arguments json.RawMessage) *mcp.CallToolResult {
	s.logger.WithField("tool", ToolExplainConfig).Info("Tool invoked")

	var params ExplainConfigParams
	if err := decodeArguments(arguments, &params); err != nil {
		return s.createErrorResult("Invalid parameters", err)
	}

	explanation, err := ExplainConfig(s.engineCfg, params.Section)
	if err != nil {
		return s.createErrorResult("Invalid section", err)
	}

	summary := fmt.Sprintf("HBR at score >= %d, very HBR at score >= %d",
		s.engineCfg.Classifier.HBRMinScore, s.engineCfg.Classifier.VeryHBRMinScore)
	return s.createResult(summary, explanation)
}

func (s *Server) defaultAsOf(bundle *domain.ClinicalBundle) {
	if bundle.AsOf.IsZero() {
		bundle.AsOf = s.now().UTC()
	}
}

func decodeArguments(arguments json.RawMessage, v any) error {
	if len(arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(arguments, v); err != nil {
		return fmt.Errorf("failed to decode arguments: %w", err)
	}
	return nil
}

func joinParameters(params []domain.Parameter) string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// createResult renders a one-line summary followed by the JSON payload.
func (s *Server) createResult(summary string, payload any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return s.createErrorResult("Failed to encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	s.logger.WithFields(logrus.Fields{
		"message": message,
		"error":   err,
	}).Warn("Tool call rejected")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

// ConfigExplanation is the explain_config payload. Sections not requested are omitted.
type ConfigExplanation struct {
	Score      *ScoreExplanation      `json:"score,omitempty"`
	Classifier *ClassifierExplanation `json:"classifier,omitempty"`
	Rules      []RuleExplanation      `json:"rules,omitempty"`
	Tradeoff   *TradeoffExplanation   `json:"tradeoff,omitempty"`
}

// ScoreExplanation lists the score weights.
type ScoreExplanation struct {
	Base  float64                    `json:"base"`
	Terms map[string]TermExplanation `json:"terms"`
	Flags map[string]float64         `json:"flag_points"`
}

// TermExplanation describes one continuous term.
type TermExplanation struct {
	Reference float64  `json:"reference"`
	Weight    float64  `json:"weight"`
	ClampMin  *float64 `json:"clamp_min,omitempty"`
	ClampMax  *float64 `json:"clamp_max,omitempty"`
}

// ClassifierExplanation lists thresholds and curve anchors.
type ClassifierExplanation struct {
	HBRMinScore     int          `json:"hbr_min_score"`
	VeryHBRMinScore int          `json:"very_hbr_min_score"`
	RiskCurve       [][2]float64 `json:"risk_curve"`
}

// RuleExplanation summarizes one rule category.
type RuleExplanation struct {
	Category string   `json:"category"`
	Source   string   `json:"source"`
	Groups   []string `json:"groups,omitempty"`
	Codes    int      `json:"codes"`
}

// TradeoffExplanation describes both hazard models.
type TradeoffExplanation struct {
	Bleeding   EndpointExplanation `json:"bleeding"`
	Thrombotic EndpointExplanation `json:"thrombotic"`
}

// EndpointExplanation describes one hazard model.
type EndpointExplanation struct {
	BaselineSurvival float64             `json:"baseline_survival"`
	Factors          []FactorExplanation `json:"factors"`
}

// FactorExplanation describes one hazard factor.
type FactorExplanation struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Kind        string  `json:"kind"`
	HazardRatio float64 `json:"hazard_ratio"`
}

// ExplainConfig builds a readable view of cfg. An empty section selects everything.
func ExplainConfig(cfg domain.EngineConfig, section string) (*ConfigExplanation, error) {
	out := &ConfigExplanation{}
	all := section == ""

	switch section {
	case "", "score", "classifier", "rules", "tradeoff":
	default:
		return nil, fmt.Errorf("unknown section %q", section)
	}

	if all || section == "score" {
		out.Score = &ScoreExplanation{
			Base: cfg.Score.Base,
			Terms: map[string]TermExplanation{
				string(domain.ParamAge):        explainTerm(cfg.Score.Age),
				string(domain.ParamHemoglobin): explainTerm(cfg.Score.Hemoglobin),
				string(domain.ParamEGFR):       explainTerm(cfg.Score.EGFR),
				string(domain.ParamWBC):        explainTerm(cfg.Score.WBC),
			},
			Flags: map[string]float64{
				string(domain.FlagPriorBleeding):       cfg.Score.PriorBleedingPoints,
				string(domain.FlagOralAnticoagulation): cfg.Score.OralAnticoagulationPoints,
				"arc_hbr":                              cfg.Score.ARCHBRPoints,
			},
		}
	}

	if all || section == "classifier" {
		curve := make([][2]float64, len(cfg.Classifier.RiskCurve))
		for i, p := range cfg.Classifier.RiskCurve {
			curve[i] = [2]float64{p.Score, p.Percent}
		}
		out.Classifier = &ClassifierExplanation{
			HBRMinScore:     cfg.Classifier.HBRMinScore,
			VeryHBRMinScore: cfg.Classifier.VeryHBRMinScore,
			RiskCurve:       curve,
		}
	}

	if all || section == "rules" {
		out.Rules = explainRules(cfg.Rules)
	}

	if all || section == "tradeoff" {
		out.Tradeoff = &TradeoffExplanation{
			Bleeding:   explainEndpoint(cfg.Tradeoff.Bleeding),
			Thrombotic: explainEndpoint(cfg.Tradeoff.Thrombotic),
		}
	}

	return out, nil
}

func explainTerm(t domain.TermConfig) TermExplanation {
	return TermExplanation{Reference: t.Reference, Weight: t.Weight, ClampMin: t.ClampMin, ClampMax: t.ClampMax}
}

func explainRules(cfg domain.RulesConfig) []RuleExplanation {
	names := make([]string, 0, len(cfg.Categories))
	for name := range cfg.Categories {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]RuleExplanation, 0, len(names))
	for _, name := range names {
		rule := cfg.Categories[name]
		explanation := RuleExplanation{Category: name, Source: rule.Source}
		for _, group := range rule.Groups {
			explanation.Groups = append(explanation.Groups, group.Name)
			for _, m := range group.Matchers {
				explanation.Codes += len(m.Codes)
			}
		}
		out = append(out, explanation)
	}
	return out
}

func explainEndpoint(cfg domain.EndpointConfig) EndpointExplanation {
	survival := cfg.BaselineSurvival
	if survival == 0 {
		survival = 1 - cfg.BaselineEventRatePercent/100
	}

	factors := make([]FactorExplanation, len(cfg.Factors))
	for i, f := range cfg.Factors {
		hr := 1.0
		switch {
		case f.HazardRatio != nil:
			hr = *f.HazardRatio
		case f.Coefficient != nil:
			hr = math.Exp(*f.Coefficient)
		}
		factors[i] = FactorExplanation{Name: f.Name, Description: f.Description, Kind: f.Kind, HazardRatio: hr}
	}

	return EndpointExplanation{BaselineSurvival: survival, Factors: factors}
}
