package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Engine    EngineConfig    `mapstructure:"engine"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig controls the caller-side result memo in front of the engine.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}

// EngineConfig is the clinical configuration. It is built once at startup and never mutated.
type EngineConfig struct {
	Units      UnitConfig       `mapstructure:"units"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Score      ScoreConfig      `mapstructure:"score"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Tradeoff   TradeoffConfig   `mapstructure:"tradeoff"`
}

// UnitConfig configures observation lookup and unit conversion.
type UnitConfig struct {
	StaleAfter time.Duration                 `mapstructure:"stale_after"`
	Parameters map[string]LabParameterConfig `mapstructure:"parameters"`
}

// LabParameterConfig describes how to find and convert one laboratory parameter.
type LabParameterConfig struct {
	CanonicalUnit string           `mapstructure:"canonical_unit"`
	LOINCCodes    []string         `mapstructure:"loinc_codes"`
	SearchTerms   []string         `mapstructure:"search_terms"`
	Conversions   []UnitConversion `mapstructure:"conversions"`
}

// UnitConversion maps a source unit into the canonical unit by multiplication.
type UnitConversion struct {
	Unit   string  `mapstructure:"unit"`
	Factor float64 `mapstructure:"factor"`
}

// RulesConfig holds the code sets for every rule category.
type RulesConfig struct {
	PlateletThreshold float64                       `mapstructure:"platelet_threshold"`
	Categories        map[string]CategoryRuleConfig `mapstructure:"categories"`
}

// CategoryRuleConfig defines one rule category. Every group must match for the flag to be
// present; within a group any matcher may match.
type CategoryRuleConfig struct {
	Source     string               `mapstructure:"source"`
	ActiveOnly bool                 `mapstructure:"active_only"`
	LatestOnly bool                 `mapstructure:"latest_only"`
	Groups     []MatcherGroupConfig `mapstructure:"groups"`
	Exclude    []MatcherConfig      `mapstructure:"exclude"`
	ValueCodes []string             `mapstructure:"value_codes"`
}

// MatcherGroupConfig is a named OR-set of matchers.
type MatcherGroupConfig struct {
	Name     string          `mapstructure:"name"`
	Matchers []MatcherConfig `mapstructure:"matchers"`
}

// MatcherConfig matches codes from one system. Kind is exact, prefix or keyword; keyword
// matchers ignore System and search concept text.
type MatcherConfig struct {
	System string   `mapstructure:"system"`
	Kind   string   `mapstructure:"kind"`
	Codes  []string `mapstructure:"codes"`
}

// ScoreConfig holds the PRECISE-HBR weights and input clamps.
type ScoreConfig struct {
	Base                      float64    `mapstructure:"base"`
	Age                       TermConfig `mapstructure:"age"`
	Hemoglobin                TermConfig `mapstructure:"hemoglobin"`
	EGFR                      TermConfig `mapstructure:"egfr"`
	WBC                       TermConfig `mapstructure:"wbc"`
	PriorBleedingPoints       float64    `mapstructure:"prior_bleeding_points"`
	OralAnticoagulationPoints float64    `mapstructure:"oral_anticoagulation_points"`
	ARCHBRPoints              float64    `mapstructure:"arc_hbr_points"`
}

// TermConfig is one continuous score term. The value is clamped to [ClampMin, ClampMax] when
// those bounds are set.
type TermConfig struct {
	Reference float64  `mapstructure:"reference"`
	Weight    float64  `mapstructure:"weight"`
	ClampMin  *float64 `mapstructure:"clamp_min"`
	ClampMax  *float64 `mapstructure:"clamp_max"`
}

// ClassifierConfig holds category thresholds and the score-to-risk curve.
type ClassifierConfig struct {
	HBRMinScore     int          `mapstructure:"hbr_min_score"`
	VeryHBRMinScore int          `mapstructure:"very_hbr_min_score"`
	RiskCurve       []CurvePoint `mapstructure:"risk_curve"`
}

// CurvePoint anchors the 1-year bleeding risk percent at a score.
type CurvePoint struct {
	Score   float64 `mapstructure:"score"`
	Percent float64 `mapstructure:"percent"`
}

// TradeoffConfig holds one hazard model per endpoint.
type TradeoffConfig struct {
	Bleeding   EndpointConfig `mapstructure:"bleeding"`
	Thrombotic EndpointConfig `mapstructure:"thrombotic"`
}

// EndpointConfig configures a Cox model. BaselineSurvival wins over BaselineEventRatePercent
// when both are set.
type EndpointConfig struct {
	BaselineSurvival         float64              `mapstructure:"baseline_survival"`
	BaselineEventRatePercent float64              `mapstructure:"baseline_event_rate_percent"`
	Factors                  []HazardFactorConfig `mapstructure:"factors"`
}

// HazardFactorConfig configures one model factor. Exactly one of Coefficient and HazardRatio
// must be set.
type HazardFactorConfig struct {
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Kind        string   `mapstructure:"kind"`
	Flag        string   `mapstructure:"flag"`
	Parameter   string   `mapstructure:"parameter"`
	Min         *float64 `mapstructure:"min"`
	Max         *float64 `mapstructure:"max"`
	Reference   float64  `mapstructure:"reference"`
	Coefficient *float64 `mapstructure:"coefficient"`
	HazardRatio *float64 `mapstructure:"hazard_ratio"`
}
