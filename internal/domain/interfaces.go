package domain

import (
	"context"
)

// RiskEngine computes the PRECISE-HBR score and the bleeding/thrombosis tradeoff from a
// materialized clinical bundle
type RiskEngine interface {
	AssessPreciseHBR(ctx context.Context, bundle *ClinicalBundle) (*HBRResult, error)
	AssessTradeoff(ctx context.Context, bundle *ClinicalBundle) (*TradeoffResult, error)
	Assess(ctx context.Context, bundle *ClinicalBundle) (*Assessment, error)
	InteractiveTradeoff(ctx context.Context, active map[string]bool) *TradeoffResult
	TradeoffFactors() []string
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetEngineConfig() *EngineConfig
	ConfigFileUsed() string
	Validate() error
}
