package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/precise-hbr-server/internal/domain"
)

func TestRiskClassifier_Categories(t *testing.T) {
	c := NewRiskClassifier(defaultEngineConfig(t).Classifier)

	tests := []struct {
		total int
		want  domain.RiskCategory
	}{
		{0, domain.NOT_HBR},
		{20, domain.NOT_HBR},
		{22, domain.NOT_HBR},
		{23, domain.HBR},
		{26, domain.HBR},
		{27, domain.VERY_HBR},
		{32, domain.VERY_HBR},
		{80, domain.VERY_HBR},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Category(tt.total), "total %d", tt.total)
	}
}

func TestRiskClassifier_BleedingRiskPercent(t *testing.T) {
	c := NewRiskClassifier(defaultEngineConfig(t).Classifier)

	tests := []struct {
		name  string
		score float64
		want  float64
	}{
		{"below first anchor", -5, 0.5},
		{"first anchor", 0, 0.5},
		{"interpolated", 11, 2.0},
		{"anchor", 22, 3.5},
		{"between 22 and 26", 24, 4.5},
		{"anchor 30", 30, 8.0},
		{"between 35 and 45", 40, 13.5},
		{"beyond last anchor", 60, 15.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, c.BleedingRiskPercent(tt.score), 1e-9)
		})
	}
}

func TestRiskClassifier_MonotonicPercent(t *testing.T) {
	c := NewRiskClassifier(defaultEngineConfig(t).Classifier)

	prev := c.BleedingRiskPercent(0)
	for score := 1; score <= 60; score++ {
		cur := c.BleedingRiskPercent(float64(score))
		assert.GreaterOrEqual(t, cur, prev, "score %d", score)
		prev = cur
	}
}

func TestRiskClassifier_CustomThresholds(t *testing.T) {
	cfg := defaultEngineConfig(t).Classifier
	cfg.HBRMinScore = 25
	cfg.VeryHBRMinScore = 35
	c := NewRiskClassifier(cfg)

	category, percent := c.Classify(26)
	assert.Equal(t, domain.HBR, category)
	assert.InDelta(t, 5.5, percent, 1e-9)
	assert.Equal(t, domain.NOT_HBR, c.Category(24))
	assert.Equal(t, domain.VERY_HBR, c.Category(35))
}

func TestRiskClassifier_Apply(t *testing.T) {
	c := NewRiskClassifier(defaultEngineConfig(t).Classifier)

	result := &domain.HBRResult{TotalScore: 32}
	c.Apply(result)
	assert.Equal(t, domain.VERY_HBR, result.Category)
	assert.InDelta(t, 9.6, result.BleedingRiskPercent, 1e-9)
}
