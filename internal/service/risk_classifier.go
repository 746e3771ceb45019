package service

import (
	"github.com/precise-hbr-server/internal/domain"
)

// RiskClassifier maps a total score to a category and a 1-year bleeding risk estimate.
type RiskClassifier struct {
	hbrMin     int
	veryHBRMin int
	curve      []domain.CurvePoint
}

// NewRiskClassifier creates a classifier from validated thresholds and curve anchors.
func NewRiskClassifier(cfg domain.ClassifierConfig) *RiskClassifier {
	curve := make([]domain.CurvePoint, len(cfg.RiskCurve))
	copy(curve, cfg.RiskCurve)
	return &RiskClassifier{
		hbrMin:     cfg.HBRMinScore,
		veryHBRMin: cfg.VeryHBRMinScore,
		curve:      curve,
	}
}

// Classify returns the category and the interpolated bleeding risk percentage for a total.
func (c *RiskClassifier) Classify(total int) (domain.RiskCategory, float64) {
	return c.Category(total), c.BleedingRiskPercent(float64(total))
}

// Category applies the score thresholds.
func (c *RiskClassifier) Category(total int) domain.RiskCategory {
	switch {
	case total >= c.veryHBRMin:
		return domain.VERY_HBR
	case total >= c.hbrMin:
		return domain.HBR
	default:
		return domain.NOT_HBR
	}
}

// BleedingRiskPercent interpolates linearly between curve anchors and clamps outside them.
func (c *RiskClassifier) BleedingRiskPercent(score float64) float64 {
	if len(c.curve) == 0 {
		return 0
	}
	first, last := c.curve[0], c.curve[len(c.curve)-1]
	if score <= first.Score {
		return first.Percent
	}
	if score >= last.Score {
		return last.Percent
	}

	for i := 1; i < len(c.curve); i++ {
		lo, hi := c.curve[i-1], c.curve[i]
		if score <= hi.Score {
			frac := (score - lo.Score) / (hi.Score - lo.Score)
			return lo.Percent + frac*(hi.Percent-lo.Percent)
		}
	}
	return last.Percent
}

// Apply fills the category and bleeding risk of a calculated result.
func (c *RiskClassifier) Apply(result *domain.HBRResult) {
	result.Category, result.BleedingRiskPercent = c.Classify(result.TotalScore)
}
