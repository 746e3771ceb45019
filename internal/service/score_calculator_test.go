package service

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precise-hbr-server/internal/domain"
)

func newTestScoreCalculator(t *testing.T) *ScoreCalculator {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewScoreCalculator(defaultEngineConfig(t).Score, logger)
}

func measured(values map[domain.Parameter]float64) domain.NormalizedValues {
	out := make(domain.NormalizedValues, len(values))
	for p, v := range values {
		out[p] = domain.NormalizedValue{Parameter: p, Value: v, Source: domain.SourceMeasured}
	}
	return out
}

func flagSet(categories ...domain.FlagCategory) domain.FlagSet {
	fs := make(domain.FlagSet, len(categories))
	for _, c := range categories {
		fs[c] = domain.RiskFlag{Category: c, Present: true}
	}
	return fs
}

func goldenValues() domain.NormalizedValues {
	return measured(map[domain.Parameter]float64{
		domain.ParamAge:        70,
		domain.ParamHemoglobin: 13,
		domain.ParamEGFR:       80,
		domain.ParamWBC:        6,
	})
}

func TestScoreCalculator_GoldenCases(t *testing.T) {
	s := newTestScoreCalculator(t)

	result := s.Calculate(goldenValues(), domain.FlagSet{})
	assert.InDelta(t, 20.4, result.RawScore, 1e-9)
	assert.Equal(t, 20, result.TotalScore)
	assert.Empty(t, result.Missing)

	result = s.Calculate(goldenValues(), flagSet(domain.FlagPriorBleeding, domain.FlagOralAnticoagulation))
	assert.InDelta(t, 32.4, result.RawScore, 1e-9)
	assert.Equal(t, 32, result.TotalScore)
}

func TestScoreCalculator_ComponentOrder(t *testing.T) {
	s := newTestScoreCalculator(t)

	result := s.Calculate(goldenValues(), flagSet(domain.FlagActiveCancer))

	names := make([]string, 0, len(result.Components))
	for _, c := range result.Components {
		names = append(names, c.Parameter)
	}
	assert.Equal(t, []string{
		"base", "age", "hemoglobin", "egfr", "wbc",
		"prior_bleeding", "oral_anticoagulation",
		"bleeding_diathesis", "cirrhosis_portal_htn", "active_cancer", "thrombocytopenia", "nsaid_corticosteroid",
		"arc_hbr",
	}, names)

	points := map[string]float64{}
	for _, c := range result.Components {
		points[c.Parameter] = c.Points
	}
	assert.Equal(t, 2.0, points["base"])
	assert.Equal(t, 10.0, points["age"])
	assert.Equal(t, 5.0, points["hemoglobin"])
	assert.InDelta(t, 1.0, points["egfr"], 1e-9)
	assert.InDelta(t, 2.4, points["wbc"], 1e-9)
	assert.Zero(t, points["active_cancer"])
	assert.Equal(t, 3.0, points["arc_hbr"])
}

func TestScoreCalculator_ARCHBRCountedOnce(t *testing.T) {
	s := newTestScoreCalculator(t)

	one := s.Calculate(goldenValues(), flagSet(domain.FlagActiveCancer))
	all := s.Calculate(goldenValues(), flagSet(domain.ARCHBRFactors...))

	assert.InDelta(t, 23.4, one.RawScore, 1e-9)
	assert.Equal(t, one.RawScore, all.RawScore)
	assert.Equal(t, 23, all.TotalScore)
}

func TestScoreCalculator_FloorsAndClamps(t *testing.T) {
	s := newTestScoreCalculator(t)

	tests := []struct {
		name   string
		values map[domain.Parameter]float64
		want   float64
	}{
		{"all at reference", map[domain.Parameter]float64{domain.ParamAge: 30, domain.ParamHemoglobin: 15, domain.ParamEGFR: 100, domain.ParamWBC: 3}, 2},
		{"better than reference never subtracts", map[domain.Parameter]float64{domain.ParamAge: 20, domain.ParamHemoglobin: 17, domain.ParamEGFR: 130, domain.ParamWBC: 1}, 2},
		{"age clamps at 80", map[domain.Parameter]float64{domain.ParamAge: 95}, 2 + 12.5},
		{"hemoglobin clamps at 5", map[domain.Parameter]float64{domain.ParamHemoglobin: 3}, 2 + 25},
		{"egfr clamps at 5", map[domain.Parameter]float64{domain.ParamEGFR: 0}, 2 + 4.75},
		{"wbc clamps at 15", map[domain.Parameter]float64{domain.ParamWBC: 40}, 2 + 9.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.Calculate(measured(tt.values), nil)
			assert.InDelta(t, tt.want, result.RawScore, 1e-9)
			for _, c := range result.Components {
				assert.GreaterOrEqual(t, c.Points, 0.0, c.Parameter)
			}
		})
	}
}

func TestScoreCalculator_AgeClampCapsPoints(t *testing.T) {
	logger, _ := test.NewNullLogger()
	age90 := measured(map[domain.Parameter]float64{domain.ParamAge: 90})

	clamped := newTestScoreCalculator(t).Calculate(age90, nil)
	require.Equal(t, "age", clamped.Components[1].Parameter)
	assert.Equal(t, 12.5, clamped.Components[1].Points)
	assert.Equal(t, 90.0, *clamped.Components[1].Value)
	assert.Equal(t, 15, clamped.TotalScore)

	// Without the clamp the linear term keeps growing past 80
	cfg := defaultEngineConfig(t).Score
	cfg.Age.ClampMax = nil
	linear := NewScoreCalculator(cfg, logger).Calculate(age90, nil)
	assert.Equal(t, 15.0, linear.Components[1].Points)
	assert.Equal(t, 17, linear.TotalScore)
}

func TestScoreCalculator_Monotonic(t *testing.T) {
	s := newTestScoreCalculator(t)

	scoreWith := func(p domain.Parameter, v float64) float64 {
		values := goldenValues()
		values[p] = domain.NormalizedValue{Parameter: p, Value: v, Source: domain.SourceMeasured}
		return s.Calculate(values, nil).RawScore
	}

	for v := 20.0; v < 100; v += 2.5 {
		assert.LessOrEqual(t, scoreWith(domain.ParamAge, v), scoreWith(domain.ParamAge, v+2.5))
		assert.LessOrEqual(t, scoreWith(domain.ParamWBC, v/5), scoreWith(domain.ParamWBC, (v+2.5)/5))
		assert.GreaterOrEqual(t, scoreWith(domain.ParamHemoglobin, v/5), scoreWith(domain.ParamHemoglobin, (v+2.5)/5))
		assert.GreaterOrEqual(t, scoreWith(domain.ParamEGFR, v), scoreWith(domain.ParamEGFR, v+2.5))
	}

	plain := s.Calculate(goldenValues(), nil).RawScore
	for _, category := range []domain.FlagCategory{domain.FlagPriorBleeding, domain.FlagOralAnticoagulation, domain.FlagThrombocytopenia} {
		assert.Greater(t, s.Calculate(goldenValues(), flagSet(category)).RawScore, plain, string(category))
	}
}

func TestScoreCalculator_MissingValues(t *testing.T) {
	s := newTestScoreCalculator(t)

	values := goldenValues()
	values[domain.ParamEGFR] = domain.Unavailable(domain.ParamEGFR)
	delete(values, domain.ParamWBC)

	result := s.Calculate(values, nil)
	assert.InDelta(t, 17.0, result.RawScore, 1e-9)
	assert.Equal(t, []domain.Parameter{domain.ParamEGFR, domain.ParamWBC}, result.Missing)

	for _, c := range result.Components {
		if c.Parameter == "egfr" || c.Parameter == "wbc" {
			assert.Equal(t, domain.SourceUnavailable, c.Source)
			assert.Nil(t, c.Value)
			assert.Zero(t, c.Points)
		}
	}

	empty := s.Calculate(nil, nil)
	assert.Equal(t, 2, empty.TotalScore)
	assert.Len(t, empty.Missing, 4)
}

func TestScoreCalculator_Deterministic(t *testing.T) {
	s := newTestScoreCalculator(t)
	flags := flagSet(domain.FlagPriorBleeding, domain.FlagCirrhosisPortalHTN)

	first := s.Calculate(goldenValues(), flags)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, s.Calculate(goldenValues(), flags))
	}
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, 20, roundHalfUp(20.4))
	assert.Equal(t, 21, roundHalfUp(20.5))
	assert.Equal(t, 22, roundHalfUp(21.5))
	assert.Equal(t, 23, roundHalfUp(22.5))
	assert.Equal(t, 2, roundHalfUp(2))
}
