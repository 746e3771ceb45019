package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/precise-hbr-server/internal/config"
	"github.com/precise-hbr-server/internal/domain"
)

var testAsOf = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func defaultEngineConfig(t *testing.T) domain.EngineConfig {
	t.Helper()
	cfg, err := config.DefaultEngineConfig()
	require.NoError(t, err)
	return cfg
}

func daysBefore(days int) *time.Time {
	ts := testAsOf.AddDate(0, 0, -days)
	return &ts
}

func labObservation(id, loinc string, value float64, unit string, at *time.Time) domain.Observation {
	return domain.Observation{
		ID:            id,
		Code:          domain.CodeableConcept{Coding: []domain.Coding{{System: domain.SystemLOINC, Code: loinc}}},
		Value:         domain.Float64Ptr(value),
		Unit:          unit,
		EffectiveTime: at,
	}
}

func coded(system, code, display string) domain.CodeableConcept {
	return domain.CodeableConcept{Coding: []domain.Coding{{System: system, Code: code, Display: display}}}
}

func condition(id, system, code, display string) domain.Condition {
	return domain.Condition{ID: id, Code: coded(system, code, display), ClinicalStatus: domain.ConditionActive}
}

// reference patient: 65-year-old man with Hb 13, eGFR 70, WBC 8
func referenceBundle() *domain.ClinicalBundle {
	return &domain.ClinicalBundle{
		PatientID:    "patient-1",
		Demographics: domain.Demographics{Age: domain.IntPtr(65), Gender: domain.MALE},
		Observations: []domain.Observation{
			labObservation("hb", "718-7", 13, "g/dL", daysBefore(3)),
			labObservation("egfr", "33914-3", 70, "mL/min/1.73m2", daysBefore(3)),
			labObservation("wbc", "6690-2", 8, "10*9/L", daysBefore(3)),
			labObservation("plt", "777-3", 220, "10*9/L", daysBefore(3)),
		},
		AsOf: testAsOf,
	}
}
