package service

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/precise-hbr-server/internal/domain"
)

func newTestRuleChecker(t *testing.T) *RuleChecker {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := NewRuleChecker(defaultEngineConfig(t).Rules, logger)
	require.NoError(t, err)
	return c
}

func TestRuleChecker_ConditionCategories(t *testing.T) {
	c := newTestRuleChecker(t)

	tests := []struct {
		name      string
		category  domain.FlagCategory
		condition domain.Condition
		present   bool
	}{
		{"snomed gi hemorrhage", domain.FlagPriorBleeding, condition("c1", domain.SystemSNOMED, "74474003", "Gastrointestinal hemorrhage"), true},
		{"icd10cm prefix", domain.FlagPriorBleeding, condition("c1", domain.SystemICD10CM, "K92.2", ""), true},
		{"icd10cm prefix child", domain.FlagPriorBleeding, condition("c1", domain.SystemICD10CM, "I61.9", ""), true},
		{"wrong system", domain.FlagPriorBleeding, condition("c1", domain.SystemSNOMED, "K92.2", ""), false},
		{"diabetes type 2", domain.FlagDiabetes, condition("c1", domain.SystemICD10CM, "E11.9", ""), true},
		{"prior mi", domain.FlagPriorMI, condition("c1", domain.SystemSNOMED, "22298006", "Myocardial infarction"), true},
		{"copd", domain.FlagCOPD, condition("c1", domain.SystemICD10CM, "J44.1", ""), true},
		{"keyword from display", domain.FlagBleedingDiathesis, condition("c1", "urn:local", "X1", "Von Willebrand disease"), true},
		{"unrelated", domain.FlagActiveCancer, condition("c1", domain.SystemICD10CM, "J45.909", "Asthma"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := &domain.ClinicalBundle{Conditions: []domain.Condition{tt.condition}}
			flag, err := c.Evaluate(tt.category, bundle, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.present, flag.Present)
			if tt.present {
				require.Len(t, flag.Evidence, 1)
				assert.Equal(t, "c1", flag.Evidence[0].ResourceID)
			} else {
				assert.Empty(t, flag.Evidence)
				assert.NotNil(t, flag.Evidence)
			}
		})
	}
}

func TestRuleChecker_CirrhosisRequiresBothGroups(t *testing.T) {
	c := newTestRuleChecker(t)

	cirrhosis := condition("liver", domain.SystemSNOMED, "19943007", "Cirrhosis of liver")
	portal := condition("portal", domain.SystemICD10CM, "K76.6", "Portal hypertension")

	flag, err := c.Evaluate(domain.FlagCirrhosisPortalHTN, &domain.ClinicalBundle{Conditions: []domain.Condition{cirrhosis}}, nil)
	require.NoError(t, err)
	assert.False(t, flag.Present)
	assert.Empty(t, flag.Evidence)

	flag, err = c.Evaluate(domain.FlagCirrhosisPortalHTN, &domain.ClinicalBundle{Conditions: []domain.Condition{cirrhosis, portal}}, nil)
	require.NoError(t, err)
	assert.True(t, flag.Present)
	require.Len(t, flag.Evidence, 2)
	assert.Equal(t, "liver", flag.Evidence[0].ResourceID)
	assert.Equal(t, "portal", flag.Evidence[1].ResourceID)
}

func TestRuleChecker_ActiveOnly(t *testing.T) {
	c := newTestRuleChecker(t)

	resolved := condition("ca", domain.SystemICD10CM, "C18.9", "Malignant neoplasm of colon")
	resolved.ClinicalStatus = "resolved"

	flag, err := c.Evaluate(domain.FlagActiveCancer, &domain.ClinicalBundle{Conditions: []domain.Condition{resolved}}, nil)
	require.NoError(t, err)
	assert.False(t, flag.Present)

	// Prior bleeding counts regardless of status
	bleed := condition("b", domain.SystemICD10CM, "K92.2", "")
	bleed.ClinicalStatus = "resolved"
	flag, err = c.Evaluate(domain.FlagPriorBleeding, &domain.ClinicalBundle{Conditions: []domain.Condition{bleed}}, nil)
	require.NoError(t, err)
	assert.True(t, flag.Present)
}

func TestRuleChecker_CancerExclusions(t *testing.T) {
	c := newTestRuleChecker(t)

	skin := domain.Condition{ID: "bcc", Code: domain.CodeableConcept{Text: "Basal cell carcinoma of skin"}}
	flag, err := c.Evaluate(domain.FlagActiveCancer, &domain.ClinicalBundle{Conditions: []domain.Condition{skin}}, nil)
	require.NoError(t, err)
	assert.False(t, flag.Present)

	lung := domain.Condition{ID: "lung", Code: domain.CodeableConcept{Text: "Non-small cell lung carcinoma"}}
	flag, err = c.Evaluate(domain.FlagActiveCancer, &domain.ClinicalBundle{Conditions: []domain.Condition{skin, lung}}, nil)
	require.NoError(t, err)
	assert.True(t, flag.Present)
	require.Len(t, flag.Evidence, 1)
	assert.Equal(t, "lung", flag.Evidence[0].ResourceID)
}

func TestRuleChecker_Medications(t *testing.T) {
	c := newTestRuleChecker(t)

	bundle := &domain.ClinicalBundle{Medications: []domain.MedicationRequest{
		{ID: "m1", Medication: coded(domain.SystemRxNorm, "1364430", "apixaban 5 MG Oral Tablet"), Status: "active"},
		{ID: "m2", Medication: domain.CodeableConcept{Text: "Ibuprofen 400 mg"}, Status: "active"},
		{ID: "m3", Medication: coded(domain.SystemNHIMedication, "B023456789", "")},
	}}

	flags := c.EvaluateAll(bundle, nil)
	assert.True(t, flags.Has(domain.FlagOralAnticoagulation))
	assert.True(t, flags.Has(domain.FlagNSAIDCorticosteroid))
	assert.Len(t, flags[domain.FlagOralAnticoagulation].Evidence, 2)

	stopped := &domain.ClinicalBundle{Medications: []domain.MedicationRequest{
		{ID: "m1", Medication: domain.CodeableConcept{Text: "Warfarin"}, Status: "stopped"},
	}}
	// Medication rules do not filter on status by default
	assert.True(t, c.EvaluateAll(stopped, nil).Has(domain.FlagOralAnticoagulation))

	// RxNorm ingredient codes alone, no display text
	for _, code := range []string{"5640", "8640"} {
		codedOnly := &domain.ClinicalBundle{Medications: []domain.MedicationRequest{
			{ID: "rx", Medication: coded(domain.SystemRxNorm, code, "")},
		}}
		flag, err := c.Evaluate(domain.FlagNSAIDCorticosteroid, codedOnly, nil)
		require.NoError(t, err)
		assert.True(t, flag.Present, "rxnorm %s", code)
		require.Len(t, flag.Evidence, 1)
		assert.Equal(t, code, flag.Evidence[0].Code)
	}
}

func TestRuleChecker_SiteNHICodes(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := defaultEngineConfig(t).Rules
	rule := cfg.Categories["nsaid_corticosteroid"]
	group := rule.Groups[0]
	group.Matchers = append(append([]domain.MatcherConfig{}, group.Matchers...),
		domain.MatcherConfig{System: domain.SystemNHIMedication, Kind: MatchPrefix, Codes: []string{"AC4711"}})
	rule.Groups = []domain.MatcherGroupConfig{group}
	cfg.Categories["nsaid_corticosteroid"] = rule

	c, err := NewRuleChecker(cfg, logger)
	require.NoError(t, err)

	bundle := &domain.ClinicalBundle{Medications: []domain.MedicationRequest{
		{ID: "nhi", Medication: coded(domain.SystemNHIMedication, "AC47111100", "")},
	}}
	flag, err := c.Evaluate(domain.FlagNSAIDCorticosteroid, bundle, nil)
	require.NoError(t, err)
	assert.True(t, flag.Present)
	assert.Equal(t, "AC47111100", flag.Evidence[0].Code)
}

func TestRuleChecker_DualAntiplatelet(t *testing.T) {
	c := newTestRuleChecker(t)

	aspirin := domain.MedicationRequest{ID: "asa", Medication: coded(domain.SystemRxNorm, "1191", "")}
	clopidogrel := domain.MedicationRequest{ID: "clop", Medication: domain.CodeableConcept{Text: "Plavix 75 mg"}}
	ticagrelor := domain.MedicationRequest{ID: "tica", Medication: coded(domain.SystemRxNorm, "1116632", "ticagrelor")}

	tests := []struct {
		name        string
		medications []domain.MedicationRequest
		present     bool
	}{
		{"aspirin alone", []domain.MedicationRequest{aspirin}, false},
		{"p2y12 alone", []domain.MedicationRequest{ticagrelor}, false},
		{"aspirin and clopidogrel", []domain.MedicationRequest{aspirin, clopidogrel}, true},
		{"aspirin and ticagrelor", []domain.MedicationRequest{ticagrelor, aspirin}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag, err := c.Evaluate(domain.FlagDualAntiplatelet, &domain.ClinicalBundle{Medications: tt.medications}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.present, flag.Present)
			if tt.present {
				assert.Len(t, flag.Evidence, 2)
			}
		})
	}
}

func TestRuleChecker_EvaluateIsRepeatable(t *testing.T) {
	c := newTestRuleChecker(t)

	bundle := &domain.ClinicalBundle{Conditions: []domain.Condition{
		condition("c3", domain.SystemICD10CM, "K92.2", "Gastrointestinal hemorrhage"),
		condition("c1", domain.SystemSNOMED, "131148009", "Bleeding"),
		{ID: "c2", Code: domain.CodeableConcept{Text: "Intracranial bleeding"}},
		condition("c4", domain.SystemICD10CM, "I61.9", "Intracerebral hemorrhage"),
	}}

	first, err := c.Evaluate(domain.FlagPriorBleeding, bundle, nil)
	require.NoError(t, err)
	second, err := c.Evaluate(domain.FlagPriorBleeding, bundle, nil)
	require.NoError(t, err)

	require.Len(t, first.Evidence, 4)
	assert.Equal(t, first.Evidence, second.Evidence)
	assert.Equal(t, []string{"c3", "c1", "c2", "c4"}, evidenceIDs(first.Evidence))
	assert.Equal(t, first, c.EvaluateAll(bundle, nil)[domain.FlagPriorBleeding])
}

func evidenceIDs(evidence []domain.Evidence) []string {
	ids := make([]string, len(evidence))
	for i, ev := range evidence {
		ids[i] = ev.ResourceID
	}
	return ids
}

func TestRuleChecker_Procedures(t *testing.T) {
	c := newTestRuleChecker(t)

	bundle := &domain.ClinicalBundle{Procedures: []domain.Procedure{
		{ID: "p1", Code: coded(domain.SystemSNOMED, "427183000", "Bare metal stent")},
	}}

	flags := c.EvaluateAll(bundle, nil)
	assert.True(t, flags.Has(domain.FlagBareMetalStent))
	assert.False(t, flags.Has(domain.FlagComplexPCI))
}

func TestRuleChecker_SmokerUsesLatestObservation(t *testing.T) {
	c := newTestRuleChecker(t)

	smokingStatus := func(id, answer string, days int) domain.Observation {
		value := coded(domain.SystemSNOMED, answer, "")
		return domain.Observation{
			ID:            id,
			Code:          coded(domain.SystemLOINC, "72166-2", "Tobacco smoking status"),
			ValueConcept:  &value,
			EffectiveTime: daysBefore(days),
		}
	}

	current := smokingStatus("s-new", "449868002", 5)
	former := smokingStatus("s-old", "8517006", 400)

	flag, err := c.Evaluate(domain.FlagSmoker, &domain.ClinicalBundle{Observations: []domain.Observation{former, current}}, nil)
	require.NoError(t, err)
	assert.True(t, flag.Present)
	require.Len(t, flag.Evidence, 1)
	assert.Equal(t, "s-new", flag.Evidence[0].ResourceID)

	// Quit since: latest answer wins
	quit := smokingStatus("s-quit", "8517006", 1)
	flag, err = c.Evaluate(domain.FlagSmoker, &domain.ClinicalBundle{Observations: []domain.Observation{current, quit}}, nil)
	require.NoError(t, err)
	assert.False(t, flag.Present)
}

func TestRuleChecker_Thrombocytopenia(t *testing.T) {
	c := newTestRuleChecker(t)

	low := domain.NormalizedValues{domain.ParamPlatelets: {Parameter: domain.ParamPlatelets, Value: 85, Source: domain.SourceMeasured}}
	normal := domain.NormalizedValues{domain.ParamPlatelets: {Parameter: domain.ParamPlatelets, Value: 100, Source: domain.SourceMeasured}}
	empty := &domain.ClinicalBundle{}

	flag, err := c.Evaluate(domain.FlagThrombocytopenia, empty, low)
	require.NoError(t, err)
	assert.True(t, flag.Present)
	require.Len(t, flag.Evidence, 1)
	assert.Contains(t, flag.Evidence[0].Display, "85")

	flag, err = c.Evaluate(domain.FlagThrombocytopenia, empty, normal)
	require.NoError(t, err)
	assert.False(t, flag.Present)

	// Diagnosis code alone is enough
	diagnosed := &domain.ClinicalBundle{Conditions: []domain.Condition{condition("d", domain.SystemICD10CM, "D69.6", "Thrombocytopenia")}}
	flag, err = c.Evaluate(domain.FlagThrombocytopenia, diagnosed, normal)
	require.NoError(t, err)
	assert.True(t, flag.Present)

	flag, err = c.Evaluate(domain.FlagThrombocytopenia, empty, nil)
	require.NoError(t, err)
	assert.False(t, flag.Present)
}

func TestRuleChecker_EvidenceDeduplicated(t *testing.T) {
	c := newTestRuleChecker(t)

	dup := condition("c1", domain.SystemICD10CM, "E11.9", "Type 2 diabetes")
	bundle := &domain.ClinicalBundle{Conditions: []domain.Condition{dup, dup}}

	flag, err := c.Evaluate(domain.FlagDiabetes, bundle, nil)
	require.NoError(t, err)
	assert.Len(t, flag.Evidence, 1)
}

func TestRuleChecker_EvaluateAllCoversEveryCategory(t *testing.T) {
	c := newTestRuleChecker(t)

	flags := c.EvaluateAll(&domain.ClinicalBundle{}, nil)
	for _, category := range domain.ARCHBRFactors {
		flag, ok := flags[category]
		require.True(t, ok, "missing %s", category)
		assert.False(t, flag.Present)
	}
	assert.Len(t, c.Categories(), len(flags))
}

func TestRuleChecker_UnknownCategory(t *testing.T) {
	c := newTestRuleChecker(t)

	_, err := c.Evaluate("frailty", &domain.ClinicalBundle{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownFlag))
}

func TestNewRuleChecker_RejectsBadMatcher(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := defaultEngineConfig(t).Rules
	cfg.Categories["copd"] = domain.CategoryRuleConfig{
		Source: "condition",
		Groups: []domain.MatcherGroupConfig{{Name: "x", Matchers: []domain.MatcherConfig{{Kind: "exact", Codes: []string{"1"}}}}},
	}

	_, err := NewRuleChecker(cfg, logger)
	var cfgErr *domain.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "rules.categories.copd", cfgErr.Section)
}
