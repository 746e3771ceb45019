// Package domain contains the core clinical entities and result types for the PRECISE-HBR
// bleeding-risk score and the ARC-HBR bleeding/thrombosis tradeoff model.
//
// Reference: Gragnano et al. (2023) PRECISE-HBR score for predicting bleeding after PCI.
// Urban et al. (2021) Assessing the risks of bleeding vs thrombotic events in patients at high
// bleeding risk after coronary stent implantation: the ARC-HBR trade-off model. JAMA Cardiol.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RiskCategory is the qualitative PRECISE-HBR classification. Categories are ordered:
// NOT_HBR < HBR < VERY_HBR.
type RiskCategory string

const (
	NOT_HBR  RiskCategory = "NOT_HBR"
	HBR      RiskCategory = "HBR"
	VERY_HBR RiskCategory = "VERY_HBR"
)

// ValueSource records where a normalized value came from.
type ValueSource string

const (
	SourceMeasured    ValueSource = "measured"
	SourceEstimated   ValueSource = "estimated"
	SourceUnavailable ValueSource = "unavailable"
)

// Gender is the administrative gender used by the CKD-EPI equation.
type Gender string

const (
	MALE   Gender = "male"
	FEMALE Gender = "female"
)

// Parameter names a continuous input of the score or the tradeoff model.
type Parameter string

const (
	ParamAge        Parameter = "age"
	ParamHemoglobin Parameter = "hemoglobin"
	ParamCreatinine Parameter = "creatinine"
	ParamEGFR       Parameter = "egfr"
	ParamWBC        Parameter = "wbc"
	ParamPlatelets  Parameter = "platelets"
)

// LabParameters lists the laboratory parameters the normalizer resolves, in resolution order.
var LabParameters = []Parameter{ParamHemoglobin, ParamCreatinine, ParamEGFR, ParamWBC, ParamPlatelets}

// FlagCategory names a rule category evaluated by the rule checker.
type FlagCategory string

const (
	FlagPriorBleeding       FlagCategory = "prior_bleeding"
	FlagBleedingDiathesis   FlagCategory = "bleeding_diathesis"
	FlagCirrhosisPortalHTN  FlagCategory = "cirrhosis_portal_htn"
	FlagActiveCancer        FlagCategory = "active_cancer"
	FlagThrombocytopenia    FlagCategory = "thrombocytopenia"
	FlagOralAnticoagulation FlagCategory = "oral_anticoagulation"
	FlagNSAIDCorticosteroid FlagCategory = "nsaid_corticosteroid"
	FlagDualAntiplatelet    FlagCategory = "dual_antiplatelet"
	FlagDiabetes            FlagCategory = "diabetes"
	FlagPriorMI             FlagCategory = "prior_mi"
	FlagSmoker              FlagCategory = "smoker"
	FlagNSTEMISTEMI         FlagCategory = "nstemi_stemi"
	FlagComplexPCI          FlagCategory = "complex_pci"
	FlagBareMetalStent      FlagCategory = "bms"
	FlagCOPD                FlagCategory = "copd"
)

// ARCHBRFactors are the minor ARC-HBR criteria that jointly add a fixed number of points.
var ARCHBRFactors = []FlagCategory{
	FlagBleedingDiathesis,
	FlagCirrhosisPortalHTN,
	FlagActiveCancer,
	FlagThrombocytopenia,
	FlagNSAIDCorticosteroid,
}

// Validation errors for clinical input integrity
var (
	ErrInvalidGender = errors.New("invalid gender")
	ErrUnknownFlag   = errors.New("unknown rule category")
)

// String returns the string representation of the category.
func (c RiskCategory) String() string {
	return string(c)
}

// Label returns the display label used in cards and reports.
func (c RiskCategory) Label() string {
	switch c {
	case NOT_HBR:
		return "Not High Bleeding Risk"
	case HBR:
		return "High Bleeding Risk"
	case VERY_HBR:
		return "Very High Bleeding Risk"
	default:
		return "Unknown"
	}
}

// ParseGender normalizes a free-form gender string. Empty input returns "" without error
// so callers can treat it as missing.
func ParseGender(s string) (Gender, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "male", "m":
		return MALE, nil
	case "female", "f":
		return FEMALE, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidGender, s)
	}
}

// UnmarshalJSON accepts any spelling ParseGender understands. Unrecognized values are kept
// verbatim so ClinicalBundle.Validate can report them against their field.
func (g *Gender) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseGender(s)
	if err != nil {
		*g = Gender(s)
		return nil
	}
	*g = parsed
	return nil
}

// IsValid reports whether the gender is male or female.
func (g Gender) IsValid() bool {
	return g == MALE || g == FEMALE
}

// IsKnown reports whether the flag category is evaluated by the rule checker.
func (f FlagCategory) IsKnown() bool {
	switch f {
	case FlagPriorBleeding, FlagBleedingDiathesis, FlagCirrhosisPortalHTN, FlagActiveCancer,
		FlagThrombocytopenia, FlagOralAnticoagulation, FlagNSAIDCorticosteroid, FlagDualAntiplatelet,
		FlagDiabetes, FlagPriorMI, FlagSmoker, FlagNSTEMISTEMI, FlagComplexPCI,
		FlagBareMetalStent, FlagCOPD:
		return true
	default:
		return false
	}
}
