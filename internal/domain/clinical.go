package domain

import (
	"math"
	"strings"
	"time"
)

// Well-known code system URIs
const (
	SystemSNOMED        = "http://snomed.info/sct"
	SystemLOINC         = "http://loinc.org"
	SystemICD10CM       = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemICD10         = "http://hl7.org/fhir/sid/icd-10"
	SystemRxNorm        = "http://www.nlm.nih.gov/research/umls/rxnorm"
	SystemNHIMedication = "https://twcore.mohw.gov.tw/ig/twcore/CodeSystem/medication-nhi-tw"
)

// Condition clinical status codes that count as an ongoing condition.
const (
	ConditionActive     = "active"
	ConditionRecurrence = "recurrence"
	ConditionRelapse    = "relapse"
)

// Coding is a single code from a code system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept is a set of codings with optional free text.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// SearchText returns the lowercased text and displays of the concept joined by spaces.
func (c CodeableConcept) SearchText() string {
	parts := make([]string, 0, len(c.Coding)+1)
	if c.Text != "" {
		parts = append(parts, c.Text)
	}
	for _, coding := range c.Coding {
		if coding.Display != "" {
			parts = append(parts, coding.Display)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Label returns a human-readable name for the concept.
func (c CodeableConcept) Label() string {
	if c.Text != "" {
		return c.Text
	}
	for _, coding := range c.Coding {
		if coding.Display != "" {
			return coding.Display
		}
	}
	if len(c.Coding) > 0 {
		return c.Coding[0].Code
	}
	return ""
}

// Observation is a laboratory or survey result. Value is nil for coded answers.
type Observation struct {
	ID            string           `json:"id,omitempty"`
	Code          CodeableConcept  `json:"code"`
	Value         *float64         `json:"value,omitempty"`
	Unit          string           `json:"unit,omitempty"`
	ValueConcept  *CodeableConcept `json:"value_concept,omitempty"`
	EffectiveTime *time.Time       `json:"effective_time,omitempty"`
}

// Condition is a coded diagnosis.
type Condition struct {
	ID             string          `json:"id,omitempty"`
	Code           CodeableConcept `json:"code"`
	ClinicalStatus string          `json:"clinical_status,omitempty"`
	RecordedTime   *time.Time      `json:"recorded_time,omitempty"`
}

// IsActive reports whether the condition counts as ongoing. A missing status is treated as active.
func (c Condition) IsActive() bool {
	switch strings.ToLower(c.ClinicalStatus) {
	case "", ConditionActive, ConditionRecurrence, ConditionRelapse:
		return true
	default:
		return false
	}
}

// MedicationRequest is a coded medication order.
type MedicationRequest struct {
	ID         string          `json:"id,omitempty"`
	Medication CodeableConcept `json:"medication"`
	Status     string          `json:"status,omitempty"`
	Category   string          `json:"category,omitempty"`
}

// Procedure is a coded procedure such as a PCI or stent implantation.
type Procedure struct {
	ID            string          `json:"id,omitempty"`
	Code          CodeableConcept `json:"code"`
	PerformedTime *time.Time      `json:"performed_time,omitempty"`
}

// Demographics carries the patient attributes the formulas need. Age is nil when unknown.
type Demographics struct {
	Age    *int   `json:"age,omitempty"`
	Gender Gender `json:"gender,omitempty"`
}

// ClinicalBundle is the fully materialized input to one computation. AsOf is the reference
// time for staleness checks; a zero AsOf disables them.
type ClinicalBundle struct {
	PatientID    string              `json:"patient_id,omitempty"`
	Demographics Demographics        `json:"demographics"`
	Observations []Observation       `json:"observations,omitempty"`
	Conditions   []Condition         `json:"conditions,omitempty"`
	Medications  []MedicationRequest `json:"medications,omitempty"`
	Procedures   []Procedure         `json:"procedures,omitempty"`
	AsOf         time.Time           `json:"as_of,omitempty"`
}

// Validate rejects structurally invalid input before any arithmetic runs. Gender spellings
// accepted by ParseGender are normalized in place.
func (b *ClinicalBundle) Validate() error {
	if b.Demographics.Age != nil && *b.Demographics.Age < 0 {
		return NewValidationError("demographics.age", "age must be non-negative", *b.Demographics.Age)
	}
	if b.Demographics.Age != nil && *b.Demographics.Age > 150 {
		return NewValidationError("demographics.age", "age is out of range", *b.Demographics.Age)
	}
	if b.Demographics.Gender != "" && !b.Demographics.Gender.IsValid() {
		gender, err := ParseGender(string(b.Demographics.Gender))
		if err != nil {
			return NewValidationError("demographics.gender", "gender must be male or female", string(b.Demographics.Gender))
		}
		b.Demographics.Gender = gender
	}
	for i, obs := range b.Observations {
		if obs.Value != nil && (math.IsNaN(*obs.Value) || math.IsInf(*obs.Value, 0)) {
			return NewValidationError(indexedField("observations", i, "value"), "value must be a finite number", *obs.Value)
		}
		if obs.Value != nil && *obs.Value < 0 {
			return NewValidationError(indexedField("observations", i, "value"), "value must be non-negative", *obs.Value)
		}
	}
	return nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}
