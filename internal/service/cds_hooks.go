package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
)

// CDS Hooks service identifiers
const (
	BleedingRiskAlertServiceID = "precise_hbr_bleeding_risk_alert"
	PatientViewServiceID       = "precise_hbr_patient_view"

	cardSourceLabel = "PRECISE-HBR Bleeding Risk Calculator"
	cardSourceURL   = "https://www.acc.org/latest-in-cardiology/articles/2022/01/18/16/19/predicting-out-of-hospital-bleeding-after-pci"
)

// Card indicators
const (
	IndicatorInfo     = "info"
	IndicatorWarning  = "warning"
	IndicatorCritical = "critical"
)

// ErrServiceNotFound is returned when a hook is invoked on an unknown service id.
var ErrServiceNotFound = errors.New("cds service not found")

// CDSService describes a single CDS service returned in discovery.
type CDSService struct {
	Hook        string            `json:"hook"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description"`
	ID          string            `json:"id"`
	Prefetch    map[string]string `json:"prefetch,omitempty"`
}

// CDSDiscovery is the discovery document.
type CDSDiscovery struct {
	Services []CDSService `json:"services"`
}

// CDSPrefetch carries the materialized clinical bundle supplied by the caller.
type CDSPrefetch struct {
	Bundle *domain.ClinicalBundle `json:"bundle,omitempty"`
}

// CDSHookRequest is the payload POSTed to invoke a hook.
type CDSHookRequest struct {
	Hook         string                 `json:"hook"`
	HookInstance string                 `json:"hookInstance"`
	Context      map[string]interface{} `json:"context"`
	Prefetch     CDSPrefetch            `json:"prefetch"`
}

// CDSCard is a single card in the hook response.
type CDSCard struct {
	UUID        string          `json:"uuid,omitempty"`
	Summary     string          `json:"summary"`
	Detail      string          `json:"detail,omitempty"`
	Indicator   string          `json:"indicator"`
	Source      CDSSource       `json:"source"`
	Suggestions []CDSSuggestion `json:"suggestions,omitempty"`
}

// CDSSource identifies the source of a card.
type CDSSource struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// CDSSuggestion is a suggested action within a card.
type CDSSuggestion struct {
	Label   string      `json:"label"`
	UUID    string      `json:"uuid,omitempty"`
	Actions []CDSAction `json:"actions,omitempty"`
}

// CDSAction is an individual action within a suggestion.
type CDSAction struct {
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Resource    interface{} `json:"resource,omitempty"`
}

// CDSHookResponse is returned from hook invocation.
type CDSHookResponse struct {
	Cards []CDSCard `json:"cards"`
}

// CDSHooksService turns engine results into CDS Hooks cards.
type CDSHooksService struct {
	engine   domain.RiskEngine
	logger   *logrus.Logger
	services []CDSService
}

// NewCDSHooksService creates the CDS Hooks service set backed by the engine.
func NewCDSHooksService(engine domain.RiskEngine, logger *logrus.Logger) *CDSHooksService {
	prefetch := map[string]string{"bundle": "ClinicalBundle?patient={{context.patientId}}"}
	return &CDSHooksService{
		engine: engine,
		logger: logger,
		services: []CDSService{
			{
				Hook:        "medication-prescribe",
				Title:       "PRECISE-HBR Bleeding Risk Alert",
				Description: "Alerts when a patient at high bleeding risk is prescribed antithrombotic therapy",
				ID:          BleedingRiskAlertServiceID,
				Prefetch:    prefetch,
			},
			{
				Hook:        "patient-view",
				Title:       "PRECISE-HBR Bleeding Risk Assessment",
				Description: "Displays the PRECISE-HBR bleeding risk score when a patient chart is opened",
				ID:          PatientViewServiceID,
				Prefetch:    prefetch,
			},
		},
	}
}

// Discovery returns the registered services.
func (s *CDSHooksService) Discovery() CDSDiscovery {
	services := make([]CDSService, len(s.services))
	copy(services, s.services)
	return CDSDiscovery{Services: services}
}

// Invoke runs the hook for serviceID. A request without a prefetched bundle yields no cards;
// an invalid bundle is returned as a *domain.ValidationError.
//
// The prescribe alert only fires for patients on oral anticoagulation or dual antiplatelet
// therapy and stays silent when score inputs are missing. The patient-view service reports
// missing data with a warning card.
func (s *CDSHooksService) Invoke(ctx context.Context, serviceID string, req CDSHookRequest) (*CDSHookResponse, error) {
	if !s.known(serviceID) {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}

	resp := &CDSHookResponse{Cards: []CDSCard{}}
	bundle := req.Prefetch.Bundle
	if bundle == nil {
		s.logger.WithFields(logrus.Fields{
			"service_id":    serviceID,
			"hook_instance": req.HookInstance,
		}).Warn("No clinical bundle in prefetch")
		return resp, nil
	}
	if bundle.PatientID == "" {
		if id, ok := req.Context["patientId"].(string); ok {
			bundle.PatientID = id
		}
	}

	assessment, err := s.engine.Assess(ctx, bundle)
	if err != nil {
		return nil, err
	}
	result := assessment.HBR
	logger := s.logger.WithFields(logrus.Fields{
		"service_id":    serviceID,
		"hook_instance": req.HookInstance,
		"patient_id":    bundle.PatientID,
		"risk_category": result.Category,
	})

	if serviceID == BleedingRiskAlertServiceID {
		therapy := antithromboticFlags(assessment.Flags)
		switch {
		case len(therapy) == 0:
			logger.Debug("No antithrombotic therapy, alert not raised")
		case len(result.Missing) > 0:
			logger.WithField("missing", result.Missing).Warn("Alert skipped due to missing data")
		case result.Category != domain.NOT_HBR:
			resp.Cards = append(resp.Cards, AlertCard(result, therapy))
		}
	} else {
		switch {
		case len(result.Missing) > 0:
			resp.Cards = append(resp.Cards, MissingDataCard(result.Missing))
		case result.Category != domain.NOT_HBR:
			resp.Cards = append(resp.Cards, RiskCard(result))
		default:
			resp.Cards = append(resp.Cards, SummaryCard(result))
		}
	}

	logger.WithField("cards", len(resp.Cards)).Info("CDS hook processed")
	return resp, nil
}

// antithromboticFlags returns the present therapy flags that warrant a prescribe alert.
func antithromboticFlags(flags []domain.RiskFlag) []domain.RiskFlag {
	var out []domain.RiskFlag
	for _, flag := range flags {
		if !flag.Present {
			continue
		}
		if flag.Category == domain.FlagOralAnticoagulation || flag.Category == domain.FlagDualAntiplatelet {
			out = append(out, flag)
		}
	}
	return out
}

func (s *CDSHooksService) known(id string) bool {
	for _, svc := range s.services {
		if svc.ID == id {
			return true
		}
	}
	return false
}

// Indicator maps a risk category to a card indicator.
func Indicator(category domain.RiskCategory) string {
	switch category {
	case domain.VERY_HBR:
		return IndicatorCritical
	case domain.HBR:
		return IndicatorWarning
	default:
		return IndicatorInfo
	}
}

// RiskCard builds the bleeding-risk card for a classified result.
func RiskCard(result *domain.HBRResult) CDSCard {
	summary := fmt.Sprintf("%s: Patient score %d (%.1f%% 1-yr risk)",
		result.Category.Label(), result.TotalScore, result.BleedingRiskPercent)
	detail := fmt.Sprintf("PRECISE-HBR score of %d. Consider shorter DAPT duration and enhanced bleeding monitoring.",
		result.TotalScore)

	return CDSCard{
		UUID:        uuid.NewString(),
		Summary:     summary,
		Detail:      detail,
		Indicator:   Indicator(result.Category),
		Source:      CDSSource{Label: cardSourceLabel, URL: cardSourceURL},
		Suggestions: []CDSSuggestion{calculatorSuggestion("View Detailed Assessment")},
	}
}

// AlertCard is the risk card raised on prescribe, listing the antithrombotic therapy found.
func AlertCard(result *domain.HBRResult, therapy []domain.RiskFlag) CDSCard {
	card := RiskCard(result)

	var names []string
	for _, flag := range therapy {
		for _, ev := range flag.Evidence {
			name := ev.Display
			if name == "" {
				name = ev.Code
			}
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	if len(names) > 0 {
		card.Detail += fmt.Sprintf(" Current antithrombotic therapy: %s.", strings.Join(names, ", "))
	}
	return card
}

// SummaryCard builds the informational card shown for patients below the HBR threshold.
func SummaryCard(result *domain.HBRResult) CDSCard {
	return CDSCard{
		UUID:      uuid.NewString(),
		Summary:   fmt.Sprintf("PRECISE-HBR Score: %d - %s", result.TotalScore, result.Category.Label()),
		Indicator: Indicator(result.Category),
		Source:    CDSSource{Label: cardSourceLabel, URL: cardSourceURL},
	}
}

// MissingDataCard warns that the score could not be computed reliably.
func MissingDataCard(missing []domain.Parameter) CDSCard {
	names := make([]string, len(missing))
	for i, p := range missing {
		names[i] = string(p)
	}
	detail := fmt.Sprintf("Cannot calculate a reliable bleeding risk score. Missing data: %s. "+
		"Missing values contribute no points, which may underestimate risk.", strings.Join(names, ", "))

	return CDSCard{
		UUID:        uuid.NewString(),
		Summary:     "Data Missing: PRECISE-HBR Risk Assessment incomplete",
		Detail:      detail,
		Indicator:   IndicatorWarning,
		Source:      CDSSource{Label: cardSourceLabel, URL: cardSourceURL},
		Suggestions: []CDSSuggestion{calculatorSuggestion("Open Calculator to Edit Data")},
	}
}

func calculatorSuggestion(label string) CDSSuggestion {
	return CDSSuggestion{
		Label: label,
		UUID:  uuid.NewString(),
		Actions: []CDSAction{{
			Type:        "create",
			Description: "Launch detailed PRECISE-HBR risk calculator",
			Resource: map[string]interface{}{
				"resourceType": "ServiceRequest",
				"status":       "draft",
				"intent":       "proposal",
				"subject":      map[string]string{"reference": "Patient/{{context.patientId}}"},
			},
		}},
	}
}
