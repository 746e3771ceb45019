package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/precise-hbr-server/internal/domain"
)

// Matcher kinds
const (
	MatchExact   = "exact"
	MatchPrefix  = "prefix"
	MatchKeyword = "keyword"
)

// Rule sources
const (
	SourceCondition   = "condition"
	SourceMedication  = "medication"
	SourceProcedure   = "procedure"
	SourceObservation = "observation"
)

// codeMatcher matches codings from one system, or concept text for keyword matchers.
type codeMatcher struct {
	system string
	kind   string
	codes  []string
}

// matcherGroup is an OR-set of matchers. A rule is present only when all its groups match.
type matcherGroup struct {
	name     string
	matchers []codeMatcher
}

// CategoryRule is a compiled rule category.
type CategoryRule struct {
	Category   domain.FlagCategory
	Source     string
	activeOnly bool
	latestOnly bool
	groups     []matcherGroup
	exclude    []codeMatcher
	valueCodes map[string]bool
}

// record is a coded clinical fact from any source, flattened for uniform matching.
type record struct {
	id     string
	code   domain.CodeableConcept
	value  *domain.CodeableConcept
	active bool
	at     *time.Time
}

// RuleChecker evaluates coded clinical facts against curated code sets.
type RuleChecker struct {
	logger            *logrus.Logger
	rules             map[domain.FlagCategory]*CategoryRule
	order             []domain.FlagCategory
	plateletThreshold float64
}

// NewRuleChecker compiles the rule configuration.
func NewRuleChecker(cfg domain.RulesConfig, logger *logrus.Logger) (*RuleChecker, error) {
	c := &RuleChecker{
		logger:            logger,
		rules:             make(map[domain.FlagCategory]*CategoryRule, len(cfg.Categories)),
		plateletThreshold: cfg.PlateletThreshold,
	}

	for name, rc := range cfg.Categories {
		category := domain.FlagCategory(name)
		if !category.IsKnown() {
			return nil, domain.NewConfigurationError("rules.categories."+name, "unknown category")
		}
		rule, err := compileRule(category, rc)
		if err != nil {
			return nil, err
		}
		c.rules[category] = rule
	}

	// Thrombocytopenia is numeric first; its code set is optional.
	if _, ok := c.rules[domain.FlagThrombocytopenia]; !ok {
		c.rules[domain.FlagThrombocytopenia] = &CategoryRule{Category: domain.FlagThrombocytopenia, Source: SourceCondition}
	}

	for category := range c.rules {
		c.order = append(c.order, category)
	}
	sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })

	c.logger.WithField("categories", len(c.order)).Debug("Compiled rule categories")
	return c, nil
}

func compileRule(category domain.FlagCategory, rc domain.CategoryRuleConfig) (*CategoryRule, error) {
	section := "rules.categories." + string(category)
	switch rc.Source {
	case SourceCondition, SourceMedication, SourceProcedure, SourceObservation:
	default:
		return nil, domain.NewConfigurationError(section, "invalid source %q", rc.Source)
	}

	rule := &CategoryRule{
		Category:   category,
		Source:     rc.Source,
		activeOnly: rc.ActiveOnly,
		latestOnly: rc.LatestOnly,
		valueCodes: make(map[string]bool, len(rc.ValueCodes)),
	}
	for _, code := range rc.ValueCodes {
		rule.valueCodes[code] = true
	}

	for _, gc := range rc.Groups {
		group := matcherGroup{name: gc.Name}
		for _, mc := range gc.Matchers {
			m, err := compileMatcher(section, mc)
			if err != nil {
				return nil, err
			}
			group.matchers = append(group.matchers, m)
		}
		rule.groups = append(rule.groups, group)
	}
	for _, mc := range rc.Exclude {
		m, err := compileMatcher(section, mc)
		if err != nil {
			return nil, err
		}
		rule.exclude = append(rule.exclude, m)
	}

	if len(rule.groups) == 0 {
		return nil, domain.NewConfigurationError(section, "at least one matcher group is required")
	}
	return rule, nil
}

func compileMatcher(section string, mc domain.MatcherConfig) (codeMatcher, error) {
	m := codeMatcher{system: mc.System, kind: mc.Kind}
	switch mc.Kind {
	case MatchExact, MatchPrefix:
		if mc.System == "" {
			return m, domain.NewConfigurationError(section, "%s matcher requires a system", mc.Kind)
		}
		m.codes = append(m.codes, mc.Codes...)
	case MatchKeyword:
		for _, kw := range mc.Codes {
			m.codes = append(m.codes, strings.ToLower(kw))
		}
	default:
		return m, domain.NewConfigurationError(section, "invalid matcher kind %q", mc.Kind)
	}
	return m, nil
}

// Categories returns the evaluated categories in a stable order.
func (c *RuleChecker) Categories() []domain.FlagCategory {
	out := make([]domain.FlagCategory, len(c.order))
	copy(out, c.order)
	return out
}

// EvaluateAll evaluates every configured category.
func (c *RuleChecker) EvaluateAll(bundle *domain.ClinicalBundle, values domain.NormalizedValues) domain.FlagSet {
	flags := make(domain.FlagSet, len(c.order))
	for _, category := range c.order {
		flag, _ := c.Evaluate(category, bundle, values)
		flags[category] = flag
	}

	present := make([]string, 0, len(flags))
	for _, category := range c.order {
		if flags[category].Present {
			present = append(present, string(category))
		}
	}
	c.logger.WithFields(logrus.Fields{
		"patient_id":    bundle.PatientID,
		"total_rules":   len(flags),
		"present_flags": present,
	}).Debug("Completed rule evaluation")

	return flags
}

// Evaluate evaluates one category. A category with no matching record yields an absent flag
// with empty evidence; only an unknown category is an error.
func (c *RuleChecker) Evaluate(category domain.FlagCategory, bundle *domain.ClinicalBundle, values domain.NormalizedValues) (domain.RiskFlag, error) {
	rule, ok := c.rules[category]
	if !ok {
		return domain.RiskFlag{Category: category, Evidence: []domain.Evidence{}}, fmt.Errorf("%w: %s", domain.ErrUnknownFlag, category)
	}

	flag := domain.RiskFlag{Category: category, Evidence: []domain.Evidence{}}

	if category == domain.FlagThrombocytopenia {
		if ev, low := c.checkPlatelets(values.Get(domain.ParamPlatelets)); low {
			flag.Present = true
			flag.Evidence = append(flag.Evidence, ev)
		}
	}

	if len(rule.groups) > 0 {
		present, evidence := rule.evaluate(recordsFor(rule.Source, bundle))
		if present {
			flag.Present = true
			flag.Evidence = appendUnique(flag.Evidence, evidence...)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"category": category,
		"present":  flag.Present,
		"evidence": len(flag.Evidence),
	}).Debug("Evaluated rule category")

	return flag, nil
}

func (c *RuleChecker) checkPlatelets(platelets domain.NormalizedValue) (domain.Evidence, bool) {
	if !platelets.Available() || platelets.Value >= c.plateletThreshold {
		return domain.Evidence{}, false
	}
	return domain.Evidence{
		System:  domain.SystemLOINC,
		Code:    string(domain.ParamPlatelets),
		Display: fmt.Sprintf("Platelets %.0f x10^9/L (< %.0f)", platelets.Value, c.plateletThreshold),
	}, true
}

// evaluate returns whether every group matched and the evidence in record order.
func (r *CategoryRule) evaluate(records []record) (bool, []domain.Evidence) {
	candidates := make([]record, 0, len(records))
	for _, rec := range records {
		if r.activeOnly && !rec.active {
			continue
		}
		if r.excluded(rec) {
			continue
		}
		candidates = append(candidates, rec)
	}

	if r.Source == SourceObservation {
		return r.evaluateObservations(candidates)
	}

	matched := make([]bool, len(r.groups))
	var evidence []domain.Evidence
	for _, rec := range candidates {
		for gi, group := range r.groups {
			for _, m := range group.matchers {
				if ev, ok := m.match(rec); ok {
					matched[gi] = true
					evidence = appendUnique(evidence, ev)
					break
				}
			}
		}
	}

	for _, ok := range matched {
		if !ok {
			return false, nil
		}
	}
	return true, evidence
}

// evaluateObservations matches coded observation answers, such as smoking status. With
// latestOnly, only the most recent matching observation is considered.
func (r *CategoryRule) evaluateObservations(records []record) (bool, []domain.Evidence) {
	var hits []record
	for _, rec := range records {
		if r.matchesAllGroups(rec) {
			hits = append(hits, rec)
		}
	}
	if r.latestOnly && len(hits) > 1 {
		best := hits[0]
		for _, rec := range hits[1:] {
			if newer(rec.at, best.at) {
				best = rec
			}
		}
		hits = []record{best}
	}

	var evidence []domain.Evidence
	for _, rec := range hits {
		if rec.value == nil {
			continue
		}
		for _, coding := range rec.value.Coding {
			if r.valueCodes[coding.Code] {
				evidence = appendUnique(evidence, domain.Evidence{
					ResourceID: rec.id,
					System:     coding.System,
					Code:       coding.Code,
					Display:    coding.Display,
				})
				break
			}
		}
	}
	return len(evidence) > 0, evidence
}

func (r *CategoryRule) matchesAllGroups(rec record) bool {
	for _, group := range r.groups {
		found := false
		for _, m := range group.matchers {
			if _, ok := m.match(rec); ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r *CategoryRule) excluded(rec record) bool {
	for _, m := range r.exclude {
		if _, ok := m.match(rec); ok {
			return true
		}
	}
	return false
}

// match returns evidence for the first coding (or keyword) that satisfies the matcher.
func (m codeMatcher) match(rec record) (domain.Evidence, bool) {
	if m.kind == MatchKeyword {
		text := rec.code.SearchText()
		if text == "" {
			return domain.Evidence{}, false
		}
		for _, kw := range m.codes {
			if strings.Contains(text, kw) {
				return domain.Evidence{ResourceID: rec.id, Code: kw, Display: rec.code.Label()}, true
			}
		}
		return domain.Evidence{}, false
	}

	for _, coding := range rec.code.Coding {
		if coding.System != m.system {
			continue
		}
		for _, target := range m.codes {
			if coding.Code == target || (m.kind == MatchPrefix && strings.HasPrefix(coding.Code, target)) {
				return domain.Evidence{
					ResourceID: rec.id,
					System:     coding.System,
					Code:       coding.Code,
					Display:    coding.Display,
				}, true
			}
		}
	}
	return domain.Evidence{}, false
}

func recordsFor(source string, bundle *domain.ClinicalBundle) []record {
	switch source {
	case SourceCondition:
		out := make([]record, 0, len(bundle.Conditions))
		for _, c := range bundle.Conditions {
			out = append(out, record{id: c.ID, code: c.Code, active: c.IsActive(), at: c.RecordedTime})
		}
		return out
	case SourceMedication:
		out := make([]record, 0, len(bundle.Medications))
		for _, m := range bundle.Medications {
			out = append(out, record{id: m.ID, code: m.Medication, active: medicationActive(m.Status)})
		}
		return out
	case SourceProcedure:
		out := make([]record, 0, len(bundle.Procedures))
		for _, p := range bundle.Procedures {
			out = append(out, record{id: p.ID, code: p.Code, active: true, at: p.PerformedTime})
		}
		return out
	case SourceObservation:
		out := make([]record, 0, len(bundle.Observations))
		for _, o := range bundle.Observations {
			out = append(out, record{id: o.ID, code: o.Code, value: o.ValueConcept, active: true, at: o.EffectiveTime})
		}
		return out
	default:
		return nil
	}
}

func medicationActive(status string) bool {
	switch strings.ToLower(status) {
	case "stopped", "cancelled", "entered-in-error", "completed":
		return false
	default:
		return true
	}
}

func appendUnique(dst []domain.Evidence, items ...domain.Evidence) []domain.Evidence {
	for _, item := range items {
		dup := false
		for _, existing := range dst {
			if existing == item {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, item)
		}
	}
	return dst
}
