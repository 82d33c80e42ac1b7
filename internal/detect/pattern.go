package detect

import (
	"fmt"
	"sort"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"go.uber.org/zap"
)

// PatternDetector finds structured PII (phones, emails, SIRET, SSN,
// addresses, legal references) with compiled regex rules. Detection is a
// pure function of the input text.
type PatternDetector struct {
	rules   []Rule
	enabled map[string]bool
	logger  *logger.Logger
}

// NewPattern creates a pattern detector with the default French rule set,
// restricted to the rules named in the configuration.
func NewPattern(cfg config.DetectionConfig, log *logger.Logger) (*PatternDetector, error) {
	d := &PatternDetector{
		rules:   DefaultRules(),
		enabled: make(map[string]bool),
		logger:  log,
	}

	if err := d.configureRules(cfg.Rules); err != nil {
		return nil, fmt.Errorf("failed to configure detection rules: %w", err)
	}

	log.Info("Pattern detector initialized",
		zap.Int("total_rules", len(d.rules)),
		zap.Int("enabled_rules", d.countEnabledRules()),
	)

	return d, nil
}

// configureRules enables the requested rules. "all" enables everything.
func (d *PatternDetector) configureRules(rules []string) error {
	for _, rule := range d.rules {
		d.enabled[rule.Name] = false
	}

	for _, name := range rules {
		if name == "all" {
			for _, rule := range d.rules {
				d.enabled[rule.Name] = true
			}
			continue
		}

		found := false
		for _, rule := range d.rules {
			if rule.Name == name {
				d.enabled[rule.Name] = true
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("unknown rule: %s", name)
		}
	}

	return nil
}

// Detect runs every enabled rule over the text and returns candidates with
// source REGEX and confidence 1.0. Overlapping matches within this
// detector are resolved by preferring the longest span, ties going to the
// earliest-declared rule. Never fails; no matches yields an empty slice.
func (d *PatternDetector) Detect(text string) []Candidate {
	var raw []Candidate

	for i, rule := range d.rules {
		if !d.enabled[rule.Name] {
			continue
		}

		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if rule.Validate != nil && !rule.Validate(match) {
				d.logger.Debug("Candidate rejected by validation",
					zap.String("rule", rule.Name),
					zap.Int("start", loc[0]),
				)
				continue
			}

			raw = append(raw, Candidate{
				Text:       match,
				Type:       rule.Type,
				Source:     entity.SourceRegex,
				Confidence: 1.0,
				Span:       entity.Position{Start: loc[0], End: loc[1]},
				Rule:       rule.Name,
				Order:      i,
			})
		}
	}

	return resolveOverlaps(raw)
}

// resolveOverlaps drops candidates overlapping an already-accepted span.
// Sorting by (start asc, length desc, declaration order asc) makes the
// left-to-right sweep keep the longest span at each offset.
func resolveOverlaps(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return []Candidate{}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.Len() != b.Span.Len() {
			return a.Span.Len() > b.Span.Len()
		}
		return a.Order < b.Order
	})

	kept := candidates[:0:0]
	lastEnd := -1
	for _, c := range candidates {
		if c.Span.Start < lastEnd {
			continue
		}
		kept = append(kept, c)
		lastEnd = c.Span.End
	}
	return kept
}

// countEnabledRules returns the number of enabled detection rules.
func (d *PatternDetector) countEnabledRules() int {
	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// EnabledRules returns the names of all enabled rules.
func (d *PatternDetector) EnabledRules() []string {
	var enabled []string
	for name, isEnabled := range d.enabled {
		if isEnabled {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}
