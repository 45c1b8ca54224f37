// Package safety is the synchronous content-policy gate consulted before any
// paid generation work runs. Evaluate is a pure function of the prompt text:
// no I/O, no locks, no retries, so it can sit on the worker's hot path and be
// unit-tested with literal strings.
package safety

import (
	"regexp"
	"strings"

	"github.com/prismstudio/backend/internal/models"
)

// blockRule is checked in order; the first match wins and short-circuits.
type blockRule struct {
	category string
	reason   string
	pattern  *regexp.Regexp
}

// warnRule never blocks; all matches are accumulated on the verdict.
type warnRule struct {
	warning string
	pattern *regexp.Regexp
}

var blockRules = []blockRule{
	{
		category: "minors",
		reason:   "prompts sexualizing minors are prohibited",
		pattern:  regexp.MustCompile(`(?i)\b(child|minor|underage)\b.{0,40}\b(nude|sexual|explicit)\b`),
	},
	{
		category: "graphic_violence",
		reason:   "graphic depictions of real violence are prohibited",
		pattern:  regexp.MustCompile(`(?i)\b(behead|dismember|torture)\w*\b.{0,40}\b(real|photorealistic|photo)\b`),
	},
	{
		category: "hate",
		reason:   "hateful content targeting protected groups is prohibited",
		pattern:  regexp.MustCompile(`(?i)\b(exterminate|subhuman)\b`),
	},
	{
		category: "self_harm",
		reason:   "content promoting self-harm is prohibited",
		pattern:  regexp.MustCompile(`(?i)\bhow to\b.{0,30}\b(kill myself|self-harm)\b`),
	},
}

var warnRules = []warnRule{
	{
		warning: "prompt may depict a real public figure",
		pattern: regexp.MustCompile(`(?i)\b(president|celebrity|politician)\b`),
	},
	{
		warning: "prompt may reference a protected trademark",
		pattern: regexp.MustCompile(`(?i)\b(logo|trademark|brand)\b`),
	},
	{
		warning: "prompt requests photorealistic output",
		pattern: regexp.MustCompile(`(?i)\bphotorealistic\b`),
	},
}

// Evaluate runs the blocking rules in order (first match wins), then
// accumulates every matching warning. Deterministic and side-effect-free.
func Evaluate(promptText string) models.SafetyVerdict {
	text := strings.TrimSpace(promptText)
	for _, r := range blockRules {
		if r.pattern.MatchString(text) {
			return models.SafetyVerdict{
				Blocked:  true,
				Category: r.category,
				Reason:   r.reason,
			}
		}
	}
	var v models.SafetyVerdict
	for _, r := range warnRules {
		if r.pattern.MatchString(text) {
			v.Warnings = append(v.Warnings, r.warning)
		}
	}
	return v
}
