// Package radar implements RADAR, the engine's risk analyzer: a static
// pattern scan run once before materialization (§4.4 static mode) and a
// runtime quota check run on every sampler tick (§4.4 runtime mode). Both
// modes share one Finding/Verdict vocabulary so callers log through a
// single code path regardless of which mode produced the finding.
package radar

import (
	"fmt"
	"regexp"
)

// Group names one family of static patterns.
type Group string

const (
	GroupResourceExtraction Group = "resource_extraction"
	GroupNetworkAbuse       Group = "network_abuse"
	GroupResourceExhaustion Group = "resource_exhaustion"
	GroupObfuscation        Group = "obfuscation"
)

// Pattern is one compiled static detector within a Group.
type Pattern struct {
	ID     string `yaml:"id"`
	Regex  string `yaml:"regex"`
	Reason string `yaml:"reason"`

	compiled *regexp.Regexp
}

// patternGroup is the YAML shape of one weighted group of patterns.
type patternGroup struct {
	Name     Group     `yaml:"name"`
	Weight   int       `yaml:"weight"`
	Patterns []Pattern `yaml:"patterns"`
}

// patternFile is the YAML shape of the whole embedded pattern pack.
type patternFile struct {
	Groups []patternGroup `yaml:"groups"`
}

func (f *patternFile) compile() error {
	for gi := range f.Groups {
		for pi := range f.Groups[gi].Patterns {
			p := &f.Groups[gi].Patterns[pi]
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return fmt.Errorf("radar: compile pattern %s: %w", p.ID, err)
			}
			p.compiled = re
		}
	}
	return nil
}

// Finding is one static-scan or runtime-check match.
type Finding struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Group  Group  `json:"group"`
	Reason string `json:"reason"`
	Weight int    `json:"weight"`
}

// Verdict is the outcome of one static scan across every file in a
// workspace, or one runtime quota check.
type Verdict struct {
	Score      int       `json:"score"`
	Suspicious bool      `json:"suspicious"`
	Findings   []Finding `json:"findings"`
}

// FirstReason returns the first finding's reason, or "" if there are none.
// Used to quote a single reason in the abort log line per §4.4.
func (v Verdict) FirstReason() string {
	if len(v.Findings) == 0 {
		return ""
	}
	return v.Findings[0].Reason
}
