package radar

import (
	"bufio"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chatforge/engine/services/bot/radar/enforcement"
)

// SuspiciousThreshold is the score at which a static scan vetoes a start.
// spec.md describes the veto as triggering when the total "exceeds 20", but
// also requires that two mining-keyword matches (2 x weight 10 = 20) veto
// the start on their own. A strict ">" threshold would let that exact case
// through, so the scan treats 20 as already suspicious.
const SuspiciousThreshold = 20

// LargeFileLines is the line count above which a file earns a flat +5
// score bump, reflecting the added review burden of very large submissions.
const LargeFileLines = 10000

// largeFileBonus is the score added for files over LargeFileLines lines.
const largeFileBonus = 5

// StaticScanner scans file contents against the compiled pattern pack.
type StaticScanner struct {
	groups []patternGroup
}

// NewStaticScanner unmarshals and compiles the embedded pattern pack. It
// panics on failure since a broken pattern pack is a build-time defect, not
// a runtime condition callers can recover from.
func NewStaticScanner() *StaticScanner {
	var pf patternFile
	if err := yaml.Unmarshal(enforcement.Patterns, &pf); err != nil {
		panic("radar: invalid pattern pack: " + err.Error())
	}
	if err := pf.compile(); err != nil {
		panic(err.Error())
	}
	return &StaticScanner{groups: pf.Groups}
}

// ScanFileContent walks content line by line, matching every compiled
// pattern against the lower-cased line text, and returns one Finding per
// match. A line may produce multiple findings if more than one pattern
// matches it, or if one pattern matches it more than once.
func (s *StaticScanner) ScanFileContent(filename, content string) []Finding {
	var findings []Finding
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		lower := strings.ToLower(scanner.Text())
		for _, g := range s.groups {
			for _, p := range g.Patterns {
				for range p.compiled.FindAllStringIndex(lower, -1) {
					findings = append(findings, Finding{
						File:   filename,
						Line:   lineNo,
						Group:  g.Name,
						Reason: p.Reason,
						Weight: g.Weight,
					})
				}
			}
		}
	}
	return findings
}

// ScoreFile scans a single file and folds its findings, plus the large-file
// bonus, into a Verdict. It does not set Suspicious across a whole
// workspace; call ScoreWorkspace for the aggregate veto decision.
func (s *StaticScanner) ScoreFile(filename, content string) Verdict {
	findings := s.ScanFileContent(filename, content)
	score := 0
	for _, f := range findings {
		score += f.Weight
	}
	if strings.Count(content, "\n")+1 > LargeFileLines {
		score += largeFileBonus
	}
	return Verdict{Score: score, Suspicious: score >= SuspiciousThreshold, Findings: findings}
}

// ScoreWorkspace scans every file in files (keyed by relative path) and
// aggregates them into a single workspace-wide Verdict: the score is the
// sum of every file's score, and the workspace is Suspicious if that sum
// meets SuspiciousThreshold.
func (s *StaticScanner) ScoreWorkspace(files map[string]string) Verdict {
	var all []Finding
	total := 0
	for name, content := range files {
		fv := s.ScoreFile(name, content)
		total += fv.Score
		all = append(all, fv.Findings...)
	}
	return Verdict{Score: total, Suspicious: total >= SuspiciousThreshold, Findings: all}
}
