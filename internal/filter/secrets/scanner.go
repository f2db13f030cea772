package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/filter"
)

// Detection represents a detected secret in text.
type Detection struct {
	PatternName string
	Start       int // byte offset
	End         int // byte offset
}

// Scanner blocks messages whose content carries credentials.
type Scanner struct {
	patterns []Pattern
	cfg      func() config.SecretsFilterConfig
}

// NewScanner creates a scanner with the default secret patterns.
func NewScanner(cfg func() config.SecretsFilterConfig) *Scanner {
	return &Scanner{patterns: DefaultPatterns(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "secrets" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Scan checks a single text string for secrets and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			if p.Verify != nil && !p.Verify(text[loc[0]:loc[1]]) {
				continue
			}
			detections = append(detections, Detection{
				PatternName: p.Name,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return detections
}

// ScanMessage implements filter.Filter.
func (s *Scanner) ScanMessage(_ context.Context, req *filter.Request) filter.Result {
	if req == nil || req.Message == nil {
		return filter.Result{Action: filter.ActionPass, FilterName: s.Name()}
	}
	detections := s.Scan(req.Message.Content)
	if len(detections) == 0 {
		return filter.Result{Action: filter.ActionPass, FilterName: s.Name()}
	}
	return filter.Result{
		Action:     filter.ActionBlock,
		FilterName: s.Name(),
		Message:    fmt.Sprintf("Message blocked: content contains %s", describe(detections)),
		Detections: len(detections),
	}
}

func describe(detections []Detection) string {
	seen := make(map[string]bool, len(detections))
	var names []string
	for _, d := range detections {
		if !seen[d.PatternName] {
			seen[d.PatternName] = true
			names = append(names, d.PatternName)
		}
	}
	return strings.Join(names, ", ")
}
