package phishing

import (
	"context"
	"fmt"

	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/filter"
)

// Detection records a matched phishing rule.
type Detection struct {
	RuleName string
	Severity float64
	Category string
	Start    int
	End      int
}

// Scanner scores SMS content against smishing heuristics.
type Scanner struct {
	rules []Rule
	cfg   func() config.PhishingFilterConfig
}

// NewScanner creates a phishing scanner with the default rules.
func NewScanner(cfg func() config.PhishingFilterConfig) *Scanner {
	return &Scanner{rules: DefaultRules(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "phishing" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Scan checks a single text string and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, r := range s.rules {
		for _, loc := range r.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				RuleName: r.Name,
				Severity: r.Severity,
				Category: r.Category,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	return detections
}

// Score combines detections into a single 0..1 score. Independent signals
// reinforce each other: score = 1 - prod(1 - severity) over distinct rules.
func Score(detections []Detection) float64 {
	seen := make(map[string]bool, len(detections))
	miss := 1.0
	for _, d := range detections {
		if seen[d.RuleName] {
			continue
		}
		seen[d.RuleName] = true
		miss *= 1 - d.Severity
	}
	return 1 - miss
}

// ScanMessage implements filter.Filter.
func (s *Scanner) ScanMessage(_ context.Context, req *filter.Request) filter.Result {
	if req == nil || req.Message == nil {
		return filter.Result{Action: filter.ActionPass, FilterName: s.Name()}
	}
	detections := s.Scan(req.Message.Content)
	score := Score(detections)
	cfg := s.cfg()

	if score > 0 && cfg.BlockThreshold > 0 && score >= cfg.BlockThreshold {
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: s.Name(),
			Message:    fmt.Sprintf("Message blocked: phishing content detected (score %.2f)", score),
			Detections: len(detections),
			Score:      score,
		}
	}
	if score > 0 && cfg.FlagThreshold > 0 && score >= cfg.FlagThreshold {
		return filter.Result{
			Action:     filter.ActionFlag,
			FilterName: s.Name(),
			Detections: len(detections),
			Score:      score,
		}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: s.Name(), Score: score}
}
