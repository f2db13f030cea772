package phishing

import (
	"context"
	"math"
	"testing"

	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/filter"
	"github.com/af-corp/sms-gateway/internal/types"
)

func defaultCfg() func() config.PhishingFilterConfig {
	return func() config.PhishingFilterConfig {
		return config.PhishingFilterConfig{
			Enabled:        true,
			BlockThreshold: 0.9,
			FlagThreshold:  0.6,
		}
	}
}

func scan(s *Scanner, content string) filter.Result {
	return s.ScanMessage(context.Background(), &filter.Request{
		Message: &types.MessageBody{To: "+905551234567", Content: content},
	})
}

func TestScan_ShareOTP(t *testing.T) {
	s := NewScanner(defaultCfg())
	tests := []string{
		"Please share your OTP with our agent",
		"Send us the verification code you received",
		"tell me your one-time passcode",
	}
	for _, text := range tests {
		detections := s.Scan(text)
		if len(detections) == 0 {
			t.Errorf("expected detection for: %s", text)
			continue
		}
		if detections[0].Category != "credential_bait" {
			t.Errorf("expected credential_bait for %q, got %s", text, detections[0].Category)
		}
	}
}

func TestScan_IPAddressLink(t *testing.T) {
	s := NewScanner(defaultCfg())
	detections := s.Scan("Login at http://192.168.10.4/bank")
	if len(detections) != 1 || detections[0].RuleName != "ip_address_link" {
		t.Fatalf("expected ip_address_link detection, got %+v", detections)
	}
}

func TestScan_CleanMessages(t *testing.T) {
	s := NewScanner(defaultCfg())
	clean := []string{
		"Your order #1234 has shipped and arrives Tuesday.",
		"Your verification code is 482913. Do not share it with anyone.",
		"Meeting moved to 3pm, see you there",
	}
	for _, text := range clean {
		if detections := s.Scan(text); len(detections) != 0 {
			t.Errorf("expected no detections for %q, got %+v", text, detections)
		}
	}
}

func TestScore_CombinesDistinctRules(t *testing.T) {
	detections := []Detection{
		{RuleName: "a", Severity: 0.5},
		{RuleName: "a", Severity: 0.5},
		{RuleName: "b", Severity: 0.5},
	}
	if got := Score(detections); math.Abs(got-0.75) > 1e-9 {
		t.Errorf("expected 0.75, got %f", got)
	}
	if got := Score(nil); got != 0 {
		t.Errorf("expected 0 for no detections, got %f", got)
	}
}

func TestScanMessage_Block(t *testing.T) {
	s := NewScanner(defaultCfg())
	result := scan(s, "Please share your OTP with our agent")
	if result.Action != filter.ActionBlock {
		t.Errorf("expected block, got %s (score %.2f)", result.Action, result.Score)
	}
	if result.FilterName != "phishing" {
		t.Errorf("expected filter name phishing, got %s", result.FilterName)
	}
}

func TestScanMessage_Flag(t *testing.T) {
	s := NewScanner(defaultCfg())
	result := scan(s, "Your account has been suspended. Act now: bit.ly/x7Yz")
	if result.Action != filter.ActionFlag {
		t.Errorf("expected flag, got %s (score %.2f)", result.Action, result.Score)
	}
	if result.Detections != 3 {
		t.Errorf("expected 3 detections, got %d", result.Detections)
	}
}

func TestScanMessage_Pass(t *testing.T) {
	s := NewScanner(defaultCfg())
	result := scan(s, "Your appointment is confirmed for Monday 10:00")
	if result.Action != filter.ActionPass {
		t.Errorf("expected pass, got %s", result.Action)
	}
}

func TestScanMessage_ZeroThresholdsNeverBlock(t *testing.T) {
	s := NewScanner(func() config.PhishingFilterConfig { return config.PhishingFilterConfig{Enabled: true} })
	if result := scan(s, "hello there"); result.Action != filter.ActionPass {
		t.Errorf("expected pass with unset thresholds, got %s", result.Action)
	}
}
