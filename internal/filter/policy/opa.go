package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/filter"
)

const query = "[data.sms.policy.allow, data.sms.policy.reason]"

// Input is the document sent to OPA for evaluation.
type Input struct {
	Key     KeyInput     `json:"key"`
	Message MessageInput `json:"message"`
	Time    TimeInput    `json:"time"`
}

type KeyInput struct {
	ID  string `json:"id"`
	Org string `json:"org"`
}

type MessageInput struct {
	To            string `json:"to"`
	Sender        string `json:"sender"`
	Provider      string `json:"provider"`
	Length        int    `json:"length"`
	Encoding      string `json:"encoding"`
	CountryPrefix string `json:"country_prefix"`
}

type TimeInput struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Evaluator implements filter.Filter using OPA.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyFilterConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewEvaluator creates a policy evaluator. Call Load() to compile policies.
func NewEvaluator(cfg func() config.PolicyFilterConfig, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, logger: logger, now: time.Now}
}

func (e *Evaluator) Name() string  { return "policy" }
func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles Rego modules from the bundle path.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	modules, err := LoadRegoFiles(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("load rego files: %w", err)
	}
	if len(modules) == 0 {
		e.logger.Warn("no rego files found", "path", cfg.BundlePath)
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	e.logger.Info("opa policies loaded", "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from module sources keyed by file name.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against the given input.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (bool, string, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		// No policies loaded: fail closed
		return false, "no policies loaded", nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}

	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Sprintf("policy evaluation error: %v", err), err
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "no policy result", nil
	}

	// Result is [allow, reason]
	arr, ok := results[0].Expressions[0].Value.([]any)
	if !ok || len(arr) < 2 {
		return false, "unexpected policy result format", nil
	}

	allowed, _ := arr[0].(bool)
	reason, _ := arr[1].(string)
	return allowed, reason, nil
}

// BuildInput assembles the policy document for req.
func (e *Evaluator) BuildInput(req *filter.Request) Input {
	now := e.now().UTC()
	in := Input{
		Key:  KeyInput{ID: req.KeyID, Org: req.OrganizationID},
		Time: TimeInput{Hour: now.Hour(), Day: now.Weekday().String()},
	}
	in.Message.Sender = req.Sender
	in.Message.Provider = req.Provider
	if req.Message != nil {
		in.Message.To = strings.TrimSpace(req.Message.To)
		in.Message.Length = utf8.RuneCountInString(req.Message.Content)
		in.Message.Encoding = Encoding(req.Message.Content)
		in.Message.CountryPrefix = CountryPrefix(req.Message.To)
	}
	return in
}

// ScanMessage implements filter.Filter.
func (e *Evaluator) ScanMessage(ctx context.Context, req *filter.Request) filter.Result {
	allowed, reason, err := e.Evaluate(ctx, e.BuildInput(req))
	if err != nil {
		e.logger.ErrorContext(ctx, "policy evaluation failed", "error", err)
		// Fail closed
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: e.Name(),
			Message:    "Policy evaluation failed: " + err.Error(),
		}
	}

	if !allowed {
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: e.Name(),
			Message:    "Message denied by policy: " + reason,
		}
	}

	return filter.Result{Action: filter.ActionPass, FilterName: e.Name()}
}

// CountryPrefix returns "+" and the first two digits of an international
// number ("+90" for "+905551234567" or "00905551234567"). National numbers
// yield "".
func CountryPrefix(to string) string {
	to = strings.Join(strings.Fields(to), "")
	switch {
	case strings.HasPrefix(to, "+"):
		to = to[1:]
	case strings.HasPrefix(to, "00"):
		to = to[2:]
	default:
		return ""
	}
	if len(to) < 2 || !isDigits(to[:2]) {
		return ""
	}
	return "+" + to[:2]
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
