package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/af-corp/sms-gateway/internal/types"
)

const (
	// IletiMerkeziName tags every result produced by the adapter.
	IletiMerkeziName = "IletiMerkezi"

	iletiMerkeziSendPath     = "/v1/send-sms/json"
	jsonContentType          = "application/json; charset=utf-8"
	defaultResponseBodyLimit = 1024
	maxDrainBytes            = 1 << 20
)

// Option customises an IletiMerkeziProvider.
type Option func(*IletiMerkeziProvider)

// WithLogger sets the logger used for send diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *IletiMerkeziProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithResponseBodyLimit caps how many bytes of the vendor response body are
// kept in the result metadata. Zero or negative values are ignored.
func WithResponseBodyLimit(limit int) Option {
	return func(p *IletiMerkeziProvider) {
		if limit > 0 {
			p.bodyLimit = limit
		}
	}
}

// IletiMerkeziProvider posts single-recipient SMS orders to the IletiMerkezi
// JSON API. It holds no mutable state and is safe for concurrent use as long
// as the HTTP client is.
type IletiMerkeziProvider struct {
	client    HTTPClient
	opts      IletiMerkeziOptions
	endpoint  string
	logger    *slog.Logger
	bodyLimit int
}

// NewIletiMerkeziProvider validates opts and builds the adapter. A nil client
// is replaced by a default *http.Client.
func NewIletiMerkeziProvider(client HTTPClient, opts *IletiMerkeziOptions, options ...Option) (*IletiMerkeziProvider, error) {
	if opts == nil {
		return nil, fmt.Errorf("iletimerkezi: %w", ErrNilOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("iletimerkezi: %w", err)
	}
	endpoint, err := opts.endpoint()
	if err != nil {
		return nil, fmt.Errorf("iletimerkezi: %w: %v", ErrInvalidOptions, err)
	}

	if isNilClient(client) {
		client = &http.Client{}
	}

	p := &IletiMerkeziProvider{
		client:    client,
		opts:      *opts,
		endpoint:  endpoint,
		logger:    slog.Default(),
		bodyLimit: defaultResponseBodyLimit,
	}
	for _, opt := range options {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = p.logger.With("provider", IletiMerkeziName)
	return p, nil
}

func isNilClient(client HTTPClient) bool {
	if client == nil {
		return true
	}
	c, ok := client.(*http.Client)
	return ok && c == nil
}

func (p *IletiMerkeziProvider) Name() string { return IletiMerkeziName }

// Send is the blocking form of SendContext without a deadline.
func (p *IletiMerkeziProvider) Send(msg *types.MessageBody) types.SendingResult {
	return p.SendContext(context.Background(), msg)
}

// SendAsync starts the send in its own goroutine. The returned channel yields
// exactly one result and is then closed.
func (p *IletiMerkeziProvider) SendAsync(ctx context.Context, msg *types.MessageBody) <-chan types.SendingResult {
	out := make(chan types.SendingResult, 1)
	go func() {
		defer close(out)
		out <- p.SendContext(ctx, msg)
	}()
	return out
}

// SendContext submits msg and maps the outcome onto a SendingResult. Problems
// of any kind, including cancellation of ctx, come back as a failure result.
func (p *IletiMerkeziProvider) SendContext(ctx context.Context, msg *types.MessageBody) (result types.SendingResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = types.Failure(IletiMerkeziName).AddErrorFrom(fmt.Errorf("panic during send: %v", r))
		}
		p.log(ctx, msg, result, time.Since(start))
	}()

	if err := msg.Validate(); err != nil {
		return types.Failure(IletiMerkeziName).AddErrorFrom(&types.InvalidMessageError{Reason: err})
	}

	req, err := p.newRequest(ctx, msg)
	if err != nil {
		return types.Failure(IletiMerkeziName).AddErrorFrom(err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Failure(IletiMerkeziName).AddErrorFrom(err)
	}
	defer resp.Body.Close()

	return p.buildResult(resp)
}

func (p *IletiMerkeziProvider) newRequest(ctx context.Context, msg *types.MessageBody) (*http.Request, error) {
	body, err := encodeJSON(p.BuildMessage(msg))
	if err != nil {
		return nil, fmt.Errorf("marshal iletimerkezi request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", jsonContentType)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// encodeJSON marshals v without HTML escaping so message text reaches the
// vendor unchanged.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// BuildMessage converts msg into the vendor request body, applying any
// per-message key, hash and originator overrides.
func (p *IletiMerkeziProvider) BuildMessage(msg *types.MessageBody) IletiMerkeziMessage {
	data := msg.ProviderData
	return IletiMerkeziMessage{
		Request: iletiMerkeziRequest{
			Authentication: iletiMerkeziAuthentication{
				Key:  resolveOverride(data.String(types.ProviderDataKey), p.opts.Key),
				Hash: resolveOverride(data.String(types.ProviderDataHash), p.opts.Hash),
			},
			Order: iletiMerkeziOrder{
				Sender: p.ResolveSender(msg),
				Message: iletiMerkeziText{
					Text: msg.Content,
					Receipts: iletiMerkeziReceipts{
						Number: []string{strings.TrimSpace(msg.To)},
					},
				},
			},
		},
	}
}

// ResolveSender returns the originator msg is sent with: the per-call
// override when set, otherwise the configured sender.
func (p *IletiMerkeziProvider) ResolveSender(msg *types.MessageBody) string {
	if msg == nil {
		return p.opts.Sender
	}
	return resolveOverride(msg.ProviderData.String(types.ProviderDataOrginator), p.opts.Sender)
}

// resolveOverride prefers a non-empty per-call value over the configured one.
func resolveOverride(override, def string) string {
	if override != "" {
		return override
	}
	return def
}

func (p *IletiMerkeziProvider) buildResult(resp *http.Response) types.SendingResult {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return types.Success(IletiMerkeziName).AddMetadata(types.MetadataResponse, &types.ResponseInfo{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header.Clone(),
			Body:       p.readExcerpt(resp.Body),
		})
	}

	return types.Failure(IletiMerkeziName).AddError(types.SendingError{
		Code:    strconv.Itoa(resp.StatusCode),
		Message: reasonPhrase(resp),
	})
}

// readExcerpt keeps at most bodyLimit bytes of the body and drains the rest,
// up to maxDrainBytes, so the connection can be reused. Read errors after the
// status line has arrived do not change the outcome.
func (p *IletiMerkeziProvider) readExcerpt(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, int64(p.bodyLimit)))
	io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	return string(data)
}

func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}

func (p *IletiMerkeziProvider) log(ctx context.Context, msg *types.MessageBody, result types.SendingResult, elapsed time.Duration) {
	var to string
	if msg != nil {
		to = MaskRecipient(msg.To)
	}
	if result.IsSuccess() {
		p.logger.DebugContext(ctx, "sms sent", "to", to, "duration_ms", elapsed.Milliseconds())
		return
	}
	var code, message string
	if len(result.Errors) > 0 {
		code, message = result.Errors[0].Code, result.Errors[0].Message
	}
	p.logger.WarnContext(ctx, "sms send failed",
		"to", to,
		"error_code", code,
		"error", message,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// MaskRecipient hides all but the last four characters of a phone number.
func MaskRecipient(to string) string {
	r := []rune(strings.TrimSpace(to))
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}

// IletiMerkeziMessage is the vendor's JSON request envelope.
type IletiMerkeziMessage struct {
	Request iletiMerkeziRequest `json:"request"`
}

type iletiMerkeziRequest struct {
	Authentication iletiMerkeziAuthentication `json:"authentication"`
	Order          iletiMerkeziOrder          `json:"order"`
}

type iletiMerkeziAuthentication struct {
	Key  string `json:"key"`
	Hash string `json:"hash"`
}

type iletiMerkeziOrder struct {
	Sender  string           `json:"sender"`
	Message iletiMerkeziText `json:"message"`
}

type iletiMerkeziText struct {
	Text     string               `json:"text"`
	Receipts iletiMerkeziReceipts `json:"receipts"`
}

type iletiMerkeziReceipts struct {
	Number []string `json:"number"`
}
