package adapters

import (
	"context"
	"net/http"

	"github.com/af-corp/sms-gateway/internal/types"
)

// SMSProvider sends one message to one recipient through a vendor API.
// Implementations report every per-call problem in the returned result and
// never panic or return an error to the caller.
type SMSProvider interface {
	Name() string
	Send(msg *types.MessageBody) types.SendingResult
	SendContext(ctx context.Context, msg *types.MessageBody) types.SendingResult
	SendAsync(ctx context.Context, msg *types.MessageBody) <-chan types.SendingResult
}

// HTTPClient is the transport an adapter posts through. *http.Client
// satisfies it and must be safe for concurrent use.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SenderResolver is implemented by providers that can tell which originator a
// message will go out with once per-call overrides and defaults are applied.
type SenderResolver interface {
	ResolveSender(msg *types.MessageBody) string
}
