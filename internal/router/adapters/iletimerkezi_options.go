package adapters

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/af-corp/sms-gateway/internal/config"
)

var (
	// ErrNilOptions is returned when an adapter is constructed without options.
	ErrNilOptions = errors.New("provider options are required")
	// ErrInvalidOptions wraps every options validation failure.
	ErrInvalidOptions = errors.New("invalid provider options")
)

// IletiMerkeziOptions holds the account credentials and the default sender
// used for every send unless overridden per message.
type IletiMerkeziOptions struct {
	BaseURL string
	Key     string
	Hash    string
	Sender  string
}

// IletiMerkeziOptionsFromConfig maps a providers.yaml entry onto options.
func IletiMerkeziOptionsFromConfig(cfg config.ProviderConfig) *IletiMerkeziOptions {
	return &IletiMerkeziOptions{
		BaseURL: cfg.BaseURL,
		Key:     cfg.Key,
		Hash:    cfg.Hash,
		Sender:  cfg.Sender,
	}
}

// Validate checks that every field is set and BaseURL is an absolute
// http(s) URL.
func (o *IletiMerkeziOptions) Validate() error {
	if o == nil {
		return ErrNilOptions
	}
	if strings.TrimSpace(o.BaseURL) == "" {
		return fmt.Errorf("%w: base url is required", ErrInvalidOptions)
	}
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: base url: %v", ErrInvalidOptions, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: base url must use http or https, got %q", ErrInvalidOptions, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: base url has no host", ErrInvalidOptions)
	}
	if strings.TrimSpace(o.Key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidOptions)
	}
	if strings.TrimSpace(o.Hash) == "" {
		return fmt.Errorf("%w: hash is required", ErrInvalidOptions)
	}
	if strings.TrimSpace(o.Sender) == "" {
		return fmt.Errorf("%w: sender is required", ErrInvalidOptions)
	}
	return nil
}

// endpoint returns the send URL. The vendor path replaces any path on the
// base URL.
func (o *IletiMerkeziOptions) endpoint() (string, error) {
	u, err := url.Parse(o.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = iletiMerkeziSendPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
