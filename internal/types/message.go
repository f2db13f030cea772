package types

import (
	"fmt"
	"strings"
)

// Provider data keys understood by the IletiMerkezi adapter. "orginator" keeps
// the vendor's spelling.
const (
	ProviderDataKey       = "key"
	ProviderDataHash      = "hash"
	ProviderDataOrginator = "orginator"
)

// MessageBody is the provider-neutral SMS message handed to an adapter.
type MessageBody struct {
	To           string       `json:"to"`
	Content      string       `json:"content"`
	ProviderData ProviderData `json:"provider_data,omitempty"`
}

// ProviderData carries per-call overrides for a single send.
type ProviderData map[string]any

// String returns the value stored under key as a string. Missing keys and
// nil values yield "".
func (d ProviderData) String(key string) string {
	if d == nil {
		return ""
	}
	v, ok := d[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

// With returns a copy of d with key set to value.
func (d ProviderData) With(key string, value any) ProviderData {
	out := make(ProviderData, len(d)+1)
	for k, v := range d {
		out[k] = v
	}
	out[key] = value
	return out
}

// Validate reports whether the message carries a recipient and content.
func (m *MessageBody) Validate() error {
	if m == nil {
		return fmt.Errorf("message is nil")
	}
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("recipient is required")
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}
