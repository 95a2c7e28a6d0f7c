// Package notify delivers NOTIFY node messages to external messaging
// services.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// Sender delivers a message using a resolved credential.
type Sender interface {
	Type() tradeflow.CredentialType
	Send(ctx context.Context, cred *tradeflow.Credential, message string) error
}

// SenderRegistry maps credential types to senders.
type SenderRegistry struct {
	mu      sync.RWMutex
	senders map[tradeflow.CredentialType]Sender
}

func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{senders: make(map[tradeflow.CredentialType]Sender)}
}

// NewDefaultRegistry registers the Slack, Telegram and webhook senders.
func NewDefaultRegistry(client *http.Client) *SenderRegistry {
	r := NewSenderRegistry()
	r.Register(&SlackSender{Client: client})
	r.Register(&TelegramSender{Client: client})
	r.Register(&WebhookSender{Client: client})
	return r
}

// Register adds or replaces the sender for its credential type.
func (r *SenderRegistry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Type()] = s
}

// Get returns the sender for the given credential type.
func (r *SenderRegistry) Get(t tradeflow.CredentialType) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[t]
	if !ok {
		return nil, fmt.Errorf("no sender registered for credential type %q", t)
	}
	return s, nil
}

// postJSON sends payload to url and fails on any status >= 400.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) error {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("remote returned %d", resp.StatusCode)
	}
	return nil
}
