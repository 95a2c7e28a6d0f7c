package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// WebhookSender posts {"message": ...} to an arbitrary URL, authenticating
// with a bearer token when one is set.
type WebhookSender struct {
	Client *http.Client
}

func (s *WebhookSender) Type() tradeflow.CredentialType { return tradeflow.CredWebhook }

func (s *WebhookSender) Send(ctx context.Context, cred *tradeflow.Credential, message string) error {
	if cred.Host == "" {
		return fmt.Errorf("webhook credential %q missing host", cred.ID)
	}
	var headers map[string]string
	if cred.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + cred.Token}
	}
	if err := postJSON(ctx, s.Client, cred.Host, map[string]string{"message": message}, headers); err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	return nil
}
