package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/tradeflow/internal/nodes"
	"github.com/soochol/tradeflow/internal/tradeflow"
	"github.com/soochol/tradeflow/internal/tradeflow/ports"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

var (
	// ErrNotWebhookTrigger is returned when the addressed node is not a
	// webhook-mode TRIGGER.
	ErrNotWebhookTrigger = errors.New("node is not a webhook trigger")
	// ErrInvalidSignature is returned when the body signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidPayload is returned when a non-empty body is not a JSON object.
	ErrInvalidPayload = errors.New("payload must be a JSON object")
)

// WebhookService starts runs from external HTTP calls addressed to a
// webhook TRIGGER node.
type WebhookService struct {
	workflows ports.GraphLoader
	runs      RunStarter
}

func NewWebhookService(workflows ports.GraphLoader, runs RunStarter) *WebhookService {
	return &WebhookService{workflows: workflows, runs: runs}
}

// Fire verifies the call against the trigger's secret and starts a run with
// the decoded body as the trigger payload.
func (s *WebhookService) Fire(ctx context.Context, workflowID, nodeID string, body []byte, signature string) (*tradeflow.RunRecord, error) {
	g, err := s.workflows.LoadGraph(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	n, ok := g.Node(nodeID)
	if !ok || n.Kind != tradeflow.KindTrigger {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotWebhookTrigger, workflowID, nodeID)
	}
	cfg, err := tradeflow.DecodeConfig[nodes.TriggerConfig](n)
	if err != nil || cfg.Mode != nodes.TriggerWebhook {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotWebhookTrigger, workflowID, nodeID)
	}

	if cfg.Secret != "" && !VerifySignature(body, cfg.Secret, signature) {
		return nil, ErrInvalidSignature
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	trigger := map[string]any{
		"mode":    nodes.TriggerWebhook,
		"node_id": nodeID,
	}
	if payload != nil {
		trigger["payload"] = payload
	}
	return s.runs.Start(ctx, workflowID, trigger)
}

// VerifySignature checks the hex HMAC-SHA256 signature of a payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
