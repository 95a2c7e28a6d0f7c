package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

// SlackSender posts to a Slack incoming webhook. The URL comes from the
// webhook_url extra, falling back to Host.
type SlackSender struct {
	Client *http.Client
}

func (s *SlackSender) Type() tradeflow.CredentialType { return tradeflow.CredSlack }

func (s *SlackSender) Send(ctx context.Context, cred *tradeflow.Credential, message string) error {
	url := cred.Extra("webhook_url")
	if url == "" {
		url = cred.Host
	}
	if url == "" {
		return fmt.Errorf("slack credential %q missing webhook_url", cred.ID)
	}
	payload := map[string]string{"text": message}
	if ch := cred.Extra("channel"); ch != "" {
		payload["channel"] = ch
	}
	if err := postJSON(ctx, s.Client, url, payload, nil); err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}
