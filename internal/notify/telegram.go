package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/soochol/tradeflow/internal/tradeflow"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender sends through the Telegram Bot API. The credential's Token
// is the bot token; chat_id is read from extras.
type TelegramSender struct {
	Client  *http.Client
	BaseURL string
}

func (s *TelegramSender) Type() tradeflow.CredentialType { return tradeflow.CredTelegram }

func (s *TelegramSender) Send(ctx context.Context, cred *tradeflow.Credential, message string) error {
	chatID := cred.Extra("chat_id")
	if chatID == "" {
		return fmt.Errorf("telegram credential %q missing chat_id", cred.ID)
	}
	if cred.Token == "" {
		return fmt.Errorf("telegram credential %q missing bot token", cred.ID)
	}
	base := s.BaseURL
	if base == "" {
		base = telegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(base, "/"), cred.Token)
	payload := map[string]string{"chat_id": chatID, "text": message}
	if err := postJSON(ctx, s.Client, url, payload, nil); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
