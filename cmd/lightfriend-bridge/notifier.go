// Copyright 2025-2026 Rasmus Ahtava

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ahtavarasmus/lightfriend-sub000/pkg/bridge"
)

// webhookNotifier delivers notifications by posting them to the lightfriend
// server, which owns the actual SMS/voice transport. With no URL configured
// it degrades to log-only delivery for development.
type webhookNotifier struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

func newWebhookNotifier(url string, log zerolog.Logger) *webhookNotifier {
	return &webhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log.With().Str("component", "notifier").Logger(),
	}
}

var _ bridge.Notifier = (*webhookNotifier)(nil)

type notificationPayload struct {
	UserID           int64  `json:"user_id"`
	Body             string `json:"body"`
	NotificationType string `json:"notification_type"`
	FirstMessage     string `json:"first_message,omitempty"`
}

func (n *webhookNotifier) SendNotification(ctx context.Context, userID int64, body, notificationType, firstMessage string) error {
	if n.url == "" {
		n.log.Info().
			Int64("user_id", userID).
			Str("notification_type", notificationType).
			Str("body", body).
			Msg("Log-only notification (no webhook configured)")
		return nil
	}
	payload, err := json.Marshal(notificationPayload{
		UserID:           userID,
		Body:             body,
		NotificationType: notificationType,
		FirstMessage:     firstMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %s", resp.Status)
	}
	return nil
}

// webhookCreditChecker consumes a notification credit through the
// lightfriend server. With no URL configured every check passes, which
// keeps development flows working without billing.
type webhookCreditChecker struct {
	url    string
	client *http.Client
}

func newWebhookCreditChecker(url string) *webhookCreditChecker {
	return &webhookCreditChecker{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

var _ bridge.CreditChecker = (*webhookCreditChecker)(nil)

func (c *webhookCreditChecker) CheckUserCredits(ctx context.Context, userID int64, feature string) error {
	if c.url == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]any{"user_id": userID, "feature": feature})
	if err != nil {
		return fmt.Errorf("failed to encode credit check: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build credit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to check credits: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return bridge.ErrInsufficientCredits
	case resp.StatusCode >= 300:
		return fmt.Errorf("credit endpoint returned %s", resp.Status)
	}
	return nil
}
