/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/models"
	"github.com/friendsincode/heimdall_presence/internal/telemetry"
)

// DeliveryPayload is the payload sent to webhook endpoints.
type DeliveryPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Service delivers presence events to registered webhook endpoints.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a new webhook service.
func NewService(db *gorm.DB, bus *events.Bus, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Start begins listening for events to deliver.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("webhook service starting")

	sessionOpened := s.bus.Subscribe(events.EventSessionOpened)
	sessionClosed := s.bus.Subscribe(events.EventSessionClosed)
	integrityViolation := s.bus.Subscribe(events.EventIntegrityViolation)

	defer func() {
		s.bus.Unsubscribe(events.EventSessionOpened, sessionOpened)
		s.bus.Unsubscribe(events.EventSessionClosed, sessionClosed)
		s.bus.Unsubscribe(events.EventIntegrityViolation, integrityViolation)
	}()

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-sessionOpened:
			s.fire(ctx, string(events.EventSessionOpened), payload)

		case payload := <-sessionClosed:
			s.fire(ctx, string(events.EventSessionClosed), payload)

		case payload := <-integrityViolation:
			s.fire(ctx, string(events.EventIntegrityViolation), payload)
		}
	}
}

// fire delivers an event to every enabled webhook subscribed to it.
func (s *Service) fire(ctx context.Context, eventType string, data events.Payload) {
	var hooks []models.Webhook
	if err := s.db.Where("enabled = ?", true).Find(&hooks).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch webhooks")
		return
	}

	for _, hook := range hooks {
		if !s.handlesEvent(hook, eventType) {
			continue
		}
		go s.send(ctx, hook, eventType, data)
	}
}

// handlesEvent checks if a webhook is subscribed to an event type.
func (s *Service) handlesEvent(hook models.Webhook, eventType string) bool {
	if hook.Events == "" {
		return true // Default: handle all events
	}
	for _, e := range strings.Split(hook.Events, ",") {
		if strings.TrimSpace(e) == eventType {
			return true
		}
	}
	return false
}

// Delivery retry bounds. Transport errors and 5xx responses retry;
// 4xx responses are the endpoint rejecting the payload and do not.
const (
	deliveryAttempts = 3
	deliveryBackoff  = 500 * time.Millisecond
)

// send delivers a single webhook request, retrying transient failures.
func (s *Service) send(ctx context.Context, hook models.Webhook, eventType string, data any) {
	payload := DeliveryPayload{
		Event:     eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", hook.ID).Msg("failed to marshal webhook payload")
		return
	}

	var lastStatus int
	var lastErr error
	for attempt := 1; attempt <= deliveryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt-1) * deliveryBackoff):
			}
		}

		lastStatus, lastErr = s.attempt(ctx, hook, eventType, body)
		if lastErr == nil && lastStatus >= 200 && lastStatus < 300 {
			telemetry.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
			s.recordDelivery(hook, "")
			s.logger.Debug().Str("webhook", hook.ID).Str("event", eventType).Int("status", lastStatus).Int("attempt", attempt).Msg("webhook delivered")
			return
		}
		if lastErr == nil && lastStatus < 500 {
			break
		}
		s.logger.Warn().Err(lastErr).Str("webhook", hook.ID).Str("event", eventType).Int("attempt", attempt).Msg("webhook delivery attempt failed")
	}

	if lastErr != nil {
		telemetry.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
		s.logger.Error().Err(lastErr).Str("webhook", hook.ID).Str("url", hook.URL).Msg("webhook delivery failed")
		s.recordDelivery(hook, lastErr.Error())
		return
	}

	telemetry.WebhookDeliveriesTotal.WithLabelValues("error_status").Inc()
	s.recordDelivery(hook, fmt.Sprintf("status %d", lastStatus))
	s.logger.Warn().Str("webhook", hook.ID).Str("event", eventType).Int("status", lastStatus).Msg("webhook returned error status")
}

// attempt performs one HTTP POST to the webhook endpoint.
func (s *Service) attempt(ctx context.Context, hook models.Webhook, eventType string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Heimdall-Presence-Webhook/1.0")
	req.Header.Set("X-Heimdall-Event", eventType)
	req.Header.Set("X-Heimdall-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	// Add HMAC signature if secret is configured
	if hook.Secret != "" {
		req.Header.Set("X-Heimdall-Signature", SignPayload(body, hook.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// SignPayload creates an HMAC-SHA256 signature over the payload body.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received signature against the payload body.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// recordDelivery stores the outcome of the last delivery attempt on the hook.
func (s *Service) recordDelivery(hook models.Webhook, errorMsg string) {
	now := time.Now()
	updates := map[string]any{
		"last_sent":  &now,
		"last_error": errorMsg,
	}
	if err := s.db.Model(&models.Webhook{}).Where("id = ?", hook.ID).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to record webhook delivery")
	}
}

// TestWebhook sends a test payload to a webhook.
func (s *Service) TestWebhook(hook *models.Webhook) error {
	payload := DeliveryPayload{
		Event:     "test",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"user_id":    "test-user",
			"room_id":    "test-room",
			"time_spent": "00:00:00",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Heimdall-Presence-Webhook/1.0")
	req.Header.Set("X-Heimdall-Event", "test")
	req.Header.Set("X-Heimdall-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))

	if hook.Secret != "" {
		req.Header.Set("X-Heimdall-Signature", SignPayload(body, hook.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
