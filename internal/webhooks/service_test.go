/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_presence/internal/events"
	"github.com/friendsincode/heimdall_presence/internal/models"
)

func testService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Webhook{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewService(db, events.NewBus(), 5*time.Second, zerolog.Nop()), db
}

func TestSignatureRoundTrip(t *testing.T) {
	body := []byte(`{"event":"presence.session_closed"}`)
	sig := SignPayload(body, "secret")

	if !VerifySignature(body, "secret", sig) {
		t.Error("signature should verify with correct secret")
	}
	if VerifySignature(body, "wrong", sig) {
		t.Error("signature must not verify with wrong secret")
	}
	if VerifySignature([]byte("tampered"), "secret", sig) {
		t.Error("signature must not verify for tampered body")
	}
}

func TestTestWebhookDeliversSignedPayload(t *testing.T) {
	svc, _ := testService(t)

	received := make(chan *http.Request, 1)
	var receivedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		received <- r
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook := &models.Webhook{ID: "wh-1", URL: server.URL, Secret: "hunter2"}
	if err := svc.TestWebhook(hook); err != nil {
		t.Fatalf("TestWebhook failed: %v", err)
	}

	select {
	case r := <-received:
		if r.Header.Get("X-Heimdall-Event") != "test" {
			t.Errorf("expected event header, got %q", r.Header.Get("X-Heimdall-Event"))
		}
		sig := r.Header.Get("X-Heimdall-Signature")
		if !VerifySignature(receivedBody, "hunter2", sig) {
			t.Error("delivered signature should verify against body")
		}
		var payload DeliveryPayload
		if err := json.Unmarshal(receivedBody, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if payload.Event != "test" {
			t.Errorf("expected test event, got %q", payload.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("webhook never arrived")
	}
}

func TestTestWebhookReportsErrorStatus(t *testing.T) {
	svc, _ := testService(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	hook := &models.Webhook{ID: "wh-1", URL: server.URL}
	if err := svc.TestWebhook(hook); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestSendRetriesTransientFailures(t *testing.T) {
	svc, db := testService(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook := models.Webhook{ID: "wh-1", URL: server.URL, Enabled: true}
	if err := db.Create(&hook).Error; err != nil {
		t.Fatalf("seed webhook: %v", err)
	}

	svc.send(context.Background(), hook, string(events.EventSessionClosed), events.Payload{"user_id": "u"})

	if got := attempts.Load(); got != 3 {
		t.Errorf("expected 3 delivery attempts, got %d", got)
	}

	var stored models.Webhook
	if err := db.First(&stored, "id = ?", hook.ID).Error; err != nil {
		t.Fatalf("load webhook: %v", err)
	}
	if stored.LastError != "" {
		t.Errorf("expected cleared last_error after eventual success, got %q", stored.LastError)
	}
}

func TestSendDoesNotRetryRejectedPayloads(t *testing.T) {
	svc, db := testService(t)

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	hook := models.Webhook{ID: "wh-1", URL: server.URL, Enabled: true}
	if err := db.Create(&hook).Error; err != nil {
		t.Fatalf("seed webhook: %v", err)
	}

	svc.send(context.Background(), hook, string(events.EventSessionClosed), events.Payload{"user_id": "u"})

	if got := attempts.Load(); got != 1 {
		t.Errorf("expected a single delivery attempt for a 4xx response, got %d", got)
	}

	var stored models.Webhook
	if err := db.First(&stored, "id = ?", hook.ID).Error; err != nil {
		t.Fatalf("load webhook: %v", err)
	}
	if stored.LastError != "status 400" {
		t.Errorf("expected recorded status 400, got %q", stored.LastError)
	}
}

func TestHandlesEventFiltering(t *testing.T) {
	svc, _ := testService(t)

	all := models.Webhook{Events: ""}
	scoped := models.Webhook{Events: "presence.session_closed, presence.integrity_violation"}

	if !svc.handlesEvent(all, "presence.session_opened") {
		t.Error("empty events list should match everything")
	}
	if !svc.handlesEvent(scoped, "presence.session_closed") {
		t.Error("expected scoped webhook to match listed event")
	}
	if svc.handlesEvent(scoped, "presence.session_opened") {
		t.Error("scoped webhook must not match unlisted event")
	}
}
