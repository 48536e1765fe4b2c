/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"testing"

	"github.com/friendsincode/heimdall_presence/internal/events"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := encodeEnvelope(events.EventSessionClosed, events.Payload{
		"user_id": "u1",
		"room_id": "lounge",
	}, "node-a")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	envelope, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.EventType != events.EventSessionClosed {
		t.Errorf("event type = %q", envelope.EventType)
	}
	if envelope.NodeID != "node-a" {
		t.Errorf("node id = %q", envelope.NodeID)
	}
	if envelope.Payload["user_id"] != "u1" || envelope.Payload["room_id"] != "lounge" {
		t.Errorf("payload = %v", envelope.Payload)
	}
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := decodeEnvelope([]byte("{not json")); err == nil {
		t.Error("expected error for malformed envelope")
	}
}

func TestChannelNamespacing(t *testing.T) {
	got := channelFor(events.EventSessionOpened)
	want := "heimdall:events:presence.session_opened"
	if got != want {
		t.Errorf("channelFor = %q, want %q", got, want)
	}
}
