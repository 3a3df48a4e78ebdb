package mq

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

func TestPermanent(t *testing.T) {
	base := errors.New("release not found")

	if IsPermanent(base) {
		t.Error("plain error must not be permanent")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}

	err := fmt.Errorf("handle tick: %w", Permanent(base))
	if !IsPermanent(err) {
		t.Error("wrapped permanent error must be detected")
	}
	if !errors.Is(err, base) {
		t.Error("permanent error must unwrap to the cause")
	}
}

func TestParsePayload(t *testing.T) {
	id := uuid.New()
	// После json-декодирования конверта Payload — map[string]any.
	msg := &Message{
		ID:        "m1",
		Type:      MessageTypeCICallback,
		Timestamp: time.Now(),
		Payload: map[string]any{
			"task_id":     id.String(),
			"external_id": "run-7",
			"success":     true,
			"artifacts": []any{
				map[string]any{"platform": "IOS", "url": "https://ci/ipa"},
			},
		},
	}

	got, err := ParsePayload[CICallbackPayload](msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TaskID != id || got.ExternalID != "run-7" || !got.Success {
		t.Errorf("unexpected payload: %+v", got)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].Platform != domain.PlatformIOS {
		t.Errorf("unexpected artifacts: %+v", got.Artifacts)
	}
}

func TestBindingsUseDLQ(t *testing.T) {
	for _, b := range bindings {
		if b.queue == QueueDLQ {
			if b.dlq {
				t.Error("dead letter queue must not dead-letter into itself")
			}
			continue
		}
		if !b.dlq {
			t.Errorf("queue %s should dead-letter into %s", b.queue, ExchangeDLQ)
		}
	}
}
