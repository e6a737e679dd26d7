package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	audit "didvault/pkg/platform/audit"
)

// Appender is the idempotent write side of the materialized audit table.
type Appender interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// EventHandler materializes audit events read from Kafka. Malformed messages
// are logged and committed. Storage failures are returned for compliance and
// security events so they are retried; operations events are best effort.
type EventHandler struct {
	store  Appender
	logger *slog.Logger
	now    func() time.Time
}

func NewEventHandler(store Appender, logger *slog.Logger) *EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHandler{store: store, logger: logger, now: time.Now}
}

func (h *EventHandler) Handle(ctx context.Context, msg *Message) error {
	eventID, err := uuid.Parse(string(msg.Key))
	if err != nil {
		h.logger.Error("failed to parse audit event ID",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"error", err,
		)
		return nil
	}

	var event audit.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("failed to unmarshal audit event",
			"event_id", eventID,
			"error", err,
		)
		return nil
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}

	if event.Category == audit.CategoryCompliance && event.Subject == "" {
		h.logger.Error("compliance audit event missing subject",
			"event_id", eventID,
			"action", event.Action,
		)
		return nil
	}

	if err := h.store.AppendWithID(ctx, eventID, event); err != nil {
		if event.Category == audit.CategoryOperations {
			h.logger.Debug("failed to store ops event",
				"event_id", eventID,
				"action", event.Action,
				"error", err,
			)
			return nil
		}
		h.logger.Error("failed to store audit event",
			"event_id", eventID,
			"category", event.Category,
			"action", event.Action,
			"error", err,
		)
		return fmt.Errorf("store audit event: %w", err)
	}

	h.logger.Debug("stored audit event",
		"event_id", eventID,
		"action", event.Action,
		"subject", event.Subject,
	)
	return nil
}
