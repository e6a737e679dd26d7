package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers credential issuance and other events with
	// evidentiary weight. These need durable storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected signatures, failed verifications and
	// identity changes mid-operation.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine wallet activity. It can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string
	Category  EventCategory
	Timestamp time.Time
	Action    string
	// Subject is the DID the event is about.
	Subject      string
	Account      string
	ChainID      string
	CredentialID string
	Reason       string
	RequestID    string
	// Client is a short user agent summary of the HTTP caller.
	Client string
	IP     string
}

type AuditEvent string

const (
	// Wallet session events
	EventWalletConnected    AuditEvent = "wallet_connected"
	EventWalletDisconnected AuditEvent = "wallet_disconnected"
	EventAccountChanged     AuditEvent = "wallet_account_changed"
	EventConnectFailed      AuditEvent = "wallet_connect_failed"

	// Network events
	EventNetworkConfirmed    AuditEvent = "network_confirmed"
	EventNetworkSwitchFailed AuditEvent = "network_switch_failed"

	// Credential events
	EventCredentialIssued      AuditEvent = "credential_issued"
	EventCredentialIssueFailed AuditEvent = "credential_issue_failed"
	EventCredentialVerified    AuditEvent = "credential_verified"
	EventCredentialRejected    AuditEvent = "credential_rejected"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCredentialIssued: CategoryCompliance,

	EventCredentialIssueFailed: CategorySecurity,
	EventCredentialRejected:    CategorySecurity,
	EventAccountChanged:        CategorySecurity,
	EventConnectFailed:         CategorySecurity,

	EventWalletConnected:     CategoryOperations,
	EventWalletDisconnected:  CategoryOperations,
	EventNetworkConfirmed:    CategoryOperations,
	EventNetworkSwitchFailed: CategoryOperations,
	EventCredentialVerified:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister is implemented by stores that can be queried.
type Lister interface {
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, event Event) error

func (f StoreFunc) Append(ctx context.Context, event Event) error { return f(ctx, event) }

// Tee fans an event out to every store, returning the first error.
func Tee(stores ...Store) Store {
	return StoreFunc(func(ctx context.Context, event Event) error {
		var first error
		for _, s := range stores {
			if err := s.Append(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
