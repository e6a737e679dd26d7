// Package kafka builds the franz-go producer client used by the audit sink.
package kafka

import (
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// NewProducer returns a client for brokers with idempotent writes and a
// bounded produce timeout. Returns nil when no brokers are configured.
func NewProducer(brokers []string, clientID string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	for _, b := range brokers {
		if b == "" {
			return nil, errors.New("kafka: empty broker address")
		}
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProduceRequestTimeout(10*time.Second),
		kgo.RecordDeliveryTimeout(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return client, nil
}
