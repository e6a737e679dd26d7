package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerWithoutBrokers(t *testing.T) {
	client, err := NewProducer(nil, "didvault")
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewProducerRejectsEmptyBroker(t *testing.T) {
	_, err := NewProducer([]string{"localhost:9092", ""}, "didvault")
	assert.Error(t, err)
}

func TestNewProducer(t *testing.T) {
	client, err := NewProducer([]string{"localhost:9092"}, "didvault")
	require.NoError(t, err)
	client.Close()
}
