package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientEnabled(t *testing.T) {
	assert.False(t, NewClient(nil).Enabled())
	assert.True(t, NewClient([]string{"localhost:9092"}).Enabled())
}

func TestNewWriterTargetsTopic(t *testing.T) {
	w := NewClient([]string{"localhost:9092"}).NewWriter("orders.events")
	assert.Equal(t, "orders.events", w.Topic)
}

func TestNewMessageSortsHeaders(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	msg := NewMessage("order-1", []byte(`{}`), map[string]string{"event_type": "order.paid", "event_id": "e1"}, at)

	assert.Equal(t, []byte("order-1"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "event_id", msg.Headers[0].Key)
	assert.Equal(t, "event_type", msg.Headers[1].Key)
	assert.Equal(t, time.UTC, msg.Time.Location())
}
