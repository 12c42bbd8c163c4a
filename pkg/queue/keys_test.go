package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/relayq/pkg/queue"
)

func TestKeys_Scheme(t *testing.T) {
	t.Parallel()

	k := queue.NewKeys("test:")

	assert.Equal(t, "test:high:billing.charge", k.Queue("billing", "charge", queue.PriorityHigh))
	assert.Equal(t, "test:normal:charge", k.Queue("", "charge", queue.PriorityNormal))
	assert.Equal(t, "test:registered", k.Registry())
	assert.Equal(t, "test:failures", k.Failures())
	assert.Equal(t, "test:system_errors", k.SystemErrors())
	assert.Equal(t, "test:dedup:abc", k.Dedup("abc"))
}

func TestKeys_DefaultPrefix(t *testing.T) {
	t.Parallel()

	k := queue.NewKeys("")
	assert.Equal(t, queue.DefaultKeyPrefix, k.Prefix)
}

func TestKeys_PriorityOf(t *testing.T) {
	t.Parallel()

	k := queue.NewKeys("test:")

	tests := []struct {
		key  string
		want queue.Priority
		ok   bool
	}{
		{"test:high:billing.charge", queue.PriorityHigh, true},
		{"test:normal:charge", queue.PriorityNormal, true},
		{"test:low:a.b", queue.PriorityLow, true},
		{"test:registered", "", false},
		{"test:failures", "", false},
		{"other:high:charge", "", false},
		{"test:urgent:charge", "", false},
	}

	for _, tt := range tests {
		p, ok := k.PriorityOf(tt.key)
		assert.Equal(t, tt.ok, ok, tt.key)
		assert.Equal(t, tt.want, p, tt.key)
	}
}
