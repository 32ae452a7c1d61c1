package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusCompleted, true},
		{StatusPending, StatusCancelled, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusShipped, StatusCancelled, true},

		{StatusPending, StatusShipped, false},
		{StatusPending, StatusCompleted, false},
		{StatusShipped, StatusProcessing, false},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusPending, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, Status("lost").IsValid())
}

func TestRemainingSeconds(t *testing.T) {
	created := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		now     time.Time
		want    int
		expired bool
	}{
		{name: "just created", now: created, want: 1800},
		{name: "ten minutes in", now: created.Add(10 * time.Minute), want: 1200},
		{name: "partial second truncates", now: created.Add(10*time.Minute + 300*time.Millisecond), want: 1199},
		{name: "exactly at deadline", now: created.Add(30 * time.Minute), want: 0, expired: true},
		{name: "long after deadline", now: created.Add(48 * time.Hour), want: 0, expired: true},
		{name: "clock skew", now: created.Add(-time.Minute), want: 1800},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RemainingSeconds(created, tt.now)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
			assert.Equal(t, tt.expired, PaymentExpired(created, tt.now))
		})
	}
}
