package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
)

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"", "0 */6 * * *", "@daily", "@every 90m"} {
		assert.NoError(t, ParseSchedule(spec), spec)
	}
	for _, spec := range []string{"every tuesday", "61 * * * *", "* * *"} {
		assert.Error(t, ParseSchedule(spec), spec)
	}
}

func TestScheduler_Reschedule(t *testing.T) {
	s := NewScheduler(func(context.Context) error { return nil }, 0)
	defer s.Stop()

	assert.Empty(t, s.Spec())
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Reschedule("@hourly"))
	assert.Equal(t, "@hourly", s.Spec())

	s.Start()
	require.Eventually(t, func() bool {
		return !s.Next().IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	err := s.Reschedule("not a schedule")
	assert.Error(t, err)
	assert.Equal(t, "@hourly", s.Spec(), "invalid spec must keep the current schedule")

	require.NoError(t, s.Reschedule(""))
	assert.Empty(t, s.Spec())
	assert.True(t, s.Next().IsZero())
}

func TestScheduler_RunsChecks(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("scheduled check has no deadline")
		}
		calls.Add(1)
		return coordinator.ErrBusy
	}, time.Second)

	require.NoError(t, s.Reschedule("@every 1s"))
	s.Start()

	require.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	after := calls.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no checks after Stop")
}
