package trigger_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.nownabe.dev/salesetl/trigger"
)

func testPolicy(schedule string, retries int) trigger.Policy {
	return trigger.Policy{
		Schedule:   schedule,
		Retries:    retries,
		RetryDelay: time.Millisecond,
	}
}

func TestFire_RetriesOnceAfterFailure(t *testing.T) {
	var calls int32
	run := func(context.Context) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("destination unreachable")
		}
		return nil
	}

	tr, err := trigger.New(run, testPolicy("@daily", 1), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, tr.Fire(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFire_GivesUpAfterRetries(t *testing.T) {
	var calls int32
	errLoad := errors.New("load failed")
	run := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errLoad
	}

	tr, err := trigger.New(run, testPolicy("@daily", 1), zerolog.Nop())
	require.NoError(t, err)

	err = tr.Fire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errLoad)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestFire_NoRetries(t *testing.T) {
	var calls int32
	run := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}

	tr, err := trigger.New(run, testPolicy("@daily", 0), zerolog.Nop())
	require.NoError(t, err)

	require.Error(t, tr.Fire(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestFire_SuccessDoesNotRetry(t *testing.T) {
	var calls int32
	run := func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	tr, err := trigger.New(run, testPolicy("@daily", 3), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, tr.Fire(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestNew_Invalid(t *testing.T) {
	run := func(context.Context) error { return nil }

	_, err := trigger.New(run, testPolicy("not a schedule", 1), zerolog.Nop())
	assert.Error(t, err)

	_, err = trigger.New(run, testPolicy("@daily", -1), zerolog.Nop())
	assert.Error(t, err)

	_, err = trigger.New(nil, testPolicy("@daily", 1), zerolog.Nop())
	assert.Error(t, err)
}

func TestNext_Daily(t *testing.T) {
	tr, err := trigger.New(func(context.Context) error { return nil }, trigger.DefaultPolicy(), zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2023, 1, 1, 13, 30, 0, 0, time.UTC)
	assert.True(t, tr.Next(now).Equal(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestStart_RunsAndStops(t *testing.T) {
	ran := make(chan struct{}, 10)
	run := func(context.Context) error {
		ran <- struct{}{}
		return nil
	}

	tr, err := trigger.New(run, testPolicy("@every 1s", 0), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not invoked")
	}

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not stop")
	}
}
