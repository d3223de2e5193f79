package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Policy{MaxRetries: 2, BaseDelay: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	var retried []int
	p := Policy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		OnRetry:    func(attempt int, err error) { retried = append(retried, attempt) },
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	calls := 0
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("attempt " + string(rune('0'+calls)))
	})

	require.Error(t, err)
	assert.Equal(t, "attempt 3", err.Error())
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, p.Attempts())
}

func TestDoBacksOffExponentially(t *testing.T) {
	var stamps []time.Time
	p := Policy{MaxRetries: 2, BaseDelay: 20 * time.Millisecond}

	_ = p.Do(context.Background(), func(context.Context) error {
		stamps = append(stamps, time.Now())
		return errors.New("fail")
	})

	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 40*time.Millisecond)
}

func TestDoZeroRetries(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxRetries: 5, BaseDelay: time.Hour}

	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 300*time.Millisecond, p.BaseDelay)
}

func TestIsZero(t *testing.T) {
	assert.True(t, Policy{}.IsZero())
	assert.True(t, Policy{OnRetry: func(int, error) {}}.IsZero())
	assert.False(t, Policy{MaxRetries: 1}.IsZero())
	assert.False(t, Policy{BaseDelay: time.Millisecond}.IsZero())
	assert.False(t, Default().IsZero())
}
