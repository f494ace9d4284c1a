// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/uiprobe/internal/browser/rodsession"
	"github.com/xkilldash9x/uiprobe/internal/config"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		ctx1 := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		cancel1()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		ctx2, cancel2 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		cancel2()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("SecondaryDeadline", func(t *testing.T) {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel2()
		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context outlived the operational deadline")
		}
	})

	t.Run("CancelDoesNotAffectParents", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		defer cancel1()
		ctx2, cancel2 := context.WithCancel(context.Background())
		defer cancel2()

		_, cancel := CombineContext(ctx1, ctx2)
		cancel()

		assert.NoError(t, ctx1.Err())
		assert.NoError(t, ctx2.Err())
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	parent, cancel := context.WithTimeout(context.WithValue(context.Background(), key, "tab-1"), time.Hour)
	detached := Detach(parent)
	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	_, ok := detached.Deadline()
	assert.False(t, ok)
	assert.Equal(t, "tab-1", detached.Value(key))
}

func TestNewFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	f, err := NewFactory(config.BrowserConfig{Driver: config.DriverChromedp}, logger)
	require.NoError(t, err)
	assert.IsType(t, &Manager{}, f)

	f, err = NewFactory(config.BrowserConfig{Driver: config.DriverRod}, logger)
	require.NoError(t, err)
	assert.IsType(t, &rodsession.Launcher{}, f)

	_, err = NewFactory(config.BrowserConfig{Driver: "playwright"}, logger)
	assert.ErrorContains(t, err, "playwright")
}
