package cli

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalHandlerCancelsAndRunsCallbacks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewSignalHandler(cancel)

	var order []string
	h.OnShutdown(func() { order = append(order, "first") })
	h.OnShutdown(func() { order = append(order, "second") })

	h.StartWithNotify(false)
	defer h.Stop()

	h.signals <- syscall.SIGINT
	h.Wait()

	assert.Equal(t, []string{"first", "second"}, order)
	select {
	case <-ctx.Done():
	default:
		t.Fatal("context not cancelled")
	}
}

func TestSignalHandlerStopWithoutSignal(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	h := NewSignalHandler(cancel)
	h.StartWithNotify(false)

	done := make(chan struct{})
	go func() {
		h.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	// Shutdown never triggered.
	select {
	case <-h.shutdown:
		t.Fatal("shutdown closed without a signal")
	default:
	}
}

func TestSignalHandlerStopIsIdempotent(t *testing.T) {
	_, cancel := context.WithCancel(context.Background())
	h := NewSignalHandler(cancel)
	h.StartWithNotify(false)

	require.NotPanics(t, func() {
		h.Stop()
		h.Stop()
	})
}
