package events

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryEventEmitter(t *testing.T) {
	log := logger.Discard()

	t.Run("emit event with no handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(log)
		event, err := NewEvent(TypeResultTerminal, ResultTerminal{Status: "FAILED"})
		require.NoError(t, err)

		// Should not error even with no handlers
		assert.NoError(t, emitter.EmitEvent(context.Background(), event))
	})

	t.Run("emit event with successful handlers", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(log)

		handler1 := &MockEventHandler{}
		handler2 := &MockEventHandler{}
		other := &MockEventHandler{}

		emitter.RegisterHandler(TypeResultTerminal, handler1)
		emitter.RegisterHandler(TypeResultTerminal, handler2)
		emitter.RegisterHandler("other", other)

		event, err := NewEvent(TypeResultTerminal, ResultTerminal{Status: "COMPLETED"})
		require.NoError(t, err)

		require.NoError(t, emitter.EmitEvent(context.Background(), event))

		assert.Equal(t, 1, handler1.HandledCount)
		assert.Equal(t, 1, handler2.HandledCount)
		assert.Equal(t, event, handler1.LastEvent)
		assert.Equal(t, event, handler2.LastEvent)
		assert.Zero(t, other.HandledCount, "handlers only see their own type")
	})

	t.Run("emit event with failing handler", func(t *testing.T) {
		emitter := NewInMemoryEventEmitter(log)

		failingHandler := &MockEventHandler{HandlerError: errors.New("handler error")}
		successHandler := &MockEventHandler{}

		emitter.RegisterHandler(TypeResultTerminal, failingHandler)
		emitter.RegisterHandler(TypeResultTerminal, successHandler)

		event, err := NewEvent(TypeResultTerminal, ResultTerminal{Status: "COMPLETED"})
		require.NoError(t, err)

		err = emitter.EmitEvent(context.Background(), event)
		assert.EqualError(t, err, "handler error")

		// Both handlers should still have received the event
		assert.Equal(t, 1, successHandler.HandledCount)
		assert.Equal(t, 1, failingHandler.HandledCount)
	})
}
