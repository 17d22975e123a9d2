package cmd

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/avolkov/ragent/internal/loop"
)

func TestResolveThread(t *testing.T) {
	known := uuid.New()
	stored := &loop.ConversationState{
		Messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart("hi"))},
	}
	get := func(_ context.Context, id uuid.UUID) (*loop.ConversationState, error) {
		if id == known {
			return stored, nil
		}
		return &loop.ConversationState{}, nil
	}

	t.Run("empty flag starts a new thread", func(t *testing.T) {
		id, state, err := resolveThread(context.Background(), get, "")
		if err != nil {
			t.Fatalf("resolveThread: %v", err)
		}
		if id == uuid.Nil {
			t.Error("new thread got the nil id")
		}
		if len(state.Messages) != 0 {
			t.Error("new thread state is not empty")
		}
	})

	t.Run("known id loads stored state", func(t *testing.T) {
		id, state, err := resolveThread(context.Background(), get, known.String())
		if err != nil {
			t.Fatalf("resolveThread: %v", err)
		}
		if id != known {
			t.Errorf("id = %s, want %s", id, known)
		}
		if len(state.Messages) != 1 {
			t.Errorf("messages = %d, want stored history", len(state.Messages))
		}
	})

	t.Run("malformed id is rejected", func(t *testing.T) {
		if _, _, err := resolveThread(context.Background(), get, "not-a-uuid"); err == nil {
			t.Error("malformed thread id accepted")
		}
	})
}
