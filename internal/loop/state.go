package loop

import (
	"strings"

	"github.com/firebase/genkit/go/ai"
)

// metaRewritten marks user messages produced by the rewrite node, so the
// router can distinguish a reformulated question from original user input.
const metaRewritten = "rewritten"

// ConversationState is the unit of work threaded through one conversation.
// It is mutated only by loop nodes, never concurrently for the same thread.
type ConversationState struct {
	// Messages is the ordered history. Append-only within a turn; the
	// summarize node may compact it afterwards.
	Messages []*ai.Message `json:"messages"`

	// RewriteCount counts question rewrites for the current original
	// question. It is monotonically non-decreasing within a turn and
	// bounds the number of retrieval attempts.
	RewriteCount int `json:"rewrite_count"`

	// Summary holds the condensed digest of compacted-away history.
	Summary string `json:"summary,omitempty"`
}

// lastUserIndex returns the index of the most recent user message, or -1.
func (s *ConversationState) lastUserIndex() int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == ai.RoleUser {
			return i
		}
	}
	return -1
}

// LastUserMessage returns the text of the most recent user message.
func (s *ConversationState) LastUserMessage() (string, bool) {
	i := s.lastUserIndex()
	if i < 0 {
		return "", false
	}
	return s.Messages[i].Text(), true
}

// lastToolResult returns the text carried by the most recent tool result
// message. The answer node reads its context from here rather than from a
// value threaded through the loop, matching what the history records.
func (s *ConversationState) lastToolResult() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role != ai.RoleTool {
			continue
		}
		for _, part := range s.Messages[i].Content {
			if part.ToolResponse != nil {
				if text, ok := part.ToolResponse.Output.(string); ok {
					return text, true
				}
			}
		}
	}
	return "", false
}

// replaceQuestion swaps the last user message for the rewritten question
// and drops everything after it. The stale model and tool messages from the
// failed retrieval round must not influence the next routing decision.
func (s *ConversationState) replaceQuestion(question string) {
	i := s.lastUserIndex()
	if i < 0 {
		return
	}
	msg := ai.NewMessage(ai.RoleUser, map[string]any{metaRewritten: true}, ai.NewTextPart(question))
	s.Messages = append(s.Messages[:i], msg)
}

// isRewritten reports whether a message was produced by the rewrite node.
func isRewritten(msg *ai.Message) bool {
	if msg == nil || msg.Metadata == nil {
		return false
	}
	v, ok := msg.Metadata[metaRewritten].(bool)
	return ok && v
}

// messageText renders a message's text content for summarization input.
func messageText(msg *ai.Message) string {
	var sb strings.Builder
	for _, part := range msg.Content {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
