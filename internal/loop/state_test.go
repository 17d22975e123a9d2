package loop

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/avolkov/ragent/internal/testutil"
)

func TestReplaceQuestionDropsStaleTail(t *testing.T) {
	state := &ConversationState{Messages: []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("first question")),
		ai.NewModelMessage(ai.NewTextPart("first answer")),
		ai.NewUserMessage(ai.NewTextPart("second question")),
		toolRequestMessage(ToolName, "c1", map[string]any{"query": "q"}),
		toolResponseMessage(ToolName, "c1", "useless context"),
	}}

	state.replaceQuestion("second question rewritten")

	if len(state.Messages) != 3 {
		t.Fatalf("messages = %d, want 3 (tail dropped)", len(state.Messages))
	}
	last := state.Messages[2]
	if last.Role != ai.RoleUser || last.Text() != "second question rewritten" {
		t.Errorf("last message = %v %q", last.Role, last.Text())
	}
	if !isRewritten(last) {
		t.Error("replacement not marked as rewritten")
	}
	if isRewritten(state.Messages[0]) {
		t.Error("original question incorrectly marked as rewritten")
	}
	if state.Messages[1].Text() != "first answer" {
		t.Error("earlier history was disturbed")
	}
}

func TestReplaceQuestionWithoutUserMessage(t *testing.T) {
	state := &ConversationState{Messages: []*ai.Message{
		ai.NewModelMessage(ai.NewTextPart("orphan answer")),
	}}
	state.replaceQuestion("anything")
	if len(state.Messages) != 1 {
		t.Errorf("messages = %d, want untouched history", len(state.Messages))
	}
}

func TestLastToolResult(t *testing.T) {
	state := &ConversationState{}
	if _, ok := state.lastToolResult(); ok {
		t.Error("empty state reported a tool result")
	}

	state.Messages = []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("question")),
		toolRequestMessage(ToolName, "c1", map[string]any{"query": "q1"}),
		toolResponseMessage(ToolName, "c1", "older context"),
		toolRequestMessage(ToolName, "c2", map[string]any{"query": "q2"}),
		toolResponseMessage(ToolName, "c2", "newer context"),
	}
	got, ok := state.lastToolResult()
	if !ok || got != "newer context" {
		t.Errorf("lastToolResult = %q, %v", got, ok)
	}
}

func TestLastUserMessage(t *testing.T) {
	state := &ConversationState{}
	if _, ok := state.LastUserMessage(); ok {
		t.Error("empty state reported a user message")
	}

	state.Messages = []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("older")),
		ai.NewModelMessage(ai.NewTextPart("answer")),
		ai.NewUserMessage(ai.NewTextPart("newest")),
	}
	if got, _ := state.LastUserMessage(); got != "newest" {
		t.Errorf("LastUserMessage = %q", got)
	}
}

func TestQueryFromInput(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"struct", SearchInput{Query: "from struct"}, "from struct"},
		{"map", map[string]any{"query": "from map"}, "from map"},
		{"map wrong key", map[string]any{"q": "ignored"}, ""},
		{"map wrong type", map[string]any{"query": 42}, ""},
		{"bare string", "bare", "bare"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queryFromInput(tt.input); got != tt.want {
				t.Errorf("queryFromInput(%v) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// The first two grading rules decide without a model call, so a bare Loop
// is enough to test them.
func TestGradeShortCircuits(t *testing.T) {
	l := &Loop{
		logger:          testutil.DiscardLogger(),
		maxRewrites:     2,
		minContextChars: 50,
	}
	longContext := "a context passage comfortably longer than the fifty character minimum"

	if got := l.grade(t.Context(), "q", longContext, 2); got != actionAnswer {
		t.Errorf("exhausted budget: got %v, want answer", got)
	}
	if got := l.grade(t.Context(), "q", "too short", 0); got != actionRewrite {
		t.Errorf("short context: got %v, want rewrite", got)
	}
	if got := l.grade(t.Context(), "q", "   \n\t  ", 0); got != actionRewrite {
		t.Errorf("whitespace context: got %v, want rewrite", got)
	}
	// Budget exhaustion wins even over empty context.
	if got := l.grade(t.Context(), "q", "", 2); got != actionAnswer {
		t.Errorf("exhausted budget with empty context: got %v, want answer", got)
	}
	// 30 Cyrillic characters occupy 60 bytes. The threshold counts
	// characters, so this context is still too short.
	cyrillic := strings.Repeat("ф", 30)
	if got := l.grade(t.Context(), "q", cyrillic, 0); got != actionRewrite {
		t.Errorf("30-rune context: got %v, want rewrite", got)
	}
}

func TestSummarizeSkipsWhenKeepExceedsHistory(t *testing.T) {
	l := &Loop{
		logger:         testutil.DiscardLogger(),
		summarizeAfter: 3,
		keepMessages:   8,
	}
	state := &ConversationState{}
	for i := range 3 {
		state.Messages = append(state.Messages,
			ai.NewUserMessage(ai.NewTextPart(fmt.Sprintf("question %d", i))),
			ai.NewModelMessage(ai.NewTextPart(fmt.Sprintf("answer %d", i))),
		)
	}

	l.summarize(t.Context(), state)

	if len(state.Messages) != 6 {
		t.Errorf("messages = %d, want 6 (untouched)", len(state.Messages))
	}
	if state.Summary != "" {
		t.Errorf("summary = %q, want empty", state.Summary)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Rate limit exceeded for project"), true},
		{errors.New("googleapi: Error 429: quota exceeded"), true},
		{errors.New("http 503 service unavailable"), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("context deadline exceeded (timeout)"), true},
		{errors.New("invalid api key"), false},
		{errors.New("model not found"), false},
	}
	for _, tt := range tests {
		if got := retryableError(tt.err); got != tt.want {
			t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
