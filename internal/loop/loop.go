// Package loop implements the self-correcting retrieval control loop: a
// user turn is routed to either a direct answer or a knowledge-base
// lookup, retrieved context is graded for relevance, irrelevant context
// triggers a bounded number of question rewrites, and long histories are
// compacted into a running summary.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/avolkov/ragent/internal/knowledge"
)

// ToolName identifies the retrieval tool offered to the router model.
const ToolName = "search_knowledge"

const (
	defaultMaxRewrites     = 2
	defaultMinContextChars = 50
	defaultSummarizeAfter  = 10
	defaultKeepMessages    = 4
	defaultTopK            = 4
	defaultTurnTimeout     = 2 * time.Minute

	// fallbackAnswer covers a model that returns empty text: the turn
	// boundary must always yield an assistant message.
	fallbackAnswer = "I could not generate an answer to that. Please try rephrasing your question."
)

var (
	ErrGenkitNil    = errors.New("loop: genkit instance is required")
	ErrRetrieverNil = errors.New("loop: retriever is required")
	ErrEmptyInput   = errors.New("loop: empty user input")
)

// Retriever is the read-only slice of the knowledge store the loop needs.
type Retriever interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// SearchInput is the retrieval tool's argument schema.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"Short keyword query, 5-8 words, in the question's language"`
}

// Config holds the loop's dependencies and tuning knobs.
type Config struct {
	Genkit    *genkit.Genkit
	Retriever Retriever
	Logger    *slog.Logger

	// ModelName is the provider-qualified model, e.g. "googleai/gemini-2.5-flash".
	ModelName string

	// Language forces answers into one language, e.g. "German".
	// Empty or "auto" answers in the language of the question.
	Language string

	// MaxRewrites bounds question reformulations per original question.
	// The loop performs at most MaxRewrites+1 retrieval attempts.
	MaxRewrites int
	// MinContextChars is the threshold below which retrieved context is
	// considered empty and forces a rewrite without a grading call.
	MinContextChars int
	// SummarizeAfter triggers history compaction once the message count
	// exceeds it.
	SummarizeAfter int
	// KeepMessages is how many recent messages survive compaction.
	KeepMessages int
	// TopK is the number of passages retrieved per query.
	TopK int
	// TurnTimeout bounds one whole turn including retries.
	TurnTimeout time.Duration

	Retry       RetryConfig
	RateLimiter *rate.Limiter
}

// Turn reports what one loop execution did.
type Turn struct {
	Answer     string
	Retrievals int
	Rewrites   int
}

// Loop runs the control loop. It is stateless across turns; all per-thread
// state lives in ConversationState.
type Loop struct {
	g         *genkit.Genkit
	retriever Retriever
	logger    *slog.Logger
	tool      ai.Tool

	modelName       string
	language        string
	maxRewrites     int
	minContextChars int
	summarizeAfter  int
	keepMessages    int
	topK            int
	turnTimeout     time.Duration

	retry   RetryConfig
	limiter *rate.Limiter
}

// New creates a Loop and registers its retrieval tool with Genkit.
func New(cfg Config) (*Loop, error) {
	if cfg.Genkit == nil {
		return nil, ErrGenkitNil
	}
	if cfg.Retriever == nil {
		return nil, ErrRetrieverNil
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRewrites <= 0 {
		cfg.MaxRewrites = defaultMaxRewrites
	}
	if cfg.MinContextChars <= 0 {
		cfg.MinContextChars = defaultMinContextChars
	}
	if cfg.SummarizeAfter <= 0 {
		cfg.SummarizeAfter = defaultSummarizeAfter
	}
	if cfg.KeepMessages <= 0 {
		cfg.KeepMessages = defaultKeepMessages
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	// Compaction must always remove at least one message, or summarize
	// would slice past the history bounds.
	if cfg.KeepMessages >= cfg.SummarizeAfter {
		cfg.KeepMessages = cfg.SummarizeAfter - 1
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(10, 30)
	}

	l := &Loop{
		g:               cfg.Genkit,
		retriever:       cfg.Retriever,
		logger:          cfg.Logger,
		modelName:       cfg.ModelName,
		language:        cfg.Language,
		maxRewrites:     cfg.MaxRewrites,
		minContextChars: cfg.MinContextChars,
		summarizeAfter:  cfg.SummarizeAfter,
		keepMessages:    cfg.KeepMessages,
		topK:            cfg.TopK,
		turnTimeout:     cfg.TurnTimeout,
		retry:           cfg.Retry,
		limiter:         cfg.RateLimiter,
	}

	l.tool = genkit.DefineTool(cfg.Genkit, ToolName,
		"Search the indexed knowledge base for passages relevant to a short keyword query.",
		func(tctx *ai.ToolContext, input SearchInput) (string, error) {
			return l.retrieveText(tctx.Context, input.Query), nil
		})

	return l, nil
}

// Run executes one user turn to completion and returns the final answer.
// The whole turn, including retries and rewrites, is bounded by the
// configured turn timeout.
func (l *Loop) Run(ctx context.Context, state *ConversationState, input string) (*Turn, error) {
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyInput
	}

	ctx, cancel := context.WithTimeout(ctx, l.turnTimeout)
	defer cancel()

	// The rewrite budget belongs to the original question of this turn.
	state.RewriteCount = 0
	state.Messages = append(state.Messages, ai.NewUserMessage(ai.NewTextPart(input)))

	turn := &Turn{}
	for {
		resp, err := l.route(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("routing turn: %w", err)
		}

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			// Direct answer, no retrieval needed.
			text := strings.TrimSpace(resp.Text())
			if text == "" {
				text = fallbackAnswer
			}
			state.Messages = append(state.Messages, ai.NewModelMessage(ai.NewTextPart(text)))
			turn.Answer = text
			break
		}

		req := requests[0]
		callID := req.Ref
		if callID == "" {
			callID = uuid.NewString()
		}
		query := queryFromInput(req.Input)
		if query == "" {
			query, _ = state.LastUserMessage()
		}

		turn.Retrievals++
		contextText := l.retrieveText(ctx, query)
		state.Messages = append(state.Messages,
			toolRequestMessage(req.Name, callID, req.Input),
			toolResponseMessage(req.Name, callID, contextText),
		)

		question, _ := state.LastUserMessage()
		if l.grade(ctx, question, contextText, state.RewriteCount) == actionAnswer {
			text, err := l.answer(ctx, state)
			if err != nil {
				return nil, fmt.Errorf("answering turn: %w", err)
			}
			state.Messages = append(state.Messages, ai.NewModelMessage(ai.NewTextPart(text)))
			turn.Answer = text
			break
		}

		l.rewrite(ctx, state)
	}

	l.summarize(ctx, state)
	turn.Rewrites = state.RewriteCount
	return turn, nil
}

// queryFromInput extracts the query string from a tool request's input,
// which arrives as a decoded JSON value.
func queryFromInput(input any) string {
	switch v := input.(type) {
	case SearchInput:
		return strings.TrimSpace(v.Query)
	case map[string]any:
		if q, ok := v["query"].(string); ok {
			return strings.TrimSpace(q)
		}
	case string:
		return strings.TrimSpace(v)
	}
	return ""
}

func toolRequestMessage(name, callID string, input any) *ai.Message {
	return ai.NewMessage(ai.RoleModel, nil, ai.NewToolRequestPart(&ai.ToolRequest{
		Name:  name,
		Ref:   callID,
		Input: input,
	}))
}

func toolResponseMessage(name, callID string, output string) *ai.Message {
	return ai.NewMessage(ai.RoleTool, nil, ai.NewToolResponsePart(&ai.ToolResponse{
		Name:   name,
		Ref:    callID,
		Output: output,
	}))
}
