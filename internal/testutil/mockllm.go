package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM provides deterministic model responses for testing the
// conversation loop. It matches the last user message against registered
// patterns and returns the corresponding canned response, which may be
// plain text, a JSON document (for structured-output calls), or a set of
// tool requests.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu       sync.Mutex
	rules    []mockRule
	fallback string
	calls    []MockCall
}

type mockRule struct {
	pattern       string            // substring match in user message, lowercased
	systemPattern string            // optional substring match in system text, lowercased
	response      string            // text response
	tools         []*ai.ToolRequest // tool calls to request (nil = text only)
}

// MockCall records a single call to the mock model.
type MockCall struct {
	UserMessage  string // last user message text
	Response     string // response text returned
	ToolRequests int    // number of tool requests emitted
}

// NewMockLLM creates a mock model with the given fallback response,
// returned when no registered pattern matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair. When the last user message
// contains the pattern (case-insensitive), the response is returned.
// Patterns are checked in registration order; first match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// AddResponseWhen registers a response gated on both the system prompt and
// the user message. Components issue calls that differ only in their system
// instructions; the system pattern tells them apart.
func (m *MockLLM) AddResponseWhen(systemPattern, userPattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern:       strings.ToLower(userPattern),
		systemPattern: strings.ToLower(systemPattern),
		response:      response,
	})
}

// AddJSONResponseWhen is AddResponseWhen with a JSON-encoded response body,
// for calls made with structured output.
func (m *MockLLM) AddJSONResponseWhen(t *testing.T, systemPattern, userPattern string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling mock response: %v", err)
	}
	m.AddResponseWhen(systemPattern, userPattern, string(data))
}

// AddJSONResponse registers a pattern whose response is the JSON encoding
// of v. Use this for calls made with structured output, e.g. the relevance
// grader's verdict type.
func (m *MockLLM) AddJSONResponse(t *testing.T, pattern string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling mock response: %v", err)
	}
	m.AddResponse(pattern, string(data))
}

// AddToolResponse registers a pattern that triggers tool requests.
func (m *MockLLM) AddToolResponse(pattern string, tools []*ai.ToolRequest, textResponse string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{
		pattern:  strings.ToLower(pattern),
		response: textResponse,
		tools:    tools,
	})
}

// Calls returns a copy of all recorded calls.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Reset clears recorded calls, keeping registered rules.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// RegisterModel registers the mock as a Genkit model named "mock/test-model".
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			Tools:      true,
			SystemRole: true,
			Media:      false,
		},
	}, m.generate)
}

func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText, systemText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		switch req.Messages[i].Role {
		case ai.RoleUser:
			if userText == "" {
				userText = req.Messages[i].Text()
			}
		case ai.RoleSystem:
			if systemText == "" {
				systemText = req.Messages[i].Text()
			}
		}
	}

	m.mu.Lock()
	var matched *mockRule
	lowerUser := strings.ToLower(userText)
	lowerSystem := strings.ToLower(systemText)
	for i := range m.rules {
		r := &m.rules[i]
		if r.systemPattern != "" && !strings.Contains(lowerSystem, r.systemPattern) {
			continue
		}
		if strings.Contains(lowerUser, r.pattern) {
			matched = r
			break
		}
	}

	responseText := m.fallback
	toolCount := 0
	if matched != nil {
		responseText = matched.response
		toolCount = len(matched.tools)
	}

	m.calls = append(m.calls, MockCall{
		UserMessage:  userText,
		Response:     responseText,
		ToolRequests: toolCount,
	})
	m.mu.Unlock()

	if cb != nil {
		_ = cb(ctx, &ai.ModelResponseChunk{
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		})
	}

	var parts []*ai.Part
	if matched != nil {
		for _, tr := range matched.tools {
			parts = append(parts, &ai.Part{
				Kind:        ai.PartToolRequest,
				ToolRequest: tr,
			})
		}
	}
	parts = append(parts, ai.NewTextPart(responseText))

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: parts,
		},
	}, nil
}
