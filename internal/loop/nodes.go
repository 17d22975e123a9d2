package loop

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"

	"github.com/avolkov/ragent/internal/knowledge"
)

type action int

const (
	actionAnswer action = iota
	actionRewrite
)

// route asks the model to either answer directly or request a knowledge
// search. Tool requests are returned to the loop instead of auto-executed,
// so retrieval, grading, and correlation stay under loop control.
func (l *Loop) route(ctx context.Context, state *ConversationState) (*ai.ModelResponse, error) {
	system := routeSystem
	if state.Summary != "" {
		system += "\n\nSummary of the earlier conversation:\n" + state.Summary
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(system),
		ai.WithMessages(state.Messages...),
		ai.WithTools(l.tool),
		ai.WithReturnToolRequests(true),
	}
	if l.modelName != "" {
		opts = append(opts, ai.WithModelName(l.modelName))
	}
	return l.generate(ctx, opts...)
}

// retrieveText queries the knowledge store and concatenates the top
// passages. A backend error becomes a diagnostic tool result instead of
// failing the turn: the grader will see the short text and trigger a
// rewrite, keeping the loop alive.
func (l *Loop) retrieveText(ctx context.Context, query string) string {
	results, err := l.retriever.Search(ctx, query, knowledge.WithTopK(l.topK))
	if err != nil {
		l.logger.Warn("retrieval failed", "query", query, "error", err)
		return fmt.Sprintf("retrieval error: %v", err)
	}
	if len(results) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		if src := r.Document.Metadata[knowledge.MetaSourcePath]; src != "" {
			fmt.Fprintf(&sb, "[%s]\n", src)
		}
		sb.WriteString(r.Document.Content)
	}
	return sb.String()
}

// gradeVerdict is the grader's structured output.
type gradeVerdict struct {
	BinaryScore string `json:"binary_score" jsonschema_description:"Exactly \"yes\" or \"no\""`
}

// grade decides whether the retrieved context is good enough to answer
// from. Decision rules in priority order:
//
//  1. Rewrite budget exhausted: answer regardless of content. This is the
//     termination guarantee.
//  2. Context shorter than the minimum threshold: rewrite without wasting
//     a grading call.
//  3. Ask the relevance grader; "yes" answers, "no" rewrites.
//  4. Grader failure: answer. The turn degrades to best effort rather
//     than failing.
func (l *Loop) grade(ctx context.Context, question, contextText string, rewriteCount int) action {
	if rewriteCount >= l.maxRewrites {
		l.logger.Debug("rewrite budget exhausted, forcing answer", "rewrites", rewriteCount)
		return actionAnswer
	}

	// Rune count, not bytes: the threshold is a character count and must
	// not double for non-ASCII context.
	if utf8.RuneCountInString(strings.TrimSpace(contextText)) < l.minContextChars {
		l.logger.Debug("context below minimum length, forcing rewrite",
			"chars", utf8.RuneCountInString(contextText))
		return actionRewrite
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(gradeSystem),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(
			fmt.Sprintf("Question: %s\n\nContext:\n%s", question, contextText)))),
		ai.WithOutputType(gradeVerdict{}),
	}
	if l.modelName != "" {
		opts = append(opts, ai.WithModelName(l.modelName))
	}

	resp, err := l.generate(ctx, opts...)
	if err != nil {
		l.logger.Warn("grader call failed, failing open to answer", "error", err)
		return actionAnswer
	}

	var verdict gradeVerdict
	if err := resp.Output(&verdict); err != nil {
		l.logger.Warn("grader output unreadable, failing open to answer", "error", err)
		return actionAnswer
	}

	if strings.EqualFold(strings.TrimSpace(verdict.BinaryScore), "yes") {
		return actionAnswer
	}
	return actionRewrite
}

// rewrite reformulates the active question and replaces it in the history,
// discarding the failed retrieval round. The rewrite counter increments
// even when the model call fails, so the loop always terminates.
func (l *Loop) rewrite(ctx context.Context, state *ConversationState) {
	question, ok := state.LastUserMessage()
	if !ok {
		state.RewriteCount++
		return
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(rewriteSystem),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(question))),
	}
	if l.modelName != "" {
		opts = append(opts, ai.WithModelName(l.modelName))
	}

	rewritten := question
	resp, err := l.generate(ctx, opts...)
	if err != nil {
		l.logger.Warn("rewrite call failed, retrying with original question", "error", err)
	} else if text := strings.TrimSpace(resp.Text()); text != "" {
		rewritten = text
	}

	state.replaceQuestion(rewritten)
	state.RewriteCount++
	l.logger.Debug("rewrote question", "rewrites", state.RewriteCount, "question", rewritten)
}

// answer produces the final response from the active question and the
// most recent tool result in the history. With no usable context it falls
// back to the question alone.
func (l *Loop) answer(ctx context.Context, state *ConversationState) (string, error) {
	question, _ := state.LastUserMessage()
	contextText, _ := state.lastToolResult()

	prompt := fmt.Sprintf("Question: %s\n\nContext:\n%s", question, contextText)
	if strings.TrimSpace(contextText) == "" {
		prompt = fmt.Sprintf("Question: %s\n\n(no context was retrieved)", question)
	}

	system := answerSystem
	if l.language != "" && !strings.EqualFold(l.language, "auto") {
		system += fmt.Sprintf("\n\nAlways respond in %s, regardless of the language of the question.", l.language)
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(system),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(prompt))),
	}
	if l.modelName != "" {
		opts = append(opts, ai.WithModelName(l.modelName))
	}

	resp, err := l.generate(ctx, opts...)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		text = fallbackAnswer
	}
	return text, nil
}

// summarize compacts long histories into a running summary plus a recent
// tail. On summarization failure the history is left intact: losing the
// literal messages without a summary would lose information permanently.
func (l *Loop) summarize(ctx context.Context, state *ConversationState) {
	if len(state.Messages) <= l.summarizeAfter {
		return
	}

	// New clamps keepMessages below summarizeAfter, but a misconfigured
	// pairing must degrade to a no-op, not a slice panic.
	cut := len(state.Messages) - l.keepMessages
	if cut <= 0 {
		return
	}

	var transcript strings.Builder
	if state.Summary != "" {
		transcript.WriteString("Current summary:\n")
		transcript.WriteString(state.Summary)
		transcript.WriteString("\n\n")
	}
	transcript.WriteString("New messages:\n")
	for _, msg := range state.Messages[:cut] {
		text := messageText(msg)
		if text == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, text)
	}

	opts := []ai.GenerateOption{
		ai.WithSystem(summarizeSystem),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(transcript.String()))),
	}
	if l.modelName != "" {
		opts = append(opts, ai.WithModelName(l.modelName))
	}

	resp, err := l.generate(ctx, opts...)
	if err != nil {
		l.logger.Warn("summarization failed, keeping full history", "error", err)
		return
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		l.logger.Warn("summarization returned empty text, keeping full history")
		return
	}

	state.Summary = summary
	tail := make([]*ai.Message, l.keepMessages)
	copy(tail, state.Messages[cut:])
	state.Messages = tail
	l.logger.Debug("compacted history", "kept", l.keepMessages)
}
