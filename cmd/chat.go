package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/avolkov/ragent/internal/loop"
)

var chatThreadID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation with the knowledge base",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatThreadID, "thread", "", "thread id to resume (default: new thread)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	threadID, state, err := resolveThread(ctx, a.Threads.Get, chatThreadID)
	if err != nil {
		return err
	}

	fmt.Printf("ragent ready. Thread %s. Type your question, or \"exit\" to quit.\n", threadID)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		turn, err := a.Loop.Run(ctx, state, input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}
		fmt.Println(turn.Answer)

		if err := a.Threads.Put(ctx, threadID, state); err != nil {
			a.Logger.Warn("persisting thread", "thread", threadID, "error", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// resolveThread parses the --thread flag and loads its state, or starts
// a fresh thread when the flag is empty.
func resolveThread(ctx context.Context, get func(context.Context, uuid.UUID) (*loop.ConversationState, error), flag string) (uuid.UUID, *loop.ConversationState, error) {
	if flag == "" {
		return uuid.New(), &loop.ConversationState{}, nil
	}
	id, err := uuid.Parse(flag)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid thread id %q: %w", flag, err)
	}
	state, err := get(ctx, id)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, state, nil
}
