package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askThreadID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askThreadID, "thread", "", "thread id to continue (default: new thread)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	threadID, state, err := resolveThread(ctx, a.Threads.Get, askThreadID)
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	turn, err := a.Loop.Run(ctx, state, question)
	if err != nil {
		return err
	}
	fmt.Println(turn.Answer)

	if err := a.Threads.Put(ctx, threadID, state); err != nil {
		a.Logger.Warn("persisting thread", "thread", threadID, "error", err)
	}
	return nil
}
