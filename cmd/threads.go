package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List saved conversation threads",
	RunE:  runThreadsList,
}

var threadsDeleteCmd = &cobra.Command{
	Use:   "delete [thread-id]",
	Short: "Delete a conversation thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runThreadsDelete,
}

func init() {
	threadsCmd.AddCommand(threadsDeleteCmd)
	rootCmd.AddCommand(threadsCmd)
}

func runThreadsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	threads, err := a.Threads.List(ctx, 50)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		fmt.Println("No saved threads.")
		return nil
	}

	for _, t := range threads {
		fmt.Printf("%s  %4d messages  %s\n",
			t.ID, t.Messages, t.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runThreadsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid thread id %q: %w", args[0], err)
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.Threads.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Printf("Deleted thread %s.\n", id)
	return nil
}
