package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/orcd/internal/logtail"
)

func newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <project-id> <worker-id>",
		Short: "Tail a worker's agent log as canonical events",
		Long: `Tail streams a worker's JSONL agent log, decoded into orcd's canonical
event shapes (assistant, tool_use, result, error, system, raw), following
the file as the worker container appends to it. Press Ctrl+C to stop.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openStore()
			if err != nil {
				return err
			}
			path := reg.LogPath(args[0], args[1])

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			ch, err := logtail.StartTail(ctx, path)
			if err != nil {
				return fmt.Errorf("tail %s: %w", path, err)
			}
			for ev := range ch {
				printEvent(ev)
			}
			return nil
		},
	}
}

func printEvent(ev logtail.Event) {
	switch ev.Type {
	case "assistant":
		fmt.Printf("[assistant] %s\n", ev.Text)
	case "tool_use":
		fmt.Printf("[tool] %s: %s\n", ev.Tool, ev.Input)
	case "result":
		fmt.Printf("[result] %s cost=%.4f turns=%d\n", ev.Subtype, ev.Cost, ev.Turns)
	case "error":
		fmt.Printf("[error] %s\n", ev.Error)
	case "system":
		fmt.Printf("[system] %s\n", ev.Text)
	default:
		fmt.Printf("[raw] %s\n", ev.Text)
	}
}
