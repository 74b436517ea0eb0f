// Command runnerctl submits prompts to a runner and prints the resulting
// transcript.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/zhongli1990/saas-codex/internal/client"
)

type options struct {
	addr      string
	transport string
	raw       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "runnerctl",
		Short:         "Drive agent runs from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.transport != "sse" && opts.transport != "ws" {
				return fmt.Errorf("--transport must be sse or ws, got %q", opts.transport)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", envOr("RUNNER_ADDR", "http://localhost:8081"), "runner base URL")
	root.PersistentFlags().StringVar(&opts.transport, "transport", "sse", "event transport: sse or ws")
	root.PersistentFlags().BoolVar(&opts.raw, "raw", false, "print raw events instead of the transcript")

	root.AddCommand(
		newRunCmd(opts),
		newChatCmd(opts),
		newWatchCmd(opts),
		newCancelCmd(opts),
		newTranscriptCmd(opts),
	)
	return root
}

func (o *options) client() *client.Client {
	return client.New(o.addr)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
