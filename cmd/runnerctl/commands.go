package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhongli1990/saas-codex/internal/client"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/transcript"
)

func newRunCmd(opts *options) *cobra.Command {
	var req domain.CreateThreadRequest
	cmd := &cobra.Command{
		Use:   "run PROMPT",
		Short: "Start a thread, submit one prompt and follow the run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := opts.client()
			threadID, err := c.CreateThread(ctx, &req)
			if err != nil {
				return err
			}
			runID, err := c.CreateRun(ctx, threadID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "thread %s, run %s\n", threadID, runID)
			return follow(ctx, opts, c, runID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&req.WorkingDirectory, "workdir", "w", "", "working directory under the workspaces root")
	cmd.Flags().StringVar(&req.Runner, "runner", "", "backend to run on (default: the runner's default)")
	cmd.Flags().BoolVar(&req.SkipGitRepoCheck, "skip-git-repo-check", false, "allow working directories outside a git repository")
	return cmd
}

func newChatCmd(opts *options) *cobra.Command {
	var req domain.CreateSessionRequest
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session: every line is a prompt on the same thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := opts.client()
			if sessionID == "" {
				session, err := c.CreateSession(ctx, &req)
				if err != nil {
					return err
				}
				sessionID = session.SessionID
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session established: %s\n", sessionID)
			fmt.Fprintln(out, "Type a prompt and press Enter to send. /quit to exit.")
			return chat(ctx, opts, c, sessionID, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVarP(&req.WorkingDirectory, "workdir", "w", "", "working directory under the workspaces root")
	cmd.Flags().StringVar(&req.RunnerType, "runner", "", "backend to run on (default: the runner's default)")
	cmd.Flags().BoolVar(&req.SkipGitRepoCheck, "skip-git-repo-check", false, "allow working directories outside a git repository")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session")
	return cmd
}

func chat(ctx context.Context, opts *options, c *client.Client, sessionID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/quit":
			fmt.Fprintln(out, "Bye!")
			return nil
		}

		resp, err := c.PromptSession(ctx, sessionID, input)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := follow(ctx, opts, c, resp.RunID, out); err != nil {
			return err
		}
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch RUN_ID",
		Short: "Attach to a run and follow it to the end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return follow(cmd.Context(), opts, opts.client(), args[0], cmd.OutOrStdout())
		},
	}
}

func newCancelCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().CancelRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}

func newTranscriptCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript RUN_ID",
		Short: "Print the normalized transcript of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := opts.client().Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
}

// follow streams a run over the selected transport. Raw mode prints every
// event as it arrives; otherwise the transcript is printed once the stream
// ends.
func follow(ctx context.Context, opts *options, c *client.Client, runID string, out io.Writer) error {
	var b transcript.Builder
	handler := func(ev json.RawMessage) error {
		if opts.raw {
			fmt.Fprintln(out, string(ev))
			return nil
		}
		b.Add(ev)
		return nil
	}

	var err error
	if opts.transport == "ws" {
		err = c.StreamWS(ctx, runID, handler)
	} else {
		err = c.StreamSSE(ctx, runID, handler)
	}
	if !opts.raw {
		printTranscript(out, b.Messages())
	}
	return err
}
