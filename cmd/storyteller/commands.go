package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"storyteller/internal/models"

	"github.com/spf13/cobra"
)

// HistoryOptions - флаги команды history.
type HistoryOptions struct {
	*RootOptions
	Watch bool
}

// NewGenerateCommand создает команду generate.
func NewGenerateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <keywords...>",
		Short: "Generate a story from keywords and save it to your history",
		Long: `Generate a story from keywords or themes and save it to your history.

Example:
  storyteller generate brave knight, enchanted forest, mysterious treasure`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, a *app) error {
				genErr := a.orch.Generate(ctx, strings.Join(args, " "))
				if err := renderGeneration(cmd.OutOrStdout(), opts.Format, a.orch.View()); err != nil {
					return err
				}
				return genErr
			})
		},
	}
}

// NewFeedbackCommand создает команду feedback.
func NewFeedbackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <story-id> <label>",
		Short: "Rate a story with one of the feedback labels",
		Long: fmt.Sprintf(`Rate a story with a feedback label. Resubmitting replaces the previous label.

Labels: %s`, labelList()),
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := models.ParseFeedbackLabel(args[1])
			if err != nil {
				return fmt.Errorf("%w (expected one of: %s)", err, labelList())
			}
			return runSession(cmd, opts, func(ctx context.Context, a *app) error {
				submitErr := a.orch.SubmitFeedback(ctx, args[0], label)
				if err := renderMessage(cmd.OutOrStdout(), opts.Format, a.orch.View().Message); err != nil {
					return err
				}
				return submitErr
			})
		},
	}
}

// NewHistoryCommand создает команду history.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "history",
		Short:         "Show your past stories, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts.RootOptions, func(ctx context.Context, a *app) error {
				return showHistory(ctx, cmd, opts, a)
			})
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep running and print the history on every change")

	return cmd
}

// NewWhoamiCommand создает команду whoami.
func NewWhoamiCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "whoami",
		Short:         "Sign in (resume, token or anonymous) and print your user ID",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, a *app) error {
				return renderIdentity(cmd.OutOrStdout(), opts.Format, a.orch.Identity(), a.orch.View().Message)
			})
		},
	}
}

// NewSignOutCommand создает команду signout.
func NewSignOutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "signout",
		Short:         "Forget the cached identity",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.orch.SignOut(ctx); err != nil {
					return err
				}
				return renderMessage(cmd.OutOrStdout(), opts.Format, a.orch.View().Message)
			})
		},
	}
}

// runSession собирает клиент, дожидается входа и выполняет fn.
func runSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// При ошибке newApp сам освобождает то, что успел открыть
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

// showHistory ждёт первого снимка ленты и выводит его; с --watch печатает каждое изменение.
func showHistory(ctx context.Context, cmd *cobra.Command, opts *HistoryOptions, a *app) error {
	states, unsubscribe := a.orch.Subscribe()
	defer unsubscribe()

	var last []byte
	for {
		select {
		case <-ctx.Done():
			if opts.Watch {
				return nil
			}
			return ctx.Err()
		case v, ok := <-states:
			if !ok {
				return nil
			}
			if !v.AuthReady {
				continue
			}
			if v.SubjectID == "" {
				return fmt.Errorf("%w: %s", models.ErrNotAuthenticated, v.Message)
			}
			if !v.FeedLoaded && v.FeedErr == nil {
				continue
			}

			var buf bytes.Buffer
			if err := renderFeed(&buf, opts.Format, v.SubjectID, v.Feed, v.FeedErr); err != nil {
				return err
			}
			if !bytes.Equal(buf.Bytes(), last) {
				if opts.Watch && last != nil && opts.Format == "text" {
					fmt.Fprintln(cmd.OutOrStdout(), "---")
				}
				if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
					return err
				}
				last = buf.Bytes()
			}
			if !opts.Watch {
				return v.FeedErr
			}
		}
	}
}

func labelList() string {
	labels := models.FeedbackLabels()
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, string(l))
	}
	return strings.Join(out, ", ")
}
