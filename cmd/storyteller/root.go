package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions - глобальные флаги всех команд.
type RootOptions struct {
	EnvFile string
	Verbose bool
	Format  string // "text" | "json"
}

// ValidFormats - допустимые форматы вывода.
var ValidFormats = []string{"text", "json"}

// NewRootCommand создает корневую команду CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "storyteller",
		Short: "Storyteller - keyword-driven story generator client",
		Long: `Generate short stories from keywords, keep a personal history of them
and rate each story with a feedback label.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "path to .env file (default: ./.env if present)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewGenerateCommand(opts))
	cmd.AddCommand(NewFeedbackCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewWhoamiCommand(opts))
	cmd.AddCommand(NewSignOutCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
