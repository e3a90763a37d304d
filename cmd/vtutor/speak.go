package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func newSpeakCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "speak <text...>",
		Short: "Say one utterance through the avatar and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("text is empty")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			built, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = built.Cleanup() }()

			if err := built.Engine.Speak(ctx, text); err != nil {
				return fmt.Errorf("speak: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "spoken")
			return nil
		},
	}
}
