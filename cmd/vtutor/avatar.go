package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/vtutor/internal/protocol"
	"github.com/ent0n29/vtutor/internal/vtube"
)

func newHotkeysCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hotkeys",
		Short: "List hotkeys of the loaded model and the configured expressions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = built.Cleanup() }()

			hotkeys, err := built.Connector.Hotkeys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list hotkeys: %w", err)
			}
			writeHotkeys(cmd.OutOrStdout(), hotkeys, built.Connector.Expressions())
			return nil
		},
	}
}

func newParamsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "Show the custom parameters and their live values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			built, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = built.Cleanup() }()

			live, err := built.Connector.LiveParameterValues(cmd.Context())
			if err != nil {
				return fmt.Errorf("read parameters: %w", err)
			}
			writeParams(cmd.OutOrStdout(), built.Connector.Registry().Descriptors(), live)
			return nil
		},
	}
}

func writeHotkeys(out io.Writer, hotkeys []protocol.Hotkey, expressions []string) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tID")
	for _, h := range hotkeys {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Name, h.Type, h.HotkeyID)
	}
	_ = tw.Flush()
	if len(expressions) > 0 {
		fmt.Fprintf(out, "\nexpressions: %v\n", expressions)
	}
}

func writeParams(out io.Writer, descriptors []vtube.Descriptor, live map[string]float64) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMIN\tMAX\tDEFAULT\tLIVE")
	for _, d := range descriptors {
		value := "-"
		if v, ok := live[d.Name]; ok {
			value = strconv.FormatFloat(v, 'f', -1, 64)
		}
		fmt.Fprintf(tw, "%s\t%g\t%g\t%g\t%s\n", d.Name, d.Min, d.Max, d.Default, value)
	}
	_ = tw.Flush()
}
