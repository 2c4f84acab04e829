package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"emocall/internal/analytics"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var user, format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export call history as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != analytics.FormatCSV && format != analytics.FormatJSON {
				return fmt.Errorf("unsupported format %q (use csv or json)", format)
			}

			svc, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(svc)

			uid, err := userID(svc, user)
			if err != nil {
				return err
			}
			data, err := svc.Analytics.Export(cmd.Context(), uid, format)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), data+"\n")
				return err
			}
			if err := os.WriteFile(output, []byte(data), 0o644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User whose calls to export (defaults to the signed-in user)")
	cmd.Flags().StringVarP(&format, "format", "f", analytics.FormatCSV, "Export format: csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newAnalyticsCmd(opts *rootOptions) *cobra.Command {
	var user string
	var advanced bool
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Summarize call history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(svc)

			uid, err := userID(svc, user)
			if err != nil {
				return err
			}

			var report any
			if advanced {
				report, err = svc.Analytics.Advanced(cmd.Context(), uid)
			} else {
				report, err = svc.Analytics.Summary(cmd.Context(), uid)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User to summarize (defaults to the signed-in user)")
	cmd.Flags().BoolVar(&advanced, "advanced", false, "Include daily trend and performance metrics")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
