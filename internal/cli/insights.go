package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newInsightsCmd(opts *rootOptions) *cobra.Command {
	var user, emotion string
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Generate coaching insights from call history",
		Long: `Generate three coaching insights from the user's call analytics.
With --emotion, ask for a recommendation for handling that emotion instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(svc)
			out := cmd.OutOrStdout()

			if emotion != "" {
				reply, err := svc.Insights.EmotionRecommendation(cmd.Context(), emotion)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
				return nil
			}

			uid, err := userID(svc, user)
			if err != nil {
				return err
			}
			report, err := svc.Analytics.Advanced(cmd.Context(), uid)
			if err != nil {
				return err
			}
			data, err := json.Marshal(report)
			if err != nil {
				return fmt.Errorf("encoding analytics: %w", err)
			}

			for i, insight := range svc.Insights.GenerateInsights(cmd.Context(), string(data)) {
				fmt.Fprintf(out, "%d. %s (%.0f%%)\n", i+1, insight.Title, insight.Confidence*100)
				if insight.Description != "" {
					fmt.Fprintf(out, "   %s\n", insight.Description)
				}
				if insight.Recommendation != "" {
					fmt.Fprintf(out, "   → %s\n", insight.Recommendation)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User to analyze (defaults to the signed-in user)")
	cmd.Flags().StringVar(&emotion, "emotion", "", "Recommend how to handle this customer emotion")
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <prompt>",
		Short: "Ask the assistant a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeServices(svc)

			reply, err := svc.Insights.Chat(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}
