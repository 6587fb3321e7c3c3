package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucialabs/lucia/internal/application/usecases"
)

// resolveCmd processes a single utterance and prints the outcome
func resolveCmd() *cobra.Command {
	var (
		sessionID string
		userID    string
		locale    string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "resolve [utterance]",
		Short: "Resolve one utterance into an intent and run its actions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			response, err := eng.turns.Execute(ctx, &usecases.TurnInput{
				SessionID: sessionID,
				UserID:    userID,
				Text:      strings.Join(args, " "),
				Locale:    locale,
			})
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(response)
			}

			fmt.Println(response.ResponseText)
			fmt.Printf("\nsession: %s  state: %s\n", response.SessionID, response.State)
			if response.Consensus != nil {
				fmt.Printf("intent: %s (%.2f, %s agreement, %d/%d votes)\n",
					response.Consensus.Intent, response.Consensus.Confidence,
					response.Consensus.Agreement,
					response.Consensus.VotesValid, response.Consensus.VotesCast)
			}
			if response.Execution != nil {
				fmt.Printf("tracker: %s  levels: %d\n",
					response.Execution.TrackerID, len(response.Execution.PlanLevels))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	cmd.Flags().StringVar(&userID, "user", "cli", "user identifier")
	cmd.Flags().StringVar(&locale, "locale", "es-ES", "response locale")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}
