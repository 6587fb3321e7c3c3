package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucialabs/lucia/internal/application/usecases"
	"github.com/lucialabs/lucia/internal/domain/models"
)

// chatCmd runs an interactive conversation loop on one session
func chatCmd() *cobra.Command {
	var (
		userID string
		locale string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with Lucía",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Close()

			fmt.Println("Lucía está lista. Escribe 'salir' para terminar.")
			fmt.Println()

			sessionID := ""
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				if text == "salir" || text == "exit" || text == "quit" {
					break
				}

				response, err := eng.turns.Execute(ctx, &usecases.TurnInput{
					SessionID: sessionID,
					UserID:    userID,
					Text:      text,
					Locale:    locale,
				})
				if err != nil {
					fmt.Printf("[error] %v\n", err)
					continue
				}
				sessionID = response.SessionID

				fmt.Println(response.ResponseText)
				if response.State == models.SessionStateWaitingSlots {
					continue
				}
				if response.Execution != nil {
					fmt.Printf("  (tracker %s)\n", response.Execution.TrackerID)
				}
			}

			if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
				return err
			}
			if sessionID != "" {
				if err := eng.sessions.End(ctx, sessionID); err != nil {
					logger.Warn("failed to end session", "session_id", sessionID, "error", err)
				}
			}
			fmt.Println("Hasta luego.")
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "user identifier")
	cmd.Flags().StringVar(&locale, "locale", "es-ES", "response locale")
	return cmd
}
