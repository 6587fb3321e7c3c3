package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucialabs/lucia/internal/adapters/registry"
)

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and validate the declarative registries",
	}
	cmd.AddCommand(registryValidateCmd(), registryShowCmd())
	return cmd
}

// registryValidateCmd loads all three registry files and reports the first
// problem, exiting non-zero on failure.
func registryValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the intent, tool, and jury registry files",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := registry.NewManager(
				cfg.Registries.IntentsPath, cfg.Registries.ToolsPath, cfg.Registries.JuryPath)
			if err != nil {
				return err
			}
			fmt.Printf("intents: %s (%d entries)\n", m.Intents().Version(), len(m.Intents().All()))
			fmt.Printf("tools:   %s (%d actions)\n", m.Tools().Version(), len(m.Tools().Actions()))
			fmt.Printf("jury:    %s (%d jurors)\n", m.Jury().Version(), len(m.Jury().Roster()))
			fmt.Println("OK")
			return nil
		},
	}
}

func registryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the loaded registry contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := registry.NewManager(
				cfg.Registries.IntentsPath, cfg.Registries.ToolsPath, cfg.Registries.JuryPath)
			if err != nil {
				return err
			}

			fmt.Println("Intents:")
			for _, def := range m.Intents().All() {
				kind := "informational"
				if def.ToolAction != "" {
					kind = def.ToolAction
				}
				fmt.Printf("  %-28s %-28s slots=%v\n", def.ID, kind, def.RequiredSlots)
			}

			fmt.Println("\nTool actions:")
			for _, action := range m.Tools().Actions() {
				fmt.Printf("  %-28s plugin=%s transport=%s\n",
					action.Name, action.Plugin(), action.Transport)
			}

			fmt.Println("\nJury roster:")
			roster, skipped := m.ActiveRoster(os.LookupEnv)
			for _, spec := range roster {
				fmt.Printf("  %-20s provider=%s model=%s weight=%.2f\n",
					spec.ID, spec.Provider, spec.Model, spec.Weight)
			}
			for id, reason := range skipped {
				fmt.Printf("  %-20s SKIPPED (%s)\n", id, reason)
			}
			return nil
		},
	}
}
