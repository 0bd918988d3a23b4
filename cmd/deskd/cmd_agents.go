package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// agentsCmd inspects the agent surface: builtin names plus currently cached
// dynamic definitions.
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect the agent surface",
	RunE:  listAgents,
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known agents",
	RunE:  listAgents,
}

func listAgents(cmd *cobra.Command, args []string) error {
	app, err := buildApp(cmd.Context(), loadedConfig)
	if err != nil {
		return err
	}
	defer app.close()

	for _, name := range app.loader.Known() {
		fmt.Println(name)
	}
	fmt.Printf("\ndefinitions dir: %s\n", loadedConfig.Agents.DefinitionsDir)
	return nil
}

var recentLimit int

// recentCmd shows the interaction log, newest first.
var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show recent orchestrated interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd.Context(), loadedConfig)
		if err != nil {
			return err
		}
		defer app.close()

		interactions, err := app.store.RecentInteractions(cmd.Context(), recentLimit)
		if err != nil {
			return err
		}
		for _, it := range interactions {
			status := "ok"
			if !it.Success {
				status = "failed"
			}
			fmt.Printf("%s  %-16s %-6s %5dms  %s\n",
				it.CreatedAt.Format("2006-01-02 15:04:05"),
				it.Intent, status, it.DurationMs, it.Utterance)
		}
		return nil
	},
}

func init() {
	agentsCmd.AddCommand(agentsListCmd)
	recentCmd.Flags().IntVar(&recentLimit, "limit", 20, "number of interactions to show")
}
