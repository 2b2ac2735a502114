package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show or clear the conversation history of a session",
	Long:  `Prints the stored question and answer pairs for a session. History is only kept across runs with the sqlite cache backend.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearAll, _ := cmd.Flags().GetBool("clear")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()
		a, err := buildApp(ctx, cfg, newLogger(cfg.Log), false)
		if err != nil {
			return err
		}
		defer a.Close()

		if clearAll {
			if err := a.orch.ClearHistory(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Cleared history for %s\n", args[0])
			return nil
		}

		hist, err := a.orch.History(ctx, args[0])
		if err != nil {
			return err
		}
		if len(hist) == 0 {
			fmt.Println("No history for this session.")
			return nil
		}
		for i, ex := range hist {
			fmt.Printf("%d. [%s]\n   Q: %s\n   A: %s\n", i+1, ex.Timestamp.Format("2006-01-02 15:04:05"), ex.User, ex.Assistant)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("clear", false, "delete the session history")
	rootCmd.AddCommand(historyCmd)
}
