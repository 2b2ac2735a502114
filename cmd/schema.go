package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show the tables and collections querygate can query",
	Long:  `Prints the schema snapshot from the cache, or introspects the databases when the cache is empty or --refresh is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		jsonOutput, _ := cmd.Flags().GetBool("json")

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

		snap, err := a.orch.Schema(ctx, refresh)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		if snap.Empty() {
			fmt.Println("No tables or collections found.")
			return nil
		}
		fmt.Print(snap.Format(true, true))
		fmt.Printf("\n%d tables, %d collections (fetched %s)\n",
			len(snap.Tables), len(snap.Collections), snap.FetchedAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

func init() {
	schemaCmd.Flags().Bool("refresh", false, "bypass the schema cache")
	schemaCmd.Flags().Bool("json", false, "output the snapshot as JSON")
	rootCmd.AddCommand(schemaCmd)
}
