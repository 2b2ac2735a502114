package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/dopamas/querygate/internal/workflow"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question of the configured databases",
	Long: `Answers one question and exits, or starts an interactive prompt when no
question is given. Every generated query is validated before it runs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().String("session", "", "session id for conversation history (default: new id)")
	askCmd.Flags().Bool("json", false, "print the full response as JSON")
	askCmd.Flags().Bool("show-query", false, "print the executed queries")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sid, _ := cmd.Flags().GetString("session")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	showQuery, _ := cmd.Flags().GetBool("show-query")
	if sid == "" {
		sid = uuid.NewString()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, newLogger(cfg.Log), true)
	if err != nil {
		return err
	}
	defer a.Close()

	ask := func(question string) error {
		resp, err := a.orch.Process(ctx, question, sid)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}
		printResponse(resp, showQuery)
		return nil
	}

	if len(args) == 1 {
		return ask(args[0])
	}

	fmt.Printf("Session %s. Press Ctrl+D to exit.\n\n", sid)
	prompt := promptui.Prompt{Label: "Question"}
	for {
		question, err := prompt.Run()
		if errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		if strings.TrimSpace(question) == "" {
			continue
		}
		if err := ask(question); err != nil {
			return err
		}
		fmt.Println()
	}
}

func printResponse(resp *workflow.Response, showQuery bool) {
	fmt.Println(resp.Text)
	if !showQuery || len(resp.Queries) == 0 {
		return
	}
	names := make([]string, 0, len(resp.Queries))
	for n := range resp.Queries {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Println()
	for _, n := range names {
		fmt.Printf("  [%s] %s\n", n, resp.Queries[n])
	}
}
