package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/dopamas/querygate/internal/progress"
	"github.com/dopamas/querygate/internal/validator"
)

var errBlocked = errors.New("one or more queries were blocked")

var validateCmd = &cobra.Command{
	Use:   "validate [query]",
	Short: "Check queries against the safety rules without running them",
	Long: `Validates a single query given as an argument, or every query in the files
matched by --file. Files may hold several queries separated by blank lines;
.json files are read as document queries. Exits non-zero when any query is
blocked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().String("dialect", string(validator.DialectRelational), "query dialect: relational or document")
	validateCmd.Flags().StringSlice("file", nil, "files or glob patterns (** supported) to validate")
	validateCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(validateCmd)
}

// queryItem is one query read from the command line or a file.
type queryItem struct {
	Source  string            `json:"source"`
	Dialect validator.Dialect `json:"dialect"`
	Query   string            `json:"query"`
	Result  validator.Result  `json:"result"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	dialect, _ := cmd.Flags().GetString("dialect")
	patterns, _ := cmd.Flags().GetStringSlice("file")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	d := validator.Dialect(dialect)
	if !d.Valid() {
		return fmt.Errorf("unknown dialect %q", dialect)
	}
	if len(args) == 0 && len(patterns) == 0 {
		return errors.New("give a query or --file")
	}

	cfg, err := loadConfigUnchecked()
	if err != nil {
		return err
	}
	v := newValidator(cfg)

	var items []queryItem
	if len(args) == 1 {
		items = append(items, queryItem{Source: "argument", Dialect: d, Query: args[0]})
	}
	files, err := expandPatterns(patterns)
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}
		items = append(items, splitQueries(f, string(data), d)...)
	}

	var reporter progress.Reporter
	if len(files) > 0 && !jsonOutput {
		reporter = progress.NewReporter("Validating")
		reporter.Start(len(items))
	}
	blocked := 0
	for i := range items {
		items[i].Result = v.Validate(items[i].Query, items[i].Dialect)
		if !items[i].Result.Safe() {
			blocked++
		}
		if reporter != nil {
			reporter.Update(i+1, items[i].Source)
		}
	}
	if reporter != nil {
		reporter.Finish()
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(items); err != nil {
			return err
		}
	} else {
		printValidation(items, blocked)
	}
	if blocked > 0 {
		return errBlocked
	}
	return nil
}

// expandPatterns resolves each pattern with doublestar and returns the
// matched files in order, without duplicates.
func expandPatterns(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", p)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	return files, nil
}

// splitQueries breaks a file into blank-line separated queries. A .json
// file is always read as document queries.
func splitQueries(path, text string, d validator.Dialect) []queryItem {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		d = validator.DialectDocument
	}
	var items []queryItem
	var block []string
	start := 0
	flush := func() {
		q := strings.TrimSpace(strings.Join(block, "\n"))
		if q != "" {
			items = append(items, queryItem{Source: fmt.Sprintf("%s:%d", path, start), Dialect: d, Query: q})
		}
		block = nil
	}
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if block == nil {
			start = i + 1
		}
		block = append(block, line)
	}
	flush()
	return items
}

func printValidation(items []queryItem, blocked int) {
	for _, it := range items {
		if it.Result.Safe() && len(items) > 1 {
			continue
		}
		fmt.Printf("%s: %s (%s)\n", it.Source, it.Result.Verdict, it.Result.Level)
		for _, t := range it.Result.Threats {
			fmt.Printf("  - %s: %s\n", t, t.Describe())
		}
	}
	if len(items) > 1 {
		fmt.Printf("\n%d queries checked, %d blocked\n", len(items), blocked)
	}
}
