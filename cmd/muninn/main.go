// Package main provides the Muninn CLI entry point.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/inhibit"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/query"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - Code Knowledge Graph Retrieval Engine",
		Long: `Muninn is an in-memory knowledge-graph retrieval engine for code
understanding. It ranks files, functions and concepts by spreading
activation, learns which results belong together, and suppresses
paths that repeatedly led to failures.

Features:
  • Spreading-activation ranking over the code graph
  • Hebbian co-retrieval learning with natural decay
  • Inhibitory learning from recorded failures
  • Bi-temporal relationship tracking
  • Byte-budgeted query cache with path invalidation`,
	}

	rootCmd.PersistentFlags().String("config", getEnvStr("MUNINN_CONFIG", ""), "Path to YAML config file")
	rootCmd.PersistentFlags().String("data-dir", getEnvStr("MUNINN_DATA_DIR", ""), "Snapshot directory (empty = memory only)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start an interactive query session",
		Long:  "Start Muninn with an interactive prompt. Plain lines are queries; commands start with a dot.",
		RunE:  runServe,
	})

	queryCmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a single query and print results as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
	queryCmd.Flags().Int("limit", 10, "Maximum number of results")
	queryCmd.Flags().Bool("no-cache", false, "Bypass the query cache")
	queryCmd.Flags().Bool("linear", false, "Use the linear ranker instead of spreading activation")
	rootCmd.AddCommand(queryCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print engine statistics as JSON",
		RunE:  runStats,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "muninn: %v\n", err)
		os.Exit(1)
	}
}

func getEnvStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openEngine(cmd *cobra.Command) (*muninn.Engine, error) {
	configPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return muninn.Open(dataDir, cfg)
}

func runQuery(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	linear, _ := cmd.Flags().GetBool("linear")

	opts := query.DefaultOptions()
	opts.Limit = limit
	opts.BypassCache = noCache
	opts.UseLinearRanker = linear

	result, err := engine.Query(cmd.Context(), strings.Join(args, " "), &opts)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runStats(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	return printJSON(engine.Stats())
}

func runServe(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n👋 shutting down")
		cancel()
	}()

	fmt.Println("Muninn interactive session. Type a query, or .help for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("muninn> ")
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, engine, strings.TrimSpace(line)); err != nil {
				if err == errQuit {
					return nil
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func handleLine(ctx context.Context, engine *muninn.Engine, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, ".") {
		result, err := engine.Query(ctx, line, nil)
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case ".help":
		fmt.Println(`Commands:
  .stats                     engine statistics
  .analyze [n]               hub nodes, strong pairs, calibration
  .fail <task> <category> <path...>
                             record a task failure (inhibitory learning)
  .invalidate <path...>      drop cached results for paths
  .quit                      exit

Anything else is a query. Prefixes: graph:, temporal:, aggregate:.`)
	case ".stats":
		return printJSON(engine.Stats())
	case ".analyze":
		return printJSON(engine.Analyze(ctx, 10))
	case ".fail":
		if len(fields) < 4 {
			return fmt.Errorf(".fail expects <task> <category> <path...>")
		}
		pattern := engine.LearnFromFailure(fields[1], inhibit.ErrorDetails{Category: fields[2]}, fields[3:], "")
		if pattern == nil {
			return fmt.Errorf("nothing learned")
		}
		fmt.Printf("🚫 pattern %s strength %.2f\n", pattern.ID, pattern.Strength)
	case ".invalidate":
		if len(fields) < 2 {
			return fmt.Errorf(".invalidate expects at least one path")
		}
		n := engine.InvalidatePaths(fields[1:])
		fmt.Printf("🗑  dropped %d cached results\n", n)
	case ".quit", ".exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %s (try .help)", fields[0])
	}
	return nil
}

func printResult(result *query.Result) {
	if len(result.Candidates) == 0 {
		fmt.Println("no results")
		return
	}
	source := ""
	if result.FromCache {
		source = " (cached)"
	}
	fmt.Printf("%d of %d results via %s in %s%s\n", len(result.Candidates), result.TotalMatches, result.Route, result.Duration, source)
	for i, c := range result.Candidates {
		path := c.Node.Path
		if path == "" {
			path = string(c.Node.ID)
		}
		fmt.Printf("%2d. %-40s score=%.3f conf=%.3f\n", i+1, path, c.Score, c.FinalConfidence)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
