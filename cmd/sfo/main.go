package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"sfo-go/internal/app"
	"sfo-go/internal/classify"
	"sfo-go/internal/config"
	"sfo-go/internal/dedup"
	"sfo-go/internal/sfo"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Organize", "Undo").
func newApp(ctx context.Context, operation string, args []string, opts app.Options) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opts.Operation = operation
	opts.Args = fmt.Sprint(args)
	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "sfo",
	Short:        "Smart file organizer",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := app.DefaultConfig()
		if err != nil {
			return fmt.Errorf("failed to build default config: %w", err)
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Watching:  %v\n", cfg.Watcher.Directories)
		fmt.Printf("Organized: %s\n", cfg.Organization.BaseDirectory)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the configured folders and organize new files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "Run", args, app.Options{Console: os.Stderr})
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Watching %v (Ctrl+C to stop)\n", a.Config().Watcher.Directories)
		return a.Run(ctx)
	},
}

// organize command
var organizeCmd = &cobra.Command{
	Use:   "organize DIR",
	Short: "Organize the files already in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp(cmd.Context(), "Organize", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if dryRun {
			plan, err := a.PlanDirectory(cmd.Context(), args[0], recursive)
			if err != nil {
				return err
			}
			if len(plan) == 0 {
				fmt.Println("No files found.")
				return nil
			}
			printPlan(os.Stdout, plan)
			return nil
		}

		count, err := a.OrganizeDirectory(cmd.Context(), args[0], recursive)
		fmt.Printf("Organized %d file(s)\n", count)
		if err != nil {
			return fmt.Errorf("some files failed: %w", err)
		}
		return nil
	},
}

// classify command
var classifyCmd = &cobra.Command{
	Use:   "classify FILE",
	Short: "Show how a file would be classified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Classify", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		result, dest, err := a.Classify(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printClassification(os.Stdout, result, dest)
		return nil
	},
}

// undo command
var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Move the last organized file back",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetInt64("id")

		a, err := newApp(cmd.Context(), "Undo", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		undo := a.UndoLast
		if id > 0 {
			undo = func() (*sfo.HistoryEntry, error) { return a.UndoByID(id) }
		}
		entry, err := undo()
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s\n", entry.SourcePath)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View organize history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		query, _ := cmd.Flags().GetString("search")
		sinceText, _ := cmd.Flags().GetString("since")

		since, err := parseSince(sinceText, timeNow())
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "History", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		entries := a.History(limit, query, since)
		if len(entries) == 0 {
			fmt.Println("No history recorded.")
			return nil
		}
		printHistory(os.Stdout, entries)
		return nil
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize organize history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "HistoryStats", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		printHistoryStats(os.Stdout, a.HistoryStats())
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all history entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("Clear all history? Moves can no longer be undone.")
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Aborted.")
				return nil
			}
		}

		a, err := newApp(cmd.Context(), "ClearHistory", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ClearHistory(); err != nil {
			return err
		}
		fmt.Println("History cleared.")
		return nil
	},
}

// stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show history and duplicate index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Stats", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Stats(cmd.Context())
		if err != nil {
			return err
		}
		printStats(os.Stdout, report)
		return nil
	},
}

// duplicates command
var duplicatesCmd = &cobra.Command{
	Use:   "duplicates DIR",
	Short: "Find files with identical content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Duplicates", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		groups, err := a.Duplicates(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No duplicates found.")
			return nil
		}
		printDuplicates(os.Stdout, groups)
		fmt.Printf("\n%d group(s), %s reclaimable\n", len(groups), humanize.Bytes(uint64(dedup.Wasted(groups))))
		return nil
	},
}

// rules command
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage classification rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in priority order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListRules", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.RuleSet()
		if err != nil {
			return err
		}
		rules := rs.Rules()
		if len(rules) == 0 {
			fmt.Println("No rules defined.")
			return nil
		}
		printRules(os.Stdout, rules)
		return nil
	},
}

var rulesAddCmd = &cobra.Command{
	Use:   "add NAME PATTERN CATEGORY",
	Short: "Add a rule",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		matchType, _ := cmd.Flags().GetString("match")
		subcategory, _ := cmd.Flags().GetString("subcategory")
		priority, _ := cmd.Flags().GetInt("priority")
		sensitive, _ := cmd.Flags().GetBool("sensitive")

		a, err := newApp(cmd.Context(), "AddRule", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.RuleSet()
		if err != nil {
			return err
		}
		r, err := rs.Add(classify.Rule{
			Name:        args[0],
			Pattern:     args[1],
			Category:    args[2],
			Subcategory: subcategory,
			MatchType:   classify.MatchType(matchType),
			Priority:    priority,
			Sensitive:   sensitive,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Added rule #%d %q\n", r.ID, r.Name)
		return nil
	},
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid rule id %q", args[0])
		}

		a, err := newApp(cmd.Context(), "RemoveRule", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.RuleSet()
		if err != nil {
			return err
		}
		removed, err := rs.Remove(id)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no rule with id %d", id)
		}
		fmt.Printf("Removed rule #%d\n", id)
		return nil
	},
}

var rulesTestCmd = &cobra.Command{
	Use:   "test FILENAME",
	Short: "Show which rule matches a file name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "TestRule", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.RuleSet()
		if err != nil {
			return err
		}
		var size int64
		if info, err := os.Stat(args[0]); err == nil {
			size = info.Size()
		}
		r, ok := rs.Match(args[0], size)
		if !ok {
			fmt.Println("No rule matches.")
			return nil
		}
		folder := r.Category
		if r.Subcategory != "" {
			folder = filepath.ToSlash(filepath.Join(r.Category, r.Subcategory))
		}
		fmt.Printf("Rule #%d %q matches → %s\n", r.ID, r.Name, folder)
		return nil
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the encrypted vault for sensitive files",
}

var vaultInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the key pair that seals sensitive files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "VaultInit", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if a.VaultConfigured() {
			return errors.New("vault keys already exist")
		}
		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := a.VaultInit(passphrase); err != nil {
			return err
		}
		fmt.Printf("Vault keys created at %s\n", a.Config().Security.Encryption.PublicKeyPath)
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sealed objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "VaultList", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.VaultList()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("Vault is empty.")
			return nil
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var vaultRestoreCmd = &cobra.Command{
	Use:   "restore ID DEST",
	Short: "Decrypt a sealed object to DEST",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, _ := cmd.Flags().GetString("identity")
		dest, err := filepath.Abs(args[1])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		a, err := newApp(cmd.Context(), "VaultRestore", args, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if identity != "" {
			err = a.VaultRestoreWithIdentity(args[0], dest, identity)
		} else {
			var passphrase string
			passphrase, err = readPassphrase("Passphrase: ")
			if err == nil {
				err = a.VaultRestore(args[0], dest, passphrase)
			}
		}
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s to %s\n", args[0], dest)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// history subcommands
	historyCmd.AddCommand(historyStatsCmd)
	historyCmd.AddCommand(historyClearCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of entries to show")
	historyCmd.Flags().StringP("search", "s", "", "Only show entries matching this text")
	historyCmd.Flags().String("since", "", `Only show entries since this time (e.g. "yesterday", "2 days ago", RFC 3339)`)
	historyClearCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	// rules subcommands
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesAddCmd)
	rulesCmd.AddCommand(rulesRemoveCmd)
	rulesCmd.AddCommand(rulesTestCmd)
	rulesAddCmd.Flags().String("match", string(classify.MatchContains), "Match type: contains, starts_with, ends_with, regex, extension, size_gt, size_lt")
	rulesAddCmd.Flags().String("subcategory", "", "Subcategory folder")
	rulesAddCmd.Flags().Int("priority", classify.DefaultRulePriority, "Higher priorities are tried first")
	rulesAddCmd.Flags().Bool("sensitive", false, "Seal matching files in the vault")

	// vault subcommands
	vaultCmd.AddCommand(vaultInitCmd)
	vaultCmd.AddCommand(vaultListCmd)
	vaultCmd.AddCommand(vaultRestoreCmd)
	vaultRestoreCmd.Flags().StringP("identity", "i", "", "Decrypt with this age identity file instead of the passphrase")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(organizeCmd)
	organizeCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	organizeCmd.Flags().Bool("dry-run", false, "Show where files would go without moving them")
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(undoCmd)
	undoCmd.Flags().Int64("id", 0, "Undo the history entry with this id instead of the latest")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(duplicatesCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(vaultCmd)
}
