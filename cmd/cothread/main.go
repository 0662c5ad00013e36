// cothread inspects and maintains a directory of saved conversation
// documents.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"cothread/internal/config"
	"cothread/internal/logging"
	"cothread/internal/slashcmd"
	"cothread/internal/store"
	"cothread/internal/thread"
)

var (
	// Global flags
	verbose    bool
	configPath string
	storeDir   string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "cothread",
	Short: "cothread - replicated conversation document store",
	Long: `cothread manages conversation documents: shared text buffers layered
with message boundaries, slash-command output, and patch annotations.

Documents are saved as JSON files; this tool lists, inspects, and garbage
collects them.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(verbose); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Logging.Level != "" && !verbose {
			if err := logging.SetLevel(cfg.Logging.Level); err != nil {
				return err
			}
		}
		if storeDir != "" {
			cfg.Store.Dir = storeDir
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Store.Dir)
		if err != nil {
			return err
		}
		metas, err := s.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("no saved threads")
			return nil
		}
		for _, meta := range metas {
			summary := meta.Summary
			if summary == "" {
				summary = "(untitled)"
			}
			fmt.Printf("%s  %-40s  %d messages  %s\n",
				meta.ID, summary, meta.Messages, meta.SavedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <thread-id>",
	Short: "Show a saved document's structure",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(cfg.Store.Dir)
		if err != nil {
			return err
		}
		saved, err := s.Load(thread.ID(args[0]))
		if err != nil {
			return err
		}

		registry := slashcmd.NewRegistry()
		registry.Register(slashcmd.FileCommand{})
		th := thread.Deserialize(saved, registry, cfg.Cache)
		defer th.Close()

		if summary := th.Summary(); summary != nil && summary.Text != "" {
			fmt.Printf("summary: %s\n", summary.Text)
		}
		fmt.Printf("tokens (estimated): %d\n\n", th.CountTokens())

		text := th.Text()
		for _, message := range th.Messages() {
			fmt.Printf("[%s] %s (%d-%d, %s)\n",
				message.Role, message.ID,
				message.OffsetRange.Start, message.OffsetRange.End,
				message.Status.State)
			body := text[message.OffsetRange.Start:message.OffsetRange.End]
			if len(body) > 200 {
				body = body[:200] + "…"
			}
			fmt.Printf("%s\n\n", body)
		}

		if sections := th.OutputSections(); len(sections) > 0 {
			fmt.Println("sections:")
			for _, section := range sections {
				r := th.ResolveRange(section.Range)
				fmt.Printf("  %s (%d-%d)\n", section.Label, r.Start, r.End)
			}
		}
		if patches := th.Patches(); len(patches) > 0 {
			fmt.Println("patches:")
			for _, patch := range patches {
				r := th.ResolveRange(patch.Range)
				fmt.Printf("  %q %s, %d edits (%d-%d)\n",
					patch.Title, patch.Status, len(patch.Edits), r.Start, r.End)
			}
		}
		return nil
	},
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete documents older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Store.RetentionDays <= 0 {
			fmt.Println("retention disabled (store.retention_days is 0)")
			return nil
		}
		s, err := store.Open(cfg.Store.Dir)
		if err != nil {
			return err
		}
		cutoff := time.Now().AddDate(0, 0, -cfg.Store.RetentionDays)
		removed, err := s.GC(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d threads older than %s\n", removed, cutoff.Format(time.RFC3339))
		return nil
	},
}

func main() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultConfig := filepath.Join(home, ".cothread", "config.yaml")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "path to config file")
	rootCmd.PersistentFlags().StringVar(&storeDir, "store", "", "override the store directory")

	rootCmd.AddCommand(listCmd, inspectCmd, gcCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
