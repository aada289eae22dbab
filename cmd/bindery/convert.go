package main

import (
	"github.com/spf13/cobra"

	"github.com/bindery/bindery/internal/config"
	"github.com/bindery/bindery/internal/pipeline"
)

var (
	flagMode         string
	flagDryRun       bool
	flagForce        bool
	flagVerbose      bool
	flagNoLock       bool
	flagASIN         string
	flagForceRefresh bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <source>",
	Short: "Run the pipeline for one source",
	Long: `Convert processes one source through the pipeline: a directory of audio
files is encoded into a chaptered M4B; an existing .m4b is enriched and
organized. Runs are resumable: a re-run picks up at the first incomplete
stage.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagDryRun {
			cfg.DryRun = true
		}
		if flagForce {
			cfg.Force = true
		}
		if flagVerbose {
			cfg.Verbose = true
		}

		logger, closeLog, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		p, err := pipeline.New(cfg, logger)
		if err != nil {
			return err
		}

		// Errors already logged by the pipeline; cobra only needs the exit
		// code mapping.
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return p.Process(cmd.Context(), args[0], pipeline.Options{
			Mode:         config.Mode(flagMode),
			ASINOverride: flagASIN,
			NoLock:       flagNoLock,
			ForceRefresh: flagForceRefresh,
		})
	},
}

func init() {
	convertCmd.Flags().StringVar(&flagMode, "mode", "",
		"pipeline mode: convert, enrich, metadata, or organize (auto-detected if omitted)")
	convertCmd.Flags().BoolVar(&flagDryRun, "dry-run", false,
		"log mutating operations instead of performing them")
	convertCmd.Flags().BoolVar(&flagForce, "force", false,
		"recreate the manifest and redo completed stages")
	convertCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false,
		"enable debug logging")
	convertCmd.Flags().BoolVar(&flagNoLock, "no-lock", false,
		"skip the global pipeline lock (multi-process deployments)")
	convertCmd.Flags().StringVar(&flagASIN, "asin", "",
		"catalog identifier override (10 characters)")
	convertCmd.Flags().BoolVar(&flagForceRefresh, "force-refresh", false,
		"bypass the metadata cache for this run")
}
