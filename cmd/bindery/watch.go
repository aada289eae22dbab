package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/bindery/bindery/internal/pipeline"
	"github.com/bindery/bindery/internal/watch"
)

var flagSettle time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <drop-dir>",
	Short: "Watch a drop directory and process settled entries",
	Long: `Watch monitors a drop directory and runs the pipeline for each entry
once its files stop changing for the settle window. Entries are processed
sequentially; the per-book manifest keeps partially processed books
resumable across restarts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
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

		handler := func(ctx context.Context, path string) {
			if err := p.Process(ctx, path, pipeline.Options{}); err != nil {
				logger.Error("pipeline run failed", "source", path, "error", err)
			}
		}

		cmd.SilenceUsage = true
		w := watch.New(args[0], flagSettle, handler, logger)
		err = w.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&flagSettle, "settle", watch.DefaultSettle,
		"quiet period before a drop-dir entry is processed")
}
