package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talkpip/report"
	"talkpip/talk"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		outputDir   string
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "run <talks.txt | - | URL...>",
		Short: "Process a list of talks and write one composite per talk",
		Long: `Process talks in batch. The argument is a file with one URL per line
(blank lines and # comments are ignored), "-" for standard input, or one or
more URLs. A table of results is printed and report.json is written to the
output directory. The exit status is 1 if any talk failed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if concurrency > 0 {
				cfg.MaxConcurrency = concurrency
			}

			entries, skipped, err := readEntries(args)
			if err != nil {
				return err
			}
			for _, s := range skipped {
				log.Warn().Int("line", s.Line).Str("entry", s.Raw).Str("reason", s.Reason).Msg("skipping malformed talk list entry")
			}
			if len(entries) == 0 {
				return fmt.Errorf("no valid talk URLs in input")
			}

			if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			mgr, err := newManager(cfg)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			mgr.Start(sigCtx)

			started := time.Now()
			batch, err := mgr.Submit(entries)
			if err != nil {
				return err
			}

			// Every job reaches a terminal state even after an interrupt, so
			// this wait is not tied to the signal context.
			results, err := mgr.Wait(context.Background(), batch.ID)
			if err != nil {
				return err
			}
			mgr.Drain()

			summary := report.NewSummary(batch.ID, started, results)
			fmt.Fprintln(cmd.OutOrStdout(), report.Table(results))
			path, err := report.WriteJSON(cfg.OutputDir, summary)
			if err != nil {
				log.Error().Err(err).Msg("could not write report")
			} else {
				log.Info().Str("path", path).Int("succeeded", summary.Succeeded).Int("failed", summary.Failed).Msg("report written")
			}

			if summary.Failed > 0 {
				return fmt.Errorf("%w: %d of %d", ErrTalksFailed, summary.Failed, summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Override OUTPUT_DIR")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Override MAX_CONCURRENCY")
	return cmd
}

// readEntries accepts a list file, "-" for stdin, or literal URLs.
func readEntries(args []string) ([]talk.Entry, []talk.Skipped, error) {
	if len(args) == 1 {
		if args[0] == "-" {
			return talk.ParseList(os.Stdin)
		}
		if info, err := os.Stat(args[0]); err == nil && info.Mode().IsRegular() {
			return talk.ReadListFile(args[0])
		}
	}
	entries, skipped := talk.ParseURLs(args)
	return entries, skipped, nil
}
