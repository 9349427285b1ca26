package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/allefeld/cvcrossmanova/adapters/checkpoint"
	"github.com/allefeld/cvcrossmanova/adapters/tabular"
	"github.com/allefeld/cvcrossmanova/app"
	"github.com/allefeld/cvcrossmanova/internal/config"
	"github.com/allefeld/cvcrossmanova/ports"
)

func newSearchlightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "searchlight",
		Short: "Sweep analyses over a masked 3D grid",
		Long: `Sweep every analysis over each mask position, analysing the variables
within the searchlight radius around it. Progress is checkpointed so an
interrupted sweep resumes from the last completed chunks when rerun
with the same configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if !cfg.Searchlight.Enabled() {
				return fmt.Errorf("searchlight requires dims in %s", path)
			}

			mask, err := buildMask(cfg)
			if err != nil {
				return err
			}
			interval, err := cfg.Searchlight.Interval()
			if err != nil {
				return err
			}

			source, err := tabular.NewSessionSource(sessionFiles(cfg))
			if err != nil {
				return err
			}

			var store ports.CheckpointPort
			if cfg.Searchlight.CheckpointDir != "" {
				store, err = checkpoint.NewSQLiteStore(cfg.Searchlight.CheckpointDir)
				if err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			total := sweepChunks(mask.NumVars(), cfg.Searchlight.ChunkSize)
			res, err := app.NewSearchlightService(source, store).Run(ctx, app.SearchlightRequest{
				Analyses:           analysisSpecs(cfg),
				Permutations:       permutationSpec(cfg),
				Lambda:             cfg.Regularization.Lambda,
				CondThreshold:      cfg.Regularization.ConditionThreshold,
				Mask:               mask,
				Radius:             cfg.Searchlight.Radius,
				Transform:          buildTransform(cfg),
				ChunkSize:          cfg.Searchlight.ChunkSize,
				Workers:            cfg.Searchlight.Workers,
				CheckpointInterval: interval,
				Progress:           logProgress(total),
			})
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("interrupted, rerun to resume from the checkpoint: %w", err)
				}
				return err
			}

			if err := tabular.WriteMaps(cfg.Output.Maps, mask, res.Maps); err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(os.Stdout).Encode(res)
			}
			printSearchlightResult(res, cfg.Output.Maps)
			return nil
		},
	}
}

// logProgress reports sweep progress at roughly every tenth of the total.
func logProgress(total int) func(done, total int) {
	step := total / 10
	if step < 1 {
		step = 1
	}
	return func(done, total int) {
		if done%step == 0 || done == total {
			log.Printf("[Searchlight] %d/%d chunks complete", done, total)
		}
	}
}

func sweepChunks(positions, chunkSize int) int {
	if chunkSize < 1 {
		chunkSize = 1
	}
	return (positions + chunkSize - 1) / chunkSize
}

func printSearchlightResult(res *app.SearchlightResult, mapsPath string) {
	fmt.Printf("run %s: maps written to %s\n", res.RunID, mapsPath)
	for _, s := range res.Summaries {
		if s.Valid == 0 {
			fmt.Printf("%s: all %d positions failed\n", s.Name, s.Failed)
			continue
		}
		fmt.Printf("%s: mean %.6g median %.6g min %.6g max %.6g p95 %.6g over %d positions",
			s.Name, s.Mean, s.Median, s.Min, s.Max, s.P95, s.Valid)
		if s.Failed > 0 {
			fmt.Printf(" (%d failed)", s.Failed)
		}
		fmt.Println()
	}
	for _, adv := range res.Maps.Advisories {
		fmt.Fprintf(os.Stderr, "advisory [%s] %s\n", adv.Code, adv.Message)
	}
	fmt.Printf("completed in %dms\n", res.RuntimeMs)
}
