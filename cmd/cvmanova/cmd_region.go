package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/allefeld/cvcrossmanova/adapters/tabular"
	"github.com/allefeld/cvcrossmanova/app"
	"github.com/allefeld/cvcrossmanova/internal/config"
)

func newRegionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "region",
		Short: "Evaluate analyses over one set of variables",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			vars, _ := cmd.Flags().GetIntSlice("variables")

			source, err := tabular.NewSessionSource(sessionFiles(cfg))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := app.NewRegionService(source).Run(ctx, app.RegionRequest{
				Analyses:       analysisSpecs(cfg),
				Variables:      vars,
				Permutations:   permutationSpec(cfg),
				Lambda:         cfg.Regularization.Lambda,
				CondThreshold:  cfg.Regularization.ConditionThreshold,
				OptimizeLambda: cfg.Regularization.Optimize,
			})
			if err != nil {
				return err
			}

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(os.Stdout).Encode(res)
			}
			printRegionResult(res)
			return nil
		},
	}
	cmd.Flags().IntSlice("variables", nil, "variable column indices to analyse (default all)")
	return cmd
}

func printRegionResult(res *app.RegionResult) {
	fmt.Printf("run %s\n", res.RunID)
	for _, a := range res.Analyses {
		fmt.Printf("%s: %.6g", a.Name, a.Values[0])
		if len(a.Values) > 1 {
			fmt.Printf(" (%d permutation values)", len(a.Values))
		}
		fmt.Println()
	}
	fmt.Printf("condition number %.4g\n", res.Cond)
	if res.OptimizedLambda != nil {
		fmt.Printf("optimized lambda %.4g (diagnostic only, not applied)\n", *res.OptimizedLambda)
	}
	for _, adv := range res.Advisories {
		fmt.Fprintf(os.Stderr, "advisory [%s] %s\n", adv.Code, adv.Message)
	}
	fmt.Printf("completed in %dms\n", res.RuntimeMs)
}
