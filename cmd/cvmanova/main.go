package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	rootCmd := &cobra.Command{
		Use:   "cvmanova",
		Short: "Cross-validated MANOVA over multi-session data",
		Long: `cvmanova estimates pattern distinctness and pattern stability by
cross-validated MANOVA, either over a single region of variables or as
a searchlight sweep over a masked 3D grid.

Runs are described by a YAML configuration file naming the per-session
data and design matrices, the analyses, and the sweep geometry.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "run.yaml", "run configuration YAML")
	rootCmd.PersistentFlags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(
		newRegionCmd(),
		newSearchlightCmd(),
		newSimulateCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
			} else {
				fmt.Printf("cvmanova version %s\n", version)
			}
		},
	}
}
