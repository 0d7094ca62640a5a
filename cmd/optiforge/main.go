package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "optiforge",
		Short: "OptiForge - prompt optimization lifecycle controller",
		Long: `OptiForge drives prompt optimizations through their lifecycle:
1. Prepare: curate a trainset and testset from production traces
2. Execute: ask the optimization engine for an improved prompt
3. Validate: run the baseline and optimized prompts as experiments
4. End: record the outcome`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			if err := loadEnvFile(envFile); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newResumeCmd(),
		newDatasetsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile sets the variables from a dotenv file, overriding the environment
func loadEnvFile(path string) error {
	return godotenv.Overload(path)
}
