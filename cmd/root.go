package cmd

import (
	"context"
	"log/slog"
	"os"
	"path"

	"github.com/pyama86/relscope/handler"
	"github.com/spf13/cobra"
)

var (
	configPath string
	apiKey     string
	outputPath string
)

var rootCmd = &cobra.Command{
	Use:   "relscope",
	Short: "relscope scrapes status pages and produces comparative reliability reports",
	Run: func(cmd *cobra.Command, args []string) {
		if err := run(); err != nil {
			slog.Error("Failed to run command", slog.Any("error", err))
			os.Exit(1)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// デフォルトはホームディレクトリのrelscope.yaml
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("Failed to get user home directory", slog.Any("error", err))
		os.Exit(1)
	}
	rootCmd.Flags().StringVar(&configPath, "config", path.Join(home, "relscope.yaml"), "config file path")
	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "OpenAI API key (overrides OPENAI_API_KEY)")
	rootCmd.Flags().StringVar(&outputPath, "output", "relscope-report.json", "report output path")
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("Pipeline started")
	if err := handler.Handle(ctx, configPath, apiKey, outputPath); err != nil {
		return err
	}

	return nil
}
