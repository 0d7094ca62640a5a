package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lamim/optiforge/internal/checkpoint"
	"github.com/lamim/optiforge/internal/config"
	"github.com/lamim/optiforge/internal/queue"
	"github.com/lamim/optiforge/internal/server"
	"github.com/lamim/optiforge/internal/writer"
	"github.com/lamim/optiforge/pkg/models"
)

const (
	watchInterval = 2 * time.Second
	cancelTimeout = time.Minute
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job workers and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.logger.Info("OptiForge starting", "version", Version, "config", configPath)

			if err := a.store.Migrate(ctx); err != nil {
				return err
			}
			a.startPipeline(ctx)

			if a.cfg.Queue.ResumeOnStart {
				if _, err := checkpoint.Resume(ctx, a.store, a.dispatcher, a.controller, a.logger); err != nil {
					a.logger.Error("Resume failed", "error", err)
				}
			}

			srv := server.New(a.store, a.coordinator, a.queue, a.cfg.Server.Mode, a.logger)
			return srv.Run(ctx, fmt.Sprintf(":%d", a.cfg.Server.Port))
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("Database migrated", "driver", a.cfg.Database.Driver)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status <optimization-uuid>",
		Short: "Show the phase of an optimization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opt, err := a.store.FindOptimizationByUUID(ctx, args[0])
			if err != nil {
				return err
			}
			if !watch {
				printStatus(cmd.OutOrStdout(), opt)
				return nil
			}
			return watchStatus(ctx, a, opt)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the optimization until it ends")
	return cmd
}

func printStatus(out io.Writer, opt *models.Optimization) {
	fmt.Fprintf(out, "Optimization: %s\n", opt.UUID)
	fmt.Fprintf(out, "Phase:        %s (%.0f%%)\n", opt.Phase(), checkpoint.Progress(opt))
	fmt.Fprintf(out, "Engine:       %s\n", opt.Engine)
	if opt.Error != nil {
		fmt.Fprintf(out, "Error:        %s\n", *opt.Error)
	}

	stamps := []struct {
		label string
		at    *time.Time
	}{
		{"Prepared", opt.PreparedAt},
		{"Executed", opt.ExecutedAt},
		{"Validated", opt.ValidatedAt},
		{"Finished", opt.FinishedAt},
	}
	for _, s := range stamps {
		if s.at != nil {
			fmt.Fprintf(out, "%-13s %s\n", s.label+":", s.at.Format(time.RFC3339))
		}
	}
}

func watchStatus(ctx context.Context, a *app, opt *models.Optimization) error {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(string(opt.Phase())),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
	)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		bar.Describe(string(opt.Phase()))
		_ = bar.Set(int(checkpoint.Progress(opt)))

		if opt.Ended() {
			_ = bar.Finish()
			fmt.Println()
			printStatus(os.Stdout, opt)
			return nil
		}

		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
		}

		current, err := a.store.FindOptimization(ctx, opt.ID)
		if err != nil {
			return err
		}
		opt = current
	}
}

func newCancelCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "cancel <optimization-uuid>",
		Short: "Cancel an optimization through the running server",
		Long: `Cancel asks the running server to stop the in-flight job of an
optimization and end it. Jobs live in the server process, so the
request goes through its HTTP API.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				cfg, _, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				serverURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}
			return requestCancel(cmd.Context(), cmd.OutOrStdout(), serverURL, args[0])
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of the optiforge server (default: localhost on server.port)")
	return cmd
}

func requestCancel(ctx context.Context, out io.Writer, serverURL, optimizationUUID string) error {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/optimizations/%s/cancel", serverURL, optimizationUUID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("cancel failed with status %d: %s", resp.StatusCode, body.Error)
	}

	var projection server.Projection
	if err := json.NewDecoder(resp.Body).Decode(&projection); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printStatus(out, projection.Optimization)
	return nil
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Run unfinished optimizations to completion and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.startPipeline(ctx)

			summary, err := checkpoint.Resume(ctx, a.store, a.dispatcher, a.controller, a.logger)
			if err != nil {
				return err
			}
			if summary.Enqueued == 0 {
				a.logger.Info("Nothing to resume")
				return nil
			}
			return drain(ctx, a.queue)
		},
	}
}

// drain waits until every job on the queue has finished, including the
// follow-up jobs each phase enqueues
func drain(ctx context.Context, q *queue.Queue) error {
	bar := progressbar.Default(-1, "Running jobs")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending := 0
		for _, job := range q.List() {
			if !job.State.Terminal() {
				pending++
			}
		}
		if pending == 0 {
			_ = bar.Finish()
			return nil
		}
		_ = bar.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newDatasetsCmd() *cobra.Command {
	datasetsCmd := &cobra.Command{
		Use:   "datasets",
		Short: "Inspect curated datasets",
	}

	var outDir string
	exportCmd := &cobra.Command{
		Use:   "export <optimization-uuid>",
		Short: "Write the trainset and testset of an optimization as JSONL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			opt, err := a.store.FindOptimizationByUUID(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			result, err := writer.ExportDataset(cmd.Context(), a.store, opt, outDir, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Trainset: %s (%d rows)\n", result.TrainsetPath, result.TrainsetRows)
			fmt.Fprintf(cmd.OutOrStdout(), "Testset:  %s (%d rows)\n", result.TestsetPath, result.TestsetRows)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&outDir, "out", "o", "output", "Directory to write exports into")

	datasetsCmd.AddCommand(exportCmd)
	return datasetsCmd
}
