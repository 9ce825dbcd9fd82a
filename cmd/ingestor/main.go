// Command ingestor is the operator-facing CLI: it submits production
// jobs onto the JOBS stream and can pre-warm the raw-source cache for a
// video before a worker ever picks up a job for it. Flags and colored
// terminal output follow five82-drapto/five82-reel's
// internal/reporter/terminal.go idiom; process wiring (config, Postgres,
// MinIO, NATS, Redis) follows cmd/worker's.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vmatresu/viralclipai-sub001/internal/config"
	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
	"github.com/vmatresu/viralclipai-sub001/internal/download"
	"github.com/vmatresu/viralclipai-sub001/internal/lock"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
	"github.com/vmatresu/viralclipai-sub001/internal/objectstore"
	"github.com/vmatresu/viralclipai-sub001/internal/queue"
)

const appVersion = "0.1.0"

var (
	cyan  = color.New(color.FgCyan, color.Bold)
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed, color.Bold)
	dim   = color.New(color.Faint)
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "ingestor",
		Short:   "Submit clip production jobs and pre-warm the source cache",
		Version: appVersion,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")

	root.AddCommand(newSubmitCmd(&configPath))
	root.AddCommand(newDownloadCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ingestor: %v\n", err)
		os.Exit(1)
	}
}

func newSubmitCmd(configPath *string) *cobra.Command {
	var jobFile string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Publish a job spec (JSON) onto the JOBS stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd.Context(), *configPath, jobFile)
		},
	}
	cmd.Flags().StringVar(&jobFile, "job", "", "path to a job spec JSON file (required)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func runSubmit(ctx context.Context, configPath, jobFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(jobFile)
	if err != nil {
		return fmt.Errorf("read job file: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("parse job file: %w", err)
	}
	if job.JobID == "" || job.VideoID == "" || len(job.Scenes) == 0 {
		return fmt.Errorf("job spec missing job_id, video_id or scenes")
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		return fmt.Errorf("ensure nats streams: %w", err)
	}

	if err := producer.PublishJob(ctx, job); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	fmt.Println()
	_, _ = cyan.Println("JOB SUBMITTED")
	printLabel("Job ID:", job.JobID)
	printLabel("Video:", job.VideoID)
	printLabel("Scenes:", fmt.Sprintf("%d", len(job.Scenes)))
	fmt.Printf("  %s %s\n", green.Sprint("✓"), "queued for a worker")
	return nil
}

func newDownloadCmd(configPath *string) *cobra.Command {
	var userID, videoID, sourceURL string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Pre-warm the raw-source cache for a video without submitting a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), *configPath, userID, videoID, sourceURL)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id (required)")
	cmd.Flags().StringVar(&videoID, "video", "", "video id (required)")
	cmd.Flags().StringVar(&sourceURL, "url", "", "source URL to fetch (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("video")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runDownload(ctx context.Context, configPath, userID, videoID, sourceURL string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	docs, err := docstore.New(ctx, docstore.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, Name: cfg.Database.Name,
		User: cfg.Database.User, Password: cfg.Database.Password, MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer docs.Close()

	objs, err := objectstore.NewMinIOStore(objectstore.Config{
		Endpoint: cfg.MinIO.Endpoint, AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey, Bucket: cfg.MinIO.Bucket, UseSSL: cfg.MinIO.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("connect to minio: %w", err)
	}
	if err := objs.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure minio bucket: %w", err)
	}

	redisCli := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	})
	locker := lock.New(redisCli)

	dl := download.NewCoordinator(docs, locker, objs, download.Config{
		OutputDir: cfg.Download.OutputDir, CookiesPath: cfg.Download.CookiesPath,
		IPv6SourceAddrs: cfg.Download.IPv6SourceAddrs, WaitTimeout: cfg.Download.WaitTimeout,
		MaxRetries: cfg.Download.MaxRetries,
	})

	fmt.Println()
	_, _ = cyan.Println("SOURCE CACHE")
	printLabel("Video:", videoID)
	printLabel("URL:", sourceURL)

	decision, err := dl.AcquireOrWaitForDownload(ctx, userID, videoID)
	if err != nil {
		_, _ = red.Fprintf(os.Stderr, "ERROR acquiring download: %v\n", err)
		return err
	}

	switch decision.Kind {
	case download.UseCache:
		fmt.Printf("  %s already cached at %s\n", green.Sprint("✓"), decision.ObjectKey)
		return nil

	case download.WaitForOther:
		fmt.Printf("  %s another worker is downloading, waiting...\n", dim.Sprint("›"))
		bar := spinner("waiting for other downloader")
		outcome := dl.WaitForReady(ctx, userID, videoID)
		_ = bar.Finish()
		if !outcome.Ready {
			err := fmt.Errorf("source not ready (timed_out=%v): %w", outcome.TimedOut, outcome.Err)
			_, _ = red.Fprintf(os.Stderr, "ERROR %v\n", err)
			return err
		}
		fmt.Printf("  %s ready at %s\n", green.Sprint("✓"), outcome.ObjectKey)
		return nil

	case download.PerformDownload:
		bar := spinner("downloading via yt-dlp")
		objKey, err := dl.PerformDownload(ctx, decision.Handle, userID, videoID, sourceURL)
		_ = bar.Finish()
		if err != nil {
			_, _ = red.Fprintf(os.Stderr, "ERROR download failed: %v\n", err)
			return err
		}
		fmt.Printf("  %s cached at %s\n", green.Sprint("✓"), objKey)
		return nil
	}

	return nil
}

// spinner renders an indeterminate progress bar since yt-dlp's own
// stdout isn't parsed for percentage here, only whether it finished.
func spinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

const labelWidth = 14

func printLabel(label, value string) {
	fmt.Printf("  %s %s\n", color.New(color.Bold).Sprintf("%-*s", labelWidth, label), value)
}
