// Command worker is the clip-production job processor: it pulls jobs
// off the NATS JOBS stream and drives internal/orchestrator over each
// one. CLI flags follow five82-drapto/five82-reel's cobra root-command
// shape; process wiring (ONNX init, Postgres/MinIO/NATS connect,
// graceful shutdown) follows iluha78-FD/cmd/worker/main.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/vmatresu/viralclipai-sub001/internal/api/ws"
	"github.com/vmatresu/viralclipai-sub001/internal/camera"
	"github.com/vmatresu/viralclipai-sub001/internal/config"
	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
	"github.com/vmatresu/viralclipai-sub001/internal/download"
	"github.com/vmatresu/viralclipai-sub001/internal/lock"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
	"github.com/vmatresu/viralclipai-sub001/internal/neural"
	"github.com/vmatresu/viralclipai-sub001/internal/objectstore"
	"github.com/vmatresu/viralclipai-sub001/internal/observability"
	"github.com/vmatresu/viralclipai-sub001/internal/orchestrator"
	"github.com/vmatresu/viralclipai-sub001/internal/progress"
	"github.com/vmatresu/viralclipai-sub001/internal/queue"
	"github.com/vmatresu/viralclipai-sub001/internal/rawcache"
	"github.com/vmatresu/viralclipai-sub001/internal/silence"
	"github.com/vmatresu/viralclipai-sub001/internal/storageacct"
	"github.com/vmatresu/viralclipai-sub001/internal/styles"
	"github.com/vmatresu/viralclipai-sub001/internal/vision"
)

const appVersion = "0.1.0"

func main() {
	var configPath string
	var once bool

	root := &cobra.Command{
		Use:     "worker",
		Short:   "Clip production job worker",
		Version: appVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), configPath, once)
		},
	}
	root.Flags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	root.Flags().BoolVar(&once, "once", false, "process at most one job then exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func runWorker(ctx context.Context, configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting clip worker", "cpu_cores", runtime.NumCPU())

	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	defer ort.DestroyEnvironment()

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
		slog.Warn("ensure minio bucket", "error", err)
	}

	redisCli := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	})
	locker := lock.New(redisCli)

	acct := storageacct.NewService(docs)

	engine, err := buildVisionEngine(cfg)
	if err != nil {
		return fmt.Errorf("build vision engine: %w", err)
	}

	neuralSvc := neural.NewService(docs, locker, engine, acct, neural.CinematicConfig{
		ShotThreshold:   cfg.Vision.ShotThreshold,
		MinShotDuration: cfg.Vision.MinShotDuration,
	})
	if reidStore, err := neural.NewReIDStore(ctx, docstore.Config{
		Host: cfg.Database.Host, Port: cfg.Database.Port, Name: cfg.Database.Name,
		User: cfg.Database.User, Password: cfg.Database.Password, MaxConns: cfg.Database.MaxConns,
	}); err != nil {
		slog.Warn("reid store unavailable, cross-scene re-identification disabled", "error", err)
	} else {
		defer reidStore.Close()
		neuralSvc.EnableReID(reidStore, 0.75)
	}

	rawCache := rawcache.New(objs, cfg.Encoding.WorkDir)

	vad := buildSileroVAD(cfg)
	if sv, ok := vad.(*silence.SileroVAD); ok {
		defer sv.Close()
	}

	registry := styles.NewDefaultRegistry()

	orch := orchestrator.New(rawCache, vad, neuralSvc, registry, objs, docs, acct, orchestrator.Config{
		MaxConcurrentFFmpeg: cfg.Encoding.MaxConcurrentFFmpeg,
		WorkDir:             cfg.Encoding.WorkDir,
		PlannerConfig:       camera.DefaultPlannerConfig(),
		SilenceConfig:       silence.DefaultConfig(),
	})

	dl := download.NewCoordinator(docs, locker, objs, download.Config{
		OutputDir: cfg.Download.OutputDir, CookiesPath: cfg.Download.CookiesPath,
		IPv6SourceAddrs: cfg.Download.IPv6SourceAddrs, WaitTimeout: cfg.Download.WaitTimeout,
		MaxRetries: cfg.Download.MaxRetries,
	})

	hub := ws.NewHub()
	go hub.Run()

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("connect to nats producer: %w", err)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("create nats consumer: %w", err)
	}
	defer consumer.Close()

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	processed := make(chan struct{}, 1)
	handler := func(hctx context.Context, msg jetstream.Msg) error {
		var job models.Job
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal job", "error", err)
			return nil
		}
		if err := processJob(hctx, job, docs, objs, dl, orch, hub, acct); err != nil {
			return fmt.Errorf("process job %s: %w", job.JobID, err)
		}
		if once {
			select {
			case processed <- struct{}{}:
			default:
			}
		}
		return nil
	}

	if err := consumer.ConsumeJobs(workerCtx, "clip-workers", handler, 4); err != nil {
		return fmt.Errorf("start job consumer: %w", err)
	}

	router := gin.New()
	router.Use(cors.Default())
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws/progress", func(c *gin.Context) { hub.HandleWS(c) })

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		slog.Info("worker metrics/ws listening", "addr", addr)
		if err := router.Run(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				if depth, err := producer.QueueDepth(workerCtx); err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	if once {
		select {
		case <-processed:
			slog.Info("processed one job, exiting (--once)")
			return nil
		case <-workerCtx.Done():
			return workerCtx.Err()
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
	return nil
}

func processJob(ctx context.Context, job models.Job, docs *docstore.Store, objs objectstore.Store,
	dl *download.Coordinator, orch *orchestrator.Orchestrator, hub *ws.Hub, acct *storageacct.Service) error {

	tracker := progress.NewTracker(docs, hub, job.JobID, len(job.Scenes))

	// Quota at entry (spec §2/§7): reject before the coordinated source
	// download spends any bandwidth, rather than only gating per-clip
	// after the download already completed.
	if err := acct.WouldExceedQuota(ctx, job.UserID, job.Plan); err != nil {
		tracker.Error(ctx, err)
		return err
	}

	decision, err := dl.AcquireOrWaitForDownload(ctx, job.UserID, job.VideoID)
	if err != nil {
		tracker.Error(ctx, err)
		return err
	}

	var objKey string
	switch decision.Kind {
	case download.UseCache:
		objKey = decision.ObjectKey
	case download.WaitForOther:
		outcome := dl.WaitForReady(ctx, job.UserID, job.VideoID)
		if !outcome.Ready {
			err := fmt.Errorf("source video not ready after wait (timed_out=%v): %w", outcome.TimedOut, outcome.Err)
			tracker.Error(ctx, err)
			return err
		}
		objKey = outcome.ObjectKey
	case download.PerformDownload:
		objKey, err = dl.PerformDownload(ctx, decision.Handle, job.UserID, job.VideoID, job.SourceURL)
		if err != nil {
			tracker.Error(ctx, err)
			return err
		}
	}

	localPath, err := stageLocalCopy(ctx, objs, objKey, job.VideoID)
	if err != nil {
		tracker.Error(ctx, err)
		return err
	}
	defer os.Remove(localPath)

	info, err := styles.ProbeVideo(ctx, localPath)
	if err != nil {
		tracker.Error(ctx, err)
		return err
	}

	observability.ActiveJobs.Inc()
	defer observability.ActiveJobs.Dec()

	return orch.ProcessJob(ctx, job, localPath, job.Plan, orchestrator.VideoInfo{Width: info.Width, Height: info.Height}, tracker)
}

func stageLocalCopy(ctx context.Context, objs objectstore.Store, key, videoID string) (string, error) {
	dst := fmt.Sprintf("%s/%s_source.mp4", os.TempDir(), videoID)
	if err := objs.Get(ctx, key, dst); err != nil {
		return "", fmt.Errorf("fetch source %s: %w", key, err)
	}
	return dst, nil
}

func buildVisionEngine(cfg *config.Config) (*vision.Engine, error) {
	var mdl vision.Models

	if faceModel := cfg.Vision.ModelsDir + "/yunet.onnx"; fileExists(faceModel) {
		fd, err := vision.NewFaceDetector(faceModel, cfg.Vision.InferenceWidth, 0.6, nil)
		if err != nil {
			return nil, fmt.Errorf("load face detector: %w", err)
		}
		mdl.FaceDetector = fd
	}
	if meshModel := cfg.Vision.ModelsDir + "/facemesh.onnx"; fileExists(meshModel) {
		fm, err := vision.NewFaceMesh(meshModel, 192, nil)
		if err != nil {
			return nil, fmt.Errorf("load face mesh: %w", err)
		}
		mdl.FaceMesh = fm
	}
	if objModel := cfg.Vision.ModelsDir + "/yolov8.onnx"; fileExists(objModel) {
		od, err := vision.NewObjectDetector(objModel, 640, 8400, 0.4, nil)
		if err != nil {
			return nil, fmt.Errorf("load object detector: %w", err)
		}
		mdl.ObjectDetector = od
	}
	if reidModel := cfg.Vision.ModelsDir + "/reid.onnx"; fileExists(reidModel) {
		re, err := vision.NewReIDEmbedder(reidModel, 112, nil)
		if err != nil {
			return nil, fmt.Errorf("load reid embedder: %w", err)
		}
		mdl.ReIDEmbedder = re
	}

	engineCfg := vision.DefaultEngineConfig()
	engineCfg.InferenceWidth = cfg.Vision.InferenceWidth
	engineCfg.InferenceHeight = cfg.Vision.InferenceHeight
	engineCfg.FPS = cfg.Vision.FPS
	engineCfg.IoUThreshold = float32(cfg.Vision.IoUThreshold)
	engineCfg.MaxTrackGap = cfg.Vision.MaxTrackGap
	engineCfg.ShotThreshold = cfg.Vision.ShotThreshold
	engineCfg.MinShotDuration = cfg.Vision.MinShotDuration

	return vision.NewEngine(mdl, engineCfg), nil
}

// buildSileroVAD loads the Silero model when present; silence removal
// is best-effort, so a missing model only disables that one feature.
func buildSileroVAD(cfg *config.Config) silence.VAD {
	path := cfg.Vision.ModelsDir + "/silero_vad.onnx"
	if !fileExists(path) {
		slog.Warn("silero model not found, silence removal disabled", "path", path)
		return nil
	}
	sv, err := silence.NewSileroVAD(path, nil)
	if err != nil {
		slog.Warn("silero vad unavailable, silence removal disabled", "error", err)
		return nil
	}
	return sv
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
