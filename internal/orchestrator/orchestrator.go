// Package orchestrator implements the scene-by-scene top-level loop of
// spec §4.8: per scene, materialise the raw segment, optionally strip
// silence, run the neural analysis at most once for the whole scene,
// then fan out every requested style under a bounded ffmpeg semaphore.
// Grounded on iluha78-FD/internal/ingest/manager.go's per-key
// coordination and goroutine-per-unit-of-work shape, generalised from
// one active stream per key to one bounded-parallel style render per
// scene.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vmatresu/viralclipai-sub001/internal/camera"
	"github.com/vmatresu/viralclipai-sub001/internal/clipfail"
	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
	"github.com/vmatresu/viralclipai-sub001/internal/neural"
	"github.com/vmatresu/viralclipai-sub001/internal/objectstore"
	"github.com/vmatresu/viralclipai-sub001/internal/observability"
	"github.com/vmatresu/viralclipai-sub001/internal/progress"
	"github.com/vmatresu/viralclipai-sub001/internal/rawcache"
	"github.com/vmatresu/viralclipai-sub001/internal/silence"
	"github.com/vmatresu/viralclipai-sub001/internal/storageacct"
	"github.com/vmatresu/viralclipai-sub001/internal/styles"
)

const clipCollection = "clips"

// VideoInfo carries the source frame dimensions every style and the
// camera planner need; probed once per job before the scene loop starts.
type VideoInfo struct {
	Width, Height int
}

// Config tunes concurrency and the working directory the orchestrator
// renders clips into before upload.
type Config struct {
	MaxConcurrentFFmpeg int64
	WorkDir             string
	PlannerConfig       camera.PlannerConfig
	SilenceConfig       silence.Config
}

func DefaultConfig(workDir string) Config {
	return Config{
		MaxConcurrentFFmpeg: 4,
		WorkDir:             workDir,
		PlannerConfig:       camera.DefaultPlannerConfig(),
		SilenceConfig:       silence.DefaultConfig(),
	}
}

// Orchestrator wires together every collaborator a scene's processing
// needs: raw segment cache, silence removal, neural analysis, the style
// registry, object/document stores, and storage accounting.
type Orchestrator struct {
	rawCache *rawcache.Cache
	vad      silence.VAD
	neuralSvc *neural.Service
	registry *styles.Registry
	objs     objectstore.Store
	docs     *docstore.Store
	acct     *storageacct.Service

	cfg Config
	sem *semaphore.Weighted
}

func New(
	rawCache *rawcache.Cache,
	vad silence.VAD,
	neuralSvc *neural.Service,
	registry *styles.Registry,
	objs objectstore.Store,
	docs *docstore.Store,
	acct *storageacct.Service,
	cfg Config,
) *Orchestrator {
	weight := cfg.MaxConcurrentFFmpeg
	if weight <= 0 {
		weight = 4
	}
	return &Orchestrator{
		rawCache: rawCache, vad: vad, neuralSvc: neuralSvc, registry: registry,
		objs: objs, docs: docs, acct: acct, cfg: cfg,
		sem: semaphore.NewWeighted(weight),
	}
}

// sceneGroup is every operator-requested style sharing one scene_id,
// the unit spec §4.8 calls "scene" in its pseudocode ("for styles in
// parallel"). All tasks in a group are assumed to share the same
// start/end/pad range; that invariant is enforced at job-intake time,
// not re-validated here.
type sceneGroup struct {
	sceneID uint32
	tasks   []models.SceneTask
}

func groupScenes(scenes []models.SceneTask) []sceneGroup {
	order := make([]uint32, 0)
	groups := make(map[uint32]*sceneGroup)
	for _, t := range scenes {
		g, ok := groups[t.SceneID]
		if !ok {
			g = &sceneGroup{sceneID: t.SceneID}
			groups[t.SceneID] = g
			order = append(order, t.SceneID)
		}
		g.tasks = append(g.tasks, t)
	}
	out := make([]sceneGroup, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out
}

func maxTier(tasks []models.SceneTask) models.DetectionTier {
	tier := models.TierNone
	for _, t := range tasks {
		if rt := t.Style.RequiredTier(); rt > tier {
			tier = rt
		}
	}
	return tier
}

func anyCutSilentParts(tasks []models.SceneTask) bool {
	for _, t := range tasks {
		if t.CutSilentParts {
			return true
		}
	}
	return false
}

// ProcessJob runs spec §4.8's top-level loop over every scene group in
// job order. Scene-level failures (raw extraction, analysis) abort only
// that scene; clip-level failures are recorded and the fan-out
// continues (spec §7's propagation policy).
func (o *Orchestrator) ProcessJob(ctx context.Context, job models.Job, sourcePath string, plan models.PlanTier, video VideoInfo, pub progress.Publisher) error {
	observability.ActiveJobs.Inc()
	defer observability.ActiveJobs.Dec()

	for _, group := range groupScenes(job.Scenes) {
		if err := o.processScene(ctx, job, group, sourcePath, plan, video, pub); err != nil {
			slog.Error("scene processing aborted", "job_id", job.JobID, "scene_id", group.sceneID, "error", err)
			pub.Error(ctx, fmt.Errorf("scene %d: %w", group.sceneID, err))
		}
		pub.SceneCompleted(ctx, group.sceneID)
	}
	return nil
}

func (o *Orchestrator) processScene(ctx context.Context, job models.Job, group sceneGroup, sourcePath string, plan models.PlanTier, video VideoInfo, pub progress.Publisher) error {
	primary := group.tasks[0]
	pub.SceneStarted(ctx, group.sceneID, "")

	rawPath, created, err := o.rawCache.GetOrCreateWithOutcome(ctx, job.UserID, job.VideoID, primary, sourcePath)
	if err != nil {
		observability.RawCacheHits.WithLabelValues("error").Inc()
		return fmt.Errorf("raw segment cache: %w", err)
	}
	observability.RawCacheHits.WithLabelValues(rawCacheOutcomeLabel(created)).Inc()
	if created {
		if err := o.acct.AddRawSegment(ctx, job.UserID, fileSize(rawPath)); err != nil {
			slog.Warn("account raw segment bytes", "job_id", job.JobID, "error", err)
		}
	}

	if anyCutSilentParts(group.tasks) {
		if trimmed, ok := o.applySilenceRemoval(ctx, job, primary, rawPath); ok {
			rawPath = trimmed
		}
	}

	start, end := primary.PaddedRange()
	var analysis *models.SceneNeuralAnalysis
	tier := maxTier(group.tasks)
	if tier > models.TierNone {
		a, err := o.neuralSvc.EnsureAnalysisCached(ctx, job.UserID, job.VideoID, group.sceneID, rawPath,
			start.Seconds(), end.Seconds(), tier, neural.VideoInfo{Width: video.Width, Height: video.Height})
		if err != nil {
			return fmt.Errorf("neural analysis: %w", err)
		}
		analysis = &a
	}

	var wg sync.WaitGroup
	for _, task := range group.tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.renderOneStyle(ctx, job, task, rawPath, plan, video, analysis, pub)
		}()
	}
	wg.Wait()
	return nil
}

func rawCacheOutcomeLabel(created bool) string {
	if created {
		return "extracted"
	}
	return "cached"
}

func (o *Orchestrator) applySilenceRemoval(ctx context.Context, job models.Job, task models.SceneTask, rawPath string) (string, bool) {
	if o.vad == nil {
		return "", false
	}
	start, end := task.PaddedRange()
	totalMS := (end - start).Milliseconds()
	outDir := filepath.Join(o.cfg.WorkDir, job.UserID, job.VideoID, fmt.Sprintf("%d_silence", task.SceneID))

	outcome, err := silence.Remove(ctx, o.vad, o.cfg.SilenceConfig, rawPath, outDir, totalMS)
	if err != nil {
		slog.Warn("silence removal failed, rendering from un-trimmed segment", "job_id", job.JobID, "scene_id", task.SceneID, "error", err)
		return "", false
	}
	if !outcome.Applied {
		return "", false
	}
	return outcome.Path, true
}

// renderOneStyle is one iteration of spec §4.8's "for styles in
// parallel (bounded by ffmpeg_semaphore)" loop body: pre-flight quota
// check, render, upload, persist metadata, account bytes, emit
// progress. A failure here never aborts the scene or job; it is
// recorded as a failed clip (spec §7).
func (o *Orchestrator) renderOneStyle(
	ctx context.Context,
	job models.Job,
	task models.SceneTask,
	rawPath string,
	plan models.PlanTier,
	video VideoInfo,
	analysis *models.SceneNeuralAnalysis,
	pub progress.Publisher,
) {
	clipID := models.ClipID(job.VideoID, task.SceneID, task.Style)
	pub.ClipProgress(ctx, task.SceneID, task.Style, models.ClipStepQueued, "")

	if err := o.acct.WouldExceedQuota(ctx, job.UserID, plan); err != nil {
		o.failClip(ctx, job, task, clipID, err, pub)
		return
	}

	waitStart := time.Now()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.failClip(ctx, job, task, clipID, err, pub)
		return
	}
	observability.FFmpegSemaphoreWait.Observe(time.Since(waitStart).Seconds())
	defer o.sem.Release(1)

	pub.ClipProgress(ctx, task.SceneID, task.Style, models.ClipStepRendering, "")

	processor, err := o.registry.Resolve(task.Style)
	if err != nil {
		o.failClip(ctx, job, task, clipID, err, pub)
		return
	}

	outPath := filepath.Join(o.cfg.WorkDir, job.UserID, job.VideoID, clipID+".mp4")
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		o.failClip(ctx, job, task, clipID, err, pub)
		return
	}

	req := styles.Request{
		InputPath:     rawPath,
		OutputPath:    outPath,
		Task:          task,
		Encoding:      styles.DefaultEncodingConfig(),
		FrameWidth:    video.Width,
		FrameHeight:   video.Height,
		PlannerConfig: o.cfg.PlannerConfig,
	}
	if analysis != nil {
		req.Analysis = analysis
	}

	if err := processor.Validate(ctx, req); err != nil {
		o.failClip(ctx, job, task, clipID, err, pub)
		return
	}

	renderStart := time.Now()
	result, err := processor.Process(ctx, req)
	observability.ClipRenderDuration.WithLabelValues(string(task.Style)).Observe(time.Since(renderStart).Seconds())
	if err != nil {
		observability.ClipsRendered.WithLabelValues(string(task.Style), "failed").Inc()
		o.failClip(ctx, job, task, clipID, err, pub)
		return
	}
	defer os.Remove(outPath)

	pub.ClipProgress(ctx, task.SceneID, task.Style, models.ClipStepUploading, "")

	r2Key := fmt.Sprintf("clips/%s/%s/%s.mp4", job.UserID, job.VideoID, clipID)
	if err := o.objs.Put(ctx, r2Key, result.OutputPath, "video/mp4"); err != nil {
		observability.ClipsRendered.WithLabelValues(string(task.Style), "failed").Inc()
		o.failClip(ctx, job, task, clipID, &clipfail.StorageError{Op: "put", Key: r2Key, Cause: err, Critical: true}, pub)
		return
	}
	if exists, err := o.objs.Exists(ctx, r2Key); err != nil || !exists {
		if err == nil {
			err = fmt.Errorf("object %s missing after upload", r2Key)
		}
		observability.ClipsRendered.WithLabelValues(string(task.Style), "failed").Inc()
		o.failClip(ctx, job, task, clipID, &clipfail.StorageError{Op: "exists", Key: r2Key, Cause: err, Critical: true}, pub)
		return
	}

	meta := models.ClipMetadata{
		ClipID: clipID, UserID: job.UserID, VideoID: job.VideoID, SceneID: task.SceneID,
		Style: task.Style, R2Key: r2Key,
		RawR2Key:  objectstore.RawSegmentKey(job.UserID, job.VideoID, fmt.Sprintf("%d", task.SceneID)),
		SizeBytes: result.SizeBytes, DurationSec: result.DurationSeconds,
		Status: models.ClipCompleted, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if _, err := o.docs.PutIfAbsent(ctx, clipCollection, clipID, meta); err != nil {
		observability.ClipsRendered.WithLabelValues(string(task.Style), "failed").Inc()
		o.failClip(ctx, job, task, clipID, &clipfail.DocumentStoreError{Op: "create", Path: clipID, Cause: err, Fatal: true}, pub)
		return
	}

	if err := o.acct.AddStyledClip(ctx, job.UserID, result.SizeBytes); err != nil {
		slog.Warn("account styled clip bytes", "job_id", job.JobID, "clip_id", clipID, "error", err)
	}

	observability.ClipsRendered.WithLabelValues(string(task.Style), "success").Inc()
	pub.ClipUploaded(ctx, task.SceneID, task.Style)
	pub.ClipProgress(ctx, task.SceneID, task.Style, models.ClipStepCompleted, "")
}

func (o *Orchestrator) failClip(ctx context.Context, job models.Job, task models.SceneTask, clipID string, err error, pub progress.Publisher) {
	meta := models.ClipMetadata{
		ClipID: clipID, UserID: job.UserID, VideoID: job.VideoID, SceneID: task.SceneID,
		Style: task.Style, Status: models.ClipFailed, Error: err.Error(),
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if putErr := o.docs.Put(ctx, clipCollection, clipID, meta); putErr != nil {
		slog.Warn("persist failed-clip metadata", "clip_id", clipID, "error", putErr)
	}
	pub.ClipProgress(ctx, task.SceneID, task.Style, models.ClipStepFailed, err.Error())
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
