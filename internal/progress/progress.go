// Package progress implements the publish interface spec §4.11 names:
// scene_started, clip_progress(step), clip_uploaded, log, progress(pct),
// error. Every event is appended to an append-only log collection; the
// job-level ProcessingProgress document is written at most once per
// updateInterval, except on scene completion and on Error, which both
// force an update (spec §4.11). Grounded on iluha78-FD/internal/ingest/manager.go's
// per-stream in-memory state plus the teacher's internal/api/ws hub,
// re-purposed per SPEC_FULL.md's §4.11 supplement as an internal
// broadcast sink (never a new job-intake surface).
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vmatresu/viralclipai-sub001/internal/api/ws"
	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

const (
	progressCollection = "processing_progress"
	eventLogCollection = "processing_event_log"
)

// updateInterval is spec §4.11's PROGRESS_UPDATE_INTERVAL.
const updateInterval = 5 * time.Second

// Publisher is the interface every orchestrator/download/neural call
// site reports progress through.
type Publisher interface {
	SceneStarted(ctx context.Context, sceneID uint32, sceneTitle string)
	ClipProgress(ctx context.Context, sceneID uint32, style models.Style, step models.ClipStepKind, detail string)
	ClipUploaded(ctx context.Context, sceneID uint32, style models.Style)
	Log(ctx context.Context, message string)
	Progress(ctx context.Context, pct float64)
	Error(ctx context.Context, err error)
	SceneCompleted(ctx context.Context, sceneID uint32)
}

// Tracker implements Publisher for one job, holding the in-memory
// counters spec §4.11 names and throttling the document-store write.
type Tracker struct {
	store *docstore.Store
	hub   *ws.Hub

	jobID string

	mu         sync.Mutex
	state      models.ProcessingProgress
	lastFlush  time.Time
	eventSeq   int64
}

func NewTracker(store *docstore.Store, hub *ws.Hub, jobID string, totalScenes int) *Tracker {
	return &Tracker{
		store: store,
		hub:   hub,
		jobID: jobID,
		state: models.ProcessingProgress{JobID: jobID, TotalScenes: totalScenes},
	}
}

func (t *Tracker) SceneStarted(ctx context.Context, sceneID uint32, sceneTitle string) {
	t.mu.Lock()
	t.state.CurrentSceneID = sceneID
	t.state.CurrentSceneTitle = sceneTitle
	t.mu.Unlock()

	t.appendEvent(ctx, eventEnvelope{
		JobID: t.jobID, Type: "scene_started", SceneID: sceneID, SceneTitle: sceneTitle, Time: time.Now(),
	})
	t.flush(ctx, false)
}

func (t *Tracker) ClipProgress(ctx context.Context, sceneID uint32, style models.Style, step models.ClipStepKind, detail string) {
	t.mu.Lock()
	if step == models.ClipStepFailed {
		t.state.FailedClips++
		t.state.LastError = detail
	}
	t.mu.Unlock()

	evt := models.ClipProcessingStep{JobID: t.jobID, SceneID: sceneID, Style: style, Step: step, Detail: detail, Time: time.Now()}
	t.appendEvent(ctx, eventEnvelope{JobID: t.jobID, Type: "clip_progress", ClipStep: &evt, Time: evt.Time})
	t.flush(ctx, false)
}

func (t *Tracker) ClipUploaded(ctx context.Context, sceneID uint32, style models.Style) {
	t.mu.Lock()
	t.state.CompletedClips++
	t.mu.Unlock()

	t.appendEvent(ctx, eventEnvelope{
		JobID: t.jobID, Type: "clip_uploaded", SceneID: sceneID, Style: style, Time: time.Now(),
	})
	t.flush(ctx, false)
}

func (t *Tracker) Log(ctx context.Context, message string) {
	t.appendEvent(ctx, eventEnvelope{JobID: t.jobID, Type: "log", Message: message, Time: time.Now()})
}

func (t *Tracker) Progress(ctx context.Context, pct float64) {
	t.mu.Lock()
	t.state.PercentComplete = pct
	t.mu.Unlock()
	t.flush(ctx, false)
}

func (t *Tracker) Error(ctx context.Context, err error) {
	t.mu.Lock()
	t.state.LastError = err.Error()
	t.mu.Unlock()

	t.appendEvent(ctx, eventEnvelope{JobID: t.jobID, Type: "error", Message: err.Error(), Time: time.Now()})
	t.flush(ctx, true)
}

// SceneCompleted increments completed_scenes and force-flushes the
// document write, spec §4.11's "except on scene completion
// (force-update)".
func (t *Tracker) SceneCompleted(ctx context.Context, sceneID uint32) {
	t.mu.Lock()
	t.state.CompletedScenes++
	if t.state.TotalScenes > 0 {
		t.state.PercentComplete = 100 * float64(t.state.CompletedScenes) / float64(t.state.TotalScenes)
	}
	t.mu.Unlock()

	t.appendEvent(ctx, eventEnvelope{JobID: t.jobID, Type: "scene_completed", SceneID: sceneID, Time: time.Now()})
	t.flush(ctx, true)
}

type eventEnvelope struct {
	JobID      string                     `json:"job_id"`
	Type       string                     `json:"type"`
	SceneID    uint32                     `json:"scene_id,omitempty"`
	SceneTitle string                     `json:"scene_title,omitempty"`
	Style      models.Style               `json:"style,omitempty"`
	ClipStep   *models.ClipProcessingStep `json:"clip_step,omitempty"`
	Message    string                     `json:"message,omitempty"`
	Time       time.Time                  `json:"time"`
}

func (t *Tracker) appendEvent(ctx context.Context, evt eventEnvelope) {
	t.mu.Lock()
	t.eventSeq++
	seq := t.eventSeq
	t.mu.Unlock()

	path := fmt.Sprintf("%s/%020d", t.jobID, seq)
	if err := t.store.Put(ctx, eventLogCollection, path, evt); err != nil {
		slog.Error("append progress event", "job_id", t.jobID, "error", err)
	}

	if t.hub != nil {
		if payload, err := json.Marshal(evt); err == nil {
			t.hub.Broadcast(payload)
		}
	}
}

// flush writes the ProcessingProgress document if updateInterval has
// elapsed since the last write, or unconditionally when force is true.
func (t *Tracker) flush(ctx context.Context, force bool) {
	t.mu.Lock()
	if !force && time.Since(t.lastFlush) < updateInterval {
		t.mu.Unlock()
		return
	}
	t.state.UpdatedAt = time.Now()
	snapshot := t.state
	t.lastFlush = snapshot.UpdatedAt
	t.mu.Unlock()

	if err := t.store.Put(ctx, progressCollection, t.jobID, snapshot); err != nil {
		slog.Error("write processing progress", "job_id", t.jobID, "error", err)
	}
}

// Current reads back the last-persisted progress document, e.g. for a
// status-poll API outside the progress channel itself.
func Current(ctx context.Context, store *docstore.Store, jobID string) (models.ProcessingProgress, error) {
	var p models.ProcessingProgress
	if err := store.Get(ctx, progressCollection, jobID, &p); err != nil {
		if err == pgx.ErrNoRows {
			return models.ProcessingProgress{JobID: jobID}, nil
		}
		return models.ProcessingProgress{}, fmt.Errorf("read progress for %s: %w", jobID, err)
	}
	return p, nil
}
