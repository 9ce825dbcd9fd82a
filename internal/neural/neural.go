// Package neural implements the neural analysis service (spec §4.4):
// detection runs at most once per (video, scene, tier), shared across
// every style of that scene, guarded by a distributed lock with
// double-checked caching. Grounded on iluha78-FD/internal/ingest/manager.go's
// per-key coordination shape and internal/vision's tier-dispatched
// Engine for the detection itself.
package neural

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
	"github.com/vmatresu/viralclipai-sub001/internal/lock"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
	"github.com/vmatresu/viralclipai-sub001/internal/storageacct"
	"github.com/vmatresu/viralclipai-sub001/internal/vision"
)

const collection = "scene_neural_analysis"
const identityCollection = "track_identities"
const lockTTL = 5 * time.Minute // must exceed worst-case detection time, spec §4.4's concurrency note

// VideoInfo carries the source frame dimensions the engine needs to
// convert raw detections into normalised coordinates.
type VideoInfo struct {
	Width, Height int
}

// Service implements spec §4.4's ensure_analysis_cached.
type Service struct {
	store   *docstore.Store
	locker  *lock.Locker
	engine  *vision.Engine
	acct    *storageacct.Service
	config  CinematicConfig

	reid          *ReIDStore
	reidThreshold float64
}

// EnableReID turns on cross-scene track re-identification: every track
// embedding the engine reports is matched against previously stored
// tracks for the same user before being persisted, closing the gap
// the Kalman tracker's own in-memory lost-track buffer leaves once a
// subject has been gone longer than its gap window (spec §4.5's
// re-identification supplement). Best-effort: store errors are logged,
// never fail the analysis they're attached to.
func (s *Service) EnableReID(store *ReIDStore, threshold float64) {
	s.reid = store
	s.reidThreshold = threshold
}

// CinematicConfig records the shot-detection parameters a cached
// CinematicSignalsCache was computed with, so a config change can
// invalidate the cache the same way an analysis_version bump does.
type CinematicConfig struct {
	ShotThreshold   float64
	MinShotDuration float64
}

func NewService(store *docstore.Store, locker *lock.Locker, engine *vision.Engine, acct *storageacct.Service, cfg CinematicConfig) *Service {
	return &Service{store: store, locker: locker, engine: engine, acct: acct, config: cfg}
}

func key(userID, videoID string, sceneID uint32) string {
	return fmt.Sprintf("%s/%s/%d", userID, videoID, sceneID)
}

// EnsureAnalysisCached implements the exact algorithm spec §4.4 names:
// a direct cache-hit check, then a locked double-checked re-fetch
// before running detection, then persist-and-account before releasing
// the lock.
func (s *Service) EnsureAnalysisCached(
	ctx context.Context,
	userID, videoID string,
	sceneID uint32,
	videoPath string,
	tStart, tEnd float64,
	requiredTier models.DetectionTier,
	video VideoInfo,
) (models.SceneNeuralAnalysis, error) {
	k := key(userID, videoID, sceneID)

	if cached, ok, err := s.lookup(ctx, k); err != nil {
		return models.SceneNeuralAnalysis{}, err
	} else if ok && cached.SatisfiesRequest(requiredTier) {
		return cached, nil
	}

	handle, err := s.locker.AcquireOrWait(ctx, "neural:"+k, lockTTL, 10*time.Second)
	if err != nil {
		return models.SceneNeuralAnalysis{}, fmt.Errorf("acquire neural analysis lock: %w", err)
	}
	defer handle.Release(ctx)

	if cached, ok, err := s.lookup(ctx, k); err != nil {
		return models.SceneNeuralAnalysis{}, err
	} else if ok && cached.SatisfiesRequest(requiredTier) {
		return cached, nil
	}

	result := s.engine.Analyze(ctx, videoPath, tStart, tEnd, requiredTier, video.Width, video.Height)

	analysis := models.SceneNeuralAnalysis{
		UserID:          userID,
		VideoID:         videoID,
		SceneID:         sceneID,
		DetectionTier:   requiredTier,
		AnalysisVersion: models.AnalysisVersion,
		Frames:          result.Frames,
		CreatedAt:       time.Now(),
	}
	if requiredTier == models.TierCinematic {
		analysis.CinematicSignals = &models.CinematicSignalsCache{
			Shots:            result.Shots,
			Version:          models.CinematicSignalsVersion,
			ShotThreshold:    s.config.ShotThreshold,
			MinShotDuration:  s.config.MinShotDuration,
			ObjectDetections: result.Objects,
		}
	}

	if s.reid != nil && len(result.TrackEmbeddings) > 0 {
		s.reidentifyTracks(ctx, userID, videoID, k, result.TrackEmbeddings)
	}

	sizeDelta, err := s.persist(ctx, k, analysis)
	if err != nil {
		return models.SceneNeuralAnalysis{}, err
	}
	if s.acct != nil {
		if err := s.acct.AddNeuralCache(ctx, userID, sizeDelta); err != nil {
			return models.SceneNeuralAnalysis{}, fmt.Errorf("account neural cache delta: %w", err)
		}
	}

	return analysis, nil
}

// reidentifyTracks looks each track's embedding up against every other
// track stored for this user; a match above reidThreshold is recorded
// as an identity link (so a caller can merge the two tracks' clips as
// one subject) before the embedding itself is stored for future
// lookups.
func (s *Service) reidentifyTracks(ctx context.Context, userID, videoID, sceneKey string, embeddings map[uint32][]float32) {
	for trackID, embedding := range embeddings {
		trackKey := fmt.Sprintf("%s/%d", sceneKey, trackID)

		if match, found, err := s.reid.FindMatch(ctx, userID, embedding, s.reidThreshold); err != nil {
			slog.Warn("reid lookup failed", "track_key", trackKey, "error", err)
		} else if found {
			link := trackIdentityLink{TrackKey: trackKey, MatchedTrackKey: match.TrackKey, Score: match.Score}
			if err := s.store.Put(ctx, identityCollection, trackKey, link); err != nil {
				slog.Warn("persist track identity link", "track_key", trackKey, "error", err)
			}
		}

		if err := s.reid.Upsert(ctx, trackKey, userID, videoID, embedding); err != nil {
			slog.Warn("persist track embedding", "track_key", trackKey, "error", err)
		}
	}
}

// trackIdentityLink records that trackKey was re-identified as the
// same subject as an earlier MatchedTrackKey.
type trackIdentityLink struct {
	TrackKey        string  `json:"track_key"`
	MatchedTrackKey string  `json:"matched_track_key"`
	Score           float64 `json:"score"`
}

func (s *Service) lookup(ctx context.Context, k string) (models.SceneNeuralAnalysis, bool, error) {
	var a models.SceneNeuralAnalysis
	err := s.store.Get(ctx, collection, k, &a)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.SceneNeuralAnalysis{}, false, nil
		}
		return models.SceneNeuralAnalysis{}, false, fmt.Errorf("lookup cached analysis %s: %w", k, err)
	}
	return a, true, nil
}

// persist stores the analysis and returns the byte-size delta vs. what
// was previously stored (0 if nothing was stored before), for storage
// accounting.
func (s *Service) persist(ctx context.Context, k string, a models.SceneNeuralAnalysis) (int64, error) {
	before, existed, err := s.lookup(ctx, k)
	_ = before
	if err != nil {
		return 0, err
	}

	newBytes, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("marshal analysis %s: %w", k, err)
	}

	var oldSize int64
	if existed {
		if oldBytes, merr := json.Marshal(before); merr == nil {
			oldSize = int64(len(oldBytes))
		}
	}

	if err := s.store.Put(ctx, collection, k, a); err != nil {
		return 0, fmt.Errorf("persist analysis %s: %w", k, err)
	}

	return int64(len(newBytes)) - oldSize, nil
}
