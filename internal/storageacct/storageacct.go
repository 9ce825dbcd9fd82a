// Package storageacct implements the per-user storage accounting and
// quota contract of spec §4.9: authoritative byte counters mutated only
// by increment-only deltas, plus the pre-flight quota gate every clip
// must pass before any style processor runs. Grounded on
// iluha78-FD/internal/storage/postgres.go's atomic counter-update
// pattern, generalised from that service's single running-total column
// to the three independently-tracked counters spec §4.9 names, and
// backed by internal/docstore.IncrementCounters for the atomic delta
// application itself.
package storageacct

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vmatresu/viralclipai-sub001/internal/clipfail"
	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
)

const collection = "storage_accounting"

// EstimatedClipBytes is the fixed conservative per-clip estimate spec
// §4.9's pre-flight check uses ("e.g. 50 MiB").
const EstimatedClipBytes int64 = 50 << 20

const (
	fieldRaw    = "raw_segment_bytes"
	fieldNeural = "neural_cache_bytes"
	fieldStyled = "styled_clip_bytes"
	fieldTotal  = "total_bytes"
)

// Service owns the per-user counter document.
type Service struct {
	store *docstore.Store
}

func NewService(store *docstore.Store) *Service {
	return &Service{store: store}
}

func key(userID string) string { return userID }

// Current returns the user's counters, zero-valued if no document has
// been written for them yet.
func (s *Service) Current(ctx context.Context, userID string) (models.StorageAccounting, error) {
	var a models.StorageAccounting
	if err := s.store.Get(ctx, collection, key(userID), &a); err != nil {
		if err == pgx.ErrNoRows {
			return models.StorageAccounting{UserID: userID}, nil
		}
		return models.StorageAccounting{}, fmt.Errorf("read storage accounting for %s: %w", userID, err)
	}
	return a, nil
}

// WouldExceedQuota implements spec §4.9's pre-flight gate:
// would_exceed_quota(estimated, limit). Returns a *clipfail.QuotaExceededError
// (not just a bool) so the orchestrator can fail the clip with the exact
// taxonomy spec §7 requires, or nil if the clip may proceed.
func (s *Service) WouldExceedQuota(ctx context.Context, userID string, plan models.PlanTier) error {
	current, err := s.Current(ctx, userID)
	if err != nil {
		return err
	}
	limit := plan.StorageLimitBytes()
	if wouldExceedQuota(current.TotalBytes, EstimatedClipBytes, limit) {
		return &clipfail.QuotaExceededError{
			UserID:    userID,
			Estimated: EstimatedClipBytes,
			Limit:     limit,
			Current:   current.TotalBytes,
		}
	}
	return nil
}

// wouldExceedQuota is spec §4.9's would_exceed_quota(estimated, limit),
// split out as a pure function of the current total.
func wouldExceedQuota(current, estimated, limit int64) bool {
	return current+estimated > limit
}

// AddRawSegment records a raw-segment cache write (spec §4.9's
// "raw segments on creation").
func (s *Service) AddRawSegment(ctx context.Context, userID string, deltaBytes int64) error {
	return s.increment(ctx, userID, fieldRaw, deltaBytes)
}

// AddNeuralCache records a neural analysis cache write (spec §4.9's
// "neural cache on first persist").
func (s *Service) AddNeuralCache(ctx context.Context, userID string, deltaBytes int64) error {
	return s.increment(ctx, userID, fieldNeural, deltaBytes)
}

// AddStyledClip records a styled clip upload (spec §4.9's "styled clip
// on upload success"). Callers must only invoke this after the upload
// has actually succeeded, never speculatively before or during retry.
func (s *Service) AddStyledClip(ctx context.Context, userID string, deltaBytes int64) error {
	return s.increment(ctx, userID, fieldStyled, deltaBytes)
}

// increment never decrements in the normal flow: a zero or negative
// delta is a no-op rather than an error. Eviction and GC are a separate
// operation per spec §4.9, not handled here.
func (s *Service) increment(ctx context.Context, userID, field string, deltaBytes int64) error {
	if deltaBytes <= 0 {
		return nil
	}
	deltas := map[string]int64{
		field:      deltaBytes,
		fieldTotal: deltaBytes,
	}
	if err := s.store.IncrementCounters(ctx, collection, key(userID), deltas); err != nil {
		return fmt.Errorf("increment %s for %s: %w", field, userID, err)
	}
	return nil
}

