package neural

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
)

// ReIDStore persists per-track appearance embeddings and finds the
// closest prior track by cosine distance, the cross-scene counterpart
// to the Kalman tracker's in-memory lost-track buffer: a subject who
// leaves frame for longer than the tracker's gap window (a cutaway, a
// shot change, a different scene entirely) still resolves to the same
// identity on reappearance. Grounded on
// iluha78-FD/internal/storage/postgres.go's AddFaceEmbedding/SearchFaces,
// generalised from person identities to arbitrary track keys.
type ReIDStore struct {
	pool *pgxpool.Pool
}

// Schema:
//   CREATE EXTENSION IF NOT EXISTS vector;
//   CREATE TABLE track_embeddings (
//     track_key    text PRIMARY KEY,
//     user_id      text NOT NULL,
//     video_id     text NOT NULL,
//     embedding    vector(128) NOT NULL,
//     updated_at   timestamptz NOT NULL DEFAULT now()
//   );
//   CREATE INDEX track_embeddings_user_video_idx ON track_embeddings (user_id, video_id);

func NewReIDStore(ctx context.Context, cfg docstore.Config) (*ReIDStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse reid store dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect reid store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping reid store: %w", err)
	}
	return &ReIDStore{pool: pool}, nil
}

func (s *ReIDStore) Close() { s.pool.Close() }

// Upsert records trackKey's current embedding, overwriting any prior
// vector stored under the same key.
func (s *ReIDStore) Upsert(ctx context.Context, trackKey, userID, videoID string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO track_embeddings (track_key, user_id, video_id, embedding, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (track_key)
		DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`,
		trackKey, userID, videoID, vec)
	if err != nil {
		return fmt.Errorf("upsert track embedding %s: %w", trackKey, err)
	}
	return nil
}

// ReIDMatch is the closest prior track to a queried embedding.
type ReIDMatch struct {
	TrackKey string
	Score    float64 // cosine similarity, 1 is identical
}

// FindMatch returns the closest track (scoped to userID, so one
// creator's library never matches another's) whose stored embedding
// clears threshold cosine similarity against embedding, matching the
// teacher's SearchFaces query shape with the pgvector <=> cosine
// distance operator.
func (s *ReIDStore) FindMatch(ctx context.Context, userID string, embedding []float32, threshold float64) (ReIDMatch, bool, error) {
	vec := pgvector.NewVector(embedding)
	var match ReIDMatch
	err := s.pool.QueryRow(ctx, `
		SELECT track_key, 1 - (embedding <=> $1) AS score
		FROM track_embeddings
		WHERE user_id = $2
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT 1`,
		vec, userID, threshold).Scan(&match.TrackKey, &match.Score)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ReIDMatch{}, false, nil
		}
		return ReIDMatch{}, false, fmt.Errorf("find track match: %w", err)
	}
	return match, true, nil
}
