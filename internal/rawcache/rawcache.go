// Package rawcache implements the raw-segment cache (spec §4.2): for a
// (user, video, scene, padded_start, padded_end) key, return a local
// file path to the stream-copy-trimmed segment, populating the cache on
// miss. Subprocess invocation is grounded on
// iluha78-FD/internal/ingest/ffmpeg.go's exec.CommandContext +
// stderr-scanner pattern; the host-local miss-path guard uses
// golang.org/x/sync/singleflight so concurrent workers on the same host
// never duplicate extraction for the same key.
package rawcache

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vmatresu/viralclipai-sub001/internal/models"
	"github.com/vmatresu/viralclipai-sub001/internal/objectstore"
)

// Cache serves trimmed raw segments out of a local directory, backed by
// an object store for cross-run persistence.
type Cache struct {
	store   objectstore.Store
	baseDir string
	group   singleflight.Group
}

func New(store objectstore.Store, baseDir string) *Cache {
	return &Cache{store: store, baseDir: baseDir}
}

// Key derives the deterministic cache key for a padded scene range,
// rounding start/end to milliseconds as spec §4.2 requires.
func Key(userID, videoID string, task models.SceneTask) string {
	start, end := task.PaddedRange()
	return fmt.Sprintf("%s/%s/%d@%d-%d", userID, videoID, task.SceneID,
		start.Milliseconds(), end.Milliseconds())
}

func (c *Cache) localPath(userID, videoID string, task models.SceneTask) string {
	return filepath.Join(c.baseDir, userID, videoID, fmt.Sprintf("%d.mp4", task.SceneID))
}

func sceneIDString(task models.SceneTask) string {
	return fmt.Sprintf("%d", task.SceneID)
}

// GetOrCreateWithOutcome implements the three-step lookup chain: local
// file, then object store, then ffmpeg stream-copy extraction. created
// reports whether extraction actually ran (for storage-accounting
// increments, spec §4.9).
func (c *Cache) GetOrCreateWithOutcome(ctx context.Context, userID, videoID string, task models.SceneTask, sourcePath string) (path string, created bool, err error) {
	key := Key(userID, videoID, task)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.getOrCreate(ctx, userID, videoID, task, sourcePath)
	})
	if err != nil {
		return "", false, err
	}
	res := v.(outcome)
	return res.path, res.created, nil
}

type outcome struct {
	path    string
	created bool
}

func (c *Cache) getOrCreate(ctx context.Context, userID, videoID string, task models.SceneTask, sourcePath string) (outcome, error) {
	local := c.localPath(userID, videoID, task)

	if fi, statErr := os.Stat(local); statErr == nil && fi.Size() > 0 {
		return outcome{path: local, created: false}, nil
	}

	objKey := objectstore.RawSegmentKey(userID, videoID, sceneIDString(task))
	if exists, existsErr := c.store.Exists(ctx, objKey); existsErr == nil && exists {
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return outcome{}, fmt.Errorf("create cache dir: %w", err)
		}
		if err := c.store.Get(ctx, objKey, local); err == nil {
			return outcome{path: local, created: false}, nil
		}
		slog.Warn("raw segment object-store get failed, falling back to extraction", "key", objKey)
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return outcome{}, fmt.Errorf("create cache dir: %w", err)
	}

	start, end := task.PaddedRange()
	if err := extractStreamCopy(ctx, sourcePath, local, start.Seconds(), (end - start).Seconds()); err != nil {
		return outcome{}, err
	}

	fi, err := os.Stat(local)
	if err != nil || fi.Size() == 0 {
		_ = os.Remove(local)
		return outcome{}, fmt.Errorf("raw segment extraction produced empty output for scene %d", task.SceneID)
	}

	if err := c.store.Put(ctx, objKey, local, "video/mp4"); err != nil {
		slog.Warn("raw segment upload failed, local path still usable", "key", objKey, "error", err)
	}

	return outcome{path: local, created: true}, nil
}

// CheckExists is the existence probe spec §4.2 names explicitly.
func (c *Cache) CheckExists(ctx context.Context, userID, videoID string, task models.SceneTask) (bool, error) {
	return c.store.Exists(ctx, objectstore.RawSegmentKey(userID, videoID, sceneIDString(task)))
}

// UploadRawSegment is the explicit put spec §4.2 names.
func (c *Cache) UploadRawSegment(ctx context.Context, userID, videoID string, task models.SceneTask, path string) error {
	return c.store.Put(ctx, objectstore.RawSegmentKey(userID, videoID, sceneIDString(task)), path, "video/mp4")
}

// extractStreamCopy runs ffmpeg -ss start -i source -t duration -c copy
// -movflags +faststart, the exact invocation spec §4.2 specifies.
func extractStreamCopy(ctx context.Context, sourcePath, destPath string, startSec, durationSec float64) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-i", sourcePath,
		"-t", fmt.Sprintf("%.3f", durationSec),
		"-c", "copy",
		"-movflags", "+faststart",
		"-y",
		destPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var lastLines []string
	// exec.Cmd requires every pipe reader to finish before Wait is
	// called; an errgroup joins the stderr scanner before Wait instead
	// of racing a bare goroutine against it.
	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			lastLines = append(lastLines, line)
			if len(lastLines) > 20 {
				lastLines = lastLines[1:]
			}
		}
		return scanner.Err()
	})

	if err := g.Wait(); err != nil {
		slog.Warn("ffmpeg stderr scan error", "error", err)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg stream-copy extraction failed: %w (last output: %v)", err, lastLines)
	}
	return nil
}
