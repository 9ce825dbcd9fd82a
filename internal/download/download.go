// Package download implements the single-flight source-download
// coordinator of spec §4.10: one (user, video) download happens at
// most once across the whole worker fleet, guarded by
// internal/lock. Grounded on iluha78-FD/internal/ingest/{ytdlp.go,
// manager.go}: the yt-dlp subprocess invocation follows ytdlp.go's
// exec.CommandContext idiom, and the retry/backoff shape mirrors
// manager.go's startStream goroutine (1<<attempt second backoff).
package download

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/vmatresu/viralclipai-sub001/internal/clipfail"
	"github.com/vmatresu/viralclipai-sub001/internal/docstore"
	"github.com/vmatresu/viralclipai-sub001/internal/lock"
	"github.com/vmatresu/viralclipai-sub001/internal/models"
	"github.com/vmatresu/viralclipai-sub001/internal/objectstore"
)

const collection = "source_videos"

// lockTTL must exceed the worst-case yt-dlp run; renewed by the
// download goroutine via Handle.KeepAlive for long downloads.
const lockTTL = 2 * time.Minute

func key(userID, videoID string) string { return userID + "/" + videoID }

func objectKey(userID, videoID string) string { return objectstore.SourceKey(userID, videoID) }

// legacyObjectKey is the pre-coordinator naming scheme, kept as a
// fallback lookup per spec §4.10's "try a legacy object key" step.
func legacyObjectKey(videoID string) string { return "legacy/" + videoID + ".mp4" }

// DecisionKind is the three-way outcome of AcquireOrWaitForDownload.
type DecisionKind int

const (
	UseCache DecisionKind = iota
	WaitForOther
	PerformDownload
)

// Decision is the coordinator's acquire_or_wait_for_download result.
type Decision struct {
	Kind      DecisionKind
	ObjectKey string      // valid when Kind == UseCache
	Handle    *lock.Handle // valid when Kind == PerformDownload
}

// WaitOutcome is what a WaitForOther caller eventually observes.
type WaitOutcome struct {
	Ready     bool
	ObjectKey string
	Err       error
	TimedOut  bool
}

// Config tunes the yt-dlp invocation and coordinator polling.
type Config struct {
	OutputDir       string
	CookiesPath     string
	IPv6SourceAddrs []string // rotated round-robin across download attempts
	WaitTimeout     time.Duration
	MaxRetries      int
}

func DefaultConfig(outputDir string) Config {
	return Config{OutputDir: outputDir, WaitTimeout: 5 * time.Minute, MaxRetries: 3}
}

// Coordinator implements spec §4.10 end to end.
type Coordinator struct {
	store  *docstore.Store
	locker *lock.Locker
	objs   objectstore.Store
	cfg    Config

	attemptCounter int
}

func NewCoordinator(store *docstore.Store, locker *lock.Locker, objs objectstore.Store, cfg Config) *Coordinator {
	return &Coordinator{store: store, locker: locker, objs: objs, cfg: cfg}
}

// AcquireOrWaitForDownload implements spec §4.10's
// acquire_or_wait_for_download: UseCache if the source is already ready,
// WaitForOther if another worker holds the lock, otherwise an atomic
// lock acquisition returning PerformDownload.
func (c *Coordinator) AcquireOrWaitForDownload(ctx context.Context, userID, videoID string) (Decision, error) {
	k := key(userID, videoID)

	if sv, ok, err := c.lookup(ctx, k); err != nil {
		return Decision{}, err
	} else if ok && sv.Status == models.SourceReady {
		return Decision{Kind: UseCache, ObjectKey: sv.ObjectKey}, nil
	}

	handle, acquired, err := c.locker.TryAcquire(ctx, "download:"+k, lockTTL)
	if err != nil {
		return Decision{}, fmt.Errorf("try acquire download lock %s: %w", k, err)
	}
	if !acquired {
		return Decision{Kind: WaitForOther}, nil
	}
	return Decision{Kind: PerformDownload, Handle: handle}, nil
}

// WaitForReady polls the document store with capped exponential backoff
// until the source becomes ready, fails, or WaitTimeout elapses (spec
// §4.10's "waiting workers poll with backoff").
func (c *Coordinator) WaitForReady(ctx context.Context, userID, videoID string) WaitOutcome {
	k := key(userID, videoID)
	deadline := time.Now().Add(c.cfg.WaitTimeout)
	backoff := 250 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		if sv, ok, err := c.lookup(ctx, k); err == nil && ok {
			switch sv.Status {
			case models.SourceReady:
				return WaitOutcome{Ready: true, ObjectKey: sv.ObjectKey}
			case models.SourceFailed:
				return WaitOutcome{Err: fmt.Errorf("source download failed: %s", sv.Error)}
			}
		}
		if time.Now().After(deadline) {
			return WaitOutcome{TimedOut: true}
		}
		select {
		case <-ctx.Done():
			return WaitOutcome{Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// PerformDownload runs while holding the handle returned by
// AcquireOrWaitForDownload's PerformDownload decision: marks the source
// downloading, invokes yt-dlp with retry, and on success uploads to the
// object store and marks the source ready; on failure marks it failed.
// The lock is renewed via Handle.KeepAlive while this runs; if a renewal
// fails before the source is marked ready, it returns LockLostError. The
// lock is always released before returning.
func (c *Coordinator) PerformDownload(ctx context.Context, handle *lock.Handle, userID, videoID, sourceURL string) (string, error) {
	defer handle.Release(ctx)

	keepCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	lockLost := handle.KeepAlive(keepCtx)

	k := key(userID, videoID)
	if err := c.markDownloading(ctx, userID, videoID, sourceURL); err != nil {
		slog.Warn("mark downloading failed, continuing anyway", "key", k, "error", err)
	}

	localPath, err := c.runYtDlpWithRetry(ctx, sourceURL)
	if err != nil {
		_ = c.markFailed(ctx, userID, videoID, sourceURL, err.Error())
		return "", &clipfail.DownloadFailedError{Cause: err}
	}
	defer os.Remove(localPath)

	objKey := objectKey(userID, videoID)
	if err := c.objs.Put(ctx, objKey, localPath, "video/mp4"); err != nil {
		_ = c.markFailed(ctx, userID, videoID, sourceURL, err.Error())
		return "", &clipfail.StorageError{Op: "put", Key: objKey, Cause: err, Critical: true}
	}

	select {
	case lostErr := <-lockLost:
		if lostErr != nil {
			return "", &clipfail.LockLostError{Key: k}
		}
	default:
	}

	expiresAt := time.Now().Add(24 * time.Hour)
	if err := c.markReady(ctx, userID, videoID, sourceURL, objKey, expiresAt); err != nil {
		return "", fmt.Errorf("mark source ready: %w", err)
	}
	return objKey, nil
}

// runYtDlpWithRetry mirrors manager.go's startStream retry loop:
// exponential backoff (1<<attempt seconds, no upper cap on the delay,
// at most MaxRetries retries), rotating the IPv6 source
// address on each attempt when configured.
func (c *Coordinator) runYtDlpWithRetry(ctx context.Context, sourceURL string) (string, error) {
	maxRetries := c.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		path, err := c.runYtDlp(ctx, sourceURL, attempt)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if df, ok := err.(*clipfail.DownloadFailedError); ok && df.IsRateLimited() {
			slog.Warn("yt-dlp rate limited, backing off", "attempt", attempt)
		} else {
			slog.Warn("yt-dlp attempt failed", "attempt", attempt, "error", err)
		}
	}
	return "", fmt.Errorf("yt-dlp exhausted %d retries: %w", maxRetries, lastErr)
}

func (c *Coordinator) runYtDlp(ctx context.Context, sourceURL string, attempt int) (string, error) {
	if err := os.MkdirAll(c.cfg.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	outputTemplate := fmt.Sprintf("%s/%d_%%(id)s.%%(ext)s", c.cfg.OutputDir, time.Now().UnixNano())

	args := []string{
		"--format", "best[height<=1080]",
		"--no-playlist",
		"--output", outputTemplate,
		"--print", "after_move:filepath",
	}
	if c.cfg.CookiesPath != "" {
		args = append(args, "--cookies", c.cfg.CookiesPath)
	}
	if len(c.cfg.IPv6SourceAddrs) > 0 {
		addr := c.cfg.IPv6SourceAddrs[attempt%len(c.cfg.IPv6SourceAddrs)]
		args = append(args, "--source-address", addr)
	}
	args = append(args, sourceURL)

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("yt-dlp stderr pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("yt-dlp stdout pipe: %w", err)
	}

	var stderrBuf strings.Builder
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	// exec.Cmd requires every pipe reader to finish before Wait is
	// called; an errgroup fans the stderr/stdout scanners in and joins
	// them before Wait instead of racing a bare goroutine against it.
	var g errgroup.Group
	g.Go(func() error {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')
			slog.Debug("yt-dlp stderr", "output", line)
		}
		return scanner.Err()
	})

	var outPath string
	g.Go(func() error {
		outScanner := bufio.NewScanner(stdout)
		for outScanner.Scan() {
			outPath = strings.TrimSpace(outScanner.Text())
		}
		return outScanner.Err()
	})

	if err := g.Wait(); err != nil {
		slog.Warn("yt-dlp pipe scan error", "error", err)
	}

	if err := cmd.Wait(); err != nil {
		return "", &clipfail.DownloadFailedError{Stderr: stderrBuf.String(), Cause: err}
	}
	if outPath == "" {
		return "", &clipfail.DownloadFailedError{Stderr: stderrBuf.String(), Cause: fmt.Errorf("yt-dlp produced no output path")}
	}
	return outPath, nil
}

// FallbackDownload implements spec §4.10's final fallback chain: after
// the coordinator paths fail, try the legacy object key, then a direct
// best-effort yt-dlp run with opportunistic background upload.
func (c *Coordinator) FallbackDownload(ctx context.Context, userID, videoID, sourceURL string) (string, error) {
	legacy := legacyObjectKey(videoID)
	if exists, err := c.objs.Exists(ctx, legacy); err == nil && exists {
		return legacy, nil
	}

	localPath, err := c.runYtDlp(ctx, sourceURL, 0)
	if err != nil {
		return "", &clipfail.DownloadFailedError{Cause: err}
	}

	objKey := objectKey(userID, videoID)
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := c.objs.Put(bgCtx, objKey, localPath, "video/mp4"); err != nil {
			slog.Error("opportunistic fallback upload failed", "key", objKey, "error", err)
			return
		}
		os.Remove(localPath)
	}()

	return localPath, nil
}

func (c *Coordinator) lookup(ctx context.Context, k string) (models.SourceVideo, bool, error) {
	var sv models.SourceVideo
	err := c.store.Get(ctx, collection, k, &sv)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.SourceVideo{}, false, nil
		}
		return models.SourceVideo{}, false, fmt.Errorf("lookup source video %s: %w", k, err)
	}
	return sv, true, nil
}

func (c *Coordinator) markDownloading(ctx context.Context, userID, videoID, sourceURL string) error {
	k := key(userID, videoID)
	return c.store.Put(ctx, collection, k, models.SourceVideo{
		UserID: userID, VideoID: videoID, SourceURL: sourceURL,
		Status: models.SourceDownloading, UpdatedAt: time.Now(),
	})
}

func (c *Coordinator) markReady(ctx context.Context, userID, videoID, sourceURL, objKey string, expiresAt time.Time) error {
	k := key(userID, videoID)
	return c.store.Put(ctx, collection, k, models.SourceVideo{
		UserID: userID, VideoID: videoID, SourceURL: sourceURL,
		ObjectKey: objKey, Status: models.SourceReady, ExpiresAt: expiresAt, UpdatedAt: time.Now(),
	})
}

func (c *Coordinator) markFailed(ctx context.Context, userID, videoID, sourceURL, errMsg string) error {
	k := key(userID, videoID)
	return c.store.Put(ctx, collection, k, models.SourceVideo{
		UserID: userID, VideoID: videoID, SourceURL: sourceURL,
		Status: models.SourceFailed, Error: errMsg, UpdatedAt: time.Now(),
	})
}

