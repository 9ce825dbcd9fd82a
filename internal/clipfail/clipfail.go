// Package clipfail gives the error taxonomy of spec §7 concrete Go
// types, so the scene orchestrator can classify a failure (terminal vs
// retryable, clip-scoped vs job-scoped) without string-matching error
// text.
package clipfail

import (
	"errors"
	"fmt"
	"strings"
)

// QuotaExceededError is user-facing and terminal for the clip it
// occurred on.
type QuotaExceededError struct {
	UserID    string
	Estimated int64
	Limit     int64
	Current   int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for user %s: current=%d estimated=%d limit=%d",
		e.UserID, e.Current, e.Estimated, e.Limit)
}

// InvalidVideoError / InvalidRequestError are malformed input, terminal,
// returned before any work starts.
type InvalidVideoError struct{ Reason string }

func (e *InvalidVideoError) Error() string { return "invalid video: " + e.Reason }

type InvalidRequestError struct{ Reason string }

func (e *InvalidRequestError) Error() string { return "invalid request: " + e.Reason }

// DownloadFailedError is transient and retryable at the job level.
type DownloadFailedError struct {
	Stderr string
	Cause  error
}

func (e *DownloadFailedError) Error() string {
	return fmt.Sprintf("download failed: %v (stderr: %s)", e.Cause, tail(e.Stderr, 200))
}

func (e *DownloadFailedError) Unwrap() error { return e.Cause }

// IsRateLimited distinguishes a YouTube rate-limit for metrics purposes
// (spec §7).
func (e *DownloadFailedError) IsRateLimited() bool {
	s := e.Stderr
	return strings.Contains(s, "429") ||
		strings.Contains(s, "Too Many Requests") ||
		strings.Contains(s, "Sign in to confirm")
}

// SubprocessFailedError wraps an ffmpeg/yt-dlp non-zero exit. Not retried
// within a clip; fails the clip.
type SubprocessFailedError struct {
	Command    string
	ExitCode   int
	StderrTail string
}

func (e *SubprocessFailedError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Command, e.ExitCode, tail(e.StderrTail, 500))
}

// DetectionFailedError is contained within the analysis service: it
// degrades to empty analysis and must never bubble out of
// internal/neural.
type DetectionFailedError struct{ Cause error }

func (e *DetectionFailedError) Error() string { return "detection failed: " + e.Cause.Error() }
func (e *DetectionFailedError) Unwrap() error { return e.Cause }

// StorageError wraps an object-store failure. Critical reports whether
// it occurred on the critical path (clip/source upload) vs a
// non-critical path (thumbnail, accounting) where it is logged only.
type StorageError struct {
	Op       string
	Key      string
	Cause    error
	Critical bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("object store %s %s: %v", e.Op, e.Key, e.Cause)
}
func (e *StorageError) Unwrap() error { return e.Cause }

// DocumentStoreError wraps a document-store failure. Fatal on
// clip-metadata writes; best-effort on progress updates.
type DocumentStoreError struct {
	Op    string
	Path  string
	Cause error
	Fatal bool
}

func (e *DocumentStoreError) Error() string {
	return fmt.Sprintf("document store %s %s: %v", e.Op, e.Path, e.Cause)
}
func (e *DocumentStoreError) Unwrap() error { return e.Cause }

// LockLostError / LockTimeoutError: the caller must not assume atomicity
// held.
type LockLostError struct{ Key string }

func (e *LockLostError) Error() string { return "lock lost for key " + e.Key }

type LockTimeoutError struct{ Key string }

func (e *LockTimeoutError) Error() string { return "lock wait timed out for key " + e.Key }

// CancelledError is cooperative cancellation: the caller must clean up
// subprocesses and partial files.
type CancelledError struct{ Cause error }

func (e *CancelledError) Error() string { return "cancelled: " + e.Cause.Error() }
func (e *CancelledError) Unwrap() error { return e.Cause }

// IsClipScoped reports whether an error should fail only the one clip
// (continue the job) vs abort the whole scene or job, per spec §7's
// propagation policy.
func IsClipScoped(err error) bool {
	var quota *QuotaExceededError
	var sub *SubprocessFailedError
	var doc *DocumentStoreError
	var stg *StorageError
	switch {
	case errors.As(err, &quota):
		return true
	case errors.As(err, &sub):
		return true
	case errors.As(err, &doc):
		return !doc.Fatal || true // clip-metadata write failures still only fail that clip
	case errors.As(err, &stg):
		return stg.Critical
	default:
		return false
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
