package transmux

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMinSegments is how many segment entries the media playlist must
// accumulate before a job is declared ready.
const DefaultMinSegments = 6

const (
	defaultReadyTimeout = 20 * time.Second
	filePollInterval    = 300 * time.Millisecond
	segmentPollInterval = 400 * time.Millisecond
)

// ErrNotReady is returned when a readiness phase times out. The backing
// process keeps running, so a retried request may succeed later.
var ErrNotReady = errors.New("transmux output not ready before timeout")

// Job names one logical stream variant's output. The dedup key is a
// deterministic hash over (manifest URL, audio selector, resolution
// selector, fixed mode tag); it doubles as the output directory name, so the
// directory survives as a durable cache after the process exits.
type Job struct {
	Key        string
	Dir        string
	MasterPath string
	MediaPath  string
}

// CachePath is the gateway-relative URL of the job's master playlist.
func (j Job) CachePath() string {
	return "/cache/" + j.Key + "/" + MasterName
}

// process is the slice of exec.Cmd the registry needs; tests substitute a fake.
type process interface {
	Wait() error
}

// Supervisor deduplicates and launches transcoding processes. At most one
// live process exists per dedup key; the check-and-spawn sequence runs under
// one lock so racing first requests cannot double-spawn.
type Supervisor struct {
	root        string
	userAgent   string
	minSegments int
	ffmpegPath  string
	log         *slog.Logger

	readyTimeout time.Duration
	spawn        func(Spec) (process, error)

	mu    sync.Mutex
	procs map[string]process
}

// New returns a Supervisor writing job output under root.
// minSegments <= 0 falls back to DefaultMinSegments.
func New(root, userAgent string, minSegments int, log *slog.Logger) *Supervisor {
	if minSegments <= 0 {
		minSegments = DefaultMinSegments
	}
	s := &Supervisor{
		root:         root,
		userAgent:    userAgent,
		minSegments:  minSegments,
		ffmpegPath:   "ffmpeg",
		log:          log,
		readyTimeout: defaultReadyTimeout,
		procs:        make(map[string]process),
	}
	s.spawn = s.spawnFFmpeg
	return s
}

// jobKey hashes the variant identity. The fixed "event" tag keeps keys from
// colliding with any future processing mode.
func jobKey(manifestURL, audio, resolution string) string {
	sum := md5.Sum([]byte(manifestURL + "|" + audio + "|" + resolution + "|event"))
	return hex.EncodeToString(sum[:])
}

// Ensure guarantees a job exists for the given variant, spawning the
// transcoding process only when none is registered for the key and no
// completed master playlist already sits on disk. started reports whether
// this call spawned a process.
func (s *Supervisor) Ensure(manifestURL, audio, resolution string) (Job, bool, error) {
	key := jobKey(manifestURL, audio, resolution)
	dir := filepath.Join(s.root, key)
	spec := NewSpec(manifestURL, dir, s.userAgent)
	job := Job{Key: key, Dir: dir, MasterPath: spec.MasterPath(), MediaPath: spec.MediaPath()}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.procs[key]; running || fileExists(job.MasterPath) {
		return job, false, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Job{}, false, fmt.Errorf("create output dir: %w", err)
	}
	proc, err := s.spawn(spec)
	if err != nil {
		return Job{}, false, fmt.Errorf("spawn transcoder: %w", err)
	}
	s.procs[key] = proc

	go func() {
		err := proc.Wait()
		s.mu.Lock()
		delete(s.procs, key)
		s.mu.Unlock()
		if err != nil {
			s.log.Warn("transmux process exited with error",
				slog.String("key", key),
				slog.String("error", err.Error()))
		} else {
			s.log.Info("transmux process finished", slog.String("key", key))
		}
	}()

	s.log.Info("transmux process started",
		slog.String("key", key),
		slog.String("url", manifestURL),
		slog.String("audio", audio),
		slog.String("resolution", resolution))
	return job, true, nil
}

// spawnFFmpeg starts the external tool, forwarding its stderr to the log.
func (s *Supervisor) spawnFFmpeg(spec Spec) (process, error) {
	cmd := exec.Command(s.ffmpegPath, spec.Args()...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			s.log.Debug("ffmpeg", slog.String("line", sc.Text()))
		}
	}()
	return cmd, nil
}

// WaitReady blocks until the job's output is sufficiently populated to begin
// playback: first the master playlist must appear on disk, then the media
// playlist must list at least the configured minimum segment count. Each
// phase is bounded by its own timeout; on timeout ErrNotReady is returned and
// the backing process is left running to keep filling the cache.
func (s *Supervisor) WaitReady(job Job) error {
	if err := waitFor(s.readyTimeout, filePollInterval, func() bool {
		return fileExists(job.MasterPath)
	}); err != nil {
		return fmt.Errorf("master playlist %s: %w", job.MasterPath, err)
	}
	if err := waitFor(s.readyTimeout, segmentPollInterval, func() bool {
		return countSegments(job.MediaPath) >= s.minSegments
	}); err != nil {
		return fmt.Errorf("media playlist %s below %d segments: %w", job.MediaPath, s.minSegments, err)
	}
	return nil
}

// ActiveProcessCount reports how many transcoding processes are running.
func (s *Supervisor) ActiveProcessCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func waitFor(timeout, interval time.Duration, ready func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if ready() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNotReady
		}
		time.Sleep(interval)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// countSegments counts segment-duration directives in the playlist text.
// A missing or unreadable file counts as zero.
func countSegments(playlistPath string) int {
	b, err := os.ReadFile(playlistPath)
	if err != nil {
		return 0
	}
	return strings.Count(string(b), "#EXTINF:")
}
