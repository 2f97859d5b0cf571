package transmux

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProc stands in for the external tool; Wait blocks until release.
type fakeProc struct {
	release chan struct{}
}

func (p *fakeProc) Wait() error {
	<-p.release
	return nil
}

func newFakeSupervisor(t *testing.T, spawned *atomic.Int64) (*Supervisor, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	s := New(t.TempDir(), "test-agent", 6, newTestLogger())
	s.spawn = func(Spec) (process, error) {
		spawned.Add(1)
		return &fakeProc{release: release}, nil
	}
	return s, release
}

func TestJobKey_deterministic(t *testing.T) {
	a := jobKey("https://h/m.m3u8", "jpn", "720")
	b := jobKey("https://h/m.m3u8", "jpn", "720")
	if a != b {
		t.Error("identical variant identity must hash to the same key")
	}
	if a == jobKey("https://h/m.m3u8", "eng", "720") {
		t.Error("audio selector must be part of the key")
	}
	if a == jobKey("https://h/m.m3u8", "jpn", "1080") {
		t.Error("resolution selector must be part of the key")
	}
	if a == jobKey("https://h/other.m3u8", "jpn", "720") {
		t.Error("manifest URL must be part of the key")
	}
}

func TestEnsure_concurrent_requests_spawn_once(t *testing.T) {
	var spawned atomic.Int64
	s, release := newFakeSupervisor(t, &spawned)
	defer close(release)

	const n = 8
	jobs := make([]Job, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, _, err := s.Ensure("https://h/m.m3u8", "jpn", "720")
			if err != nil {
				t.Errorf("Ensure: %v", err)
				return
			}
			jobs[i] = job
		}(i)
	}
	wg.Wait()

	if got := spawned.Load(); got != 1 {
		t.Errorf("exactly one process per key, spawned %d", got)
	}
	for i := 1; i < n; i++ {
		if jobs[i].Dir != jobs[0].Dir {
			t.Errorf("all requests must observe the same output directory: %q vs %q", jobs[i].Dir, jobs[0].Dir)
		}
	}
	if s.ActiveProcessCount() != 1 {
		t.Errorf("expected 1 active process, got %d", s.ActiveProcessCount())
	}
}

func TestEnsure_deregisters_on_exit(t *testing.T) {
	var spawned atomic.Int64
	s, release := newFakeSupervisor(t, &spawned)

	_, started, err := s.Ensure("https://h/m.m3u8", "", "")
	if err != nil || !started {
		t.Fatalf("first Ensure should spawn: started=%v err=%v", started, err)
	}

	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveProcessCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("process should be deregistered after exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEnsure_skips_when_master_cached(t *testing.T) {
	var spawned atomic.Int64
	s, release := newFakeSupervisor(t, &spawned)
	defer close(release)

	key := jobKey("https://h/m.m3u8", "jpn", "720")
	dir := filepath.Join(s.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, MasterName), []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	job, started, err := s.Ensure("https://h/m.m3u8", "jpn", "720")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if started {
		t.Error("completed output on disk must suppress spawning")
	}
	if spawned.Load() != 0 {
		t.Errorf("no process should be spawned, got %d", spawned.Load())
	}
	if job.Key != key {
		t.Errorf("job key mismatch: %q vs %q", job.Key, key)
	}
}

func TestWaitReady_success(t *testing.T) {
	var spawned atomic.Int64
	s, release := newFakeSupervisor(t, &spawned)
	defer close(release)
	s.readyTimeout = 2 * time.Second

	job, _, err := s.Ensure("https://h/m.m3u8", "", "")
	if err != nil {
		t.Fatal(err)
	}

	media := "#EXTM3U\n" + strings.Repeat("#EXTINF:3.0,\nseg.m4s\n", 6)
	if err := os.WriteFile(job.MediaPath, []byte(media), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(job.MasterPath, []byte("#EXTM3U\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.WaitReady(job); err != nil {
		t.Errorf("WaitReady with populated output: %v", err)
	}
}

func TestWaitReady_master_appears_late(t *testing.T) {
	var spawned atomic.Int64
	s, release := newFakeSupervisor(t, &spawned)
	defer close(release)
	s.readyTimeout = 3 * time.Second

	job, _, err := s.Ensure("https://h/m.m3u8", "", "")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		media := "#EXTM3U\n" + strings.Repeat("#EXTINF:3.0,\nseg.m4s\n", 6)
		os.WriteFile(job.MediaPath, []byte(media), 0o644)
		os.WriteFile(job.MasterPath, []byte("#EXTM3U\n"), 0o644)
	}()

	if err := s.WaitReady(job); err != nil {
		t.Errorf("WaitReady should succeed once files materialize: %v", err)
	}
}

func TestWaitReady_timeout_without_output(t *testing.T) {
	var spawned atomic.Int64
	s, release := newFakeSupervisor(t, &spawned)
	defer close(release)
	s.readyTimeout = 200 * time.Millisecond

	job, _, err := s.Ensure("https://h/m.m3u8", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.WaitReady(job); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if s.ActiveProcessCount() != 1 {
		t.Error("timeout must not terminate the backing process")
	}
}

func TestWaitReady_too_few_segments(t *testing.T) {
	var spawned atomic.Int64
	s, release := newFakeSupervisor(t, &spawned)
	defer close(release)
	s.readyTimeout = 200 * time.Millisecond

	job, _, err := s.Ensure("https://h/m.m3u8", "", "")
	if err != nil {
		t.Fatal(err)
	}

	media := "#EXTM3U\n" + strings.Repeat("#EXTINF:3.0,\nseg.m4s\n", 3)
	os.WriteFile(job.MediaPath, []byte(media), 0o644)
	os.WriteFile(job.MasterPath, []byte("#EXTM3U\n"), 0o644)

	if err := s.WaitReady(job); !errors.Is(err, ErrNotReady) {
		t.Errorf("below-threshold playlist must time out, got %v", err)
	}
}

func TestWaitReady_min_segments_configurable(t *testing.T) {
	var spawned atomic.Int64
	release := make(chan struct{})
	defer close(release)
	s := New(t.TempDir(), "test-agent", 2, newTestLogger())
	s.spawn = func(Spec) (process, error) {
		spawned.Add(1)
		return &fakeProc{release: release}, nil
	}
	s.readyTimeout = time.Second

	job, _, err := s.Ensure("https://h/m.m3u8", "", "")
	if err != nil {
		t.Fatal(err)
	}
	media := "#EXTM3U\n" + strings.Repeat("#EXTINF:3.0,\nseg.m4s\n", 2)
	os.WriteFile(job.MediaPath, []byte(media), 0o644)
	os.WriteFile(job.MasterPath, []byte("#EXTM3U\n"), 0o644)

	if err := s.WaitReady(job); err != nil {
		t.Errorf("2 segments should satisfy a min of 2: %v", err)
	}
}

func TestCountSegments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stream.m3u8")

	if countSegments(path) != 0 {
		t.Error("missing file counts as zero segments")
	}

	os.WriteFile(path, []byte("#EXTM3U\n#EXTINF:3.0,\na.m4s\n#EXTINF:2.5,\nb.m4s\n"), 0o644)
	if got := countSegments(path); got != 2 {
		t.Errorf("expected 2 segment entries, got %d", got)
	}
}

func TestJob_CachePath(t *testing.T) {
	j := Job{Key: "abc123"}
	if j.CachePath() != "/cache/abc123/master.m3u8" {
		t.Errorf("unexpected cache path %q", j.CachePath())
	}
}
