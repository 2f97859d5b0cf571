package transmux

import (
	"strings"
	"testing"
)

func TestSpec_Args_contract(t *testing.T) {
	spec := NewSpec("https://h/v/master.m3u8", "/tmp/out", "agent-x")
	args := strings.Join(spec.Args(), " ")

	// Video copied, audio normalized to stereo AAC.
	if !strings.Contains(args, "-map v:0 -c:v copy") {
		t.Errorf("first video stream must be copied without re-encoding: %s", args)
	}
	if !strings.Contains(args, "-c:a aac -profile:a aac_low -ac 2 -b:a 128k") {
		t.Errorf("audio must use the fixed stereo AAC profile: %s", args)
	}

	// Input carries the declared user agent and the manifest URL as referrer.
	if !strings.Contains(args, "-user_agent agent-x") {
		t.Errorf("user agent must be declared: %s", args)
	}
	if !strings.Contains(args, "Referer: https://h/v/master.m3u8") {
		t.Errorf("referrer must be the manifest URL itself: %s", args)
	}

	// Open-ended, append-only event playlist with 3-second fmp4 segments.
	if !strings.Contains(args, "-hls_time 3") || !strings.Contains(args, "-hls_list_size 0") {
		t.Errorf("segmenting contract violated: %s", args)
	}
	if !strings.Contains(args, "-hls_segment_type fmp4") || !strings.Contains(args, "-hls_playlist_type event") {
		t.Errorf("fmp4 event playlist expected: %s", args)
	}
	if !strings.Contains(args, "append_list") || !strings.Contains(args, "omit_endlist") {
		t.Errorf("playlist must be appended to, never finalized: %s", args)
	}

	// Zero-padded sequential segment names inside the job directory.
	if !strings.Contains(args, "/tmp/out/seg-%04d.m4s") {
		t.Errorf("segment naming pattern missing: %s", args)
	}
	if !strings.Contains(args, "-master_pl_name master.m3u8") {
		t.Errorf("companion master playlist missing: %s", args)
	}

	last := spec.Args()[len(spec.Args())-1]
	if last != "/tmp/out/stream.m3u8" {
		t.Errorf("media playlist path must be the output argument, got %q", last)
	}
}

func TestSpec_paths(t *testing.T) {
	spec := NewSpec("https://h/m.m3u8", "/data/job1", "ua")
	if spec.MasterPath() != "/data/job1/master.m3u8" {
		t.Errorf("master path %q", spec.MasterPath())
	}
	if spec.MediaPath() != "/data/job1/stream.m3u8" {
		t.Errorf("media path %q", spec.MediaPath())
	}
}
