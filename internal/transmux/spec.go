// Package transmux manages external transcoding processes that re-package an
// upstream HLS rendition into a locally cached fragmented-MP4 event playlist.
package transmux

import (
	"path/filepath"
	"strconv"
)

// Default output profile: video copied, first audio track normalized to
// stereo low-complexity AAC.
const (
	defaultAudioCodec    = "aac"
	defaultAudioProfile  = "aac_low"
	defaultAudioChannels = 2
	defaultAudioBitrate  = "128k"
	defaultSegmentSecs   = 3

	// MasterName and MediaName are the playlist files materialized in each
	// job's output directory.
	MasterName = "master.m3u8"
	MediaName  = "stream.m3u8"

	segmentPattern = "seg-%04d.m4s"
)

// Spec is the typed argument contract for one ffmpeg invocation. Holding the
// contract as data keeps it reviewable and testable independent of the tool's
// literal flag syntax.
type Spec struct {
	// Input is the upstream manifest URL; it doubles as the Referer the
	// origin expects.
	Input     string
	UserAgent string

	AudioCodec    string
	AudioProfile  string
	AudioChannels int
	AudioBitrate  string

	SegmentSeconds int
	OutDir         string
}

// NewSpec returns a Spec for input with the fixed output profile.
func NewSpec(input, outDir, userAgent string) Spec {
	return Spec{
		Input:          input,
		UserAgent:      userAgent,
		AudioCodec:     defaultAudioCodec,
		AudioProfile:   defaultAudioProfile,
		AudioChannels:  defaultAudioChannels,
		AudioBitrate:   defaultAudioBitrate,
		SegmentSeconds: defaultSegmentSecs,
		OutDir:         outDir,
	}
}

// MasterPath is the master playlist file the tool writes last.
func (s Spec) MasterPath() string { return filepath.Join(s.OutDir, MasterName) }

// MediaPath is the media playlist the tool appends segments to.
func (s Spec) MediaPath() string { return filepath.Join(s.OutDir, MediaName) }

// Args builds the ffmpeg argument list: first video stream copied, first
// audio stream re-encoded, fmp4 segments in an open-ended event playlist
// that is appended to rather than rewritten.
func (s Spec) Args() []string {
	return []string{
		"-loglevel", "error",
		"-user_agent", s.UserAgent,
		"-headers", "Referer: " + s.Input + "\r\n",
		"-i", s.Input,
		"-map", "v:0", "-c:v", "copy",
		"-map", "a:0",
		"-c:a", s.AudioCodec,
		"-profile:a", s.AudioProfile,
		"-ac", strconv.Itoa(s.AudioChannels),
		"-b:a", s.AudioBitrate,
		"-hls_time", strconv.Itoa(s.SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_type", "fmp4",
		"-hls_flags", "append_list+independent_segments+omit_endlist+temp_file",
		"-hls_playlist_type", "event",
		"-hls_segment_filename", filepath.Join(s.OutDir, segmentPattern),
		"-master_pl_name", MasterName,
		s.MediaPath(),
	}
}
