package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"hls-gateway/internal/extract"
	"hls-gateway/internal/platform/metrics"
	"hls-gateway/internal/upstream"
)

// ResolveRequest identifies an episode and the viewer's rendition preference.
type ResolveRequest struct {
	Slug       string
	Episode    string
	Audio      string
	Resolution string
	Cookie     string
}

// Service resolves a playback request to an upstream manifest URL: episode
// listing, play-page source selection, redirector fetch, script extraction.
type Service struct {
	client  *upstream.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewService returns a Service using the given upstream client.
// Metrics may be nil to disable metric recording.
func NewService(client *upstream.Client, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{client: client, log: log, metrics: m}
}

// ResolveManifestURL returns the manifest URL for the requested episode.
// ErrNotFound is returned when the episode does not exist, no playback source
// matches, or extraction finds no URL; extraction failure is deliberately not
// distinguished from a legitimate absence.
func (s *Service) ResolveManifestURL(ctx context.Context, req ResolveRequest) (string, error) {
	ep, found, err := s.client.FindEpisode(ctx, req.Slug, req.Episode, req.Cookie)
	if err != nil {
		return "", fmt.Errorf("list episodes for %s: %w", req.Slug, err)
	}
	if !found {
		return "", ErrNotFound
	}

	playHTML, err := s.client.Text(ctx, s.client.PlayPageURL(req.Slug, ep.Session),
		upstream.Headers(req.Cookie, s.client.Host()))
	if err != nil {
		return "", fmt.Errorf("fetch play page: %w", err)
	}

	btn, ok := upstream.PickButton(upstream.CollectButtons(playHTML), req.Audio, req.Resolution)
	if !ok {
		s.log.Debug("no playback source on play page",
			slog.String("slug", req.Slug),
			slog.String("episode", req.Episode))
		return "", ErrNotFound
	}

	redirectorHTML, err := s.client.Text(ctx, btn.Src, upstream.Headers(req.Cookie, s.client.Host()))
	if err != nil {
		return "", fmt.Errorf("fetch redirector page: %w", err)
	}

	manifestURL := extract.ManifestURL(redirectorHTML, upstream.DefaultUserAgent, s.log)
	if manifestURL == "" {
		s.log.Info("script extraction yielded no manifest url",
			slog.String("slug", req.Slug),
			slog.String("episode", req.Episode),
			slog.String("source", btn.Src))
		if s.metrics != nil {
			s.metrics.IncExtractionFailures()
		}
		return "", ErrNotFound
	}
	return manifestURL, nil
}
