package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hls-gateway/internal/platform/metrics"
	"hls-gateway/internal/transmux"
	"hls-gateway/internal/upstream"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the gateway's playback and catalog endpoints using go-chi.
type Handler struct {
	svc     *Service
	tokens  *TokenStore
	mux     *transmux.Supervisor
	client  *upstream.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler wiring the resolution service, token store,
// transmux supervisor, and upstream client. Metrics may be nil.
func NewHandler(svc *Service, tokens *TokenStore, mux *transmux.Supervisor, client *upstream.Client, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, tokens: tokens, mux: mux, client: client, log: log, metrics: m}
}

// WatchMaster handles GET /watch/{slug}/{episode}/master.m3u8.
//
// With transmux=1 the manifest URL is handed to the supervisor and, once its
// cached output is ready, the client is redirected there. Otherwise a session
// token is minted and the rewritten manifest is returned directly.
func (h *Handler) WatchMaster(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ResolveRequest{
		Slug:       chi.URLParam(r, "slug"),
		Episode:    chi.URLParam(r, "episode"),
		Audio:      q.Get("audio"),
		Resolution: q.Get("resolution"),
		Cookie:     upstream.NewCookie(),
	}

	manifestURL, err := h.svc.ResolveManifestURL(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.log.Error("manifest resolution failed",
			slog.String("slug", req.Slug),
			slog.String("episode", req.Episode),
			slog.String("error", err.Error()))
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}

	if q.Get("transmux") == "1" {
		h.serveTransmuxed(w, r, manifestURL, req.Audio, req.Resolution, q.Get("sid"))
		return
	}

	token := h.tokens.Create(SessionContext{Cookie: req.Cookie})
	if h.metrics != nil {
		h.metrics.IncTokensIssued()
	}

	text, err := h.client.Text(r.Context(), manifestURL, upstream.Headers(req.Cookie, h.client.Host()))
	if err != nil {
		h.log.Error("manifest fetch failed",
			slog.String("url", manifestURL),
			slog.String("error", err.Error()))
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", noStore)
	w.Write([]byte(RewriteManifest(text, manifestURL, token)))
}

// serveTransmuxed delegates to the supervisor and redirects to the cached
// master playlist once enough segments have materialized. A readiness timeout
// leaves the backing process running so a retry can succeed.
func (h *Handler) serveTransmuxed(w http.ResponseWriter, r *http.Request, manifestURL, audio, resolution, sid string) {
	job, started, err := h.mux.Ensure(manifestURL, audio, resolution)
	if err != nil {
		h.log.Error("transmux start failed",
			slog.String("url", manifestURL),
			slog.String("error", err.Error()))
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if started && h.metrics != nil {
		h.metrics.IncTransmuxStarted()
	}

	if err := h.mux.WaitReady(job); err != nil {
		h.log.Warn("transmux output not ready",
			slog.String("key", job.Key),
			slog.String("error", err.Error()))
		http.Error(w, "not ready", http.StatusGatewayTimeout)
		return
	}

	loc := job.CachePath()
	if sid != "" {
		loc += "?sid=" + url.QueryEscape(sid)
	}
	http.Redirect(w, r, loc, http.StatusFound)
}

// Search handles GET /api/search?q=, passing the catalog response through.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSONError(w, http.StatusBadRequest, "missing q")
		return
	}
	body, err := h.client.Search(r.Context(), query, upstream.NewCookie())
	if err != nil {
		h.log.Error("catalog search failed", slog.String("q", query), slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "search_failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// Episodes handles GET /api/anime/{slug}/episodes, returning the merged
// episode listing in the origin's own object shape.
func (h *Handler) Episodes(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	episodes, err := h.client.AllEpisodes(r.Context(), slug, upstream.NewCookie())
	if err != nil {
		h.log.Error("episode listing failed", slog.String("slug", slug), slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "episodes_failed")
		return
	}
	raw := make([]json.RawMessage, 0, len(episodes))
	for _, ep := range episodes {
		raw = append(raw, ep.Raw)
	}
	writeJSON(w, map[string]any{"data": raw})
}

// Options handles GET /api/options/{slug}/{episode}, listing the distinct
// (audio, resolution) pairs offered for an episode.
func (h *Handler) Options(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	episode := chi.URLParam(r, "episode")
	cookie := upstream.NewCookie()

	ep, found, err := h.client.FindEpisode(r.Context(), slug, episode, cookie)
	if err != nil {
		h.log.Error("episode lookup failed", slog.String("slug", slug), slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "options_failed")
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "not_found")
		return
	}

	html, err := h.client.Text(r.Context(), h.client.PlayPageURL(slug, ep.Session),
		upstream.Headers(cookie, h.client.Host()))
	if err != nil {
		h.log.Error("play page fetch failed", slog.String("slug", slug), slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "options_failed")
		return
	}

	options := upstream.PlaybackOptions(html)
	if options == nil {
		options = []upstream.PlaybackOption{}
	}
	writeJSON(w, map[string]any{"options": options})
}

// Meta handles GET /api/anime/{slug}/meta with the title and poster scraped
// from the detail page.
func (h *Handler) Meta(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	html, err := h.client.Text(r.Context(), h.client.AnimePageURL(slug),
		upstream.Headers(upstream.NewCookie(), h.client.Host()))
	if err != nil {
		h.log.Error("detail page fetch failed", slog.String("slug", slug), slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "meta_failed")
		return
	}
	title, poster := upstream.PageMeta(html)
	writeJSON(w, map[string]string{"title": title, "poster": poster})
}

// Image handles GET /img?url=, relaying a poster image with the referrer the
// origin CDN expects.
func (h *Handler) Image(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	ref := upstream.Origin(target)
	if ref == "" {
		ref = h.client.Host()
	}

	hdr := upstream.Headers("", ref)
	hdr.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	resp, err := h.client.Get(r.Context(), target, hdr)
	if err != nil {
		h.log.Error("image fetch failed", slog.String("url", target), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.WriteHeader(resp.StatusCode)
		return
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "image/") {
		ct = "image/jpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-store")
	copyBody(w, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "time": time.Now().UnixMilli()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
