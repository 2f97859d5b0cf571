package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"hls-gateway/internal/platform/metrics"
	"hls-gateway/internal/upstream"
)

// Proxy is the token-scoped forwarding layer. Each endpoint authenticates the
// session token, reconstructs the upstream request context from it, and
// relays the origin's response.
type Proxy struct {
	tokens  *TokenStore
	client  *upstream.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewProxy returns a Proxy using the given token store and upstream client.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewProxy(tokens *TokenStore, client *upstream.Client, log *slog.Logger, m *metrics.Metrics) *Proxy {
	return &Proxy{tokens: tokens, client: client, log: log, metrics: m}
}

// ServePlaylist handles GET /proxy/playlist. The upstream manifest is
// rewritten recursively so nested variant playlists remain fully proxied.
func (p *Proxy) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	token, target, ref := proxyParams(r)
	sess, ok := p.authorize(w, token, ProxyPlaylist)
	if !ok {
		return
	}

	resp, err := p.client.Get(r.Context(), target, upstreamHeaders(sess.Cookie, ref, r))
	if err != nil {
		p.log.Error("playlist proxy upstream fetch failed",
			slog.String("url", target),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.log.Error("playlist proxy upstream read failed",
			slog.String("url", target),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	rewritten := RewriteManifest(string(body), target, token)

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", noStore)
	setUpstreamDebugHeaders(w, resp, target)
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(rewritten))

	if p.metrics != nil {
		p.metrics.IncProxyRequests(string(ProxyPlaylist))
	}
}

// ServeSegment handles GET /proxy/segment, relaying binary media verbatim.
func (p *Proxy) ServeSegment(w http.ResponseWriter, r *http.Request) {
	p.relay(w, r, ProxySegment)
}

// ServeKey handles GET /proxy/key, relaying encryption keys verbatim.
func (p *Proxy) ServeKey(w http.ResponseWriter, r *http.Request) {
	p.relay(w, r, ProxyKey)
}

// relay forwards the upstream response body without transformation,
// propagating status, content-type, content-length, and accept-ranges so
// partial-content delivery keeps working for seeks.
func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, kind ProxyKind) {
	token, target, ref := proxyParams(r)
	sess, ok := p.authorize(w, token, kind)
	if !ok {
		return
	}

	resp, err := p.client.Get(r.Context(), target, upstreamHeaders(sess.Cookie, ref, r))
	if err != nil {
		p.log.Error("relay upstream fetch failed",
			slog.String("kind", string(kind)),
			slog.String("url", target),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "Accept-Ranges"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Cache-Control", noStore)
	setUpstreamDebugHeaders(w, resp, target)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Debug("relay body copy interrupted",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}

	if p.metrics != nil {
		p.metrics.IncProxyRequests(string(kind))
	}
}

// authorize resolves the session token, writing 403 when it is unknown or
// expired. No upstream request is made for a rejected token.
func (p *Proxy) authorize(w http.ResponseWriter, token string, kind ProxyKind) (SessionContext, bool) {
	sess, ok := p.tokens.Lookup(token)
	if !ok {
		p.log.Info("proxy request rejected",
			slog.String("kind", string(kind)),
			slog.String("error", ErrTokenInvalid.Error()))
		http.Error(w, "forbidden", http.StatusForbidden)
		return SessionContext{}, false
	}
	return sess, true
}

func proxyParams(r *http.Request) (token, target, ref string) {
	q := r.URL.Query()
	return q.Get("token"), q.Get("url"), q.Get("ref")
}

// upstreamHeaders reconstructs the outbound header set: the session's stored
// cookie, referrer and origin derived from ref, and passthrough of the
// client's range and accept headers.
func upstreamHeaders(cookie, ref string, r *http.Request) http.Header {
	h := upstream.Headers(cookie, ref)
	if ref != "" {
		if origin := upstream.Origin(ref); origin != "" {
			h.Set("Origin", origin)
		}
	}
	for _, name := range []string{"Range", "Accept", "Accept-Language"} {
		if v := r.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	return h
}

func setUpstreamDebugHeaders(w http.ResponseWriter, resp *http.Response, target string) {
	w.Header().Set("X-Upstream-Status", strconv.Itoa(resp.StatusCode))
	w.Header().Set("X-Upstream-CT", resp.Header.Get("Content-Type"))
	w.Header().Set("X-Upstream-URL", target)
}
