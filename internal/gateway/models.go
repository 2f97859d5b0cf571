package gateway

import "time"

// SessionContext is the upstream authentication state bound to a proxy
// session token. Immutable once stored.
type SessionContext struct {
	Cookie    string
	CreatedAt time.Time
}

// ProxyKind names the proxy endpoint a rewritten reference is routed to.
type ProxyKind string

const (
	// ProxyPlaylist routes to the recursive playlist-rewriting endpoint.
	ProxyPlaylist ProxyKind = "playlist"
	// ProxySegment routes to the verbatim media relay endpoint.
	ProxySegment ProxyKind = "segment"
	// ProxyKey routes to the verbatim encryption-key relay endpoint.
	ProxyKey ProxyKind = "key"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// noStore is applied to every response carrying upstream or cached media so
// intermediaries never serve a stale rendition.
const noStore = "no-store, no-cache, must-revalidate, max-age=0"
