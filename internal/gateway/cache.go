package gateway

import (
	"io"
	"net/http"
	"strings"
)

// CacheHandler serves transmux output files from root under /cache/. Every
// response carries no-store cache headers: the media playlist grows while a
// process runs, so intermediaries must never hold on to a copy.
func CacheHandler(root string) http.Handler {
	files := http.StripPrefix("/cache/", http.FileServer(http.Dir(root)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", noStore)
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		switch {
		case strings.HasSuffix(r.URL.Path, ".m3u8"):
			w.Header().Set("Content-Type", playlistContentType)
		case strings.HasSuffix(r.URL.Path, ".m4s"):
			w.Header().Set("Content-Type", "video/iso.segment")
		}
		files.ServeHTTP(w, r)
	})
}

func copyBody(w http.ResponseWriter, resp *http.Response) {
	_, _ = io.Copy(w, resp.Body)
}
