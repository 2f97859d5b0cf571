package gateway

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	uriAttrRe     = regexp.MustCompile(`URI="([^"]+)"`)
	schemeRe      = regexp.MustCompile(`(?i)^https?://`)
	playlistExtRe = regexp.MustCompile(`(?i)\.m3u8(\?|$)`)
)

// kindAuto tells rewriteURIAttr to classify the target by file extension.
const kindAuto ProxyKind = ""

// RewriteManifest transforms raw manifest text so every referenced
// sub-resource is served back through this gateway's proxy endpoints.
// base is the URL the manifest was fetched from; token is the session the
// generated proxy URLs are scoped to.
//
// The pass is a single left-to-right walk with one line of lookahead state:
// a stream descriptor and the URI line that follows it are treated as a unit.
// Descriptor pairs advertising an AV1 codec are dropped entirely for player
// compatibility. Directives not recognized below pass through unchanged.
func RewriteManifest(text, base, token string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))

	pendingStreamInf := ""
	dropNext := false

	for _, line := range lines {
		if strings.HasPrefix(line, "#EXT-X-STREAM-INF") {
			lower := strings.ToLower(line)
			if strings.Contains(lower, `codecs="av01`) || strings.Contains(lower, `codecs="av1`) {
				dropNext = true
			} else {
				pendingStreamInf = line
			}
			continue
		}
		if dropNext {
			dropNext = false
			continue
		}
		if pendingStreamInf != "" {
			target := absURL(strings.TrimSpace(line), base)
			out = append(out, pendingStreamInf, proxyURL(ProxyPlaylist, token, target, base))
			pendingStreamInf = ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-I-FRAME-STREAM-INF"):
			out = append(out, rewriteURIAttr(line, base, token, ProxyPlaylist))
		case strings.HasPrefix(line, "#EXT-X-MAP"):
			out = append(out, rewriteURIAttr(line, base, token, ProxySegment))
		case strings.HasPrefix(line, "#EXT-X-KEY"):
			out = append(out, rewriteURIAttr(line, base, token, ProxyKey))
		case strings.HasPrefix(line, "#EXT-X-MEDIA"):
			out = append(out, rewriteURIAttr(line, base, token, kindAuto))
		case strings.HasPrefix(line, "#"), strings.TrimSpace(line) == "":
			out = append(out, line)
		default:
			target := absURL(strings.TrimSpace(line), base)
			out = append(out, proxyURL(classifyTarget(target), token, target, base))
		}
	}

	return strings.Join(out, "\n")
}

// rewriteURIAttr replaces a directive's embedded URI attribute with a
// generated proxy URL. Directives without a URI attribute pass through.
func rewriteURIAttr(line, base, token string, kind ProxyKind) string {
	m := uriAttrRe.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	target := absURL(m[1], base)
	if kind == kindAuto {
		kind = classifyTarget(target)
	}
	return strings.Replace(line, m[1], proxyURL(kind, token, target, base), 1)
}

// classifyTarget routes manifest-extension URLs to the playlist proxy and
// everything else to the segment proxy.
func classifyTarget(target string) ProxyKind {
	if playlistExtRe.MatchString(target) {
		return ProxyPlaylist
	}
	return ProxySegment
}

// absURL resolves ref to absolute form. A URL already carrying a scheme is
// untouched, a protocol-relative URL gets https, and anything else resolves
// against base. Malformed references pass through unchanged.
func absURL(ref, base string) string {
	if schemeRe.MatchString(ref) {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// proxyURL builds a gateway proxy URL carrying the session token, the
// absolute target, and the base URL the target was discovered under (reused
// upstream as the referrer).
func proxyURL(kind ProxyKind, token, target, base string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("url", target)
	q.Set("ref", base)
	return "/proxy/" + string(kind) + "?" + q.Encode()
}
