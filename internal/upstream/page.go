package upstream

import (
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Button is one playback source advertised on the play page. Src points at
// the redirector page whose script embeds the manifest URL.
type Button struct {
	Audio      string
	Resolution string
	AV1        string
	Src        string
}

// PlaybackOption is a distinct (audio, resolution) pair offered for an episode.
type PlaybackOption struct {
	Audio      string `json:"audio"`
	Resolution string `json:"resolution"`
}

// CollectButtons scrapes the play page's source buttons, deduplicates them,
// and orders them non-AV1 first, then by descending resolution.
func CollectButtons(html string) []Button {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []Button
	doc.Find("button[data-src]").Each(func(_ int, sel *goquery.Selection) {
		b := Button{
			Audio:      strings.ToLower(sel.AttrOr("data-audio", "")),
			Resolution: sel.AttrOr("data-resolution", ""),
			AV1:        sel.AttrOr("data-av1", ""),
			Src:        sel.AttrOr("data-src", ""),
		}
		if b.Src == "" {
			return
		}
		key := b.Audio + "|" + b.Resolution + "|" + b.AV1 + "|" + b.Src
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, b)
	})

	sort.SliceStable(out, func(i, j int) bool {
		if av1Rank(out[i]) != av1Rank(out[j]) {
			return av1Rank(out[i]) < av1Rank(out[j])
		}
		return resolutionOf(out[i]) > resolutionOf(out[j])
	})
	return out
}

func av1Rank(b Button) int {
	if b.AV1 == "0" {
		return 0
	}
	return 1
}

func resolutionOf(b Button) int {
	n, _ := strconv.Atoi(b.Resolution)
	return n
}

// PickButton chooses the best button for the requested audio and resolution.
// Each preference narrows the pool only when at least one button matches it,
// so an unsatisfiable preference falls back instead of failing.
func PickButton(buttons []Button, audio, resolution string) (Button, bool) {
	if len(buttons) == 0 {
		return Button{}, false
	}
	pool := buttons
	if audio != "" {
		if f := filterButtons(pool, func(b Button) bool { return b.Audio == strings.ToLower(audio) }); len(f) > 0 {
			pool = f
		}
	}
	if resolution != "" {
		if f := filterButtons(pool, func(b Button) bool { return b.Resolution == resolution }); len(f) > 0 {
			pool = f
		}
	}
	return pool[0], true
}

func filterButtons(buttons []Button, keep func(Button) bool) []Button {
	var out []Button
	for _, b := range buttons {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

// PlaybackOptions lists the distinct (audio, resolution) pairs on a play page,
// in document order.
func PlaybackOptions(html string) []PlaybackOption {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var out []PlaybackOption
	doc.Find("button[data-src]").Each(func(_ int, sel *goquery.Selection) {
		opt := PlaybackOption{
			Audio:      strings.ToLower(sel.AttrOr("data-audio", "")),
			Resolution: sel.AttrOr("data-resolution", ""),
		}
		key := opt.Audio + "|" + opt.Resolution
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, opt)
	})
	return out
}

// PageMeta extracts the display title and poster image from a detail page.
func PageMeta(html string) (title, poster string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", ""
	}
	title = doc.Find(`meta[property="og:title"]`).AttrOr("content", "")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").Text())
	}
	poster = doc.Find(`meta[property="og:image"]`).AttrOr("content", "")
	return title, poster
}
