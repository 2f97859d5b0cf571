package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Episode is one entry of the origin's paginated release listing. Raw keeps
// the untouched JSON object so listing endpoints can pass it through.
type Episode struct {
	Episode json.Number `json:"episode"`
	Session string      `json:"session"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the fields used for matching and retains the original
// object bytes.
func (e *Episode) UnmarshalJSON(b []byte) error {
	type plain Episode
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = Episode(p)
	e.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Number returns the episode number as a float, or 0 when absent.
func (e Episode) Number() float64 {
	n, _ := e.Episode.Float64()
	return n
}

type releasePage struct {
	Data     []Episode `json:"data"`
	LastPage int       `json:"last_page"`
}

// Search queries the origin catalog and returns the raw JSON response for
// passthrough to the caller.
func (c *Client) Search(ctx context.Context, query, cookie string) ([]byte, error) {
	u := fmt.Sprintf("%s/api?m=search&q=%s", c.host, url.QueryEscape(query))
	return c.Bytes(ctx, u, Headers(cookie, ""))
}

func (c *Client) releasePage(ctx context.Context, slug string, page int, cookie string) (*releasePage, error) {
	u := fmt.Sprintf("%s/api?m=release&id=%s&sort=episode_asc&page=%d", c.host, url.QueryEscape(slug), page)
	b, err := c.Bytes(ctx, u, Headers(cookie, ""))
	if err != nil {
		return nil, err
	}
	var pg releasePage
	if err := json.Unmarshal(b, &pg); err != nil {
		return nil, fmt.Errorf("decode release page %d for %s: %w", page, slug, err)
	}
	return &pg, nil
}

// AllEpisodes fetches every release page for the slug, remaining pages in
// parallel, and returns the merged listing sorted by episode number.
func (c *Client) AllEpisodes(ctx context.Context, slug, cookie string) ([]Episode, error) {
	first, err := c.releasePage(ctx, slug, 1, cookie)
	if err != nil {
		return nil, err
	}
	episodes := first.Data

	if first.LastPage > 1 {
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for p := 2; p <= first.LastPage; p++ {
			p := p
			g.Go(func() error {
				pg, err := c.releasePage(gctx, slug, p, cookie)
				if err != nil {
					return err
				}
				mu.Lock()
				episodes = append(episodes, pg.Data...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		return episodes[i].Number() < episodes[j].Number()
	})
	return episodes, nil
}

// FindEpisode locates the episode whose number equals the given value.
// The number is compared numerically, so "2" matches "2.0".
func (c *Client) FindEpisode(ctx context.Context, slug, number, cookie string) (Episode, bool, error) {
	episodes, err := c.AllEpisodes(ctx, slug, cookie)
	if err != nil {
		return Episode{}, false, err
	}
	want, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return Episode{}, false, nil
	}
	for _, ep := range episodes {
		if ep.Number() == want {
			return ep, true, nil
		}
	}
	return Episode{}, false, nil
}

// PlayPageURL returns the origin play page for an episode session.
func (c *Client) PlayPageURL(slug, session string) string {
	return fmt.Sprintf("%s/play/%s/%s", c.host, url.PathEscape(slug), session)
}

// AnimePageURL returns the origin detail page for a slug.
func (c *Client) AnimePageURL(slug string) string {
	return fmt.Sprintf("%s/anime/%s", c.host, url.PathEscape(slug))
}
