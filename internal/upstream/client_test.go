package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewCookie_format(t *testing.T) {
	cookie := NewCookie()
	if !strings.HasPrefix(cookie, "__ddg2_=") {
		t.Fatalf("unexpected cookie name: %q", cookie)
	}
	value := strings.TrimPrefix(cookie, "__ddg2_=")
	if len(value) != 24 {
		t.Errorf("expected 24 hex characters, got %d in %q", len(value), value)
	}
	for _, r := range value {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("non-hex character %q in cookie value %q", r, value)
		}
	}
	if NewCookie() == cookie {
		t.Error("cookies must be random per call")
	}
}

func TestGet_merges_headers(t *testing.T) {
	var seen http.Header
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer s.Close()

	c := New(s.URL, newTestLogger())
	resp, err := c.Get(context.Background(), s.URL+"/x", Headers("__ddg2_=abc", "https://ref/"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if seen.Get("User-Agent") != DefaultUserAgent {
		t.Errorf("default user agent missing, got %q", seen.Get("User-Agent"))
	}
	if seen.Get("Cookie") != "__ddg2_=abc" {
		t.Errorf("cookie not forwarded, got %q", seen.Get("Cookie"))
	}
	if seen.Get("Referer") != "https://ref/" {
		t.Errorf("referrer not forwarded, got %q", seen.Get("Referer"))
	}
}

func TestGet_extra_overrides_defaults(t *testing.T) {
	var seen http.Header
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer s.Close()

	extra := http.Header{}
	extra.Set("Accept", "image/avif")
	c := New(s.URL, newTestLogger())
	resp, err := c.Get(context.Background(), s.URL, extra)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if seen.Get("Accept") != "image/avif" {
		t.Errorf("explicit header must win over the default, got %q", seen.Get("Accept"))
	}
}

func TestBytes_non_2xx_is_error(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer s.Close()

	c := New(s.URL, newTestLogger())
	if _, err := c.Bytes(context.Background(), s.URL, nil); err == nil {
		t.Error("404 must surface as an error from Bytes")
	}
}

func TestOrigin(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"https://cdn.host/a/b.jpg?x=1", "https://cdn.host"},
		{"http://h:8080/p", "http://h:8080"},
		{"not a url", ""},
		{"/relative/only", ""},
	}
	for _, c := range cases {
		if got := Origin(c.in); got != c.want {
			t.Errorf("Origin(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
