package extract

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

const testUA = "test-agent"

func TestParseCaptured_source_assignment(t *testing.T) {
	got := parseCaptured("var source = 'https://cdn.example/x/y.m3u8';\n")
	if got != "https://cdn.example/x/y.m3u8" {
		t.Errorf("expected exact assigned URL, got %q", got)
	}
}

func TestParseCaptured_assignment_beats_bare_url(t *testing.T) {
	out := "const source = 'https://a/first.m3u8'; // also https://b/second.m3u8\n"
	if got := parseCaptured(out); got != "https://a/first.m3u8" {
		t.Errorf("assignment must win over bare URL on the same line, got %q", got)
	}
}

func TestParseCaptured_bare_url_fallback(t *testing.T) {
	out := "loading stream\nplaying https://cdn.example/v/index.m3u8 now\n"
	if got := parseCaptured(out); got != "https://cdn.example/v/index.m3u8" {
		t.Errorf("bare URL fallback, got %q", got)
	}
}

func TestParseCaptured_first_match_wins(t *testing.T) {
	out := "https://a/one.m3u8\nvar source = 'https://b/two.m3u8';\n"
	if got := parseCaptured(out); got != "https://a/one.m3u8" {
		t.Errorf("scanning order is top-to-bottom of captured output, got %q", got)
	}
}

func TestParseCaptured_empty(t *testing.T) {
	if got := parseCaptured("nothing here\n"); got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}

func TestManifestURL_eval_script(t *testing.T) {
	html := `<html><script>eval("var source='https://cdn.example/v/master.m3u8';")</script></html>`
	if got := ManifestURL(html, testUA, nil); got != "https://cdn.example/v/master.m3u8" {
		t.Errorf("eval payload must be captured, not executed, got %q", got)
	}
}

func TestManifestURL_base64_payload(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("var source='https://cdn.example/enc/master.m3u8';"))
	html := `<html><script>eval(atob("` + payload + `"))</script></html>`
	if got := ManifestURL(html, testUA, nil); got != "https://cdn.example/enc/master.m3u8" {
		t.Errorf("base64 helper must be available in the sandbox, got %q", got)
	}
}

func TestManifestURL_picks_first_matching_script(t *testing.T) {
	html := `<html>
		<script>var analytics = true;</script>
		<script>eval("var source='https://cdn.example/a.m3u8';")</script>
		<script>eval("var source='https://cdn.example/b.m3u8';")</script>
	</html>`
	if got := ManifestURL(html, testUA, nil); got != "https://cdn.example/a.m3u8" {
		t.Errorf("first matching script in document order wins, got %q", got)
	}
}

func TestManifestURL_no_matching_script(t *testing.T) {
	html := `<html><script>var x = 1;</script><p>no player here</p></html>`
	if got := ManifestURL(html, testUA, nil); got != "" {
		t.Errorf("expected empty result for absent script, got %q", got)
	}
}

func TestManifestURL_script_exception_swallowed(t *testing.T) {
	html := `<html><script>eval("var source='https://cdn.example/ok.m3u8';"); throw new Error("boom");</script></html>`
	if got := ManifestURL(html, testUA, nil); got != "https://cdn.example/ok.m3u8" {
		t.Errorf("output captured before a throw must still be parsed, got %q", got)
	}
}

func TestManifestURL_dom_access_neutralized(t *testing.T) {
	// document is renamed to the stub process object; calling a missing
	// method throws, which counts as a plain extraction failure.
	html := `<html><script>document.querySelector("#player"); eval("unreached");</script></html>`
	if got := ManifestURL(html, testUA, nil); got != "" {
		t.Errorf("DOM-dependent script must fail closed, got %q", got)
	}
}

func TestManifestURL_timeout(t *testing.T) {
	old := execTimeout
	execTimeout = 100 * time.Millisecond
	defer func() { execTimeout = old }()

	html := `<html><script>while(true){}; eval("never");</script></html>`
	start := time.Now()
	if got := ManifestURL(html, testUA, nil); got != "" {
		t.Errorf("timed-out script must yield empty result, got %q", got)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("interrupt should stop the script promptly, took %v", elapsed)
	}
}

func TestManifestURL_navigator_stub(t *testing.T) {
	html := `<html><script>eval("var source='https://h/" + "x.m3u8'; // " + navigator.userAgent)</script></html>`
	got := ManifestURL(html, testUA, nil)
	if got != "https://h/x.m3u8" {
		t.Errorf("navigator stub should be readable, got %q", got)
	}
}

func TestTransform_eval_becomes_log(t *testing.T) {
	out := scriptRewriter.Replace(`eval(document.title); window.querySelector;`)
	if !strings.Contains(out, "console.log(process.title)") {
		t.Errorf("eval and document must both be rewritten: %s", out)
	}
	if !strings.Contains(out, "globalThis.exit") {
		t.Errorf("window and querySelector must both be rewritten: %s", out)
	}
}

func TestAtobBtoa_roundtrip(t *testing.T) {
	enc, err := btoa("helloÿworld")
	if err != nil {
		t.Fatalf("btoa: %v", err)
	}
	dec, err := atob(enc)
	if err != nil {
		t.Fatalf("atob: %v", err)
	}
	if dec != "helloÿworld" {
		t.Errorf("binary string roundtrip, got %q", dec)
	}
}

func TestAtob_invalid_input(t *testing.T) {
	if _, err := atob("!!not base64!!"); err == nil {
		t.Error("invalid base64 must error (throws inside the VM)")
	}
}
