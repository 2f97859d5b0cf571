// Package extract recovers a manifest URL from the obfuscated script embedded
// in an upstream redirector page, without letting that script touch the host.
//
// The script's final step evaluates a deobfuscated payload; rather than run it,
// the eval call is rewritten into a capturing log call and the captured text is
// scanned for the URL. Extraction failure is an expected outcome and is always
// reported as an empty result.
package extract

import (
	"encoding/base64"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

// execTimeout bounds the wall-clock time the sandboxed script may run.
// Variable so tests can shrink it.
var execTimeout = 2 * time.Second

var (
	sourceAssignRe = regexp.MustCompile(`(?:var|let|const)\s+source\s*=\s*['"]([^'"]+\.m3u8)['"]`)
	bareURLRe      = regexp.MustCompile(`https?://[^\s'"]+\.m3u8`)
)

// scriptRewriter neutralizes the identifiers the obfuscated script needs from
// a browser and redirects its eval into the capturing logger.
var scriptRewriter = strings.NewReplacer(
	"document", "process",
	"window", "globalThis",
	"querySelector", "exit",
	"eval(", "console.log(",
)

// ManifestURL extracts the manifest URL embedded in the given redirector page
// HTML. It returns "" when no candidate script exists, the script fails or
// times out, or the captured output contains no URL; callers must treat the
// empty result as a normal absence, not an error.
func ManifestURL(html, userAgent string, log *slog.Logger) string {
	script := selectScript(html)
	if script == "" {
		return ""
	}
	captured := runSandboxed(scriptRewriter.Replace(script), userAgent, log)
	return parseCaptured(captured)
}

// selectScript returns the first inline script that either calls the dynamic
// evaluator or assigns a manifest URL to a source variable.
func selectScript(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var found string
	doc.Find("script").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		sc := sel.Text()
		if sc == "" {
			return true
		}
		if strings.Contains(sc, "eval(") ||
			(strings.Contains(sc, "source=") && strings.Contains(sc, ".m3u8")) {
			found = sc
			return false
		}
		return true
	})
	return found
}

// runSandboxed executes the transformed script in an isolated goja VM exposing
// only a capturing logger, base64 helpers, stub document/window targets, and a
// stub user agent. Exceptions and timeouts are swallowed; whatever output was
// captured before the failure is still returned.
func runSandboxed(script, userAgent string, log *slog.Logger) string {
	vm := goja.New()
	var buf strings.Builder

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		buf.WriteString(strings.Join(parts, " "))
		buf.WriteByte('\n')
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
	_ = vm.Set("atob", atob)
	_ = vm.Set("btoa", btoa)
	_ = vm.Set("process", vm.NewObject())

	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", userAgent)
	_ = vm.Set("navigator", navigator)

	watchdog := time.AfterFunc(execTimeout, func() {
		vm.Interrupt("script execution timed out")
	})
	defer watchdog.Stop()

	if _, err := vm.RunString(script); err != nil {
		if log != nil {
			log.Debug("sandboxed script aborted", slog.String("error", err.Error()))
		}
	}
	return buf.String()
}

// parseCaptured scans the captured output top to bottom. On each line a
// source-variable assignment wins over a bare manifest URL; the first match
// of either kind is returned.
func parseCaptured(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if m := sourceAssignRe.FindStringSubmatch(line); m != nil {
			return m[1]
		}
		if m := bareURLRe.FindString(line); m != "" {
			return m
		}
	}
	return ""
}

// atob decodes base64 into a binary string, one rune per byte, matching the
// browser builtin. A decode failure throws inside the VM.
func atob(encoded string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes), nil
}

// btoa encodes a binary string (runes must fit in a byte) to base64.
func btoa(raw string) (string, error) {
	b := make([]byte, 0, len(raw))
	for _, r := range raw {
		if r > 0xff {
			return "", base64.CorruptInputError(0)
		}
		b = append(b, byte(r))
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
