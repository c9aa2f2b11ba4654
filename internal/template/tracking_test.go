package template

import (
	"strings"
	"testing"
)

const trackedBase = "https://app.example.com"

func TestInjectTrackingRewritesLinks(t *testing.T) {
	html := `<html><body><a href="https://shop.example.com/sale?x=1&y=2">Sale</a></body></html>`

	out := InjectTracking(html, trackedBase, "msg-1")

	want := `href="https://app.example.com/tracker/msg-1/click?url=https%3A%2F%2Fshop.example.com%2Fsale%3Fx%3D1%26y%3D2"`
	if !strings.Contains(out, want) {
		t.Errorf("link not rewritten:\n%s", out)
	}
	if !strings.Contains(out, `<img src="https://app.example.com/tracker/msg-1/open"`) {
		t.Errorf("open pixel missing:\n%s", out)
	}
	if !strings.HasSuffix(out, `/></body></html>`) {
		t.Errorf("pixel not placed before closing body:\n%s", out)
	}
}

func TestInjectTrackingSkipsNonHTTPLinks(t *testing.T) {
	html := `<body><a href="mailto:team@example.com">Mail us</a><a href="#top">Top</a></body>`

	out := InjectTracking(html, trackedBase, "msg-2")

	if !strings.Contains(out, `href="mailto:team@example.com"`) {
		t.Errorf("mailto link was rewritten:\n%s", out)
	}
	if !strings.Contains(out, `href="#top"`) {
		t.Errorf("anchor link was rewritten:\n%s", out)
	}
}

func TestInjectTrackingIsIdempotent(t *testing.T) {
	html := `<html><body><p>Hi</p><a href="http://example.com/a">A</a></body></html>`

	once := InjectTracking(html, trackedBase, "msg-3")
	twice := InjectTracking(once, trackedBase, "msg-3")

	if once != twice {
		t.Errorf("re-application changed output:\nonce:  %s\ntwice: %s", once, twice)
	}
}

func TestInjectTrackingAppendsPixelWithoutBody(t *testing.T) {
	html := `<p>plain fragment</p>`

	out := InjectTracking(html, trackedBase, "msg-4")

	if !strings.HasPrefix(out, html) {
		t.Errorf("non-link content was altered:\n%s", out)
	}
	if !strings.HasSuffix(out, `alt=""/>`) {
		t.Errorf("pixel not appended at document end:\n%s", out)
	}
}

func TestInjectTrackingPreservesSurroundingBytes(t *testing.T) {
	html := "<body>\n\t<h1>Title</h1>  <a href=\"https://x.example.com\">x</a>\n</body>"

	out := InjectTracking(html, trackedBase, "msg-5")

	if !strings.Contains(out, "\n\t<h1>Title</h1>  ") {
		t.Errorf("whitespace or non-link bytes changed:\n%q", out)
	}
}

func TestInjectTrackingRewritesSingleQuotedLinks(t *testing.T) {
	html := `<body><a href='https://shop.example.com/sale'>Sale</a></body>`

	out := InjectTracking(html, trackedBase, "msg-6")

	want := `href="https://app.example.com/tracker/msg-6/click?url=https%3A%2F%2Fshop.example.com%2Fsale"`
	if !strings.Contains(out, want) {
		t.Errorf("single-quoted link not rewritten:\n%s", out)
	}
}

func TestInjectTrackingRewritesForeignTrackerPaths(t *testing.T) {
	// A third-party URL that merely contains /tracker/ in its path is not
	// one of ours and must still be rewritten.
	html := `<body><a href="https://other.example.net/tracker/promo">Promo</a></body>`

	out := InjectTracking(html, trackedBase, "msg-7")

	if strings.Contains(out, `href="https://other.example.net/tracker/promo"`) {
		t.Errorf("foreign tracker-like URL left unrewritten:\n%s", out)
	}
	if !strings.Contains(out, "/tracker/msg-7/click?url=") {
		t.Errorf("rewrite missing:\n%s", out)
	}
}
