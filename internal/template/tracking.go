package template

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var hrefRegex = regexp.MustCompile(`href=(?:"([^"]*)"|'([^']*)')`)

var closingBodyRegex = regexp.MustCompile(`(?i)</body>`)

// InjectTracking rewrites every http(s) hyperlink in the rendered HTML to
// the click-redirect endpoint and appends a 1x1 open-tracking pixel just
// before the closing body tag (document end when absent). Re-applying the
// function within one render pass is a no-op: links already pointing at
// this service's own tracker base are left alone and a second pixel is
// never added. Everything outside the substituted URLs is preserved byte
// for byte.
func InjectTracking(html, baseURL, messageID string) string {
	trackerRoot := strings.TrimRight(baseURL, "/") + "/tracker/"
	trackerBase := trackerRoot + messageID

	out := hrefRegex.ReplaceAllStringFunc(html, func(match string) string {
		groups := hrefRegex.FindStringSubmatch(match)
		target := groups[1]
		if target == "" {
			target = groups[2]
		}
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			return match
		}
		if strings.HasPrefix(target, trackerRoot) {
			return match
		}
		return fmt.Sprintf(`href="%s/click?url=%s"`, trackerBase, url.QueryEscape(target))
	})

	pixel := fmt.Sprintf(`<img src="%s/open" width="1" height="1" style="display:none" alt=""/>`, trackerBase)
	if strings.Contains(out, pixel) {
		return out
	}

	if loc := closingBodyRegex.FindStringIndex(out); loc != nil {
		return out[:loc[0]] + pixel + out[loc[0]:]
	}
	return out + pixel
}
