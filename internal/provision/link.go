// internal/provision/link.go
package provision

import (
	"io"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// verificationKeywords mark a URL as a verification link. The Hebrew entry is
// "verification".
var verificationKeywords = []string{
	"verify",
	"confirm",
	"sign-up",
	"email-confirmation",
	"activation",
	"אימות",
	"confirm-email",
}

// ExtractLinks returns every http(s) URL in body in document order. Attribute
// values and text are scanned after entity decoding, so hrefs written with
// &amp; come back with plain ampersands.
func ExtractLinks(body string) []string {
	var links []string
	seen := make(map[string]struct{})
	add := func(s string) {
		for _, m := range urlPattern.FindAllString(s, -1) {
			m = strings.ReplaceAll(m, "&amp;", "&")
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			links = append(links, m)
		}
	}

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				// Malformed markup; fall back to the raw body.
				add(body)
			}
			return links
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			for hasAttr {
				var val []byte
				_, val, hasAttr = z.TagAttr()
				if len(val) > 0 {
					add(string(val))
				}
			}
		case html.TextToken:
			add(string(z.Text()))
		}
	}
}

// IsVerificationLink reports whether link carries one of the verification keywords.
func IsVerificationLink(link string) bool {
	candidates := []string{strings.ToLower(link)}
	if decoded, err := url.PathUnescape(link); err == nil && decoded != link {
		candidates = append(candidates, strings.ToLower(decoded))
	}
	for _, c := range candidates {
		for _, kw := range verificationKeywords {
			if strings.Contains(c, kw) {
				return true
			}
		}
	}
	return false
}

// FindVerificationLink returns the first verification link in body along with
// every link inspected.
func FindVerificationLink(body string) (string, []string) {
	links := ExtractLinks(body)
	for _, l := range links {
		if IsVerificationLink(l) {
			return l, links
		}
	}
	return "", links
}
