// internal/browser/locator.go
package browser

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

//go:embed locate.js
var locateJS string

// refAttr is stamped on elements that chromedp actions need to address directly.
const refAttr = "data-trialctl-ref"

// Part is one alternative of a Locator: a CSS selector, optionally narrowed to
// elements whose visible text matches Text (a case-insensitive regular expression).
type Part struct {
	CSS  string `json:"css"`
	Text string `json:"text,omitempty"`
}

// Locator identifies elements on a page. Matches of all parts are merged in
// document order; Index picks one of them. Within restricts the search to the
// subtree of the first element matching that selector.
type Locator struct {
	Parts  []Part `json:"parts"`
	Within string `json:"within,omitempty"`
	Index  int    `json:"index"`
}

// CSS returns a locator for a plain CSS selector.
func CSS(selector string) Locator {
	return Locator{Parts: []Part{{CSS: selector}}}
}

// Text returns a locator for elements matching selector whose text contains any of words.
func Text(selector string, words ...string) Locator {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return Locator{Parts: []Part{{CSS: selector, Text: strings.Join(quoted, "|")}}}
}

// Or returns a locator matching the union of l and other.
func (l Locator) Or(other Locator) Locator {
	parts := make([]Part, 0, len(l.Parts)+len(other.Parts))
	parts = append(parts, l.Parts...)
	parts = append(parts, other.Parts...)
	return Locator{Parts: parts, Within: l.Within, Index: l.Index}
}

// In scopes the locator to the subtree of the element matching root.
func (l Locator) In(root string) Locator {
	l.Within = root
	return l
}

// Nth selects the i-th match (zero based).
func (l Locator) Nth(i int) Locator {
	l.Index = i
	return l
}

func (l Locator) String() string {
	var b strings.Builder
	if l.Within != "" {
		b.WriteString(l.Within)
		b.WriteString(" >> ")
	}
	for i, p := range l.Parts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.CSS)
		if p.Text != "" {
			fmt.Fprintf(&b, ":text(/%s/i)", p.Text)
		}
	}
	if l.Index > 0 {
		fmt.Fprintf(&b, " >> nth=%d", l.Index)
	}
	return b.String()
}

// Validate rejects locators that could never match.
func (l Locator) Validate() error {
	if len(l.Parts) == 0 {
		return fmt.Errorf("locator has no selectors")
	}
	for _, p := range l.Parts {
		if strings.TrimSpace(p.CSS) == "" {
			return fmt.Errorf("locator part has an empty selector")
		}
		if p.Text != "" {
			if _, err := regexp.Compile(p.Text); err != nil {
				return fmt.Errorf("locator text pattern %q: %w", p.Text, err)
			}
		}
	}
	if l.Index < 0 {
		return fmt.Errorf("locator index must not be negative")
	}
	return nil
}

// locatorOp names an operation understood by locate.js.
type locatorOp string

const (
	opCount   locatorOp = "count"
	opVisible locatorOp = "visible"
	opEnabled locatorOp = "enabled"
	opChecked locatorOp = "checked"
	opMark    locatorOp = "mark"
	opClick   locatorOp = "click"
	opCommit  locatorOp = "commit"
)

// locatorScript builds the expression applying op to the element l resolves to.
func locatorScript(l Locator, op locatorOp, arg string) (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("encode locator: %w", err)
	}
	args, err := json.Marshal([]string{string(op), arg})
	if err != nil {
		return "", fmt.Errorf("encode locator args: %w", err)
	}
	// args is a JSON array; splice its elements after the locator.
	return fmt.Sprintf("(%s\n)(%s, %s)", locateJS, encoded, strings.TrimSuffix(strings.TrimPrefix(string(args), "["), "]")), nil
}

// refSelector addresses an element previously stamped by the mark operation.
func refSelector(ref string) string {
	return fmt.Sprintf(`[%s="%s"]`, refAttr, ref)
}
