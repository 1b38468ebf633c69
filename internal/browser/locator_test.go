// internal/browser/locator_test.go
package browser

import (
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocatorBuilders(t *testing.T) {
	t.Run("text parts quote their words", func(t *testing.T) {
		loc := Text("button", "OK", "a.b")
		require.Len(t, loc.Parts, 1)
		assert.Equal(t, "button", loc.Parts[0].CSS)
		assert.Equal(t, `OK|a\.b`, loc.Parts[0].Text)
	})

	t.Run("or keeps scope and index of the receiver", func(t *testing.T) {
		loc := Text("button", "Save").In(`[role="dialog"]`).Nth(1).Or(CSS(`button[type="submit"]`))
		require.Len(t, loc.Parts, 2)
		assert.Equal(t, `[role="dialog"]`, loc.Within)
		assert.Equal(t, 1, loc.Index)
	})

	t.Run("in and nth do not mutate the original", func(t *testing.T) {
		base := CSS("input")
		_ = base.In("form").Nth(3)
		assert.Empty(t, base.Within)
		assert.Zero(t, base.Index)
	})

	t.Run("string form is readable", func(t *testing.T) {
		loc := Text("label", "Agree").In("#dlg").Nth(2)
		assert.Equal(t, "#dlg >> label:text(/Agree/i) >> nth=2", loc.String())
	})
}

func TestLocatorValidate(t *testing.T) {
	assert.NoError(t, CSS("input").Validate())
	assert.Error(t, Locator{}.Validate())
	assert.Error(t, CSS("  ").Validate())
	assert.Error(t, CSS("input").Nth(-1).Validate())
	assert.Error(t, Locator{Parts: []Part{{CSS: "a", Text: "("}}}.Validate())
}

func TestLocatorScript(t *testing.T) {
	loc := Text("button", "אשר", "Confirm").In(`[role="alertdialog"]`)
	script, err := locatorScript(loc, opCommit, `he said "hi"`)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "("))
	assert.Contains(t, script, "function (spec, op, arg)")

	spec, err := json.Marshal(loc)
	require.NoError(t, err)
	assert.Contains(t, script, string(spec))
	assert.True(t, strings.HasSuffix(script, `, "commit","he said \"hi\"")`), script[len(script)-60:])

	_, err = locatorScript(Locator{}, opCount, "")
	assert.Error(t, err)
}

func TestRefSelector(t *testing.T) {
	assert.Equal(t, `[data-trialctl-ref="12"]`, refSelector("12"))
}
