package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><body>
<div class="card"><h3><a href="/series/solo">Solo   Leveling</a></h3><span class="ch">Chapter 179</span></div>
<div class="card"><h3><a href="/series/op">One Piece</a></h3><span class="ch">Chapter 1100</span></div>
<div class="footer">nothing here</div>
</body></html>`

func parseListing(t *testing.T) Document {
	doc, err := NewGoqueryEvaluator().Parse([]byte(listingHTML), "https://site.example/latest")
	require.NoError(t, err)
	return doc
}

// TestSelect_FindsCards verifies matching in document order
func TestSelect_FindsCards(t *testing.T) {
	doc := parseListing(t)

	cards, err := doc.Select("div.card")
	require.NoError(t, err)
	require.Len(t, cards, 2)

	title, err := First(cards[0], "h3 a")
	require.NoError(t, err)
	require.NotNil(t, title)
	assert.Equal(t, "Solo Leveling", TextOf(title), "whitespace should be collapsed")

	href, ok := title.Attr("href")
	assert.True(t, ok)
	assert.Equal(t, "/series/solo", href)

	chapter, err := First(cards[1], "span.ch")
	require.NoError(t, err)
	assert.Equal(t, "Chapter 1100", TextOf(chapter))
}

// TestSelect_EmptyResultIsNotAnError verifies zero matches are valid
func TestSelect_EmptyResultIsNotAnError(t *testing.T) {
	doc := parseListing(t)

	cards, err := doc.Select("article.manga")
	require.NoError(t, err)
	assert.Empty(t, cards)

	footer, err := doc.Select("div.footer")
	require.NoError(t, err)
	require.Len(t, footer, 1)

	link, err := First(footer[0], "a")
	require.NoError(t, err)
	assert.Nil(t, link)
}

// TestSelect_InvalidSyntax verifies malformed selectors become SelectorError
func TestSelect_InvalidSyntax(t *testing.T) {
	doc := parseListing(t)

	_, err := doc.Select("div[class=")
	require.Error(t, err)

	var selErr *SelectorError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, "div[class=", selErr.Selector)
}

// TestValidate verifies selectors can be checked without a document
func TestValidate(t *testing.T) {
	eval := NewGoqueryEvaluator()

	assert.NoError(t, eval.Validate("div.card > h3 a"))
	assert.Error(t, eval.Validate(":::"))
}

// TestDocument_URL verifies the fetch URL is kept
func TestDocument_URL(t *testing.T) {
	doc := parseListing(t)
	assert.Equal(t, "https://site.example/latest", doc.URL())
}
