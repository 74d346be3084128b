package export

import (
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession() *story.Session {
	s := story.New(time.UnixMilli(1700000000000))
	s.Title = "The Brave Fox"
	s.Content = `<h2>Chapter One</h2>` +
		`<p>The <strong>brave</strong> fox met an <em>old</em> owl.</p>` +
		`<ul><li>forest</li><li>river</li></ul>` +
		`<p><img src="drawing_1.png" alt="owl"></p>`
	s.ChatHistory = []story.Message{
		story.UserMessage("write about a fox"),
		story.ModelMessage("Here is a story", "https://img.example/fox.png"),
	}
	s.Images.CoverImage = "cover_1.png"
	s.Images.Drawings = []string{"drawing_1.png"}
	return s
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", Markdown},
		{"md", Markdown},
		{"Markdown", Markdown},
		{"txt", Text},
		{"json", JSON},
		{"yml", YAML},
		{"toml", TOML},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestHTMLToMarkdown(t *testing.T) {
	md, err := HTMLToMarkdown(sampleSession().Content)
	require.NoError(t, err)

	assert.Equal(t, "## Chapter One\n\n"+
		"The **brave** fox met an _old_ owl.\n\n"+
		"- forest\n- river\n\n"+
		"![owl](drawing_1.png)\n", md)
}

func TestHTMLToMarkdownOrderedAndQuote(t *testing.T) {
	md, err := HTMLToMarkdown(`<ol><li>one</li><li>two</li></ol><blockquote><p>quoted</p></blockquote>`)
	require.NoError(t, err)
	assert.Equal(t, "1. one\n2. two\n\n> quoted\n", md)
}

func TestHTMLToText(t *testing.T) {
	text, err := HTMLToText(story.DefaultContent)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Story\n\nThis is the first page of your new book. Start writing your story here!", text)

	text, err = HTMLToText("plain words only")
	require.NoError(t, err)
	assert.Equal(t, "plain words only", text)
}

func TestRenderMarkdown(t *testing.T) {
	out, err := Render(sampleSession(), Markdown)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, "# The Brave Fox\n\n![Cover](cover_1.png)\n\n## Chapter One"))
	assert.True(t, strings.HasSuffix(s, "\n"))
}

func TestRenderText(t *testing.T) {
	out, err := Render(sampleSession(), Text)
	require.NoError(t, err)

	lines := strings.Split(string(out), "\n")
	assert.Equal(t, "The Brave Fox", lines[0])
	assert.Equal(t, "=============", lines[1])
	assert.Contains(t, string(out), "- forest")
}

func TestRenderDataFormats(t *testing.T) {
	s := sampleSession()

	t.Run("json", func(t *testing.T) {
		out, err := Render(s, JSON)
		require.NoError(t, err)
		var doc Document
		require.NoError(t, sonic.Unmarshal(out, &doc))
		assert.Equal(t, "the-brave-fox", doc.Slug)
		assert.Equal(t, 2, len(doc.Chat))
		assert.Equal(t, "https://img.example/fox.png", doc.Chat[1].ImageURL)
	})

	t.Run("yaml", func(t *testing.T) {
		out, err := Render(s, YAML)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, yaml.Unmarshal(out, &doc))
		assert.Equal(t, "The Brave Fox", doc["title"])
	})

	t.Run("toml", func(t *testing.T) {
		out, err := Render(s, TOML)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, toml.Unmarshal(out, &doc))
		assert.Equal(t, "The Brave Fox", doc["title"])
		assert.Equal(t, "cover_1.png", doc["coverImage"])
	})

	_, err := Render(s, Format("pdf"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestNewDocumentWordCount(t *testing.T) {
	doc, err := NewDocument(sampleSession())
	require.NoError(t, err)

	// Chapter One / The brave fox met an old owl. / forest / river
	assert.Equal(t, 11, doc.WordCount)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), doc.CreatedAt)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "the-brave-fox.md", FileName(sampleSession(), Markdown))
	assert.Equal(t, "the-brave-fox.txt", FileName(sampleSession(), Text))
	assert.Equal(t, "application/toml", TOML.ContentType())
}
