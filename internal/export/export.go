// Package export renders a session into downloadable document formats.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Format names an export rendering
type Format string

const (
	Markdown Format = "markdown"
	Text     Format = "text"
	JSON     Format = "json"
	YAML     Format = "yaml"
	TOML     Format = "toml"
)

// ErrUnknownFormat is returned for unsupported format names
var ErrUnknownFormat = errors.New("unknown export format")

// Formats lists every supported format
func Formats() []Format {
	return []Format{Markdown, Text, JSON, YAML, TOML}
}

// ParseFormat resolves a format name, accepting common aliases
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "md", "markdown":
		return Markdown, nil
	case "txt", "text":
		return Text, nil
	case "json":
		return JSON, nil
	case "yml", "yaml":
		return YAML, nil
	case "toml":
		return TOML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	switch f {
	case Markdown:
		return "text/markdown; charset=utf-8"
	case JSON:
		return "application/json"
	case YAML:
		return "application/yaml"
	case TOML:
		return "application/toml"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the file extension without the dot
func (f Format) Extension() string {
	switch f {
	case Markdown:
		return "md"
	case Text:
		return "txt"
	default:
		return string(f)
	}
}

// FileName builds the download name for a session
func FileName(s *story.Session, f Format) string {
	return story.Slug(s.Title) + "." + f.Extension()
}

// Document is the structured form written by the data formats
type Document struct {
	ID          string    `json:"id" yaml:"id" toml:"id"`
	Title       string    `json:"title" yaml:"title" toml:"title"`
	Slug        string    `json:"slug" yaml:"slug" toml:"slug"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt" toml:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt" toml:"updatedAt"`
	WordCount   int       `json:"wordCount" yaml:"wordCount" toml:"wordCount"`
	CoverImage  string    `json:"coverImage,omitempty" yaml:"coverImage,omitempty" toml:"coverImage,omitempty"`
	Body        string    `json:"body" yaml:"body" toml:"body"`
	Chat        []Turn    `json:"chat" yaml:"chat" toml:"chat"`
	Drawings    []string  `json:"drawings" yaml:"drawings" toml:"drawings"`
	Illustrated []string  `json:"illustrations" yaml:"illustrations" toml:"illustrations"`
}

// Turn is one chat message in an export
type Turn struct {
	Role     string `json:"role" yaml:"role" toml:"role"`
	Content  string `json:"content" yaml:"content" toml:"content"`
	ImageURL string `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty" toml:"imageUrl,omitempty"`
}

// NewDocument flattens a session; the body is rendered as markdown
func NewDocument(s *story.Session) (*Document, error) {
	body, err := HTMLToMarkdown(s.Content)
	if err != nil {
		return nil, err
	}
	words, err := WordCount(s.Content)
	if err != nil {
		return nil, err
	}

	chat := make([]Turn, 0, len(s.ChatHistory))
	for _, m := range s.ChatHistory {
		chat = append(chat, Turn{Role: string(m.Role), Content: m.Content, ImageURL: m.ImageURL})
	}
	return &Document{
		ID:          s.ID,
		Title:       s.Title,
		Slug:        story.Slug(s.Title),
		CreatedAt:   time.UnixMilli(s.CreatedAt).UTC(),
		UpdatedAt:   time.UnixMilli(s.UpdatedAt).UTC(),
		WordCount:   words,
		CoverImage:  s.Images.CoverImage,
		Body:        body,
		Chat:        chat,
		Drawings:    append([]string{}, s.Images.Drawings...),
		Illustrated: append([]string{}, s.Images.Illustrations...),
	}, nil
}

// Render produces the session in format f
func Render(s *story.Session, f Format) ([]byte, error) {
	switch f {
	case Markdown:
		return renderMarkdown(s)
	case Text:
		return renderText(s)
	case JSON, YAML, TOML:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}

	doc, err := NewDocument(s)
	if err != nil {
		return nil, err
	}
	switch f {
	case JSON:
		return sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	case YAML:
		return yaml.Marshal(doc)
	default:
		return toml.Marshal(doc)
	}
}

func renderMarkdown(s *story.Session) ([]byte, error) {
	body, err := HTMLToMarkdown(s.Content)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("# " + s.Title + "\n\n")
	if s.Images.CoverImage != "" {
		fmt.Fprintf(&b, "![Cover](%s)\n\n", s.Images.CoverImage)
	}
	b.WriteString(body)
	return []byte(strings.TrimRight(b.String(), "\n") + "\n"), nil
}

func renderText(s *story.Session) ([]byte, error) {
	body, err := HTMLToText(s.Content)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(s.Title + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(s.Title))) + "\n\n")
	b.WriteString(body)
	return []byte(strings.TrimRight(b.String(), "\n") + "\n"), nil
}
