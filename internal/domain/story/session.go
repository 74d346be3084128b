package story

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults for a freshly created session
const (
	DefaultTitle   = "Untitled Story"
	DefaultContent = "<h2>Untitled Story</h2><p>This is the first page of your new book. Start writing your story here!</p>"
)

// PlaceholderImageHost serves shared placeholder covers that no session owns
const PlaceholderImageHost = "https://placehold.co/"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid session")

// Session is a persisted story
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ChatHistory []Message `json:"chatHistory"`
	Images      Images    `json:"images"`
	CreatedAt   int64     `json:"createdAt"`
	UpdatedAt   int64     `json:"updatedAt"`
}

// Images groups image references (URLs or storage refs, never bytes)
type Images struct {
	CoverImage    string   `json:"coverImage,omitempty"`
	Illustrations []string `json:"illustrations"`
	Drawings      []string `json:"drawings"`
}

// IndexEntry is the listing record stored apart from the document
type IndexEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedTime string `json:"createdTime"`
	FileID      string `json:"fileId"`
}

// New creates the default session for the "new story" action
func New(now time.Time) *Session {
	ms := now.UnixMilli()
	return &Session{
		ID:          strconv.FormatInt(ms, 10),
		Title:       DefaultTitle,
		Content:     DefaultContent,
		ChatHistory: []Message{},
		Images:      Images{Illustrations: []string{}, Drawings: []string{}},
		CreatedAt:   ms,
		UpdatedAt:   ms,
	}
}

// Clone returns a deep copy so cached sessions never share slices with callers
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ChatHistory = append([]Message(nil), s.ChatHistory...)
	c.Images = s.Images.clone()
	c.Normalize()
	return &c
}

// Normalize replaces nil collections with empty ones
func (s *Session) Normalize() {
	if s.ChatHistory == nil {
		s.ChatHistory = []Message{}
	}
	if s.Images.Illustrations == nil {
		s.Images.Illustrations = []string{}
	}
	if s.Images.Drawings == nil {
		s.Images.Drawings = []string{}
	}
}

// Validate checks the invariants enforced at the storage boundary
func (s *Session) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil session", ErrInvalid)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if !ValidID(s.ID) {
		return fmt.Errorf("%w: id %q contains invalid characters", ErrInvalid, s.ID)
	}
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if s.CreatedAt < 0 || s.UpdatedAt < 0 {
		return fmt.Errorf("%w: timestamps must not be negative", ErrInvalid)
	}
	if s.UpdatedAt < s.CreatedAt {
		return fmt.Errorf("%w: updatedAt %d precedes createdAt %d", ErrInvalid, s.UpdatedAt, s.CreatedAt)
	}
	for i, m := range s.ChatHistory {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%w: chatHistory[%d]: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

// ValidID reports whether id is safe to use as a storage key
func ValidID(id string) bool {
	return id != "" && len(id) <= 128 && idPattern.MatchString(id)
}

// Entry builds the index record for this session stored under fileID
func (s *Session) Entry(fileID string) IndexEntry {
	return IndexEntry{
		ID:          s.ID,
		Name:        s.Title,
		CreatedTime: FormatTime(s.CreatedAt),
		FileID:      fileID,
	}
}

// OwnedImages returns the cover and drawing references deleted together
// with the session. They are either bare blob names or locators returned by
// an image upload; storage maps them back to blobs. Placeholders and inline
// data URIs are never owned.
func (s *Session) OwnedImages() []string {
	var refs []string
	if isOwnable(s.Images.CoverImage) {
		refs = append(refs, s.Images.CoverImage)
	}
	for _, d := range s.Images.Drawings {
		if isOwnable(d) {
			refs = append(refs, d)
		}
	}
	return refs
}

func (i Images) clone() Images {
	return Images{
		CoverImage:    i.CoverImage,
		Illustrations: append([]string(nil), i.Illustrations...),
		Drawings:      append([]string(nil), i.Drawings...),
	}
}

// IsPlaceholderImage reports whether ref points at a shared placeholder
func IsPlaceholderImage(ref string) bool {
	return strings.HasPrefix(ref, PlaceholderImageHost)
}

func isOwnable(ref string) bool {
	return ref != "" && !IsPlaceholderImage(ref) && !strings.HasPrefix(ref, "data:")
}

// FormatTime renders epoch milliseconds as the index createdTime string
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// ImageFileName builds a blob name from a readable prefix and a timestamp
func ImageFileName(prefix string, now time.Time, ext string) string {
	prefix = Slug(prefix)
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s_%d.%s", prefix, now.UnixMilli(), ext)
}
