package story

import "time"

// Patch is a partial update. Nil fields are left untouched by Apply.
type Patch struct {
	ID          string    `json:"id"`
	Title       *string   `json:"title,omitempty"`
	Content     *string   `json:"content,omitempty"`
	ChatHistory []Message `json:"chatHistory,omitempty"`
	Images      *Images   `json:"images,omitempty"`
}

// String returns a pointer to s, for building patches
func String(s string) *string {
	return &s
}

// Empty reports whether the patch changes nothing
func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.ChatHistory == nil && p.Images == nil
}

// Apply shallow-merges the patch onto prev and returns a new session.
// UpdatedAt never moves backwards.
func (p Patch) Apply(prev *Session, now time.Time) *Session {
	next := prev.Clone()
	if p.Title != nil {
		next.Title = *p.Title
	}
	if p.Content != nil {
		next.Content = *p.Content
	}
	if p.ChatHistory != nil {
		next.ChatHistory = append([]Message(nil), p.ChatHistory...)
	}
	if p.Images != nil {
		next.Images = p.Images.clone()
	}
	next.Normalize()

	ms := now.UnixMilli()
	if ms > next.UpdatedAt {
		next.UpdatedAt = ms
	}
	return next
}
