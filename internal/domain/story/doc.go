// Package story defines the persisted story session and its index record.
//
// A Session is the unit of work of the co-writing editor: one story's title,
// rich-text content, chat history with the writing assistant and references
// to its images. Sessions are replaced wholesale on every save; partial edits
// are expressed as a Patch and shallow-merged onto the previous record.
//
// Components:
//   - Session: full document, validated at the storage boundary
//   - Message: role-tagged chat record (user or model)
//   - Images: fixed-shape cover/illustration/drawing references
//   - IndexEntry: lightweight listing record kept apart from documents
//   - Patch: partial update with shallow-merge semantics
//
// Example Usage:
//
//	s := story.New(time.Now())
//	next := story.Patch{ID: s.ID, Title: story.String("My Adventure")}.Apply(s, time.Now())
//	slug := story.Slug(next.Title) // "my-adventure"
package story
