// Package store persists the conversation document: every session, every
// conversation ledger and every image prompt trail, written as one unit.
package store

import (
	"context"

	"github.com/zhouzirui/z-scene/backend/internal/model/chat"
	"github.com/zhouzirui/z-scene/backend/internal/model/scene"
)

// Document is the single durable aggregate. All mappings are keyed by session id.
type Document struct {
	Sessions  map[string]scene.Session `json:"sessions"`
	Histories map[string][]chat.Turn   `json:"conversationHistory"`
	Images    map[string][]string      `json:"images"`
}

// NewDocument returns a document with empty mappings.
func NewDocument() *Document {
	return &Document{
		Sessions:  make(map[string]scene.Session),
		Histories: make(map[string][]chat.Turn),
		Images:    make(map[string][]string),
	}
}

// Normalize fills mappings that were absent from the persisted form.
func (d *Document) Normalize() *Document {
	if d.Sessions == nil {
		d.Sessions = make(map[string]scene.Session)
	}
	if d.Histories == nil {
		d.Histories = make(map[string][]chat.Turn)
	}
	if d.Images == nil {
		d.Images = make(map[string][]string)
	}
	return d
}

// Clone returns a deep copy that can be encoded without holding the caller's lock.
func (d *Document) Clone() *Document {
	out := &Document{
		Sessions:  make(map[string]scene.Session, len(d.Sessions)),
		Histories: make(map[string][]chat.Turn, len(d.Histories)),
		Images:    make(map[string][]string, len(d.Images)),
	}
	for id, s := range d.Sessions {
		out.Sessions[id] = s
	}
	for id, turns := range d.Histories {
		out.Histories[id] = append([]chat.Turn(nil), turns...)
	}
	for id, prompts := range d.Images {
		out.Images[id] = append([]string(nil), prompts...)
	}
	return out
}

// Store loads the document once at startup and replaces it wholesale on save.
type Store interface {
	// Load returns the persisted document, or an empty one when nothing has
	// been persisted yet. Unparsable data yields *apperr.StoreCorruptError.
	Load(ctx context.Context) (*Document, error)

	// Save atomically overwrites the durable copy with doc.
	// Failures are reported as *apperr.StoreIOError.
	Save(ctx context.Context, doc *Document) error

	Close() error
}
