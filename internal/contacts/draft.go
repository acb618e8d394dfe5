package contacts

import (
	"context"
	"sync"

	"secure-dialer/internal/models"
)

// Updater is satisfied by Reconciler.
type Updater interface {
	UpdateContact(ctx context.Context, id string, patch models.ContactPatch) (models.Contact, error)
}

// CommentDraft buffers edits to one contact's comment. Save and Blur both
// submit, but only when there is an unsaved edit, so firing both for the same
// edit writes once.
type CommentDraft struct {
	up        Updater
	contactID string

	mu    sync.Mutex
	text  string
	dirty bool
	gen   uint64
}

func NewCommentDraft(up Updater, contactID, initial string) *CommentDraft {
	return &CommentDraft{up: up, contactID: contactID, text: initial}
}

func (d *CommentDraft) Edit(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	d.dirty = true
	d.gen++
}

func (d *CommentDraft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *CommentDraft) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

func (d *CommentDraft) Save(ctx context.Context) error { return d.submit(ctx) }

func (d *CommentDraft) Blur(ctx context.Context) error { return d.submit(ctx) }

func (d *CommentDraft) submit(ctx context.Context) error {
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	text, gen := d.text, d.gen
	d.dirty = false
	d.mu.Unlock()

	if _, err := d.up.UpdateContact(ctx, d.contactID, models.ContactPatch{Comments: &text}); err != nil {
		d.mu.Lock()
		if d.gen == gen {
			d.dirty = true
		}
		d.mu.Unlock()
		return err
	}
	return nil
}
