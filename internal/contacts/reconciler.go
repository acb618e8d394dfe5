package contacts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"secure-dialer/internal/models"
	"secure-dialer/pkg/utils"
)

var ErrUnknownContact = errors.New("unknown contact")

// Store is the persistence the reconciler writes through.
type Store interface {
	ListContacts(ctx context.Context) ([]models.Contact, error)
	UpdateContact(ctx context.Context, id string, patch models.ContactPatch) (models.Contact, error)
}

// Refresher is notified after every contact write, successful or not.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Reconciler keeps the in-memory contact view in step with the store. Updates
// are applied optimistically, then confirmed with the stored row or rolled back.
type Reconciler struct {
	store Store

	mu       sync.RWMutex
	contacts map[string]models.Contact

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	refreshers []Refresher
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{
		store:    store,
		contacts: make(map[string]models.Contact),
		locks:    make(map[string]*sync.Mutex),
	}
}

// AddRefresher registers r to run after each UpdateContact.
func (r *Reconciler) AddRefresher(ref Refresher) {
	r.refreshers = append(r.refreshers, ref)
}

// Load replaces the view with the current store contents.
func (r *Reconciler) Load(ctx context.Context) error {
	list, err := r.store.ListContacts(ctx)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	view := make(map[string]models.Contact, len(list))
	for _, c := range list {
		view[c.ID] = c
	}
	r.mu.Lock()
	r.contacts = view
	r.mu.Unlock()
	log.Printf("[Reconciler] Loaded %d contacts", len(view))
	return nil
}

// Refresh reloads the view; it lets the importer treat the reconciler as a Refresher.
func (r *Reconciler) Refresh(ctx context.Context) error { return r.Load(ctx) }

// Contacts returns a copy of the view ordered by creation time.
func (r *Reconciler) Contacts() []models.Contact {
	r.mu.RLock()
	out := make([]models.Contact, 0, len(r.contacts))
	for _, c := range r.contacts {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Reconciler) Contact(id string) (models.Contact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[id]
	return c, ok
}

func (r *Reconciler) lockFor(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// UpdateContact patches contact id in memory, writes the patch, then either
// adopts the stored row or restores the pre-update snapshot. Only the target
// contact is touched. Refreshers run in both cases.
func (r *Reconciler) UpdateContact(ctx context.Context, id string, patch models.ContactPatch) (models.Contact, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	snapshot, ok := r.contacts[id]
	if !ok {
		r.mu.Unlock()
		return models.Contact{}, ErrUnknownContact
	}
	optimistic := snapshot
	patch.Apply(&optimistic)
	r.contacts[id] = optimistic
	r.mu.Unlock()

	saved, err := r.store.UpdateContact(ctx, id, patch)

	r.mu.Lock()
	if err != nil {
		r.contacts[id] = snapshot
	} else {
		r.contacts[id] = saved
	}
	r.mu.Unlock()

	r.refresh(ctx)

	if err != nil {
		utils.ContactUpdatesTotal.WithLabelValues("rolled_back").Inc()
		log.Printf("[Reconciler] Update of %s failed, restored previous state: %v", id, err)
		return snapshot, fmt.Errorf("update contact %s: %w", id, err)
	}
	utils.ContactUpdatesTotal.WithLabelValues("ok").Inc()
	return saved, nil
}

func (r *Reconciler) refresh(ctx context.Context) {
	for _, ref := range r.refreshers {
		if err := ref.Refresh(ctx); err != nil {
			log.Printf("[Reconciler] Refresh failed: %v", err)
		}
	}
}
