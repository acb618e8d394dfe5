package engine

import (
	"context"
	"errors"
	"strings"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"secure-dialer/internal/contacts"
	"secure-dialer/internal/models"
	"secure-dialer/internal/ringcentral"
	"secure-dialer/internal/store"
)

type memBook struct {
	mu      sync.Mutex
	rows    map[string]models.Contact
	patches []models.ContactPatch
}

func newMemBook(rows ...models.Contact) *memBook {
	b := &memBook{rows: make(map[string]models.Contact)}
	for _, r := range rows {
		b.rows[r.ID] = r
	}
	return b
}

func (b *memBook) Contact(id string) (models.Contact, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.rows[id]
	return c, ok
}

func (b *memBook) UpdateContact(ctx context.Context, id string, p models.ContactPatch) (models.Contact, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.rows[id]
	p.Apply(&c)
	b.rows[id] = c
	b.patches = append(b.patches, p)
	return c, nil
}

type fakePhone struct {
	caller   string
	callErr  error
	textErr  error
	calls    []string
	texts    []string
	block    chan struct{}
	entered  chan struct{}
	mu       sync.Mutex
	lastBody string
}

func (p *fakePhone) CallerFor(ctx context.Context, userID string) (string, error) {
	if p.caller == "" {
		return "", ringcentral.ErrNoCallerNumber
	}
	return p.caller, nil
}

func (p *fakePhone) PlaceCallFrom(ctx context.Context, from, to string) (ringcentral.CallHandle, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, from+"->"+to)
	if p.callErr != nil {
		return ringcentral.CallHandle{}, p.callErr
	}
	return ringcentral.CallHandle{ID: "ro-1", Status: "InProgress"}, nil
}

func (p *fakePhone) SendTextFrom(ctx context.Context, from, to, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, to)
	p.lastBody = text
	return p.textErr
}

type templateMap map[string]string

func (m templateMap) SessionSMS(ctx context.Context, sessionID string) (models.CallSessionSMS, error) {
	body, ok := m[sessionID]
	if !ok {
		return models.CallSessionSMS{}, store.ErrNotFound
	}
	return models.CallSessionSMS{CallSessionID: sessionID, SMSContent: body}, nil
}

type dialerHarness struct {
	clock    *clock
	tracker  *CallTracker
	progress *Progression
	book     *memBook
	phone    *fakePhone
	dialer   *Dialer
}

func newDialerHarness(phone *fakePhone, templates Templates, rows ...models.Contact) *dialerHarness {
	c := newClock()
	tr := NewCallTracker(5*time.Second, nil)
	tr.now = c.Now
	pr := NewProgression(tr)
	pr.now = c.Now
	tr.OnClear(pr.Cancel)
	book := newMemBook(rows...)
	d := NewDialer(book, phone, templates, tr, pr, PhaseDelays{Connected: 3 * time.Second, Answered: 2 * time.Second, Completed: 3 * time.Second}, "")
	d.now = c.Now
	return &dialerHarness{clock: c, tracker: tr, progress: pr, book: book, phone: phone, dialer: d}
}

var ann = models.Contact{ID: "c1", FirstName: "Ann", LastName: "Lee", Phone: "+1 (555) 123-4567"}

func TestCallSuccessResetsCallInitiated(t *testing.T) {
	h := newDialerHarness(&fakePhone{caller: "+15550000001"}, nil, ann)

	st, err := h.dialer.Call(context.Background(), "u1", "c1")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if st.Status != models.PhaseRinging || st.Progress != 60 || st.Step != "Ringing Ann Lee..." {
		t.Fatalf("unexpected returned status %+v", st)
	}

	c, _ := h.book.Contact("c1")
	if c.Status != models.StatusCalled || c.CallInitiated || c.LastCalled == nil {
		t.Fatalf("unexpected contact after call %+v", c)
	}
	if len(h.book.patches) < 2 || h.book.patches[0].CallInitiated == nil || !*h.book.patches[0].CallInitiated {
		t.Fatalf("call should be marked in flight first, patches=%+v", h.book.patches)
	}
	if h.phone.calls[0] != "+15550000001->+15551234567" {
		t.Fatalf("unexpected provider call %v", h.phone.calls)
	}

	h.progress.Advance(h.clock.Add(10 * time.Second))
	final, ok := h.tracker.Get(st.ID)
	if !ok || final.Status != models.PhaseCompleted || !final.Simulated || final.Progress != 100 {
		t.Fatalf("expected simulated completion, got %+v (ok=%v)", final, ok)
	}
	if n := h.tracker.Sweep(h.clock.Add(5 * time.Second)); n != 1 {
		t.Fatalf("completed status should expire, removed %d", n)
	}
}

func TestCallWithoutCallerNumber(t *testing.T) {
	h := newDialerHarness(&fakePhone{}, nil, ann)

	st, err := h.dialer.Call(context.Background(), "u1", "c1")
	if !errors.Is(err, ringcentral.ErrNoCallerNumber) {
		t.Fatalf("expected ErrNoCallerNumber, got %v", err)
	}
	if st.Status != models.PhaseFailed || st.Progress != 0 || !strings.HasPrefix(st.Step, "Failed to call Ann Lee: No caller number") {
		t.Fatalf("unexpected failed status %+v", st)
	}
	if len(h.phone.calls) != 0 {
		t.Fatalf("provider must not be reached")
	}
	c, _ := h.book.Contact("c1")
	if c.Status != models.StatusCallFailed || c.CallInitiated {
		t.Fatalf("contact should be left failed and idle, got %+v", c)
	}
	if h.progress.Pending(st.ID) {
		t.Fatalf("no progression after a failure")
	}
}

func TestCallProviderFailure(t *testing.T) {
	phone := &fakePhone{caller: "+15550000001", callErr: &ringcentral.Error{Kind: ringcentral.KindProvider, Status: 400, Message: "Invalid phone number"}}
	h := newDialerHarness(phone, nil, ann)

	st, err := h.dialer.Call(context.Background(), "u1", "c1")
	if ringcentral.KindOf(err) != ringcentral.KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	got, _ := h.tracker.Get(st.ID)
	if got.Status != models.PhaseFailed || !strings.Contains(got.Step, "Invalid phone number") {
		t.Fatalf("tracker should hold the failure, got %+v", got)
	}
	if c, _ := h.book.Contact("c1"); c.Status != models.StatusCallFailed || c.CallInitiated {
		t.Fatalf("unexpected contact %+v", c)
	}
}

func TestCallSelfNumber(t *testing.T) {
	h := newDialerHarness(&fakePhone{caller: "555-123-4567"}, nil, ann)
	if _, err := h.dialer.Call(context.Background(), "u1", "c1"); !errors.Is(err, ErrSelfCall) {
		t.Fatalf("expected ErrSelfCall, got %v", err)
	}
}

func TestCallUnknownContact(t *testing.T) {
	h := newDialerHarness(&fakePhone{caller: "1"}, nil)
	if _, err := h.dialer.Call(context.Background(), "u1", "nope"); !errors.Is(err, contacts.ErrUnknownContact) {
		t.Fatalf("expected ErrUnknownContact, got %v", err)
	}
	if len(h.tracker.List()) != 0 {
		t.Fatalf("nothing should be tracked")
	}
}

func TestSecondCallWhileInFlight(t *testing.T) {
	phone := &fakePhone{caller: "+15550000001", block: make(chan struct{}), entered: make(chan struct{})}
	h := newDialerHarness(phone, nil, ann)

	done := make(chan error, 1)
	go func() {
		_, err := h.dialer.Call(context.Background(), "u1", "c1")
		done <- err
	}()
	<-phone.entered

	if _, err := h.dialer.Call(context.Background(), "u2", "c1"); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("expected ErrCallInProgress, got %v", err)
	}
	close(phone.block)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
}

func TestTextBodies(t *testing.T) {
	session := "s1"
	other := "s2"
	withTemplate := models.Contact{ID: "c1", FirstName: "Ann", Phone: "5551234567", CallSessionID: &session}
	noTemplate := models.Contact{ID: "c2", FirstName: "Bob", Phone: "5551234568", CallSessionID: &other}
	noSession := models.Contact{ID: "c3", FirstName: "Cy", Phone: "5551234569"}

	phone := &fakePhone{caller: "+15550000001"}
	h := newDialerHarness(phone, templateMap{"s1": "Gala on Friday, reply YES"}, withTemplate, noTemplate, noSession)
	ctx := context.Background()

	tests := []struct {
		id   string
		want string
	}{
		{"c1", "Gala on Friday, reply YES"},
		{"c2", DefaultSMSTemplate},
		{"c3", "Hello Cy, this is a message from OCC Secure Dialer."},
	}
	for _, tt := range tests {
		c, err := h.dialer.Text(ctx, "u1", tt.id)
		if err != nil {
			t.Fatalf("Text(%s): %v", tt.id, err)
		}
		if phone.lastBody != tt.want {
			t.Fatalf("Text(%s) body %q, want %q", tt.id, phone.lastBody, tt.want)
		}
		if c.Status != models.StatusTextSent {
			t.Fatalf("Text(%s) status %s", tt.id, c.Status)
		}
	}
}

func TestTextFailureMarksContact(t *testing.T) {
	phone := &fakePhone{caller: "+15550000001", textErr: &ringcentral.Error{Kind: ringcentral.KindSMSCapability, Code: "MSG-304"}}
	h := newDialerHarness(phone, nil, ann)

	if _, err := h.dialer.Text(context.Background(), "u1", "c1"); ringcentral.KindOf(err) != ringcentral.KindSMSCapability {
		t.Fatalf("expected sms capability error, got %v", err)
	}
	if c, _ := h.book.Contact("c1"); c.Status != models.StatusCallFailed {
		t.Fatalf("unexpected status %s", c.Status)
	}
}

// hangUpPhone cancels the request context while the ring-out is in progress,
// the way a browser closing mid-call does.
type hangUpPhone struct {
	fakePhone
	cancel context.CancelFunc
	accept bool
}

func (p *hangUpPhone) PlaceCallFrom(ctx context.Context, from, to string) (ringcentral.CallHandle, error) {
	p.cancel()
	if p.accept {
		return ringcentral.CallHandle{ID: "ro-1", Status: "InProgress"}, nil
	}
	return ringcentral.CallHandle{}, ctx.Err()
}

func TestCallSettlesContactAfterDisconnect(t *testing.T) {
	for _, accept := range []bool{false, true} {
		db, err := store.Open(filepath.Join(t.TempDir(), "dialer.db"))
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		seed := []models.Contact{{FirstName: "Ann", LastName: "Lee", Phone: "+1 (555) 123-4567"}}
		if err := db.CreateSessionWithContacts(context.Background(), &models.CallSession{UserID: "u1", Name: "Gala"}, seed); err != nil {
			t.Fatal(err)
		}
		book := contacts.NewReconciler(db)
		if err := book.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
		id := book.Contacts()[0].ID

		ctx, cancel := context.WithCancel(context.Background())
		phone := &hangUpPhone{fakePhone: fakePhone{caller: "+15550000001"}, cancel: cancel, accept: accept}
		tr := NewCallTracker(5*time.Second, nil)
		d := NewDialer(book, phone, nil, tr, NewProgression(tr), PhaseDelays{}, "")

		_, callErr := d.Call(ctx, "u1", id)
		want := models.StatusCallFailed
		if accept {
			want = models.StatusCalled
			if callErr != nil {
				t.Fatalf("accepted call: %v", callErr)
			}
		} else if !errors.Is(callErr, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", callErr)
		}

		view, _ := book.Contact(id)
		stored, err := db.GetContact(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		for where, c := range map[string]models.Contact{"view": view, "store": stored} {
			if c.Status != want || c.CallInitiated {
				t.Fatalf("accept=%v %s: status=%q callInitiated=%v, want %q and idle", accept, where, c.Status, c.CallInitiated, want)
			}
		}
	}
}

func TestCallClearedWhileRinging(t *testing.T) {
	phone := &fakePhone{caller: "+15550000001", block: make(chan struct{}), entered: make(chan struct{})}
	h := newDialerHarness(phone, nil, ann)

	done := make(chan models.CallStatus, 1)
	go func() {
		st, _ := h.dialer.Call(context.Background(), "u1", "c1")
		done <- st
	}()
	<-phone.entered

	list := h.tracker.List()
	if len(list) != 1 {
		t.Fatalf("expected the attempt to be tracked, got %v", list)
	}
	h.tracker.Clear(list[0].ID)
	close(phone.block)
	st := <-done

	if _, ok := h.tracker.Get(st.ID); ok {
		t.Fatalf("cleared call came back")
	}
	if h.progress.Pending(st.ID) {
		t.Fatalf("no progression should start for a cleared call")
	}
	if c, _ := h.book.Contact("c1"); c.Status != models.StatusCalled || c.CallInitiated {
		t.Fatalf("contact should still be settled, got %+v", c)
	}
}
