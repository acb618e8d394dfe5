package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"secure-dialer/internal/contacts"
	"secure-dialer/internal/models"
	"secure-dialer/internal/ringcentral"
	"secure-dialer/internal/router"
	"secure-dialer/internal/store"
	"secure-dialer/pkg/utils"
)

var (
	ErrCallInProgress = errors.New("a call to this contact is already in progress")
	ErrSelfCall       = errors.New("contact number is the caller number")
)

// ContactBook is the contact view the dialer reads and writes through.
type ContactBook interface {
	Contact(id string) (models.Contact, bool)
	UpdateContact(ctx context.Context, id string, patch models.ContactPatch) (models.Contact, error)
}

// Telephony places calls and texts from a resolved caller number.
type Telephony interface {
	CallerFor(ctx context.Context, userID string) (string, error)
	PlaceCallFrom(ctx context.Context, from, to string) (ringcentral.CallHandle, error)
	SendTextFrom(ctx context.Context, from, to, text string) error
}

// Templates returns the custom SMS body of a call session.
type Templates interface {
	SessionSMS(ctx context.Context, sessionID string) (models.CallSessionSMS, error)
}

// PhaseDelays spaces the phases shown after the provider accepted a ring-out.
type PhaseDelays struct {
	Connected time.Duration
	Answered  time.Duration
	Completed time.Duration
}

// Dialer runs call and text attempts for contacts: it drives the tracker,
// the provider and the contact state of one attempt from start to end.
type Dialer struct {
	book       ContactBook
	phone      Telephony
	templates  Templates
	tracker    *CallTracker
	progress   *Progression
	delays     PhaseDelays
	defaultSMS string

	mu       sync.Mutex
	inflight map[string]string // contact id -> call id

	now func() time.Time
}

func NewDialer(book ContactBook, phone Telephony, templates Templates, tracker *CallTracker, progress *Progression, delays PhaseDelays, defaultSMS string) *Dialer {
	if strings.TrimSpace(defaultSMS) == "" {
		defaultSMS = DefaultSMSTemplate
	}
	return &Dialer{
		book:       book,
		phone:      phone,
		templates:  templates,
		tracker:    tracker,
		progress:   progress,
		delays:     delays,
		defaultSMS: defaultSMS,
		inflight:   make(map[string]string),
		now:        time.Now,
	}
}

const DefaultSMSTemplate = "Thank you for your time. Please confirm your attendance."

// settleTimeout bounds the contact writes that end an attempt.
const settleTimeout = 10 * time.Second

// settle returns a context for the writes that end an attempt. They must land
// even when the caller has gone away, or the contact stays in flight.
func settle(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}

// ─── Calls ───────────────────────────────────────────────────────────────

// Call places a ring-out to the contact on behalf of userID. The returned
// status is the last one published for the attempt.
func (d *Dialer) Call(ctx context.Context, userID, contactID string) (models.CallStatus, error) {
	c, ok := d.book.Contact(contactID)
	if !ok {
		return models.CallStatus{}, contacts.ErrUnknownContact
	}

	callID, err := d.claim(contactID)
	if err != nil {
		return models.CallStatus{}, err
	}
	defer d.release(contactID)

	name := c.FullName()
	base := models.CallStatus{ID: callID, ContactID: c.ID, ContactName: name, Phone: c.Phone}
	log.Printf("[Dialer] Call %s to %s started by %s", callID, utils.MaskPhoneNumber(c.Phone), userID)

	initiated := true
	if _, err := d.book.UpdateContact(ctx, c.ID, models.ContactPatch{CallInitiated: &initiated}); err != nil {
		return d.fail(ctx, base, err)
	}
	d.emit(base, models.PhaseInitiating, 10, "Preparing to call "+name)

	from, err := d.phone.CallerFor(ctx, userID)
	if err != nil {
		return d.fail(ctx, base, err)
	}
	to, err := router.Normalize(c.Phone)
	if err != nil {
		return d.fail(ctx, base, fmt.Errorf("%q: %w", c.Phone, err))
	}
	if router.Equivalent(from, to) {
		return d.fail(ctx, base, ErrSelfCall)
	}

	d.emit(base, models.PhaseConnecting, 25, "Connecting to RingCentral service...")
	d.emit(base, models.PhaseConnecting, 40, "Placing call to "+name+"...")

	handle, err := d.phone.PlaceCallFrom(ctx, from, to)
	if err != nil {
		return d.fail(ctx, base, err)
	}

	ringing := d.emit(base, models.PhaseRinging, 60, "Ringing "+name+"...")
	if !d.tracker.Cleared(callID) {
		d.progress.Begin(ringing, RingOutPhases(name, d.delays.Connected, d.delays.Answered, d.delays.Completed))
	}
	log.Printf("[Dialer] Call %s accepted by RingCentral as %s", callID, handle.ID)

	wctx, cancel := settle(ctx)
	defer cancel()
	status := models.StatusCalled
	reset := false
	calledAt := d.now()
	if _, err := d.book.UpdateContact(wctx, c.ID, models.ContactPatch{
		Status:        &status,
		CallInitiated: &reset,
		LastCalled:    &calledAt,
	}); err != nil {
		utils.CallAttemptsTotal.WithLabelValues("placed_unsaved").Inc()
		log.Printf("[Dialer] Call %s placed but contact %s not updated: %v", callID, c.ID, err)
		return ringing, err
	}

	utils.CallAttemptsTotal.WithLabelValues("placed").Inc()
	return ringing, nil
}

func (d *Dialer) claim(contactID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[contactID]; busy {
		return "", ErrCallInProgress
	}
	callID := fmt.Sprintf("call-%s-%d", contactID, d.now().UnixMilli())
	d.inflight[contactID] = callID
	return callID, nil
}

func (d *Dialer) release(contactID string) {
	d.mu.Lock()
	delete(d.inflight, contactID)
	d.mu.Unlock()
}

func (d *Dialer) emit(base models.CallStatus, phase models.CallPhase, progress int, step string) models.CallStatus {
	st := base
	st.Status = phase
	st.Progress = progress
	st.Step = step
	st.Timestamp = d.now()
	d.tracker.Upsert(st)
	return st
}

// fail publishes the failed phase and leaves the contact in "call failed"
// with no call in flight.
func (d *Dialer) fail(ctx context.Context, base models.CallStatus, cause error) (models.CallStatus, error) {
	st := d.emit(base, models.PhaseFailed, 0, "Failed to call "+base.ContactName+": "+Reason(cause))

	wctx, cancel := settle(ctx)
	defer cancel()
	status := models.StatusCallFailed
	reset := false
	if _, err := d.book.UpdateContact(wctx, base.ContactID, models.ContactPatch{Status: &status, CallInitiated: &reset}); err != nil {
		log.Printf("[Dialer] Could not mark contact %s as failed: %v", base.ContactID, err)
	}

	utils.CallAttemptsTotal.WithLabelValues("failed").Inc()
	log.Printf("[Dialer] Call %s failed: %v", base.ID, cause)
	return st, cause
}

// Reason is the short human-readable failure text shown in call steps.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrSelfCall):
		return "the contact's number is your own caller number"
	case errors.Is(err, router.ErrInvalidNumber):
		return "the contact's phone number is not dialable"
	case ringcentral.KindOf(err) != ringcentral.KindUnknown:
		return ringcentral.UserMessage(err)
	}
	return err.Error()
}

// ─── Texts ───────────────────────────────────────────────────────────────

// Text sends the contact's session SMS on behalf of userID.
func (d *Dialer) Text(ctx context.Context, userID, contactID string) (models.Contact, error) {
	c, ok := d.book.Contact(contactID)
	if !ok {
		return models.Contact{}, contacts.ErrUnknownContact
	}
	body := d.smsBody(ctx, c)

	err := d.sendText(ctx, userID, c, body)
	status := models.StatusTextSent
	outcome := "sent"
	if err != nil {
		status = models.StatusCallFailed
		outcome = "failed"
		log.Printf("[Dialer] Text to %s failed: %v", utils.MaskPhoneNumber(c.Phone), err)
	}
	utils.TextAttemptsTotal.WithLabelValues(outcome).Inc()

	wctx, cancel := settle(ctx)
	defer cancel()
	updated, uerr := d.book.UpdateContact(wctx, c.ID, models.ContactPatch{Status: &status})
	if err != nil {
		return c, err
	}
	if uerr != nil {
		return c, uerr
	}
	return updated, nil
}

func (d *Dialer) sendText(ctx context.Context, userID string, c models.Contact, body string) error {
	from, err := d.phone.CallerFor(ctx, userID)
	if err != nil {
		return err
	}
	to, err := router.Normalize(c.Phone)
	if err != nil {
		return fmt.Errorf("%q: %w", c.Phone, err)
	}
	return d.phone.SendTextFrom(ctx, from, to, body)
}

func (d *Dialer) smsBody(ctx context.Context, c models.Contact) string {
	if c.CallSessionID == nil || *c.CallSessionID == "" {
		return fmt.Sprintf("Hello %s, this is a message from OCC Secure Dialer.", c.FirstName)
	}
	if d.templates != nil {
		tmpl, err := d.templates.SessionSMS(ctx, *c.CallSessionID)
		switch {
		case err == nil && strings.TrimSpace(tmpl.SMSContent) != "":
			return tmpl.SMSContent
		case err != nil && !errors.Is(err, store.ErrNotFound):
			log.Printf("[Dialer] SMS template for session %s unavailable: %v", *c.CallSessionID, err)
		}
	}
	return d.defaultSMS
}
