package contacts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"secure-dialer/internal/models"
)

var ErrNoContacts = errors.New("no valid contacts found in the CSV file")

type columns struct {
	last, first, phone, email, comments, attending int
}

func findColumn(headers []string, match func(h string) bool) int {
	for i, h := range headers {
		if match(h) {
			return i
		}
	}
	return -1
}

func mapColumns(headers []string) columns {
	return columns{
		last: findColumn(headers, func(h string) bool {
			return (strings.Contains(h, "last") && strings.Contains(h, "name")) ||
				h == "lastname" || h == "last_name" || h == "surname" || h == "family name" || h == "l name"
		}),
		first: findColumn(headers, func(h string) bool {
			return (strings.Contains(h, "first") && strings.Contains(h, "name")) ||
				h == "firstname" || h == "first_name" || h == "name" || h == "given name"
		}),
		phone: findColumn(headers, func(h string) bool {
			return strings.Contains(h, "phone") || strings.Contains(h, "mobile") || strings.Contains(h, "tel")
		}),
		email: findColumn(headers, func(h string) bool {
			return strings.Contains(h, "email") || strings.Contains(h, "mail")
		}),
		comments: findColumn(headers, func(h string) bool {
			return strings.Contains(h, "comment") || strings.Contains(h, "note")
		}),
		attending: findColumn(headers, func(h string) bool {
			return strings.Contains(h, "attend")
		}),
	}
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// ParseCSV reads a header row followed by contact rows. Rows without a phone
// number are dropped.
func ParseCSV(r io.Reader) ([]models.Contact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoContacts
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}
	cols := mapColumns(header)

	var out []models.Contact
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		c := models.Contact{
			LastName:  field(row, cols.last),
			FirstName: field(row, cols.first),
			Phone:     field(row, cols.phone),
			Email:     field(row, cols.email),
			Comments:  field(row, cols.comments),
			Attending: models.AttendingNo,
			Status:    models.StatusNotCalled,
		}
		if strings.EqualFold(field(row, cols.attending), "yes") {
			c.Attending = models.AttendingYes
		}
		if c.Phone == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoContacts
	}
	return out, nil
}

// SessionWriter is the store surface the importer needs.
type SessionWriter interface {
	CreateSessionWithContacts(ctx context.Context, session *models.CallSession, contacts []models.Contact) error
}

// Importer turns parsed contacts into a new call session.
type Importer struct {
	store SessionWriter
	after []Refresher
	now   func() time.Time
}

func NewImporter(store SessionWriter, after ...Refresher) *Importer {
	return &Importer{store: store, after: after, now: time.Now}
}

// Import creates the session and its contacts in one transaction, then
// refreshes the registered views.
func (im *Importer) Import(ctx context.Context, userID, name string, list []models.Contact) (models.CallSession, error) {
	if len(list) == 0 {
		return models.CallSession{}, ErrNoContacts
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Call Session " + im.now().Format("01/02/2006 15:04:05")
	}
	session := models.CallSession{UserID: userID, Name: name}
	if err := im.store.CreateSessionWithContacts(ctx, &session, list); err != nil {
		return models.CallSession{}, fmt.Errorf("import %q: %w", name, err)
	}
	log.Printf("[Import] Session %q created with %d contacts", name, session.ContactCount)

	for _, ref := range im.after {
		if err := ref.Refresh(ctx); err != nil {
			log.Printf("[Import] Refresh failed: %v", err)
		}
	}
	return session, nil
}
