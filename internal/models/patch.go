package models

import "time"

// ContactPatch is a partial contact update. Nil fields are left untouched.
type ContactPatch struct {
	FirstName     *string        `json:"firstName,omitempty"`
	LastName      *string        `json:"lastName,omitempty"`
	Phone         *string        `json:"phone,omitempty"`
	Email         *string        `json:"email,omitempty"`
	Comments      *string        `json:"comments,omitempty"`
	Attending     *Attending     `json:"attending,omitempty"`
	Status        *ContactStatus `json:"status,omitempty"`
	CallInitiated *bool          `json:"call_initiated,omitempty"`
	LastCalled    *time.Time     `json:"last_called,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p ContactPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Phone == nil && p.Email == nil &&
		p.Comments == nil && p.Attending == nil && p.Status == nil &&
		p.CallInitiated == nil && p.LastCalled == nil
}

// Apply writes the set fields onto c
func (p ContactPatch) Apply(c *Contact) {
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		c.LastName = *p.LastName
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Comments != nil {
		c.Comments = *p.Comments
	}
	if p.Attending != nil {
		c.Attending = *p.Attending
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.CallInitiated != nil {
		c.CallInitiated = *p.CallInitiated
	}
	if p.LastCalled != nil {
		t := *p.LastCalled
		c.LastCalled = &t
	}
}

// Columns maps the patch to database columns. A status change also stamps status_updated_at.
func (p ContactPatch) Columns(now time.Time) map[string]any {
	cols := map[string]any{"updated_at": now}
	if p.FirstName != nil {
		cols["first_name"] = *p.FirstName
	}
	if p.LastName != nil {
		cols["last_name"] = *p.LastName
	}
	if p.Phone != nil {
		cols["phone"] = *p.Phone
	}
	if p.Email != nil {
		cols["email"] = *p.Email
	}
	if p.Comments != nil {
		cols["comments"] = *p.Comments
	}
	if p.Attending != nil {
		cols["attending"] = string(*p.Attending)
	}
	if p.Status != nil {
		cols["status"] = string(*p.Status)
		cols["status_updated_at"] = now
	}
	if p.CallInitiated != nil {
		cols["call_initiated"] = *p.CallInitiated
	}
	if p.LastCalled != nil {
		cols["last_called"] = *p.LastCalled
	}
	return cols
}

// Valid reports whether a is one of the two accepted answers
func (a Attending) Valid() bool { return a == AttendingYes || a == AttendingNo }
