package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContactStatus is the outcome of the last call or text attempt on a contact
type ContactStatus string

const (
	StatusNotCalled  ContactStatus = "not called"
	StatusCalled     ContactStatus = "called"
	StatusBusy       ContactStatus = "busy"
	StatusCallFailed ContactStatus = "call failed"
	StatusTextSent   ContactStatus = "text sent"
)

// Attending is the yes/no attendance answer recorded for a contact
type Attending string

const (
	AttendingYes Attending = "yes"
	AttendingNo  Attending = "no"
)

// Role of a signed-in account
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Contact is a person who may be called
type Contact struct {
	ID              string        `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID          string        `json:"user_id" gorm:"index;not null"`
	CallSessionID   *string       `json:"call_session_id,omitempty" gorm:"index"`
	FirstName       string        `json:"firstName" gorm:"not null"`
	LastName        string        `json:"lastName" gorm:"not null"`
	Phone           string        `json:"phone" gorm:"not null"`
	Email           string        `json:"email"`
	Comments        string        `json:"comments"`
	Attending       Attending     `json:"attending" gorm:"not null;default:'no'"`
	Status          ContactStatus `json:"status" gorm:"default:'not called'"`
	LastCalled      *time.Time    `json:"last_called,omitempty"`
	CallInitiated   bool          `json:"call_initiated" gorm:"not null;default:false"`
	StatusUpdatedAt *time.Time    `json:"status_updated_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Contact) TableName() string { return "contacts" }

// FullName joins first and last name the way the call screens display it
func (c Contact) FullName() string {
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// CallSession is a named batch of contacts uploaded together
type CallSession struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID       string    `json:"user_id" gorm:"index;not null"`
	Name         string    `json:"name" gorm:"not null"`
	ContactCount int       `json:"contact_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (CallSession) TableName() string { return "call_sessions" }

func (s *CallSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// CallSessionSMS holds the custom SMS body for a session. One row per session.
type CallSessionSMS struct {
	ID            string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CallSessionID string    `json:"call_session_id" gorm:"uniqueIndex;not null"`
	SMSContent    string    `json:"sms_content"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (CallSessionSMS) TableName() string { return "call_session_sms" }

func (s *CallSessionSMS) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// UserRingCentralSettings stores the caller ID a user dials out with
type UserRingCentralSettings struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID       string    `json:"user_id" gorm:"uniqueIndex;not null"`
	CallerNumber string    `json:"caller_number" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (UserRingCentralSettings) TableName() string { return "user_ringcentral_settings" }

func (s *UserRingCentralSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// Profile represents an account allowed to sign in
type Profile struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string    `json:"email" gorm:"uniqueIndex;not null"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         Role      `json:"role" gorm:"not null;default:'user'"`
	PasswordHash string    `json:"-" gorm:"not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// CallPhase is the progress state of one outbound call attempt
type CallPhase string

const (
	PhaseInitiating CallPhase = "initiating"
	PhaseConnecting CallPhase = "connecting"
	PhaseRinging    CallPhase = "ringing"
	PhaseConnected  CallPhase = "connected"
	PhaseAnswered   CallPhase = "answered"
	PhaseCompleted  CallPhase = "completed"
	PhaseFailed     CallPhase = "failed"
	PhaseBusy       CallPhase = "busy"
	PhaseNoAnswer   CallPhase = "no-answer"
)

// Terminal reports whether no further transition follows this phase
func (p CallPhase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseBusy, PhaseNoAnswer:
		return true
	}
	return false
}

// CallStatus is the transient, in-memory view of one call attempt.
// Simulated marks phases synthesized locally rather than reported by the provider.
type CallStatus struct {
	ID          string    `json:"id"`
	ContactID   string    `json:"contact_id,omitempty"`
	ContactName string    `json:"contactName"`
	Phone       string    `json:"phone"`
	Status      CallPhase `json:"status"`
	Progress    int       `json:"progress"`
	Timestamp   time.Time `json:"timestamp"`
	Step        string    `json:"step,omitempty"`
	Simulated   bool      `json:"simulated"`
}
