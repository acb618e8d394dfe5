package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"secure-dialer/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Store is the relational backend for contacts, call sessions, SMS templates,
// caller settings and profiles.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to postgres for postgres:// or key=value DSNs and to sqlite otherwise,
// then migrates the schema.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if isPostgres(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Printf("[Store] Connected (%s)", dialector.Name())
	return s, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&models.Profile{},
		&models.CallSession{},
		&models.Contact{},
		&models.CallSessionSMS{},
		&models.UserRingCentralSettings{},
	)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ── Contacts ─────────────────────────────────────────────────────────────────

// ListContacts returns every contact, oldest first.
func (s *Store) ListContacts(ctx context.Context) ([]models.Contact, error) {
	var out []models.Contact
	err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (s *Store) GetContact(ctx context.Context, id string) (models.Contact, error) {
	var c models.Contact
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	return c, notFound(err)
}

// UpdateContact writes the patch and returns the canonical row.
func (s *Store) UpdateContact(ctx context.Context, id string, patch models.ContactPatch) (models.Contact, error) {
	var out models.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contact{}).Where("id = ?", id).Updates(patch.Columns(s.now()))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.First(&out, "id = ?", id).Error
	})
	return out, notFound(err)
}

// CreateSessionWithContacts inserts the session and all of its contacts atomically.
// Contacts get the session id, the owner and status "not called".
func (s *Store) CreateSessionWithContacts(ctx context.Context, session *models.CallSession, contacts []models.Contact) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session.ContactCount = len(contacts)
		if err := tx.Create(session).Error; err != nil {
			return err
		}
		if len(contacts) == 0 {
			return nil
		}
		sessionID := session.ID
		for i := range contacts {
			contacts[i].UserID = session.UserID
			contacts[i].CallSessionID = &sessionID
			contacts[i].Status = models.StatusNotCalled
			contacts[i].CallInitiated = false
		}
		return tx.CreateInBatches(contacts, 200).Error
	})
}

// ── Call sessions ────────────────────────────────────────────────────────────

// ListCallSessions returns sessions newest first.
func (s *Store) ListCallSessions(ctx context.Context) ([]models.CallSession, error) {
	var out []models.CallSession
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (s *Store) GetCallSession(ctx context.Context, id string) (models.CallSession, error) {
	var cs models.CallSession
	err := s.db.WithContext(ctx).First(&cs, "id = ?", id).Error
	return cs, notFound(err)
}

// SessionSMS returns the SMS template of a session, or ErrNotFound.
func (s *Store) SessionSMS(ctx context.Context, sessionID string) (models.CallSessionSMS, error) {
	var sms models.CallSessionSMS
	err := s.db.WithContext(ctx).First(&sms, "call_session_id = ?", sessionID).Error
	return sms, notFound(err)
}

// UpsertSessionSMS creates the template for a session or replaces its content.
func (s *Store) UpsertSessionSMS(ctx context.Context, sessionID, content string) (models.CallSessionSMS, error) {
	now := s.now()
	row := models.CallSessionSMS{CallSessionID: sessionID, SMSContent: content, CreatedAt: now, UpdatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sms_content", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return models.CallSessionSMS{}, err
	}
	return s.SessionSMS(ctx, sessionID)
}

// ── Caller settings ──────────────────────────────────────────────────────────

// CallerNumber returns the caller ID configured for a user, or "" when none.
func (s *Store) CallerNumber(ctx context.Context, userID string) (string, error) {
	var st models.UserRingCentralSettings
	err := s.db.WithContext(ctx).First(&st, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return st.CallerNumber, nil
}

func (s *Store) UpsertCallerNumber(ctx context.Context, userID, number string) (models.UserRingCentralSettings, error) {
	now := s.now()
	row := models.UserRingCentralSettings{UserID: userID, CallerNumber: number, CreatedAt: now, UpdatedAt: now}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"caller_number", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return models.UserRingCentralSettings{}, err
	}
	var out models.UserRingCentralSettings
	err = s.db.WithContext(ctx).First(&out, "user_id = ?", userID).Error
	return out, err
}

// ── Profiles ─────────────────────────────────────────────────────────────────

func (s *Store) CreateProfile(ctx context.Context, p *models.Profile) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *Store) CountProfiles(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Profile{}).Count(&n).Error
	return n, err
}

func (s *Store) ProfileByEmail(ctx context.Context, email string) (models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).First(&p, "email = ?", strings.ToLower(email)).Error
	return p, notFound(err)
}

func (s *Store) ProfileByID(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	return p, notFound(err)
}

func (s *Store) SetPasswordHash(ctx context.Context, id, hash string) error {
	res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id).
		Updates(map[string]any{"password_hash": hash, "updated_at": s.now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
