package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore keeps sessions in the sessions table. Expired rows stay until the sweeper runs.
type PostgresStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewPostgresStore creates a gorm-backed store. Every call is bounded by timeout.
func NewPostgresStore(db *gorm.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (p *PostgresStore) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return p.db.WithContext(ctx), cancel
}

func (p *PostgresStore) Put(ctx context.Context, s *Session) error {
	db, cancel := p.conn(ctx)
	defer cancel()

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}, {Name: "device_id"}},
		UpdateAll: true,
	}).Create(s).Error
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (p *PostgresStore) first(ctx context.Context, query string, args ...any) (*Session, error) {
	db, cancel := p.conn(ctx)
	defer cancel()

	var s Session
	err := db.Where(query, args...).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &s, nil
}

func (p *PostgresStore) Get(ctx context.Context, key Key) (*Session, error) {
	return p.first(ctx, "username = ? AND device_id = ?", key.Username, key.DeviceID)
}

func (p *PostgresStore) FindByToken(ctx context.Context, refreshToken string) (*Session, error) {
	return p.first(ctx, "refresh_token = ?", refreshToken)
}

func (p *PostgresStore) FindByUsername(ctx context.Context, username string) ([]Session, error) {
	db, cancel := p.conn(ctx)
	defer cancel()

	var sessions []Session
	if err := db.Where("username = ?", username).Find(&sessions).Error; err != nil {
		return nil, unavailable(err)
	}
	return sessions, nil
}

func (p *PostgresStore) Delete(ctx context.Context, key Key) (bool, error) {
	db, cancel := p.conn(ctx)
	defer cancel()

	res := db.Where("username = ? AND device_id = ?", key.Username, key.DeviceID).Delete(&Session{})
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, key Key, ts time.Time) (bool, error) {
	db, cancel := p.conn(ctx)
	defer cancel()

	res := db.Where("username = ? AND device_id = ? AND expires_at < ?", key.Username, key.DeviceID, ts).Delete(&Session{})
	if res.Error != nil {
		return false, unavailable(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (p *PostgresStore) DeleteAll(ctx context.Context, username string) (int, error) {
	db, cancel := p.conn(ctx)
	defer cancel()

	res := db.Where("username = ?", username).Delete(&Session{})
	if res.Error != nil {
		return 0, unavailable(res.Error)
	}
	return int(res.RowsAffected), nil
}

func (p *PostgresStore) FindExpiredBefore(ctx context.Context, ts time.Time) ([]Session, error) {
	db, cancel := p.conn(ctx)
	defer cancel()

	var sessions []Session
	if err := db.Where("expires_at < ?", ts).Find(&sessions).Error; err != nil {
		return nil, unavailable(err)
	}
	return sessions, nil
}
