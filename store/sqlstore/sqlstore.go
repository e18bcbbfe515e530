// Package sqlstore is the relational store backend. PostgreSQL is the primary
// target, MySQL is supported through the same gorm models.
package sqlstore

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/store"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type subscriber struct {
	SubscriberID  string    `gorm:"primaryKey;size:64"`
	Risk          float64   `gorm:"not null"`
	ReferralScope string    `gorm:"size:64;index;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (subscriber) TableName() string { return "subscribers" }

type signal struct {
	SignalID     string         `gorm:"primaryKey;size:64"`
	SubscriberID string         `gorm:"primaryKey;size:64;index:idx_signals_subscriber_created,priority:1"`
	Payload      models.Payload `gorm:"serializer:json;type:text;not null"`
	CreatedAt    time.Time      `gorm:"autoCreateTime:false;index:idx_signals_subscriber_created,priority:2"`
}

func (signal) TableName() string { return "signals" }

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger routes gorm's SQL logging through log.
func WithLogger(log *zap.Logger) Option {
	return func(s *Store) { s.log = log }
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects with the named driver and migrates the schema.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		now: func() time.Time { return time.Now().UTC() },
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Errorf("unknown sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(zapWriter{s.log.Sugar()}, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	s.db = db
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate() error {
	return models.StoreError(s.db.AutoMigrate(&subscriber{}, &signal{}), "sql migrate")
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Upsert(ctx context.Context, subscriberID string, risk float64, scope string) error {
	now := s.now()
	row := subscriber{
		SubscriberID:  subscriberID,
		Risk:          risk,
		ReferralScope: scope,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscriber_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"risk", "referral_scope", "updated_at"}),
	}).Create(&row).Error
	return models.StoreError(err, "sql upsert subscriber")
}

func (s *Store) Delete(ctx context.Context, subscriberID string) (bool, error) {
	var existed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscriber_id = ?", subscriberID).Delete(&signal{}).Error; err != nil {
			return err
		}
		res := tx.Where("subscriber_id = ?", subscriberID).Delete(&subscriber{})
		existed = res.RowsAffected > 0
		return res.Error
	})
	if err != nil {
		return false, models.StoreError(err, "sql delete subscriber")
	}
	return existed, nil
}

func (s *Store) SetRisk(ctx context.Context, subscriberID string, risk float64) error {
	res := s.db.WithContext(ctx).Model(&subscriber{}).
		Where("subscriber_id = ?", subscriberID).
		Updates(map[string]any{"risk": risk, "updated_at": s.now()})
	if res.Error != nil {
		return models.StoreError(res.Error, "sql set risk")
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when nothing changed.
	var n int64
	if err := s.db.WithContext(ctx).Model(&subscriber{}).Where("subscriber_id = ?", subscriberID).Count(&n).Error; err != nil {
		return models.StoreError(err, "sql set risk")
	}
	if n == 0 {
		return errors.Wrapf(models.ErrNotSubscribed, "set risk for %s", subscriberID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, subscriberID string) (models.Subscriber, error) {
	var row subscriber
	err := s.db.WithContext(ctx).Where("subscriber_id = ?", subscriberID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Subscriber{}, errors.Wrapf(models.ErrNotFound, "subscriber %s", subscriberID)
	}
	if err != nil {
		return models.Subscriber{}, models.StoreError(err, "sql get subscriber")
	}
	return models.Subscriber{
		ID:            row.SubscriberID,
		Risk:          row.Risk,
		ReferralScope: row.ReferralScope,
		SubscribedAt:  row.CreatedAt,
	}, nil
}

func (s *Store) ListByScope(ctx context.Context, scope string) ([]models.Member, error) {
	var rows []subscriber
	err := s.db.WithContext(ctx).Where("referral_scope = ?", scope).Find(&rows).Error
	if err != nil {
		return nil, models.StoreError(err, "sql list subscribers")
	}
	members := make([]models.Member, 0, len(rows))
	for _, r := range rows {
		members = append(members, models.Member{SubscriberID: r.SubscriberID, Risk: r.Risk})
	}
	return members, nil
}

func (s *Store) InsertIfAbsent(ctx context.Context, signalID, subscriberID string, payload models.Payload) (bool, error) {
	now := s.now()
	payload.CreatedAt = now
	row := signal{
		SignalID:     signalID,
		SubscriberID: subscriberID,
		Payload:      payload,
		CreatedAt:    now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, models.StoreError(res.Error, "sql insert signal")
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ListRecent(ctx context.Context, subscriberID string, limit int) ([]models.StoredSignal, error) {
	var rows []signal
	err := s.db.WithContext(ctx).
		Where("subscriber_id = ?", subscriberID).
		Order("created_at DESC").Order("signal_id DESC").
		Limit(store.ClampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, models.StoreError(err, "sql list signals")
	}
	out := make([]models.StoredSignal, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.StoredSignal{
			SignalID:     r.SignalID,
			SubscriberID: r.SubscriberID,
			Payload:      r.Payload,
			CreatedAt:    r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) DeleteOne(ctx context.Context, signalID, subscriberID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("signal_id = ? AND subscriber_id = ?", signalID, subscriberID).
		Delete(&signal{})
	if res.Error != nil {
		return false, models.StoreError(res.Error, "sql delete signal")
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) DeleteAllForSubscriber(ctx context.Context, subscriberID string) (int, error) {
	res := s.db.WithContext(ctx).Where("subscriber_id = ?", subscriberID).Delete(&signal{})
	if res.Error != nil {
		return 0, models.StoreError(res.Error, "sql delete signals")
	}
	return int(res.RowsAffected), nil
}

func (s *Store) CountForSubscriber(ctx context.Context, subscriberID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&signal{}).Where("subscriber_id = ?", subscriberID).Count(&n).Error
	if err != nil {
		return 0, models.StoreError(err, "sql count signals")
	}
	return int(n), nil
}

// zapWriter adapts a sugared logger to gorm's Printf writer.
type zapWriter struct {
	log *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...any) {
	w.log.Infof(format, args...)
}
