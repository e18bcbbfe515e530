// Package boltstore is the embedded single-node store backed by bbolt.
//
// Layout:
//
//	subscribers/<subscriberID>            -> subscriberRecord (JSON)
//	signals/<subscriberID>/id/<signalID>  -> signalRecord (JSON)
//	signals/<subscriberID>/ts/<nanos><id> -> signalID
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/store"
)

var (
	bucketSubscribers = []byte("subscribers")
	bucketSignals     = []byte("signals")
	bucketByID        = []byte("id")
	bucketByTime      = []byte("ts")
)

type subscriberRecord struct {
	Risk      float64   `json:"risk"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type signalRecord struct {
	Payload   models.Payload `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Option func(*Store)

// WithClock overrides the time source used for created_at columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	db  *bolt.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database file at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt %s", path)
	}
	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the top level buckets.
func (s *Store) Migrate() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSubscribers, bucketSignals} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	return models.StoreError(err, "bolt migrate")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Upsert(_ context.Context, subscriberID string, risk float64, scope string) error {
	now := s.now()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscribers)
		rec := subscriberRecord{CreatedAt: now}
		if raw := b.Get([]byte(subscriberID)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
		}
		rec.Risk = risk
		rec.Scope = scope
		rec.UpdatedAt = now
		return putJSON(b, []byte(subscriberID), rec)
	})
	return models.StoreError(err, "bolt upsert subscriber")
}

func (s *Store) Delete(_ context.Context, subscriberID string) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		subs := tx.Bucket(bucketSubscribers)
		key := []byte(subscriberID)
		existed = subs.Get(key) != nil
		if err := subs.Delete(key); err != nil {
			return err
		}
		signals := tx.Bucket(bucketSignals)
		if signals.Bucket(key) == nil {
			return nil
		}
		return signals.DeleteBucket(key)
	})
	if err != nil {
		return false, models.StoreError(err, "bolt delete subscriber")
	}
	return existed, nil
}

func (s *Store) SetRisk(_ context.Context, subscriberID string, risk float64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscribers)
		raw := b.Get([]byte(subscriberID))
		if raw == nil {
			return models.ErrNotSubscribed
		}
		var rec subscriberRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		rec.Risk = risk
		rec.UpdatedAt = s.now()
		return putJSON(b, []byte(subscriberID), rec)
	})
	if errors.Is(err, models.ErrNotSubscribed) {
		return errors.Wrapf(err, "set risk for %s", subscriberID)
	}
	return models.StoreError(err, "bolt set risk")
}

func (s *Store) Get(_ context.Context, subscriberID string) (models.Subscriber, error) {
	var rec subscriberRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSubscribers).Get([]byte(subscriberID))
		if raw == nil {
			return models.ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if errors.Is(err, models.ErrNotFound) {
		return models.Subscriber{}, errors.Wrapf(err, "subscriber %s", subscriberID)
	}
	if err != nil {
		return models.Subscriber{}, models.StoreError(err, "bolt get subscriber")
	}
	return models.Subscriber{
		ID:            subscriberID,
		Risk:          rec.Risk,
		ReferralScope: rec.Scope,
		SubscribedAt:  rec.CreatedAt,
	}, nil
}

func (s *Store) ListByScope(_ context.Context, scope string) ([]models.Member, error) {
	var members []models.Member
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSubscribers).ForEach(func(k, v []byte) error {
			var rec subscriberRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Scope == scope {
				members = append(members, models.Member{SubscriberID: string(k), Risk: rec.Risk})
			}
			return nil
		})
	})
	if err != nil {
		return nil, models.StoreError(err, "bolt list subscribers")
	}
	return members, nil
}

func (s *Store) InsertIfAbsent(_ context.Context, signalID, subscriberID string, payload models.Payload) (bool, error) {
	var created bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		byID, byTime, err := subscriberBuckets(tx, subscriberID)
		if err != nil {
			return err
		}
		if byID.Get([]byte(signalID)) != nil {
			return nil
		}
		now := s.now()
		payload.CreatedAt = now
		if err := putJSON(byID, []byte(signalID), signalRecord{Payload: payload, CreatedAt: now}); err != nil {
			return err
		}
		created = true
		return byTime.Put(timeKey(now, signalID), []byte(signalID))
	})
	if err != nil {
		return false, models.StoreError(err, "bolt insert signal")
	}
	return created, nil
}

func (s *Store) ListRecent(_ context.Context, subscriberID string, limit int) ([]models.StoredSignal, error) {
	limit = store.ClampLimit(limit)
	var rows []models.StoredSignal
	err := s.db.View(func(tx *bolt.Tx) error {
		sub := tx.Bucket(bucketSignals).Bucket([]byte(subscriberID))
		if sub == nil {
			return nil
		}
		byID, byTime := sub.Bucket(bucketByID), sub.Bucket(bucketByTime)
		c := byTime.Cursor()
		for k, v := c.Last(); k != nil && len(rows) < limit; k, v = c.Prev() {
			var rec signalRecord
			if err := json.Unmarshal(byID.Get(v), &rec); err != nil {
				return err
			}
			rows = append(rows, models.StoredSignal{
				SignalID:     string(v),
				SubscriberID: subscriberID,
				Payload:      rec.Payload,
				CreatedAt:    rec.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, models.StoreError(err, "bolt list signals")
	}
	return rows, nil
}

func (s *Store) DeleteOne(_ context.Context, signalID, subscriberID string) (bool, error) {
	var removed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		sub := tx.Bucket(bucketSignals).Bucket([]byte(subscriberID))
		if sub == nil {
			return nil
		}
		byID, byTime := sub.Bucket(bucketByID), sub.Bucket(bucketByTime)
		raw := byID.Get([]byte(signalID))
		if raw == nil {
			return nil
		}
		var rec signalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if err := byTime.Delete(timeKey(rec.CreatedAt, signalID)); err != nil {
			return err
		}
		removed = true
		return byID.Delete([]byte(signalID))
	})
	if err != nil {
		return false, models.StoreError(err, "bolt delete signal")
	}
	return removed, nil
}

func (s *Store) DeleteAllForSubscriber(_ context.Context, subscriberID string) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		signals := tx.Bucket(bucketSignals)
		sub := signals.Bucket([]byte(subscriberID))
		if sub == nil {
			return nil
		}
		n = sub.Bucket(bucketByID).Stats().KeyN
		return signals.DeleteBucket([]byte(subscriberID))
	})
	if err != nil {
		return 0, models.StoreError(err, "bolt delete signals")
	}
	return n, nil
}

func (s *Store) CountForSubscriber(_ context.Context, subscriberID string) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		sub := tx.Bucket(bucketSignals).Bucket([]byte(subscriberID))
		if sub == nil {
			return nil
		}
		n = sub.Bucket(bucketByID).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, models.StoreError(err, "bolt count signals")
	}
	return n, nil
}

func subscriberBuckets(tx *bolt.Tx, subscriberID string) (byID, byTime *bolt.Bucket, err error) {
	sub, err := tx.Bucket(bucketSignals).CreateBucketIfNotExists([]byte(subscriberID))
	if err != nil {
		return nil, nil, err
	}
	if byID, err = sub.CreateBucketIfNotExists(bucketByID); err != nil {
		return nil, nil, err
	}
	if byTime, err = sub.CreateBucketIfNotExists(bucketByTime); err != nil {
		return nil, nil, err
	}
	return byID, byTime, nil
}

// timeKey orders rows by creation time, ties broken by signal id.
func timeKey(t time.Time, signalID string) []byte {
	key := make([]byte, 8, 8+len(signalID))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, signalID...)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, raw)
}
