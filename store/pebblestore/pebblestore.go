// Package pebblestore keeps subscribers and signals in a pebble LSM.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/go-faster/errors"

	"github.com/moneyscripter/copytrade/models"
	"github.com/moneyscripter/copytrade/store"
)

// Key layout, all parts separated by a zero byte:
//
//	sub <subscriberID>                    -> subscriberRecord
//	sig <subscriberID> i <signalID>       -> signalRecord
//	sig <subscriberID> t <nanos><signalID> -> signalID
const sep = 0x00

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

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFS swaps the filesystem, tests use vfs.NewMem().
func WithFS(fs vfs.FS) Option {
	return func(s *Store) { s.fs = fs }
}

type Store struct {
	db  *pebble.DB
	fs  vfs.FS
	now func() time.Time

	// pebble has no transactions; read-modify-write paths hold mu.
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	db, err := pebble.Open(dir, &pebble.Options{FS: s.fs})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble %s", dir)
	}
	s.db = db
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func subscriberKey(id string) []byte {
	return key("sub", id)
}

func signalPrefix(subscriberID string) []byte {
	return append(key("sig", subscriberID), sep)
}

func signalIDKey(subscriberID, signalID string) []byte {
	return append(append(signalPrefix(subscriberID), 'i', sep), signalID...)
}

func signalTimePrefix(subscriberID string) []byte {
	return append(signalPrefix(subscriberID), 't', sep)
}

func signalTimeKey(subscriberID string, t time.Time, signalID string) []byte {
	k := signalTimePrefix(subscriberID)
	k = binary.BigEndian.AppendUint64(k, uint64(t.UnixNano()))
	return append(k, signalID...)
}

func key(parts ...string) []byte {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(sep)
		}
		b.WriteString(p)
	}
	return b.Bytes()
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) getJSON(k []byte, v any) (bool, error) {
	raw, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	return true, json.Unmarshal(raw, v)
}

func setJSON(b *pebble.Batch, k []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(k, raw, nil)
}

func (s *Store) Upsert(_ context.Context, subscriberID string, risk float64, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := subscriberRecord{CreatedAt: now}
	if _, err := s.getJSON(subscriberKey(subscriberID), &rec); err != nil {
		return models.StoreError(err, "pebble get subscriber")
	}
	rec.Risk, rec.Scope, rec.UpdatedAt = risk, scope, now

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, subscriberKey(subscriberID), rec); err != nil {
		return models.StoreError(err, "pebble upsert subscriber")
	}
	return models.StoreError(b.Commit(pebble.Sync), "pebble upsert subscriber")
}

func (s *Store) Delete(_ context.Context, subscriberID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec subscriberRecord
	existed, err := s.getJSON(subscriberKey(subscriberID), &rec)
	if err != nil {
		return false, models.StoreError(err, "pebble get subscriber")
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(subscriberKey(subscriberID), nil); err != nil {
		return false, models.StoreError(err, "pebble delete subscriber")
	}
	prefix := signalPrefix(subscriberID)
	if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return false, models.StoreError(err, "pebble delete signals")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, models.StoreError(err, "pebble delete subscriber")
	}
	return existed, nil
}

func (s *Store) SetRisk(_ context.Context, subscriberID string, risk float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec subscriberRecord
	found, err := s.getJSON(subscriberKey(subscriberID), &rec)
	if err != nil {
		return models.StoreError(err, "pebble get subscriber")
	}
	if !found {
		return errors.Wrapf(models.ErrNotSubscribed, "set risk for %s", subscriberID)
	}
	rec.Risk, rec.UpdatedAt = risk, s.now()

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, subscriberKey(subscriberID), rec); err != nil {
		return models.StoreError(err, "pebble set risk")
	}
	return models.StoreError(b.Commit(pebble.Sync), "pebble set risk")
}

func (s *Store) Get(_ context.Context, subscriberID string) (models.Subscriber, error) {
	var rec subscriberRecord
	found, err := s.getJSON(subscriberKey(subscriberID), &rec)
	if err != nil {
		return models.Subscriber{}, models.StoreError(err, "pebble get subscriber")
	}
	if !found {
		return models.Subscriber{}, errors.Wrapf(models.ErrNotFound, "subscriber %s", subscriberID)
	}
	return models.Subscriber{
		ID:            subscriberID,
		Risk:          rec.Risk,
		ReferralScope: rec.Scope,
		SubscribedAt:  rec.CreatedAt,
	}, nil
}

func (s *Store) ListByScope(_ context.Context, scope string) ([]models.Member, error) {
	prefix := append(key("sub"), sep)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, models.StoreError(err, "pebble list subscribers")
	}
	defer iter.Close()

	var members []models.Member
	for iter.First(); iter.Valid(); iter.Next() {
		var rec subscriberRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, models.StoreError(err, "pebble decode subscriber")
		}
		if rec.Scope != scope {
			continue
		}
		members = append(members, models.Member{
			SubscriberID: string(iter.Key()[len(prefix):]),
			Risk:         rec.Risk,
		})
	}
	return members, models.StoreError(iter.Error(), "pebble list subscribers")
}

func (s *Store) InsertIfAbsent(_ context.Context, signalID, subscriberID string, payload models.Payload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idKey := signalIDKey(subscriberID, signalID)
	_, closer, err := s.db.Get(idKey)
	if err == nil {
		closer.Close()
		return false, nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return false, models.StoreError(err, "pebble get signal")
	}

	now := s.now()
	payload.CreatedAt = now
	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, idKey, signalRecord{Payload: payload, CreatedAt: now}); err != nil {
		return false, models.StoreError(err, "pebble insert signal")
	}
	if err := b.Set(signalTimeKey(subscriberID, now, signalID), []byte(signalID), nil); err != nil {
		return false, models.StoreError(err, "pebble insert signal")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, models.StoreError(err, "pebble insert signal")
	}
	return true, nil
}

func (s *Store) ListRecent(_ context.Context, subscriberID string, limit int) ([]models.StoredSignal, error) {
	limit = store.ClampLimit(limit)
	prefix := signalTimePrefix(subscriberID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, models.StoreError(err, "pebble list signals")
	}
	defer iter.Close()

	var rows []models.StoredSignal
	for iter.Last(); iter.Valid() && len(rows) < limit; iter.Prev() {
		signalID := string(iter.Value())
		var rec signalRecord
		found, err := s.getJSON(signalIDKey(subscriberID, signalID), &rec)
		if err != nil {
			return nil, models.StoreError(err, "pebble get signal")
		}
		if !found {
			continue
		}
		rows = append(rows, models.StoredSignal{
			SignalID:     signalID,
			SubscriberID: subscriberID,
			Payload:      rec.Payload,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return rows, models.StoreError(iter.Error(), "pebble list signals")
}

func (s *Store) DeleteOne(_ context.Context, signalID, subscriberID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idKey := signalIDKey(subscriberID, signalID)
	var rec signalRecord
	found, err := s.getJSON(idKey, &rec)
	if err != nil {
		return false, models.StoreError(err, "pebble get signal")
	}
	if !found {
		return false, nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(idKey, nil); err != nil {
		return false, models.StoreError(err, "pebble delete signal")
	}
	if err := b.Delete(signalTimeKey(subscriberID, rec.CreatedAt, signalID), nil); err != nil {
		return false, models.StoreError(err, "pebble delete signal")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, models.StoreError(err, "pebble delete signal")
	}
	return true, nil
}

func (s *Store) DeleteAllForSubscriber(ctx context.Context, subscriberID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.CountForSubscriber(ctx, subscriberID)
	if err != nil || n == 0 {
		return 0, err
	}
	prefix := signalPrefix(subscriberID)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return 0, models.StoreError(err, "pebble delete signals")
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, models.StoreError(err, "pebble delete signals")
	}
	return n, nil
}

func (s *Store) CountForSubscriber(_ context.Context, subscriberID string) (int, error) {
	prefix := append(signalPrefix(subscriberID), 'i', sep)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return 0, models.StoreError(err, "pebble count signals")
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, models.StoreError(iter.Error(), "pebble count signals")
}
