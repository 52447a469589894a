package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// IdempotencyStore deduplicates HTTP mutations carrying an Idempotency-Key
// header: the gateway stores the first response under the key and replays it
// for any retry within ttl, instead of re-running the handler.
type IdempotencyStore interface {
	// Load returns the stored response body and status for key, if present.
	Load(ctx context.Context, key string) (status int, body []byte, found bool, err error)
	// Save records the response for key, expiring after ttl.
	Save(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error
	Close() error
}

type memoryIdempotencyRecord struct {
	status  int
	body    []byte
	expires time.Time
}

// memoryIdempotencyStore is the default, in-process IdempotencyStore; it does
// not survive a restart, unlike BadgerIdempotencyStore.
type memoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryIdempotencyRecord
}

// NewMemoryIdempotencyStore builds the in-memory IdempotencyStore used when
// no durable idempotency_store_path is configured.
func NewMemoryIdempotencyStore() IdempotencyStore {
	return &memoryIdempotencyStore{records: make(map[string]memoryIdempotencyRecord)}
}

func (s *memoryIdempotencyStore) Load(_ context.Context, key string) (int, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || time.Now().After(rec.expires) {
		delete(s.records, key)
		return 0, nil, false, nil
	}
	return rec.status, rec.body, true, nil
}

func (s *memoryIdempotencyStore) Save(_ context.Context, key string, status int, body []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = memoryIdempotencyRecord{status: status, body: append([]byte(nil), body...), expires: time.Now().Add(ttl)}
	return nil
}

func (s *memoryIdempotencyStore) Close() error { return nil }

// BadgerIdempotencyStore is the durable IdempotencyStore, backed by an
// embedded badger.DB so replayed requests survive a server restart; grounded
// on the teacher's "idem:<key>" TTL-entry convention for its badger-backed
// session store.
type BadgerIdempotencyStore struct {
	db *badger.DB
}

// OpenBadgerIdempotencyStore opens (creating if necessary) a badger store at
// path for idempotency-key records.
func OpenBadgerIdempotencyStore(path string) (*BadgerIdempotencyStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerIdempotencyStore{db: db}, nil
}

func (s *BadgerIdempotencyStore) Close() error { return s.db.Close() }

type idempotencyEnvelope struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

func (s *BadgerIdempotencyStore) Load(_ context.Context, key string) (int, []byte, bool, error) {
	var env idempotencyEnvelope
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idemKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if err == badger.ErrKeyNotFound {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return env.Status, env.Body, true, nil
}

func (s *BadgerIdempotencyStore) Save(_ context.Context, key string, status int, body []byte, ttl time.Duration) error {
	encoded, err := json.Marshal(idempotencyEnvelope{Status: status, Body: body})
	if err != nil {
		return err
	}
	entry := badger.NewEntry(idemKey(key), encoded).WithTTL(ttl)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

func idemKey(key string) []byte {
	return []byte("idem:" + key)
}
