// Package cookiejar is a persistent cookie store keyed by browsing-context id.
//
// Cookies are stored in badger under (context, domain, path, name). A write
// replaces any earlier record for the same key; writing an identical record is
// a no-op and does not notify subscribers.
package cookiejar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/ai-in-one/pkg/models"
)

const keyPrefix = "cookie/"

// Jar is a badger-backed cookie store with per-context change subscriptions
type Jar struct {
	db     *badger.DB
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[string]map[uint64]func(models.CookieChange)
	nextID uint64
}

// Open opens (or creates) a persistent jar in dir
func Open(dir string, logger *zap.Logger) (*Jar, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	return open(opts, logger)
}

// OpenInMemory opens a jar that lives only for the process lifetime
func OpenInMemory(logger *zap.Logger) (*Jar, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)
	return open(opts, logger)
}

func open(opts badger.Options, logger *zap.Logger) (*Jar, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jar{
		db:     db,
		logger: logger,
		now:    time.Now,
		subs:   make(map[string]map[uint64]func(models.CookieChange)),
	}, nil
}

// Close closes the underlying database
func (j *Jar) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Cookies returns every unexpired cookie in a context, ordered by key
func (j *Jar) Cookies(ctx context.Context, contextID string) ([]models.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := j.now()
	prefix := contextPrefix(contextID)
	var cookies []models.Cookie

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c models.Cookie
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return fmt.Errorf("failed to decode cookie %q: %w", it.Item().Key(), err)
			}
			if c.Expired(now) {
				continue
			}
			cookies = append(cookies, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(cookies, func(a, b int) bool {
		return bytes.Compare(cookieKey(contextID, cookies[a]), cookieKey(contextID, cookies[b])) < 0
	})
	return cookies, nil
}

// SetCookie writes a cookie, replacing any record with the same key
func (j *Jar) SetCookie(ctx context.Context, contextID string, c models.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Name == "" || c.Domain == "" {
		return fmt.Errorf("cookie needs a name and domain")
	}
	if c.Path == "" {
		c.Path = "/"
	}
	c.WrittenAt = j.now()

	key := cookieKey(contextID, c)
	changed := false

	err := j.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == nil {
			var existing models.Cookie
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			}); err == nil && sameCookie(existing, c) {
				return nil
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to encode cookie: %w", err)
		}
		changed = true
		return txn.Set(key, data)
	})
	if err != nil {
		return err
	}

	if changed {
		j.notify(models.CookieChange{ContextID: contextID, Cookie: c})
	}
	return nil
}

// RemoveCookie deletes a cookie by key
func (j *Jar) RemoveCookie(ctx context.Context, contextID string, c models.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := cookieKey(contextID, c)
	removed := false

	err := j.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		removed = true
		return txn.Delete(key)
	})
	if err != nil {
		return err
	}

	if removed {
		j.notify(models.CookieChange{ContextID: contextID, Cookie: c, Removed: true})
	}
	return nil
}

// Subscribe registers fn for every change in a context and returns a cancel func
func (j *Jar) Subscribe(contextID string, fn func(models.CookieChange)) func() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.nextID++
	id := j.nextID
	if j.subs[contextID] == nil {
		j.subs[contextID] = make(map[uint64]func(models.CookieChange))
	}
	j.subs[contextID][id] = fn

	return func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		delete(j.subs[contextID], id)
	}
}

// notify delivers a change synchronously, outside of any jar lock
func (j *Jar) notify(change models.CookieChange) {
	j.mu.RLock()
	handlers := make([]func(models.CookieChange), 0, len(j.subs[change.ContextID]))
	for _, fn := range j.subs[change.ContextID] {
		handlers = append(handlers, fn)
	}
	j.mu.RUnlock()

	for _, fn := range handlers {
		fn(change)
	}
}

func contextPrefix(contextID string) []byte {
	return []byte(keyPrefix + contextID + "\x00")
}

func cookieKey(contextID string, c models.Cookie) []byte {
	k := c.Key()
	return []byte(keyPrefix + contextID + "\x00" + k.Domain + "\x00" + k.Path + "\x00" + k.Name)
}

// sameCookie compares everything except the write timestamp
func sameCookie(a, b models.Cookie) bool {
	return a.Key() == b.Key() &&
		a.Value == b.Value &&
		a.Secure == b.Secure &&
		a.HTTPOnly == b.HTTPOnly &&
		a.Expires.Equal(b.Expires)
}
