// Package memory provides an in-process implementation of database.Store.
// It backs tests and the demo terminal, and supports error injection.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-terminal/internal/database"
)

// Store is an in-memory document store with broadcast subscriptions.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]database.Document
	subs        map[string]map[*subscriber]struct{}
	closed      bool
	now         func() time.Time

	// Error injection
	GetError    error
	ListError   error
	PutError    error
	MergeError  error
	DeleteError error
}

type subscriber struct {
	ch chan database.Snapshot
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]database.Document),
		subs:        make(map[string]map[*subscriber]struct{}),
		now:         time.Now,
	}
}

var errClosed = errors.New("store is closed")

// Get returns a copy of a document or database.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, key string) (*database.Document, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][key]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := copyDoc(doc)
	return &c, nil
}

// List returns all documents of a collection sorted by key.
func (s *Store) List(ctx context.Context, collection string) ([]database.Document, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(collection), nil
}

func (s *Store) listLocked(collection string) []database.Document {
	docs := make([]database.Document, 0, len(s.collections[collection]))
	for _, d := range s.collections[collection] {
		docs = append(docs, copyDoc(d))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs
}

// Put replaces a whole document.
func (s *Store) Put(ctx context.Context, collection, key string, data map[string]any) error {
	if s.PutError != nil {
		return s.PutError
	}
	if err := database.ValidateKey(key); err != nil {
		return err
	}
	normalized, err := database.NormalizeData(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.writeLocked(collection, key, normalized)
	return nil
}

// Merge applies p to a document atomically. A delete-only patch on a missing
// document does not create it.
func (s *Store) Merge(ctx context.Context, collection, key string, p database.Patch) error {
	if s.MergeError != nil {
		return s.MergeError
	}
	if err := database.ValidateKey(key); err != nil {
		return err
	}
	if p.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	existing, ok := s.collections[collection][key]
	if !ok && p.OnlyDeletes() {
		return nil
	}
	data, err := database.ApplyPatch(existing.Data, p)
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", collection, key, err)
	}
	s.writeLocked(collection, key, data)
	return nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.collections[collection][key]; !ok {
		return nil
	}
	delete(s.collections[collection], key)
	s.broadcastLocked(collection)
	return nil
}

func (s *Store) writeLocked(collection, key string, data map[string]any) {
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]database.Document)
	}
	s.collections[collection][key] = database.Document{Key: key, Data: data, UpdatedAt: s.now()}
	s.broadcastLocked(collection)
}

// Subscribe delivers the current snapshot and then one snapshot per change.
// Slow subscribers skip intermediate snapshots but always get the latest.
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan database.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}

	sub := &subscriber{ch: make(chan database.Snapshot, database.SubscriptionBuffer)}
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[*subscriber]struct{})
	}
	s.subs[collection][sub] = struct{}{}
	sub.ch <- s.snapshotLocked(collection)

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[collection][sub]; ok {
			delete(s.subs[collection], sub)
			close(sub.ch)
		}
	}()

	return sub.ch, nil
}

func (s *Store) snapshotLocked(collection string) database.Snapshot {
	return database.Snapshot{Collection: collection, Documents: s.listLocked(collection), TakenAt: s.now()}
}

func (s *Store) broadcastLocked(collection string) {
	if len(s.subs[collection]) == 0 {
		return
	}
	snap := s.snapshotLocked(collection)
	for sub := range s.subs[collection] {
		select {
		case <-sub.ch: // drop the stale snapshot
		default:
		}
		select {
		case sub.ch <- snap:
		default:
		}
	}
}

// Close closes all subscriptions. Further writes fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, subs := range s.subs {
		for sub := range subs {
			close(sub.ch)
		}
	}
	s.subs = make(map[string]map[*subscriber]struct{})
	return nil
}

func copyDoc(d database.Document) database.Document {
	return database.Document{Key: d.Key, Data: database.CloneData(d.Data), UpdatedAt: d.UpdatedAt}
}

var _ database.Store = (*Store)(nil)
