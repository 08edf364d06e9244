package roster

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
)

// Snapshot is an immutable view of one category's identities.
type Snapshot struct {
	Category   Category
	Identities []Identity
	LoadedAt   time.Time
	byID       map[string]int
}

// NewSnapshot indexes identities.
func NewSnapshot(c Category, identities []Identity) *Snapshot {
	s := &Snapshot{Category: c, Identities: identities, LoadedAt: time.Now(), byID: make(map[string]int, len(identities))}
	for i, id := range identities {
		s.byID[id.ID] = i
	}
	return s
}

// Find returns the identity with the given id.
func (s *Snapshot) Find(id string) (Identity, bool) {
	if s == nil {
		return Identity{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return Identity{}, false
	}
	return s.Identities[i], true
}

// FindByName returns identities whose normalized name contains query.
func (s *Snapshot) FindByName(query string) []Identity {
	if s == nil {
		return nil
	}
	q := facematch.NormalizePersonName(strings.TrimSpace(query))
	var out []Identity
	for _, id := range s.Identities {
		if strings.Contains(facematch.NormalizePersonName(id.DisplayName), q) {
			out = append(out, id)
		}
	}
	return out
}

// Enrolled returns the (id, descriptor) pairs used for matching. Identities
// without a descriptor are excluded.
func (s *Snapshot) Enrolled() []facematch.Enrolled {
	if s == nil {
		return nil
	}
	out := make([]facematch.Enrolled, 0, len(s.Identities))
	for _, id := range s.Identities {
		if id.HasDescriptor() {
			out = append(out, facematch.Enrolled{ID: id.ID, Descriptor: id.Descriptor})
		}
	}
	return out
}

// Len returns the number of identities.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Identities)
}

// Decode turns a collection snapshot into identities. Undecodable documents
// are returned as errors and skipped.
func Decode(c Category, docs []database.Document) ([]Identity, []error) {
	out := make([]Identity, 0, len(docs))
	var errs []error
	for _, d := range docs {
		id, err := IdentityFromDocument(c, d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, id)
	}
	return out, errs
}

// Cache keeps the last known snapshot of each category. Readers never block
// on a refresh.
type Cache struct {
	snaps  map[Category]*atomic.Pointer[Snapshot]
	logger *zap.Logger

	// OnChange is called after a category snapshot is replaced.
	OnChange func(*Snapshot)
}

// NewCache creates an empty cache for all categories.
func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{snaps: make(map[Category]*atomic.Pointer[Snapshot]), logger: logger}
	for _, cat := range Categories() {
		c.snaps[cat] = &atomic.Pointer[Snapshot]{}
	}
	return c
}

// Snapshot returns the last snapshot of a category, or an empty one.
func (c *Cache) Snapshot(cat Category) *Snapshot {
	p, ok := c.snaps[cat]
	if !ok {
		return NewSnapshot(cat, nil)
	}
	if s := p.Load(); s != nil {
		return s
	}
	return NewSnapshot(cat, nil)
}

// Replace installs a snapshot built from a collection listing.
func (c *Cache) Replace(cat Category, docs []database.Document) *Snapshot {
	identities, errs := Decode(cat, docs)
	for _, err := range errs {
		c.logger.Warn("skipping identity", zap.String("category", string(cat)), zap.Error(err))
	}
	s := NewSnapshot(cat, identities)
	c.snaps[cat].Store(s)
	if c.OnChange != nil {
		c.OnChange(s)
	}
	return s
}

// Load lists a category once and installs the result.
func (c *Cache) Load(ctx context.Context, r database.DocumentReader, cat Category) (*Snapshot, error) {
	docs, err := r.List(ctx, cat.Collection())
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", cat.Collection(), err)
	}
	return c.Replace(cat, docs), nil
}

// Watch subscribes to the identity collections of the given categories.
func (c *Cache) Watch(ctx context.Context, r database.DocumentReader, cats ...Category) error {
	for _, cat := range cats {
		cat := cat
		err := database.Follow(ctx, r, cat.Collection(), func(snap database.Snapshot) {
			s := c.Replace(cat, snap.Documents)
			c.logger.Debug("roster updated", zap.String("category", string(cat)), zap.Int("identities", s.Len()))
		})
		if err != nil {
			return fmt.Errorf("watching %s: %w", cat.Collection(), err)
		}
	}
	return nil
}
