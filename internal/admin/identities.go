package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/attendance"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/extractor"
	"github.com/kozaktomas/attendance-terminal/internal/facematch"
	"github.com/kozaktomas/attendance-terminal/internal/roster"
)

var (
	ErrNoImage       = errors.New("please capture an image before saving")
	ErrNoFace        = errors.New("no face was detected, please retake the photo")
	ErrNoDetector    = errors.New("face extractor is not configured")
	ErrDuplicateFace = errors.New("face is already enrolled")
	ErrNotFound      = errors.New("identity not found")
)

// DuplicateError names the identity an enrollment collided with.
type DuplicateError struct {
	Existing roster.Identity
	Distance float64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("face is already enrolled as %s (%s, distance %.3f)", e.Existing.DisplayName, e.Existing.ID, e.Distance)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateFace }

// EnrollRequest carries the fields of a new or updated identity.
type EnrollRequest struct {
	Category       roster.Category
	DisplayName    string
	SecondaryID    string
	Email          string
	Phone          string
	Branch         string
	ImageReference string
	Image          []byte
}

func (r EnrollRequest) identity(id string) roster.Identity {
	return roster.Identity{
		ID:             id,
		Category:       r.Category,
		DisplayName:    strings.TrimSpace(r.DisplayName),
		SecondaryID:    strings.TrimSpace(r.SecondaryID),
		Email:          strings.TrimSpace(r.Email),
		Phone:          strings.TrimSpace(r.Phone),
		Branch:         strings.TrimSpace(r.Branch),
		ImageReference: r.ImageReference,
	}
}

// Enroll detects the face in the request image and stores a new identity
// under a fresh uuid. A face already within the match threshold of another
// identity of the same category is rejected.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (roster.Identity, error) {
	ident := req.identity(uuid.NewString())
	if err := ident.Validate(); err != nil {
		return ident, err
	}
	if len(req.Image) == 0 {
		return ident, ErrNoImage
	}

	desc, err := s.describe(ctx, req.Image)
	if err != nil {
		return ident, err
	}
	ident.Descriptor = desc

	if err := s.checkDuplicate(ctx, req.Category, ident.ID, desc); err != nil {
		return ident, err
	}

	if err := s.store.Put(ctx, req.Category.Collection(), ident.ID, ident.Document()); err != nil {
		return ident, fmt.Errorf("saving %s: %w", req.Category, err)
	}
	s.logger.Info("identity enrolled",
		zap.String("category", string(req.Category)),
		zap.String("id", ident.ID),
		zap.String("name", ident.DisplayName))
	return ident, nil
}

// Update replaces the fields of an existing identity. Without a new image
// the stored descriptor and image reference are kept.
func (s *Service) Update(ctx context.Context, id string, req EnrollRequest) (roster.Identity, error) {
	existing, err := s.Identity(ctx, req.Category, id)
	if err != nil {
		return roster.Identity{}, err
	}

	ident := req.identity(id)
	if err := ident.Validate(); err != nil {
		return ident, err
	}
	if len(req.Image) == 0 {
		ident.Descriptor = existing.Descriptor
		if ident.ImageReference == "" {
			ident.ImageReference = existing.ImageReference
		}
	} else {
		desc, err := s.describe(ctx, req.Image)
		if err != nil {
			return ident, err
		}
		if err := s.checkDuplicate(ctx, req.Category, id, desc); err != nil {
			return ident, err
		}
		ident.Descriptor = desc
	}

	if err := s.store.Put(ctx, req.Category.Collection(), id, ident.Document()); err != nil {
		return ident, fmt.Errorf("saving %s %s: %w", req.Category, id, err)
	}
	s.logger.Info("identity updated", zap.String("category", string(req.Category)), zap.String("id", id))
	return ident, nil
}

// Identity loads one identity.
func (s *Service) Identity(ctx context.Context, cat roster.Category, id string) (roster.Identity, error) {
	doc, err := s.store.Get(ctx, cat.Collection(), id)
	if errors.Is(err, database.ErrNotFound) {
		return roster.Identity{}, fmt.Errorf("%w: %s %s", ErrNotFound, cat, id)
	}
	if err != nil {
		return roster.Identity{}, err
	}
	return roster.IdentityFromDocument(cat, *doc)
}

func (s *Service) describe(ctx context.Context, image []byte) (facematch.Descriptor, error) {
	if s.detector == nil {
		return nil, ErrNoDetector
	}
	det, err := s.detector.Detect(ctx, image)
	if errors.Is(err, extractor.ErrNoFace) {
		return nil, ErrNoFace
	}
	if err != nil {
		return nil, fmt.Errorf("detecting face: %w", err)
	}
	if len(det.Descriptor) == 0 {
		return nil, ErrNoFace
	}
	return det.Descriptor, nil
}

// checkDuplicate asks the backend for the nearest descriptor when it can
// search natively, otherwise builds an in-memory index of the category.
func (s *Service) checkDuplicate(ctx context.Context, cat roster.Category, selfID string, desc facematch.Descriptor) error {
	if searcher, ok := s.store.(database.DescriptorSearcher); ok {
		neighbors, err := searcher.NearestDescriptors(ctx, cat.Collection(), desc, 2)
		if err != nil {
			s.logger.Warn("native descriptor search failed, falling back to index", zap.Error(err))
		} else {
			for _, n := range neighbors {
				if n.Key == selfID || n.Distance > s.threshold {
					continue
				}
				existing, err := s.Identity(ctx, cat, n.Key)
				if err != nil {
					return err
				}
				return &DuplicateError{Existing: existing, Distance: n.Distance}
			}
			return nil
		}
	}

	docs, err := s.store.List(ctx, cat.Collection())
	if err != nil {
		return fmt.Errorf("listing %s: %w", cat.Collection(), err)
	}
	identities, _ := roster.Decode(cat, docs)
	snap := roster.NewSnapshot(cat, identities)

	index := facematch.NewDescriptorIndex()
	index.Build(snap.Enrolled())
	for _, n := range index.Within(desc, s.threshold) {
		if n.ID == selfID {
			continue
		}
		existing, _ := snap.Find(n.ID)
		return &DuplicateError{Existing: existing, Distance: n.Distance}
	}
	return nil
}

// Progress reports cascade deletion progress.
type Progress func(done, total int)

// DeleteIdentity re-verifies the administrator password, then removes the
// identity and every attendance record it has. Nothing is written when the
// password is wrong.
func (s *Service) DeleteIdentity(ctx context.Context, cat roster.Category, id, email, password string, progress Progress) (int, error) {
	if err := s.credentials.Verify(email, password); err != nil {
		return 0, err
	}
	if err := attendance.ValidatePersonID(id); err != nil {
		return 0, err
	}

	if err := s.store.Delete(ctx, cat.Collection(), id); err != nil {
		return 0, fmt.Errorf("deleting %s %s: %w", cat, id, err)
	}

	collection := cat.AttendanceCollection()
	days, err := s.store.List(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("listing %s: %w", collection, err)
	}

	var affected []string
	for _, d := range days {
		records, _ := d.Data["records"].(map[string]any)
		if _, ok := records[id]; ok {
			affected = append(affected, d.Key)
		}
	}

	var (
		wg        sync.WaitGroup
		done      atomic.Int32
		mu        sync.Mutex
		errs      []error
		semaphore = make(chan struct{}, max(s.concurrency, 1))
	)
	for _, date := range affected {
		wg.Add(1)
		go func(date string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := database.DeleteField(ctx, s.store, collection, date, attendance.RecordPath(id)); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", date, err))
				mu.Unlock()
			}
			n := done.Add(1)
			if progress != nil {
				progress(int(n), len(affected))
			}
		}(date)
	}
	wg.Wait()

	s.logger.Info("identity deleted",
		zap.String("category", string(cat)),
		zap.String("id", id),
		zap.Int("attendance_days", len(affected)),
		zap.Int("failed", len(errs)))

	return len(affected) - len(errs), errors.Join(errs...)
}
