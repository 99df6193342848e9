// Package store holds the authoritative feature collection and applies the
// lifecycle state machine to it.
//
// Every mutation works on a deep copy of the collection, persists the copy
// through a Repository and only then swaps it in, so a failed write leaves
// memory and disk agreeing. Reads return deep copies in insertion order.
// Committed changes are announced on the event bus after the store lock is
// released, so subscribers may read the store from their handlers.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/automaker/internal/depgraph"
	"github.com/Iron-Ham/automaker/internal/errors"
	"github.com/Iron-Ham/automaker/internal/event"
	"github.com/Iron-Ham/automaker/internal/feature"
	"github.com/Iron-Ham/automaker/internal/logging"
)

// InterruptedError is recorded on features found in_progress at startup.
const InterruptedError = "execution interrupted"

// Store is the single writer of feature records.
type Store struct {
	mu       sync.Mutex
	repo     Repository
	features []feature.Feature

	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithBus publishes change events on bus.
func WithBus(bus *event.Bus) Option { return func(s *Store) { s.bus = bus } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithIDGenerator overrides uuid-based ids.
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// New loads the collection from repo and reconciles runs that were
// interrupted by a previous process exit: those features keep their
// in_progress status but are flagged with InterruptedError so they can be
// resumed or force-stopped.
func New(ctx context.Context, repo Repository, opts ...Option) (*Store, error) {
	s := &Store{
		repo:   repo,
		logger: logging.NopLogger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("store")

	loaded, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load features: %w", err)
	}

	dirty := false
	for i := range loaded {
		before := len(loaded[i].Dependencies)
		loaded[i].Normalize()
		if len(loaded[i].Dependencies) != before {
			dirty = true
		}
		if loaded[i].Status == "" || !loaded[i].Status.Valid() {
			s.logger.Warn("unknown status, moving to backlog", "feature_id", loaded[i].ID, "status", loaded[i].Status)
			loaded[i].Status = feature.StatusBacklog
			dirty = true
		}
		if loaded[i].Status == feature.StatusInProgress && loaded[i].Error == "" {
			loaded[i].Error = InterruptedError
			loaded[i].StartedAt = nil
			dirty = true
		}
	}
	if cyc := depgraph.CycleMembers(loaded); len(cyc) > 0 {
		s.logger.Warn("dependency cycle in stored features", "feature_ids", strings.Join(cyc, ","))
	}
	if dirty {
		if err := repo.Save(ctx, loaded); err != nil {
			return nil, fmt.Errorf("save reconciled features: %w", err)
		}
	}
	s.features = loaded
	s.logger.Info("features loaded", "count", len(loaded), "reconciled", dirty)
	return s, nil
}

// List returns a deep copy of every feature in insertion order.
func (s *Store) List() []feature.Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return feature.CloneAll(s.features)
}

// Get returns a copy of one feature.
func (s *Store) Get(id string) (feature.Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return feature.Feature{}, errors.NewNotFoundError("feature", id)
	}
	return s.features[i].Clone(), nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.features, func(f feature.Feature) bool { return f.ID == id })
}

// change describes one committed mutation for the event bus.
type change struct {
	id     string
	kind   event.ChangeKind
	status feature.Status
}

// commit runs fn against a copy of the collection, persists the result and
// swaps it in. fn must not retain the slice.
func (s *Store) commit(ctx context.Context, fn func(fs []feature.Feature) ([]feature.Feature, []change, error)) error {
	s.mu.Lock()
	next, changes, err := fn(feature.CloneAll(s.features))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if len(changes) == 0 {
		s.mu.Unlock()
		return nil
	}
	if err := s.repo.Save(ctx, next); err != nil {
		s.mu.Unlock()
		s.logger.Error("persist failed, change discarded", "error", err)
		return fmt.Errorf("persist features: %w", err)
	}
	s.features = next
	s.mu.Unlock()

	if s.bus != nil {
		for _, c := range changes {
			s.bus.Publish(event.NewFeatureChangedEvent(c.id, c.kind, string(c.status)))
		}
	}
	return nil
}

// update applies fn to one feature. fn may return errNoChange to skip the
// write.
func (s *Store) update(ctx context.Context, id string, fn func(f *feature.Feature, all []feature.Feature) error) (feature.Feature, error) {
	var out feature.Feature
	err := s.commit(ctx, func(fs []feature.Feature) ([]feature.Feature, []change, error) {
		i := slices.IndexFunc(fs, func(f feature.Feature) bool { return f.ID == id })
		if i < 0 {
			return nil, nil, errors.NewNotFoundError("feature", id)
		}
		err := fn(&fs[i], fs)
		out = fs[i].Clone()
		if err == errNoChange {
			return fs, nil, nil
		}
		if err != nil {
			return nil, nil, err
		}
		return fs, []change{{id: id, kind: event.ChangeUpdated, status: fs[i].Status}}, nil
	})
	return out, err
}

var errNoChange = errors.New("no change")

func transitionError(f *feature.Feature, action string) error {
	return errors.NewFeatureError(action, errors.ErrInvalidTransition).
		WithFeatureID(f.ID).
		WithStatus(string(f.Status))
}

// -----------------------------------------------------------------------------
// Metadata
// -----------------------------------------------------------------------------

// Draft holds the user-authored fields of a new feature.
type Draft struct {
	Title               string
	Category            string
	Description         string
	Steps               []string
	Dependencies        []string
	Priority            int
	Model               string
	ThinkingLevel       feature.ThinkingLevel
	SkipTests           bool
	BranchName          string
	RequirePlanApproval bool
}

// Create appends a backlog feature. Every dependency must exist.
func (s *Store) Create(ctx context.Context, d Draft) (feature.Feature, error) {
	if strings.TrimSpace(d.Description) == "" && strings.TrimSpace(d.Title) == "" {
		return feature.Feature{}, errors.NewValidationError("description or title is required").WithField("description")
	}
	if !d.ThinkingLevel.Valid() {
		return feature.Feature{}, errors.NewValidationError("unknown thinking level").WithField("thinkingLevel").WithValue(d.ThinkingLevel)
	}
	if d.Priority < 0 {
		return feature.Feature{}, errors.NewValidationError("priority must be non-negative").WithField("priority").WithValue(d.Priority)
	}

	f := feature.Feature{
		ID:                  s.newID(),
		Title:               d.Title,
		Category:            d.Category,
		Description:         d.Description,
		Steps:               slices.Clone(d.Steps),
		Status:              feature.StatusBacklog,
		Dependencies:        slices.Clone(d.Dependencies),
		Priority:            d.Priority,
		Model:               d.Model,
		ThinkingLevel:       d.ThinkingLevel,
		SkipTests:           d.SkipTests,
		BranchName:          d.BranchName,
		RequirePlanApproval: d.RequirePlanApproval,
		CreatedAt:           s.now(),
	}
	f.Normalize()

	err := s.commit(ctx, func(fs []feature.Feature) ([]feature.Feature, []change, error) {
		known := feature.Index(fs)
		for _, dep := range f.Dependencies {
			if _, ok := known[dep]; !ok {
				return nil, nil, errors.NewFeatureError("create feature", errors.ErrUnknownDependency).WithFeatureID(dep)
			}
		}
		return append(fs, f), []change{{id: f.ID, kind: event.ChangeCreated, status: f.Status}}, nil
	})
	if err != nil {
		return feature.Feature{}, err
	}
	s.logger.Info("feature created", "feature_id", f.ID)
	return f.Clone(), nil
}

// Patch is a partial metadata edit. Nil fields are left unchanged. Status,
// timestamps and dependencies are not editable here.
type Patch struct {
	Title               *string
	Category            *string
	Description         *string
	Steps               *[]string
	Model               *string
	ThinkingLevel       *feature.ThinkingLevel
	SkipTests           *bool
	BranchName          *string
	RequirePlanApproval *bool
	Priority            *int
}

// Edit applies a metadata patch.
func (s *Store) Edit(ctx context.Context, id string, p Patch) (feature.Feature, error) {
	if p.ThinkingLevel != nil && !p.ThinkingLevel.Valid() {
		return feature.Feature{}, errors.NewValidationError("unknown thinking level").WithField("thinkingLevel").WithValue(*p.ThinkingLevel)
	}
	if p.Priority != nil && *p.Priority < 0 {
		return feature.Feature{}, errors.NewValidationError("priority must be non-negative").WithField("priority").WithValue(*p.Priority)
	}
	return s.update(ctx, id, func(f *feature.Feature, _ []feature.Feature) error {
		setIf(&f.Title, p.Title)
		setIf(&f.Category, p.Category)
		setIf(&f.Description, p.Description)
		setIf(&f.Model, p.Model)
		setIf(&f.ThinkingLevel, p.ThinkingLevel)
		setIf(&f.SkipTests, p.SkipTests)
		setIf(&f.BranchName, p.BranchName)
		setIf(&f.RequirePlanApproval, p.RequirePlanApproval)
		setIf(&f.Priority, p.Priority)
		if p.Steps != nil {
			f.Steps = slices.Clone(*p.Steps)
		}
		if strings.TrimSpace(f.Description) == "" && strings.TrimSpace(f.Title) == "" {
			return errors.NewValidationError("description or title is required").WithField("description")
		}
		f.Normalize()
		return nil
	})
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// SetPriority sets the explicit scheduling priority (0 clears it).
func (s *Store) SetPriority(ctx context.Context, id string, priority int) (feature.Feature, error) {
	return s.Edit(ctx, id, Patch{Priority: &priority})
}

// Delete removes a feature and strips its id from every dependent, in one
// write. The caller is responsible for stopping a running execution first.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.commit(ctx, func(fs []feature.Feature) ([]feature.Feature, []change, error) {
		i := slices.IndexFunc(fs, func(f feature.Feature) bool { return f.ID == id })
		if i < 0 {
			return nil, nil, errors.NewNotFoundError("feature", id)
		}
		changes := []change{{id: id, kind: event.ChangeDeleted}}
		fs = slices.Delete(fs, i, i+1)
		for j := range fs {
			if fs[j].DependsOn(id) {
				fs[j].Dependencies = slices.DeleteFunc(fs[j].Dependencies, func(d string) bool { return d == id })
				fs[j].Normalize()
				changes = append(changes, change{id: fs[j].ID, kind: event.ChangeUpdated, status: fs[j].Status})
			}
		}
		return fs, changes, nil
	})
	if err == nil {
		s.logger.Info("feature deleted", "feature_id", id)
	}
	return err
}

// AddDependency records "targetID depends on sourceID". It reports false
// without writing when the edge already exists.
func (s *Store) AddDependency(ctx context.Context, sourceID, targetID string) (bool, error) {
	if sourceID == targetID {
		return false, errors.NewValidationError("feature cannot depend on itself").
			WithField("dependencies").WithValue(sourceID).WithCause(errors.ErrSelfDependency)
	}
	added := false
	_, err := s.update(ctx, targetID, func(f *feature.Feature, all []feature.Feature) error {
		if _, ok := feature.Find(all, sourceID); !ok {
			return errors.NewNotFoundError("feature", sourceID)
		}
		if depgraph.DependencyExists(all, sourceID, targetID) {
			return errNoChange
		}
		if depgraph.WouldCreateCycle(all, sourceID, targetID) {
			return errors.NewFeatureError("add dependency on "+sourceID, errors.ErrCycleRejected).WithFeatureID(targetID)
		}
		f.Dependencies = append(f.Dependencies, sourceID)
		added = true
		return nil
	})
	return added, err
}

// RemoveDependency deletes the edge "targetID depends on sourceID" and
// reports whether it existed.
func (s *Store) RemoveDependency(ctx context.Context, sourceID, targetID string) (bool, error) {
	removed := false
	_, err := s.update(ctx, targetID, func(f *feature.Feature, _ []feature.Feature) error {
		if !f.DependsOn(sourceID) {
			return errNoChange
		}
		f.Dependencies = slices.DeleteFunc(f.Dependencies, func(d string) bool { return d == sourceID })
		f.Normalize()
		removed = true
		return nil
	})
	return removed, err
}
