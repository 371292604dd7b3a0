// Package memory is an in-process rule store for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"quorum/internal/rules/models"
	"quorum/internal/rules/store"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/sentinel"
)

// numShards spreads RunInTx callers over independent locks keyed by target.
const numShards = 32

// defaultTxTimeout bounds a transaction when the caller set no deadline.
const defaultTxTimeout = 5 * time.Second

// Store keeps drafts and committed versions in maps. Transactions stage
// writes and apply them under the data lock on success, so a failing fn
// leaves no trace.
type Store struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration

	mu       sync.RWMutex
	drafts   map[string]*models.RuleSettingDraft
	open     map[models.Target]string
	versions []*models.CommittedRules
}

var _ store.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithTxTimeout overrides the default transaction timeout.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		timeout: defaultTxTimeout,
		drafts:  make(map[string]*models.RuleSettingDraft),
		open:    make(map[models.Target]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx serialises callers on target and applies fn's writes atomically.
func (s *Store) RunInTx(ctx context.Context, target models.Target, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	shard := &s.shards[shardFor(target)]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &memTx{store: s, drafts: map[string]*models.RuleSettingDraft{}}
	if err := fn(tx); err != nil {
		return err
	}
	return s.apply(tx)
}

func (s *Store) apply(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tx.versions) > 0 {
		latest := int64(0)
		if n := len(s.versions); n > 0 {
			latest = s.versions[n-1].Version
		}
		if tx.versions[0].PreviousVersion != latest {
			return fmt.Errorf("commit on version %d, latest is %d: %w", tx.versions[0].PreviousVersion, latest, sentinel.ErrConflict)
		}
	}
	for _, id := range tx.order {
		d := tx.drafts[id]
		if d == nil {
			continue
		}
		openID, ok := s.open[d.Target]
		if ok && openID != d.ID {
			if staged, deleting := tx.drafts[openID]; !deleting || staged != nil {
				return fmt.Errorf("target %s already has draft %s: %w", d.Target, openID, sentinel.ErrConflict)
			}
		}
	}
	for _, id := range tx.order {
		if tx.drafts[id] != nil {
			continue
		}
		if cur, ok := s.drafts[id]; ok {
			if s.open[cur.Target] == id {
				delete(s.open, cur.Target)
			}
			delete(s.drafts, id)
		}
	}
	for _, id := range tx.order {
		if d := tx.drafts[id]; d != nil {
			s.drafts[id] = d
			s.open[d.Target] = id
		}
	}
	s.versions = append(s.versions, tx.versions...)
	return nil
}

func (s *Store) GetDraft(_ context.Context, id string) (*models.RuleSettingDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *Store) GetOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error) {
	s.mu.RLock()
	id, ok := s.open[target]
	s.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.GetDraft(ctx, id)
}

func (s *Store) ListDrafts(_ context.Context) ([]*models.RuleSettingDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.RuleSettingDraft, 0, len(s.drafts))
	for _, d := range s.drafts {
		out = append(out, d.Clone())
	}
	sortDrafts(out)
	return out, nil
}

func (s *Store) GetRuleConfiguration(_ context.Context) (*models.CommittedRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return s.versions[len(s.versions)-1].Clone(), nil
}

func (s *Store) GetRuleConfigurationVersion(_ context.Context, version int64) (*models.CommittedRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.Version == version {
			return v.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// memTx stages writes. A nil entry in drafts marks a deletion.
type memTx struct {
	store    *Store
	drafts   map[string]*models.RuleSettingDraft
	order    []string
	versions []*models.CommittedRules
}

func (t *memTx) stage(id string, d *models.RuleSettingDraft) {
	if _, seen := t.drafts[id]; !seen {
		t.order = append(t.order, id)
	}
	t.drafts[id] = d
}

func (t *memTx) GetDraft(ctx context.Context, id string) (*models.RuleSettingDraft, error) {
	if d, staged := t.drafts[id]; staged {
		if d == nil {
			return nil, sentinel.ErrNotFound
		}
		return d.Clone(), nil
	}
	return t.store.GetDraft(ctx, id)
}

func (t *memTx) GetOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error) {
	for _, id := range t.order {
		if d := t.drafts[id]; d != nil && d.Target == target {
			return d.Clone(), nil
		}
	}
	d, err := t.store.GetOpenDraft(ctx, target)
	if err != nil {
		return nil, err
	}
	if staged, ok := t.drafts[d.ID]; ok && staged == nil {
		return nil, sentinel.ErrNotFound
	}
	return d, nil
}

func (t *memTx) ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error) {
	base, err := t.store.ListDrafts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.RuleSettingDraft, 0, len(base)+len(t.order))
	for _, d := range base {
		if _, staged := t.drafts[d.ID]; !staged {
			out = append(out, d)
		}
	}
	for _, id := range t.order {
		if d := t.drafts[id]; d != nil {
			out = append(out, d.Clone())
		}
	}
	sortDrafts(out)
	return out, nil
}

func (t *memTx) GetRuleConfiguration(ctx context.Context) (*models.CommittedRules, error) {
	if n := len(t.versions); n > 0 {
		return t.versions[n-1].Clone(), nil
	}
	return t.store.GetRuleConfiguration(ctx)
}

func (t *memTx) GetRuleConfigurationVersion(ctx context.Context, version int64) (*models.CommittedRules, error) {
	for _, v := range t.versions {
		if v.Version == version {
			return v.Clone(), nil
		}
	}
	return t.store.GetRuleConfigurationVersion(ctx, version)
}

func (t *memTx) CreateDraft(ctx context.Context, draft *models.RuleSettingDraft) error {
	if _, err := t.GetOpenDraft(ctx, draft.Target); err == nil {
		return fmt.Errorf("target %s: %w", draft.Target, sentinel.ErrConflict)
	}
	if _, err := t.GetDraft(ctx, draft.ID); err == nil {
		return fmt.Errorf("draft %s exists: %w", draft.ID, sentinel.ErrConflict)
	}
	t.stage(draft.ID, draft.Clone())
	return nil
}

func (t *memTx) PutApproval(ctx context.Context, draftID string, approval models.Approval) error {
	d, err := t.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	d.PutApproval(approval)
	t.stage(draftID, d)
	return nil
}

func (t *memTx) PutRejection(ctx context.Context, draftID string, rejection models.Rejection) error {
	d, err := t.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	d.PutRejection(rejection)
	t.stage(draftID, d)
	return nil
}

func (t *memTx) DeleteDraft(ctx context.Context, id string) error {
	if _, err := t.GetDraft(ctx, id); err != nil {
		return err
	}
	t.stage(id, nil)
	return nil
}

func (t *memTx) AddRuleConfiguration(ctx context.Context, rules *models.CommittedRules) error {
	latest := int64(0)
	cur, err := t.GetRuleConfiguration(ctx)
	switch {
	case err == nil:
		latest = cur.Version
	case !errors.Is(err, sentinel.ErrNotFound):
		return err
	}
	if rules.PreviousVersion != latest || rules.Version != latest+1 {
		return fmt.Errorf("commit version %d on %d, latest is %d: %w", rules.Version, rules.PreviousVersion, latest, sentinel.ErrConflict)
	}
	t.versions = append(t.versions, rules.Clone())
	return nil
}

func shardFor(target models.Target) int {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(target); i++ {
		h ^= uint32(target[i])
		h *= fnvPrime
	}
	return int(h % numShards)
}

func sortDrafts(ds []*models.RuleSettingDraft) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].CreatedAt.Before(ds[j].CreatedAt)
	})
}
