// Package redis persists drafts and committed rule versions in Redis.
//
// Every RunInTx call is an optimistic WATCH/MULTI transaction over the keys
// it reads. Writes are staged and sent in a single MULTI block, so a failed
// fn or a lost race leaves nothing behind. Callers inside one process are
// also serialised per target to keep retries rare.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"quorum/internal/rules/models"
	"quorum/internal/rules/store"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/sentinel"
)

const (
	defaultPrefix     = "quorum:rules:"
	defaultMaxRetries = 8
	numShards         = 32
)

// Store keeps one JSON document per draft, an index of open drafts per
// target and a hash of committed versions.
type Store struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	shards     [numShards]sync.Mutex
}

var _ store.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithMaxRetries bounds how often a transaction is replayed after losing a
// WATCH race.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New constructs a Redis-backed store.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) draftKey(id string) string { return s.prefix + "draft:" + id }
func (s *Store) openKey(target models.Target) string { return s.prefix + "open:" + string(target) }
func (s *Store) draftIndexKey() string { return s.prefix + "drafts" }
func (s *Store) versionsKey() string { return s.prefix + "versions" }
func (s *Store) latestKey() string { return s.prefix + "latest" }

// RunInTx runs fn against a consistent view and applies its writes atomically.
// Losing the optimistic race replays fn; after maxRetries the store reports
// a conflict.
func (s *Store) RunInTx(ctx context.Context, target models.Target, fn func(tx store.Tx) error) error {
	shard := &s.shards[shardFor(target)]
	shard.Lock()
	defer shard.Unlock()

	for range s.maxRetries {
		if err := ctx.Err(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &redisTx{store: s, rtx: rtx, drafts: map[string]*models.RuleSettingDraft{}, targets: map[string]models.Target{}}
			if err := fn(t); err != nil {
				return err
			}
			return t.commit(ctx)
		}, s.openKey(target), s.latestKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return mapErr(err)
	}
	return fmt.Errorf("target %s: optimistic transaction retries exhausted: %w", target, sentinel.ErrConflict)
}

func (s *Store) GetDraft(ctx context.Context, id string) (*models.RuleSettingDraft, error) {
	return s.readDraft(ctx, s.client, id)
}

func (s *Store) GetOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error) {
	id, err := s.client.Get(ctx, s.openKey(target)).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	return s.readDraft(ctx, s.client, id)
}

func (s *Store) ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error) {
	return s.listDrafts(ctx, s.client)
}

func (s *Store) GetRuleConfiguration(ctx context.Context) (*models.CommittedRules, error) {
	return s.latestConfiguration(ctx, s.client)
}

func (s *Store) GetRuleConfigurationVersion(ctx context.Context, version int64) (*models.CommittedRules, error) {
	return s.configurationVersion(ctx, s.client, version)
}

// reader is the read surface shared by the client and a watched transaction.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func (s *Store) readDraft(ctx context.Context, c reader, id string) (*models.RuleSettingDraft, error) {
	raw, err := c.Get(ctx, s.draftKey(id)).Bytes()
	if err != nil {
		return nil, mapErr(err)
	}
	var d models.RuleSettingDraft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	return &d, nil
}

func (s *Store) listDrafts(ctx context.Context, c reader) ([]*models.RuleSettingDraft, error) {
	ids, err := c.ZRange(ctx, s.draftIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]*models.RuleSettingDraft, 0, len(ids))
	for _, id := range ids {
		d, err := s.readDraft(ctx, c, id)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sortDrafts(out)
	return out, nil
}

func (s *Store) latestConfiguration(ctx context.Context, c reader) (*models.CommittedRules, error) {
	v, err := c.Get(ctx, s.latestKey()).Int64()
	if err != nil {
		return nil, mapErr(err)
	}
	return s.configurationVersion(ctx, c, v)
}

func (s *Store) configurationVersion(ctx context.Context, c reader, version int64) (*models.CommittedRules, error) {
	raw, err := c.HGet(ctx, s.versionsKey(), strconv.FormatInt(version, 10)).Bytes()
	if err != nil {
		return nil, mapErr(err)
	}
	var cr models.CommittedRules
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("decode rule configuration %d: %w", version, err)
	}
	return &cr, nil
}

// redisTx stages writes on top of watched reads. A nil entry in drafts marks
// a deletion; targets remembers the target of every draft read or staged.
type redisTx struct {
	store    *Store
	rtx      *redis.Tx
	drafts   map[string]*models.RuleSettingDraft
	targets  map[string]models.Target
	order    []string
	versions []*models.CommittedRules
}

func (t *redisTx) stage(id string, d *models.RuleSettingDraft) {
	if _, seen := t.drafts[id]; !seen {
		t.order = append(t.order, id)
	}
	t.drafts[id] = d
}

func (t *redisTx) watch(ctx context.Context, keys ...string) error {
	return mapErr(t.rtx.Watch(ctx, keys...).Err())
}

func (t *redisTx) GetDraft(ctx context.Context, id string) (*models.RuleSettingDraft, error) {
	if d, staged := t.drafts[id]; staged {
		if d == nil {
			return nil, sentinel.ErrNotFound
		}
		return d.Clone(), nil
	}
	if err := t.watch(ctx, t.store.draftKey(id)); err != nil {
		return nil, err
	}
	d, err := t.store.readDraft(ctx, t.rtx, id)
	if err != nil {
		return nil, err
	}
	t.targets[id] = d.Target
	return d, nil
}

func (t *redisTx) GetOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error) {
	for _, id := range t.order {
		if d := t.drafts[id]; d != nil && d.Target == target {
			return d.Clone(), nil
		}
	}
	key := t.store.openKey(target)
	if err := t.watch(ctx, key); err != nil {
		return nil, err
	}
	id, err := t.rtx.Get(ctx, key).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	return t.GetDraft(ctx, id)
}

func (t *redisTx) ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error) {
	if err := t.watch(ctx, t.store.draftIndexKey()); err != nil {
		return nil, err
	}
	base, err := t.store.listDrafts(ctx, t.rtx)
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

func (t *redisTx) GetRuleConfiguration(ctx context.Context) (*models.CommittedRules, error) {
	if n := len(t.versions); n > 0 {
		return t.versions[n-1].Clone(), nil
	}
	return t.store.latestConfiguration(ctx, t.rtx)
}

func (t *redisTx) GetRuleConfigurationVersion(ctx context.Context, version int64) (*models.CommittedRules, error) {
	for _, v := range t.versions {
		if v.Version == version {
			return v.Clone(), nil
		}
	}
	return t.store.configurationVersion(ctx, t.rtx, version)
}

func (t *redisTx) CreateDraft(ctx context.Context, d *models.RuleSettingDraft) error {
	switch _, err := t.GetOpenDraft(ctx, d.Target); {
	case err == nil:
		return fmt.Errorf("target %s: %w", d.Target, sentinel.ErrConflict)
	case !errors.Is(err, sentinel.ErrNotFound):
		return err
	}
	switch _, err := t.GetDraft(ctx, d.ID); {
	case err == nil:
		return fmt.Errorf("draft %s exists: %w", d.ID, sentinel.ErrConflict)
	case !errors.Is(err, sentinel.ErrNotFound):
		return err
	}
	t.targets[d.ID] = d.Target
	t.stage(d.ID, d.Clone())
	return nil
}

func (t *redisTx) PutApproval(ctx context.Context, draftID string, a models.Approval) error {
	d, err := t.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	d.PutApproval(a)
	t.stage(draftID, d)
	return nil
}

func (t *redisTx) PutRejection(ctx context.Context, draftID string, r models.Rejection) error {
	d, err := t.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	d.PutRejection(r)
	t.stage(draftID, d)
	return nil
}

func (t *redisTx) DeleteDraft(ctx context.Context, id string) error {
	if _, err := t.GetDraft(ctx, id); err != nil {
		return err
	}
	t.stage(id, nil)
	return nil
}

func (t *redisTx) AddRuleConfiguration(ctx context.Context, c *models.CommittedRules) error {
	latest := int64(0)
	switch cur, err := t.GetRuleConfiguration(ctx); {
	case err == nil:
		latest = cur.Version
	case !errors.Is(err, sentinel.ErrNotFound):
		return err
	}
	if c.PreviousVersion != latest || c.Version != latest+1 {
		return fmt.Errorf("commit version %d on %d, latest is %d: %w", c.Version, c.PreviousVersion, latest, sentinel.ErrConflict)
	}
	t.versions = append(t.versions, c.Clone())
	return nil
}

func (t *redisTx) commit(ctx context.Context) error {
	if len(t.order) == 0 && len(t.versions) == 0 {
		return nil
	}
	type encoded struct {
		id  string
		raw []byte
	}
	upserts := make([]encoded, 0, len(t.order))
	for _, id := range t.order {
		if d := t.drafts[id]; d != nil {
			raw, err := json.Marshal(d)
			if err != nil {
				return fmt.Errorf("encode draft %s: %w", id, err)
			}
			upserts = append(upserts, encoded{id: id, raw: raw})
		}
	}
	versions := make([]encoded, 0, len(t.versions))
	for _, v := range t.versions {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode rule configuration %d: %w", v.Version, err)
		}
		versions = append(versions, encoded{id: strconv.FormatInt(v.Version, 10), raw: raw})
	}

	s := t.store
	_, err := t.rtx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range t.order {
			if t.drafts[id] != nil {
				continue
			}
			p.Del(ctx, s.draftKey(id))
			p.ZRem(ctx, s.draftIndexKey(), id)
			if target, ok := t.targets[id]; ok {
				p.Del(ctx, s.openKey(target))
			}
		}
		for _, u := range upserts {
			d := t.drafts[u.id]
			p.Set(ctx, s.draftKey(u.id), u.raw, 0)
			p.Set(ctx, s.openKey(d.Target), u.id, 0)
			p.ZAdd(ctx, s.draftIndexKey(), redis.Z{Score: float64(d.CreatedAt.UnixMilli()), Member: u.id})
		}
		for _, v := range versions {
			p.HSet(ctx, s.versionsKey(), v.id, v.raw)
			p.Set(ctx, s.latestKey(), v.id, 0)
		}
		return nil
	})
	return err
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return sentinel.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "rule store operation timed out")
	default:
		return err
	}
}

func shardFor(target models.Target) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(target))
	return int(h.Sum32() % numShards)
}

func sortDrafts(ds []*models.RuleSettingDraft) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].CreatedAt.Before(ds[j].CreatedAt)
	})
}
