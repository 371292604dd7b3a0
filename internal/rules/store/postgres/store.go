// Package postgres persists drafts and committed rule versions in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"quorum/internal/rules/models"
	"quorum/internal/rules/store"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/sentinel"
	txctx "quorum/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// Store is a database/sql backed rule store. RunInTx takes a transaction
// scoped advisory lock on the target so callers on one target are serialised
// across processes.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New constructs a PostgreSQL-backed store. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the rule tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate rule schema: %w", err)
	}
	return nil
}

// RunInTx runs fn in a serialisable unit of work for target.
func (s *Store) RunInTx(ctx context.Context, target models.Target, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(target)); err != nil {
		return mapErr(fmt.Errorf("lock target %s: %w", target, err))
	}

	if err = fn(&pgTx{q: queries{ex: sqlTx}}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func (s *Store) reader(ctx context.Context) queries {
	return queries{ex: txctx.ExecutorFrom(ctx, s.db)}
}

func (s *Store) GetDraft(ctx context.Context, id string) (*models.RuleSettingDraft, error) {
	return s.reader(ctx).getDraft(ctx, id)
}

func (s *Store) GetOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error) {
	return s.reader(ctx).getOpenDraft(ctx, target)
}

func (s *Store) ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error) {
	return s.reader(ctx).listDrafts(ctx)
}

func (s *Store) GetRuleConfiguration(ctx context.Context) (*models.CommittedRules, error) {
	return s.reader(ctx).latestConfiguration(ctx)
}

func (s *Store) GetRuleConfigurationVersion(ctx context.Context, version int64) (*models.CommittedRules, error) {
	return s.reader(ctx).configurationVersion(ctx, version)
}

type pgTx struct {
	q queries
}

func (t *pgTx) GetDraft(ctx context.Context, id string) (*models.RuleSettingDraft, error) {
	return t.q.getDraft(ctx, id)
}

func (t *pgTx) GetOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error) {
	return t.q.getOpenDraft(ctx, target)
}

func (t *pgTx) ListDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error) {
	return t.q.listDrafts(ctx)
}

func (t *pgTx) GetRuleConfiguration(ctx context.Context) (*models.CommittedRules, error) {
	return t.q.latestConfiguration(ctx)
}

func (t *pgTx) GetRuleConfigurationVersion(ctx context.Context, version int64) (*models.CommittedRules, error) {
	return t.q.configurationVersion(ctx, version)
}

func (t *pgTx) CreateDraft(ctx context.Context, d *models.RuleSettingDraft) error {
	proposed, err := json.Marshal(d.ProposedRules)
	if err != nil {
		return fmt.Errorf("marshal proposed rules: %w", err)
	}
	previous, err := json.Marshal(d.PreviousRuleSetting)
	if err != nil {
		return fmt.Errorf("marshal previous rules: %w", err)
	}
	_, err = t.q.ex.ExecContext(ctx, `
		INSERT INTO rule_drafts (id, target, proposed_rules, previous_rule_setting, previous_cert,
			previous_version, proposed_by, created_at, expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, string(d.Target), proposed, previous, d.PreviousCert, d.PreviousVersion,
		d.ProposedBy, d.CreatedAt, nullTime(d.Expiry))
	if err != nil {
		return mapErr(fmt.Errorf("insert draft: %w", err))
	}
	for _, a := range d.Approvals {
		if err := t.PutApproval(ctx, d.ID, a); err != nil {
			return err
		}
	}
	for _, r := range d.Rejections {
		if err := t.PutRejection(ctx, d.ID, r); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) PutApproval(ctx context.Context, draftID string, a models.Approval) error {
	res, err := t.q.ex.ExecContext(ctx, `
		INSERT INTO rule_draft_approvals (draft_id, identity_key, identity, approval_blob, auth_blob, approved_at)
		SELECT id, $2, $3, $4, $5, $6 FROM rule_drafts WHERE id = $1
		ON CONFLICT (draft_id, identity_key) DO UPDATE SET
			identity = EXCLUDED.identity,
			approval_blob = EXCLUDED.approval_blob,
			auth_blob = EXCLUDED.auth_blob,
			approved_at = EXCLUDED.approved_at
	`, draftID, identityKey(a.Identity), a.Identity, a.ApprovalBlob, a.AuthBlob, a.ApprovedAt)
	if err != nil {
		return mapErr(fmt.Errorf("upsert approval: %w", err))
	}
	return requireRow(res, "draft "+draftID)
}

func (t *pgTx) PutRejection(ctx context.Context, draftID string, r models.Rejection) error {
	res, err := t.q.ex.ExecContext(ctx, `
		INSERT INTO rule_draft_rejections (draft_id, identity_key, identity, reason, rejected_at)
		SELECT id, $2, $3, $4, $5 FROM rule_drafts WHERE id = $1
		ON CONFLICT (draft_id, identity_key) DO UPDATE SET
			identity = EXCLUDED.identity,
			reason = EXCLUDED.reason,
			rejected_at = EXCLUDED.rejected_at
	`, draftID, identityKey(r.Identity), r.Identity, r.Reason, r.RejectedAt)
	if err != nil {
		return mapErr(fmt.Errorf("upsert rejection: %w", err))
	}
	return requireRow(res, "draft "+draftID)
}

func (t *pgTx) DeleteDraft(ctx context.Context, id string) error {
	res, err := t.q.ex.ExecContext(ctx, `DELETE FROM rule_drafts WHERE id = $1`, id)
	if err != nil {
		return mapErr(fmt.Errorf("delete draft: %w", err))
	}
	return requireRow(res, "draft "+id)
}

func (t *pgTx) AddRuleConfiguration(ctx context.Context, c *models.CommittedRules) error {
	latest := int64(0)
	err := t.q.ex.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM rule_configurations`).Scan(&latest)
	if err != nil {
		return mapErr(fmt.Errorf("read latest version: %w", err))
	}
	if c.PreviousVersion != latest || c.Version != latest+1 {
		return fmt.Errorf("commit version %d on %d, latest is %d: %w", c.Version, c.PreviousVersion, latest, sentinel.ErrConflict)
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = t.q.ex.ExecContext(ctx, `
		INSERT INTO rule_configurations (version, previous_version, settings, cert, digest, draft_id, committed_by, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.Version, c.PreviousVersion, settings, c.Cert, c.Digest, c.DraftID, c.CommittedBy, c.CommittedAt)
	if err != nil {
		return mapErr(fmt.Errorf("insert rule configuration: %w", err))
	}
	return nil
}

// queries holds the read and write statements shared by Store and pgTx.
type queries struct {
	ex txctx.Executor
}

const draftColumns = `id, target, proposed_rules, previous_rule_setting, previous_cert,
	previous_version, proposed_by, created_at, expiry`

func (q queries) getDraft(ctx context.Context, id string) (*models.RuleSettingDraft, error) {
	row := q.ex.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM rule_drafts WHERE id = $1`, id)
	d, err := scanDraft(row)
	if err != nil {
		return nil, err
	}
	if err := q.loadVotes(ctx, []*models.RuleSettingDraft{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (q queries) getOpenDraft(ctx context.Context, target models.Target) (*models.RuleSettingDraft, error) {
	row := q.ex.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM rule_drafts WHERE target = $1`, string(target))
	d, err := scanDraft(row)
	if err != nil {
		return nil, err
	}
	if err := q.loadVotes(ctx, []*models.RuleSettingDraft{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (q queries) listDrafts(ctx context.Context) ([]*models.RuleSettingDraft, error) {
	rows, err := q.ex.QueryContext(ctx, `SELECT `+draftColumns+` FROM rule_drafts ORDER BY created_at, id`)
	if err != nil {
		return nil, mapErr(fmt.Errorf("list drafts: %w", err))
	}
	defer rows.Close()

	var out []*models.RuleSettingDraft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w", err)
	}
	if err := q.loadVotes(ctx, out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []*models.RuleSettingDraft{}
	}
	return out, nil
}

// loadVotes fills approvals and rejections for drafts in two round trips.
func (q queries) loadVotes(ctx context.Context, drafts []*models.RuleSettingDraft) error {
	if len(drafts) == 0 {
		return nil
	}
	byID := make(map[string]*models.RuleSettingDraft, len(drafts))
	ids := make([]string, 0, len(drafts))
	for _, d := range drafts {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	rows, err := q.ex.QueryContext(ctx, `
		SELECT draft_id, identity, approval_blob, auth_blob, approved_at
		FROM rule_draft_approvals WHERE draft_id = ANY($1) ORDER BY seq
	`, pq.Array(ids))
	if err != nil {
		return mapErr(fmt.Errorf("load approvals: %w", err))
	}
	for rows.Next() {
		var draftID string
		var a models.Approval
		if err := rows.Scan(&draftID, &a.Identity, &a.ApprovalBlob, &a.AuthBlob, &a.ApprovedAt); err != nil {
			rows.Close()
			return fmt.Errorf("scan approval: %w", err)
		}
		d := byID[draftID]
		d.Approvals = append(d.Approvals, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate approvals: %w", err)
	}

	rows, err = q.ex.QueryContext(ctx, `
		SELECT draft_id, identity, reason, rejected_at
		FROM rule_draft_rejections WHERE draft_id = ANY($1) ORDER BY seq
	`, pq.Array(ids))
	if err != nil {
		return mapErr(fmt.Errorf("load rejections: %w", err))
	}
	defer rows.Close()
	for rows.Next() {
		var draftID string
		var r models.Rejection
		if err := rows.Scan(&draftID, &r.Identity, &r.Reason, &r.RejectedAt); err != nil {
			return fmt.Errorf("scan rejection: %w", err)
		}
		d := byID[draftID]
		d.Rejections = append(d.Rejections, r)
	}
	return rows.Err()
}

const configurationColumns = `version, previous_version, settings, cert, digest, draft_id, committed_by, committed_at`

func (q queries) latestConfiguration(ctx context.Context) (*models.CommittedRules, error) {
	row := q.ex.QueryRowContext(ctx, `SELECT `+configurationColumns+` FROM rule_configurations ORDER BY version DESC LIMIT 1`)
	return scanConfiguration(row)
}

func (q queries) configurationVersion(ctx context.Context, version int64) (*models.CommittedRules, error) {
	row := q.ex.QueryRowContext(ctx, `SELECT `+configurationColumns+` FROM rule_configurations WHERE version = $1`, version)
	return scanConfiguration(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (*models.RuleSettingDraft, error) {
	var (
		d                  models.RuleSettingDraft
		target             string
		proposed, previous []byte
		expiry             sql.NullTime
	)
	err := row.Scan(&d.ID, &target, &proposed, &previous, &d.PreviousCert,
		&d.PreviousVersion, &d.ProposedBy, &d.CreatedAt, &expiry)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, mapErr(fmt.Errorf("scan draft: %w", err))
	}
	d.Target = models.Target(target)
	if expiry.Valid {
		d.Expiry = expiry.Time
	}
	if err := json.Unmarshal(proposed, &d.ProposedRules); err != nil {
		return nil, fmt.Errorf("decode proposed rules of %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(previous, &d.PreviousRuleSetting); err != nil {
		return nil, fmt.Errorf("decode previous rules of %s: %w", d.ID, err)
	}
	return &d, nil
}

func scanConfiguration(row scanner) (*models.CommittedRules, error) {
	var (
		c        models.CommittedRules
		settings []byte
	)
	err := row.Scan(&c.Version, &c.PreviousVersion, &settings, &c.Cert, &c.Digest,
		&c.DraftID, &c.CommittedBy, &c.CommittedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, mapErr(fmt.Errorf("scan rule configuration: %w", err))
	}
	if err := json.Unmarshal(settings, &c.Settings); err != nil {
		return nil, fmt.Errorf("decode settings of version %d: %w", c.Version, err)
	}
	return &c, nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, sentinel.ErrNotFound)
	}
	return nil
}

// mapErr turns driver failures into sentinels. Unique violations become
// conflicts, context expiry becomes a timeout and connection loss becomes
// unavailable.
func mapErr(err error) error {
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation:
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pqErr.Constraint)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "rule store operation timed out")
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	default:
		return err
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func identityKey(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
