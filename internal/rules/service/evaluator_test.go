package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quorum/internal/rules/evaluator"
	"quorum/internal/rules/metrics"
	"quorum/internal/rules/models"
	"quorum/internal/rules/ports/mocks"
	"quorum/internal/rules/store"
	"quorum/internal/rules/store/memory"
	dErrors "quorum/pkg/domain-errors"
	"quorum/pkg/platform/audit"
)

func seeded(t *testing.T, container models.RulesContainer) *memory.Store {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	err := st.RunInTx(ctx, models.TargetAuthorization, func(tx store.Tx) error {
		return tx.AddRuleConfiguration(ctx, &models.CommittedRules{
			Version:  1,
			Settings: models.RuleSettings{ID: "rules", RulesContainer: container},
			Cert:     "cert",
		})
	})
	require.NoError(t, err)
	return st
}

func realmRules() models.RulesContainer {
	return models.RulesContainer{}.
		WithSection(models.TargetAuthorization, largeAmountRule(2)).
		WithSection(models.ValidationTarget("treasurer"), feeCap())
}

func signed(ids ...string) []models.Approval {
	out := make([]models.Approval, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Approval{Identity: id})
	}
	return out
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	e := NewEvaluator(seeded(t, realmRules()), WithEvaluatorMetrics(m))

	t.Run("pending until threshold", func(t *testing.T) {
		got, err := e.Evaluate(ctx, models.Record{models.FieldAmount: "5000", models.FieldFee: "10"}, signed("alice"), []string{"treasurer"})
		require.NoError(t, err)
		assert.Equal(t, evaluator.OutcomePendingApprovals, got.Outcome)
		assert.Equal(t, int64(1), got.Version)
		require.NotNil(t, got.Authorization)
		assert.Equal(t, 1, got.Authorization.Needed)
	})

	t.Run("approved with distinct approvers", func(t *testing.T) {
		got, err := e.Evaluate(ctx, models.Record{models.FieldAmount: "5000"}, signed("alice", "ALICE", "bob"), nil)
		require.NoError(t, err)
		assert.Equal(t, evaluator.OutcomeApproved, got.Outcome)
		assert.Equal(t, []string{"alice", "bob"}, got.Authorization.Approvers)
	})

	t.Run("validation failure skips authorization", func(t *testing.T) {
		got, err := e.Evaluate(ctx, models.Record{models.FieldAmount: "5000", models.FieldFee: "90"}, signed("alice", "bob"), []string{"treasurer", "treasurer", "clerk"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeValidationFailed, got.Outcome)
		assert.Equal(t, []string{"treasurer"}, got.FailedRoles)
		assert.Nil(t, got.Authorization)
	})

	t.Run("no matching rule denies", func(t *testing.T) {
		_, err := e.Evaluate(ctx, models.Record{models.FieldAmount: "10"}, nil, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNoMatchingAuthorizationRule))
	})

	t.Run("unknown field is rejected", func(t *testing.T) {
		_, err := e.Evaluate(ctx, models.Record{"Colour": "red"}, nil, nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Decisions.WithLabelValues(string(OutcomeDenied))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Decisions.WithLabelValues(string(OutcomeValidationFailed))))
}

func TestEvaluateWithoutCommittedRules(t *testing.T) {
	e := NewEvaluator(memory.New())
	_, err := e.Evaluate(context.Background(), models.Record{models.FieldAmount: "1"}, nil, nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNoMatchingAuthorizationRule))
}

func TestEvaluateEmitsAudit(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockAuditPublisher(ctrl)
	e := NewEvaluator(seeded(t, realmRules()), WithEvaluatorAuditPublisher(pub))

	pub.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, ev audit.Event) error {
		assert.Equal(t, string(audit.EventAuthorizationEvaluated), ev.Action)
		assert.Equal(t, string(evaluator.OutcomeApproved), ev.Decision)
		return nil
	})

	_, err := e.Evaluate(context.Background(), models.Record{models.FieldAmount: "2000"}, signed("a", "b"), nil)
	require.NoError(t, err)
}
