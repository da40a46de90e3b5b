package cycle

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-fin/steward/internal/database"
	"github.com/steward-fin/steward/internal/domain"
)

func newLogRepo(t *testing.T) *LogRepository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "core.db"),
		Profile: database.ProfileLedger,
		Name:    "core",
		Schema:  database.CoreSchema,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLogRepository(db.Conn(), zerolog.Nop())
}

func TestInsert_FailedEntryWithSparseFields(t *testing.T) {
	repo := newLogRepo(t)
	now := time.Now().UTC()

	entry := domain.CycleLog{
		ID:         uuid.NewString(),
		Status:     domain.CycleFailed,
		Error:      "market advance failed: feed down",
		StartedAt:  now,
		FinishedAt: now.Add(time.Second),
	}
	require.NoError(t, repo.Insert(entry))

	got, err := repo.Latest()
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, domain.CycleFailed, got.Status)
	assert.Equal(t, entry.Error, got.Error)
	assert.Nil(t, got.Snapshot)
	assert.Nil(t, got.Signal)
	assert.Nil(t, got.Plan)
	assert.Nil(t, got.Transaction)
	assert.Nil(t, got.Reward)
}

func TestInsert_FullEntryRoundTrip(t *testing.T) {
	repo := newLogRepo(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	entry := domain.CycleLog{
		ID:     uuid.NewString(),
		Status: domain.CycleLogged,
		Snapshot: &domain.FinancialSnapshot{
			Cash: 12000, EmergencyBuffer: 9000, BufferOK: true,
			RiskTier: domain.RiskBalanced, CapturedAt: now,
		},
		Signal: &domain.MarketSignal{
			Symbol: "INDEX", Trend: domain.TrendUp, Volatility: 0.015,
			LastPrice: 104.2, Confidence: 0.75, GeneratedAt: now,
		},
		Plan: &domain.ActionPlan{
			Kind: domain.ActionInvestSIP, Amount: 240, Symbol: "INDEX",
			Rationale: "scheduled SIP contribution",
		},
		Transaction: &domain.Transaction{
			ID: uuid.NewString(), Kind: domain.TxKindInvestSIP,
			Status: domain.TxFilled, Symbol: "INDEX",
			Amount: 240, BalanceAfter: 11760, ExecutedAt: now,
		},
		Reward:     &domain.RewardScore{Growth: 0.002, Stability: 0.9, Composite: 0.31},
		StartedAt:  now,
		FinishedAt: now.Add(120 * time.Millisecond),
	}
	require.NoError(t, repo.Insert(entry))

	logs, err := repo.List(5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	got := logs[0]

	require.NotNil(t, got.Snapshot)
	assert.InDelta(t, 12000, got.Snapshot.Cash, 1e-9)
	require.NotNil(t, got.Signal)
	assert.Equal(t, domain.TrendUp, got.Signal.Trend)
	require.NotNil(t, got.Plan)
	assert.Equal(t, domain.ActionInvestSIP, got.Plan.Kind)
	require.NotNil(t, got.Transaction)
	assert.InDelta(t, 11760, got.Transaction.BalanceAfter, 1e-9)
	require.NotNil(t, got.Reward)
	assert.InDelta(t, 0.31, got.Reward.Composite, 1e-9)
	assert.Equal(t, entry.StartedAt, got.StartedAt)
}

func TestCount(t *testing.T) {
	repo := newLogRepo(t)

	n, err := repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(domain.CycleLog{
			ID: uuid.NewString(), Status: domain.CycleLogged,
			StartedAt: now, FinishedAt: now,
		}))
	}

	n, err = repo.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
