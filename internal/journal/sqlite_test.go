package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinbot/internal/game"
	"coinbot/internal/store"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := newTestSQLite(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, []game.JournalEntry{
		{TxGroup: "g1", Op: "pay", UserID: "a", WalletDelta: -30, At: at},
		{TxGroup: "g1", Op: "pay", UserID: "b", WalletDelta: 30, At: at},
	}))
	require.NoError(t, j.Record(ctx, []game.JournalEntry{
		{TxGroup: "g2", Op: "deposit", UserID: "a", WalletDelta: -50, BankDelta: 50, At: at.Add(time.Minute)},
	}))
	require.NoError(t, j.Record(ctx, nil))

	got, err := j.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "deposit", got[0].Op)
	assert.Equal(t, "pay", got[1].Op)
	assert.Equal(t, int64(50), got[0].BankDelta)
	assert.True(t, got[1].At.Equal(at))
	assert.Len(t, got[0].ID, 26)

	all, err := j.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	wallet, bank, err := j.Net(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(-80), wallet)
	assert.Equal(t, int64(50), bank)
}

func TestJournalFollowsEngineCommits(t *testing.T) {
	j := newTestSQLite(t)
	ctx := context.Background()
	svc, err := game.Open(ctx, game.NewDocumentStore(store.NewMemoryBlob()), nil, game.WithJournal(j))
	require.NoError(t, err)

	_, err = svc.Pay(ctx, game.Player("a"), game.Player("b"), 40)
	require.NoError(t, err)
	_, err = svc.Pay(ctx, game.Player("a"), game.Player("b"), 1000)
	require.Error(t, err)

	wallet, _, err := j.Net(ctx, "a")
	require.NoError(t, err)
	a, err := svc.Balance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a.Wallet, wallet, "journal replays to the live wallet")

	entries, err := j.Recent(ctx, "b", 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(140), entries[0].WalletDelta)
}
