package treasury_test

import (
	"context"
	"database/sql"
	"ms-raffle/internal/models"
	"ms-raffle/internal/treasury"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func setupTreasury(t *testing.T) (*treasury.Treasury, *bun.DB) {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Raffle)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Transfer)(nil)))

	return treasury.NewTreasury(bunDB), bunDB
}

func insertTransfer(t *testing.T, db *bun.DB, id string, raffleID int64, kind string, amount int64) {
	t.Helper()
	transfer := &models.Transfer{
		ID:           id,
		RaffleID:     raffleID,
		Kind:         kind,
		Counterparty: "0xSomeone",
		Amount:       amount,
	}
	_, err := db.NewInsert().Model(transfer).Exec(context.Background())
	require.NoError(t, err)
}

func TestCustodyBalance(t *testing.T) {
	tr, db := setupTreasury(t)

	balance, err := tr.CustodyBalance()
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	insertTransfer(t, db, "txn_1", 1, models.TransferDeposit, 400)
	insertTransfer(t, db, "txn_2", 2, models.TransferDeposit, 300)
	insertTransfer(t, db, "txn_3", 1, models.TransferPrize, 390)
	insertTransfer(t, db, "txn_4", 1, models.TransferFee, 10)

	balance, err = tr.CustodyBalance()
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)
}

func TestSettledFor(t *testing.T) {
	tr, db := setupTreasury(t)

	insertTransfer(t, db, "txn_1", 1, models.TransferDeposit, 400)
	insertTransfer(t, db, "txn_2", 1, models.TransferPrize, 390)
	insertTransfer(t, db, "txn_3", 1, models.TransferFee, 10)
	insertTransfer(t, db, "txn_4", 2, models.TransferRefund, 100)

	settled, err := tr.SettledFor(1)
	require.NoError(t, err)
	assert.Equal(t, int64(400), settled)

	settled, err = tr.SettledFor(2)
	require.NoError(t, err)
	assert.Equal(t, int64(100), settled)
}

func TestOutstandingLiability(t *testing.T) {
	tr, db := setupTreasury(t)

	raffles := []*models.Raffle{
		{Creator: "0xA", Description: "one", EntryPrice: 100, EndTime: time.Now(), Pool: 400, Status: models.StatusClosed, CreatedAt: time.Now()},
		{Creator: "0xB", Description: "two", EntryPrice: 100, EndTime: time.Now(), Pool: 300, Status: models.StatusActive, CreatedAt: time.Now()},
	}
	for _, r := range raffles {
		_, err := db.NewInsert().Model(r).Exec(context.Background())
		require.NoError(t, err)
	}

	insertTransfer(t, db, "txn_1", raffles[0].ID, models.TransferDeposit, 400)
	insertTransfer(t, db, "txn_2", raffles[1].ID, models.TransferDeposit, 300)

	// Nothing settled yet: full pools outstanding.
	liability, err := tr.OutstandingLiability()
	require.NoError(t, err)
	assert.Equal(t, int64(700), liability)

	// Settling the first raffle's pool removes it from the liability.
	insertTransfer(t, db, "txn_3", raffles[0].ID, models.TransferPrize, 390)
	insertTransfer(t, db, "txn_4", raffles[0].ID, models.TransferFee, 10)

	liability, err = tr.OutstandingLiability()
	require.NoError(t, err)
	assert.Equal(t, int64(300), liability)
}
