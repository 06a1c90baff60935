package treasury

import (
	"context"
	"fmt"
	"ms-raffle/internal/models"

	"github.com/uptrace/bun"
)

// Treasury reads the custody ledger. Funds for all raffles sit in one
// aggregate custody balance, but every row is tagged with its raffle, so the
// pools never commingle in accounting.
type Treasury struct {
	Bun *bun.DB
}

func NewTreasury(db *bun.DB) *Treasury {
	return &Treasury{Bun: db}
}

// CustodyBalance is deposits minus everything paid out.
func (t *Treasury) CustodyBalance() (int64, error) {
	var deposits, outflows int64

	err := t.Bun.NewSelect().
		Model((*models.Transfer)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("kind = ?", models.TransferDeposit).
		Scan(context.Background(), &deposits)
	if err != nil {
		return 0, fmt.Errorf("sum deposits: %w", err)
	}

	err = t.Bun.NewSelect().
		Model((*models.Transfer)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("kind != ?", models.TransferDeposit).
		Scan(context.Background(), &outflows)
	if err != nil {
		return 0, fmt.Errorf("sum outflows: %w", err)
	}

	return deposits - outflows, nil
}

// SettledFor is the total already paid out of one raffle's pool.
func (t *Treasury) SettledFor(raffleID int64) (int64, error) {
	var settled int64
	err := t.Bun.NewSelect().
		Model((*models.Transfer)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("raffle_id = ?", raffleID).
		Where("kind != ?", models.TransferDeposit).
		Scan(context.Background(), &settled)
	return settled, err
}

// OutstandingLiability sums pool-settled across all raffles. The invariant
// audited by the scheduler is liability <= custody balance.
func (t *Treasury) OutstandingLiability() (int64, error) {
	var pools int64
	err := t.Bun.NewSelect().
		Model((*models.Raffle)(nil)).
		ColumnExpr("COALESCE(SUM(pool), 0)").
		Scan(context.Background(), &pools)
	if err != nil {
		return 0, fmt.Errorf("sum pools: %w", err)
	}

	var settled int64
	err = t.Bun.NewSelect().
		Model((*models.Transfer)(nil)).
		ColumnExpr("COALESCE(SUM(amount), 0)").
		Where("kind != ?", models.TransferDeposit).
		Scan(context.Background(), &settled)
	if err != nil {
		return 0, fmt.Errorf("sum settled: %w", err)
	}

	return pools - settled, nil
}
