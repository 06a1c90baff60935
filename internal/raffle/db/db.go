package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"ms-raffle/internal/models"
	"time"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	Bun *bun.DB
}

// ---------------- RAFFLES ----------------

// CreateRaffle inserts a new record and fills in the assigned id. Ids come
// from the autoincrement column, so they are monotonic and never reused.
func (d *DB) CreateRaffle(raffle *models.Raffle) error {
	_, err := d.Bun.NewInsert().
		Model(raffle).
		Returning("id").
		Exec(context.Background())
	return err
}

func (d *DB) GetRaffleByID(id int64) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffle).
		Where("id = ?", id).
		Limit(1).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &raffle, nil
}

// UpdateRaffle persists the mutable fields. Identity fields never change
// after creation so they are not in the column list.
func (d *DB) UpdateRaffle(raffle *models.Raffle) error {
	_, err := d.Bun.NewUpdate().
		Model(raffle).
		Column("entries_sold", "pool", "winner", "status", "random_request_id").
		Where("id = ?", raffle.ID).
		Exec(context.Background())
	return err
}

func (d *DB) CountRaffles() (int64, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.Raffle)(nil)).
		Count(context.Background())
	return int64(count), err
}

func (d *DB) ListRaffleIDs(status *models.RaffleStatus) ([]int64, error) {
	var ids []int64
	q := d.Bun.NewSelect().
		Model((*models.Raffle)(nil)).
		Column("id").
		Order("id ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	err := q.Scan(context.Background(), &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListDueActive returns Active raffles whose deadline has passed, for the
// close sweep.
func (d *DB) ListDueActive(now time.Time) ([]*models.Raffle, error) {
	var raffles []*models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffles).
		Where("status = ?", models.StatusActive).
		Where("end_time <= ?", now).
		Order("id ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return raffles, nil
}

// ---------------- ENTRY LEDGER ----------------

// RecordPurchase appends quantity entries for buyer and bumps the raffle
// counters in one transaction, together with the custody deposit row.
// Preconditions (Active, deadline, capacity, exact payment) are the caller's.
func (d *DB) RecordPurchase(raffle *models.Raffle, buyer string, quantity int64, deposit *models.Transfer) error {
	ctx := context.Background()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		entries := make([]models.Entry, quantity)
		for i := int64(0); i < quantity; i++ {
			entries[i] = models.Entry{
				RaffleID:    raffle.ID,
				Position:    raffle.EntriesSold + i,
				Participant: buyer,
			}
		}
		if _, err := tx.NewInsert().Model(&entries).Exec(ctx); err != nil {
			return fmt.Errorf("append entries: %w", err)
		}

		raffle.EntriesSold += quantity
		raffle.Pool += quantity * raffle.EntryPrice
		if _, err := tx.NewUpdate().
			Model(raffle).
			Column("entries_sold", "pool").
			Where("id = ?", raffle.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update raffle counters: %w", err)
		}

		if _, err := tx.NewInsert().Model(deposit).Exec(ctx); err != nil {
			return fmt.Errorf("record deposit: %w", err)
		}
		return nil
	})
}

func (d *DB) EntryCount(raffleID int64) (int64, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.Entry)(nil)).
		Where("raffle_id = ?", raffleID).
		Count(context.Background())
	return int64(count), err
}

// EntryAt returns the participant holding the 0-based position in the
// raffle's entry sequence.
func (d *DB) EntryAt(raffleID, index int64) (string, error) {
	var participant string
	err := d.Bun.NewSelect().
		Model((*models.Entry)(nil)).
		Column("participant").
		Where("raffle_id = ?", raffleID).
		Where("position = ?", index).
		Limit(1).
		Scan(context.Background(), &participant)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return participant, nil
}

func (d *DB) CountFor(raffleID int64, participant string) (int64, error) {
	count, err := d.Bun.NewSelect().
		Model((*models.Entry)(nil)).
		Where("raffle_id = ?", raffleID).
		Where("participant = ?", participant).
		Count(context.Background())
	return int64(count), err
}

// Participants returns the full ordered entry sequence, one element per entry.
func (d *DB) Participants(raffleID int64) ([]string, error) {
	var participants []string
	err := d.Bun.NewSelect().
		Model((*models.Entry)(nil)).
		Column("participant").
		Where("raffle_id = ?", raffleID).
		Order("position ASC").
		Scan(context.Background(), &participants)
	if err != nil {
		return nil, err
	}
	return participants, nil
}

// ---------------- SETTLEMENT ----------------

// FinalizeRaffle commits the winner, the Finalized status and the payout
// ledger rows in one transaction, invoking the external transfer before
// commit. A failed transfer rolls everything back so the raffle stays Closed
// and a finalize retry remains possible.
func (d *DB) FinalizeRaffle(raffle *models.Raffle, transfers []*models.Transfer, pay func() error) error {
	ctx := context.Background()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model(raffle).
			Column("winner", "status").
			Where("id = ?", raffle.ID).
			Where("status = ?", models.StatusClosed).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("finalize raffle: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("finalize raffle %d: %w", raffle.ID, ErrNotFound)
		}

		for _, transfer := range transfers {
			if transfer.Amount == 0 {
				continue
			}
			if _, err := tx.NewInsert().Model(transfer).Exec(ctx); err != nil {
				return fmt.Errorf("record transfer %s: %w", transfer.Kind, err)
			}
		}

		return pay()
	})
}

// SettleRefund records the claim and the refund transfer, then pays. The
// claim insert fails on a duplicate key, so a racing second claim cannot pay
// twice.
func (d *DB) SettleRefund(claim *models.RefundClaim, transfer *models.Transfer, pay func() error) error {
	ctx := context.Background()
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(claim).Exec(ctx); err != nil {
			return fmt.Errorf("record refund claim: %w", err)
		}
		if _, err := tx.NewInsert().Model(transfer).Exec(ctx); err != nil {
			return fmt.Errorf("record refund transfer: %w", err)
		}
		return pay()
	})
}

func (d *DB) GetRefundClaim(raffleID int64, claimant string) (*models.RefundClaim, error) {
	var claim models.RefundClaim
	err := d.Bun.NewSelect().
		Model(&claim).
		Where("raffle_id = ?", raffleID).
		Where("claimant = ?", claimant).
		Limit(1).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}
