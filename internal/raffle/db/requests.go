package db

import (
	"context"
	"database/sql"
	"errors"
	"ms-raffle/internal/models"
	"time"
)

// ---------------- RANDOMNESS REQUESTS ----------------

func (d *DB) CreateRandomnessRequest(req *models.RandomnessRequest) error {
	_, err := d.Bun.NewInsert().Model(req).Exec(context.Background())
	return err
}

func (d *DB) GetRequestByID(requestID string) (*models.RandomnessRequest, error) {
	var req models.RandomnessRequest
	err := d.Bun.NewSelect().
		Model(&req).
		Where("request_id = ?", requestID).
		Limit(1).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (d *DB) GetPendingRequestByRaffle(raffleID int64) (*models.RandomnessRequest, error) {
	var req models.RandomnessRequest
	err := d.Bun.NewSelect().
		Model(&req).
		Where("raffle_id = ?", raffleID).
		Where("status = ?", models.RequestPending).
		Limit(1).
		Scan(context.Background())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// MarkRequestFulfilled flips a pending request to fulfilled and stores the
// random value. Returns false if the request was not pending anymore, which
// is how a duplicate or late fulfillment is detected without changing state.
func (d *DB) MarkRequestFulfilled(requestID string, randomValue uint64) (bool, error) {
	now := time.Now()
	res, err := d.Bun.NewUpdate().
		Model((*models.RandomnessRequest)(nil)).
		Set("status = ?", models.RequestFulfilled).
		Set("random_value = ?", randomValue).
		Set("fulfilled_at = ?", now).
		Where("request_id = ?", requestID).
		Where("status = ?", models.RequestPending).
		Exec(context.Background())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkRequestExpired flips a pending request to expired. Returns false if a
// fulfillment already won the race.
func (d *DB) MarkRequestExpired(requestID string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.RandomnessRequest)(nil)).
		Set("status = ?", models.RequestExpired).
		Where("request_id = ?", requestID).
		Where("status = ?", models.RequestPending).
		Exec(context.Background())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) DeleteRequest(requestID string) error {
	_, err := d.Bun.NewDelete().
		Model((*models.RandomnessRequest)(nil)).
		Where("request_id = ?", requestID).
		Exec(context.Background())
	return err
}
