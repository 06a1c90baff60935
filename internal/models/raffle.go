package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RaffleStatus mirrors the on-wire status enum (0..3).
type RaffleStatus int

const (
	StatusActive RaffleStatus = iota
	StatusClosed
	StatusFinalized
	StatusCancelled
)

func (s RaffleStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusClosed:
		return "closed"
	case StatusFinalized:
		return "finalized"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Raffle is the system-of-record row for one raffle. Records are never
// deleted; finished raffles stay queryable for history.
type Raffle struct {
	bun.BaseModel `bun:"table:raffles"`

	ID              int64        `bun:"id,pk,autoincrement" json:"id"`
	Creator         string       `bun:"creator,notnull" json:"creator"`
	Description     string       `bun:"description,notnull" json:"description"`
	EntryPrice      int64        `bun:"entry_price,notnull" json:"entryPrice"`
	MaxEntries      int64        `bun:"max_entries,notnull" json:"maxEntries"`
	MinEntries      int64        `bun:"min_entries,notnull" json:"minEntries"`
	EndTime         time.Time    `bun:"end_time,notnull" json:"endTime"`
	EntriesSold     int64        `bun:"entries_sold,notnull,default:0" json:"entriesSold"`
	Pool            int64        `bun:"pool,notnull,default:0" json:"pool"`
	Winner          string       `bun:"winner,nullzero" json:"winner,omitempty"`
	Status          RaffleStatus `bun:"status,notnull,default:0" json:"status"`
	RandomRequestID string       `bun:"random_request_id,nullzero" json:"randomRequestId,omitempty"`
	CreatedAt       time.Time    `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// Entry is one unit of participation. The (raffle_id, position) sequence is
// dense and 0-based; it is the sampling domain for the draw, so a buyer with
// k of n rows wins with probability k/n.
type Entry struct {
	bun.BaseModel `bun:"table:entries"`

	ID          int64     `bun:"id,pk,autoincrement" json:"-"`
	RaffleID    int64     `bun:"raffle_id,notnull" json:"raffleId"`
	Position    int64     `bun:"position,notnull" json:"position"`
	Participant string    `bun:"participant,notnull" json:"participant"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// RefundClaim marks a participant as refunded for a cancelled raffle.
// One row per (raffle, claimant); a second claim finds the row and pays zero.
type RefundClaim struct {
	bun.BaseModel `bun:"table:refund_claims"`

	RaffleID  int64     `bun:"raffle_id,pk" json:"raffleId"`
	Claimant  string    `bun:"claimant,pk" json:"claimant"`
	Amount    int64     `bun:"amount,notnull" json:"amount"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

// RandomnessRequest correlates one outbound oracle request to its raffle.
// EntryCount is snapshotted when the draw is requested; the draw never re-reads
// the ledger size.
type RandomnessRequest struct {
	bun.BaseModel `bun:"table:randomness_requests"`

	RequestID   string     `bun:"request_id,pk" json:"requestId"`
	RaffleID    int64      `bun:"raffle_id,notnull,unique" json:"raffleId"`
	EntryCount  int64      `bun:"entry_count,notnull" json:"entryCount"`
	Status      string     `bun:"status,notnull" json:"status"` // pending, fulfilled, expired
	RandomValue uint64     `bun:"random_value,nullzero" json:"randomValue,omitempty"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
	FulfilledAt *time.Time `bun:"fulfilled_at,nullzero" json:"fulfilledAt,omitempty"`
}

const (
	RequestPending   = "pending"
	RequestFulfilled = "fulfilled"
	RequestExpired   = "expired"
)

// Transfer is one row of the custody ledger. Deposits add to the aggregate
// custody balance, the other kinds draw it down. Per-raffle rows keep the
// pools separable even though custody is one balance.
type Transfer struct {
	bun.BaseModel `bun:"table:transfers"`

	ID           string    `bun:"id,pk" json:"id"`
	RaffleID     int64     `bun:"raffle_id,notnull" json:"raffleId"`
	Kind         string    `bun:"kind,notnull" json:"kind"` // deposit, prize, fee, refund
	Counterparty string    `bun:"counterparty,notnull" json:"counterparty"`
	Amount       int64     `bun:"amount,notnull" json:"amount"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"createdAt"`
}

const (
	TransferDeposit = "deposit"
	TransferPrize   = "prize"
	TransferFee     = "fee"
	TransferRefund  = "refund"
)
