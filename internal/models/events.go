package models

import "time"

// Event DTOs published to Kafka for off-chain indexing. Each is emitted
// exactly once per triggering transition.

type RaffleCreatedEvent struct {
	RaffleID    int64     `json:"raffle_id"`
	Creator     string    `json:"creator"`
	Description string    `json:"description"`
	EntryPrice  int64     `json:"entry_price"`
	MaxEntries  int64     `json:"max_entries"`
	MinEntries  int64     `json:"min_entries"`
	EndTime     time.Time `json:"end_time"`
}

type EntriesPurchasedEvent struct {
	RaffleID  int64  `json:"raffle_id"`
	Buyer     string `json:"buyer"`
	Quantity  int64  `json:"quantity"`
	TotalPaid int64  `json:"total_paid"`
}

type WinnerSelectedEvent struct {
	RaffleID    int64  `json:"raffle_id"`
	Winner      string `json:"winner"`
	PrizeAmount int64  `json:"prize_amount"`
	FeeAmount   int64  `json:"fee_amount"`
	RequestID   string `json:"request_id"`
}

type RaffleCancelledEvent struct {
	RaffleID int64  `json:"raffle_id"`
	Reason   string `json:"reason"`
}

type RefundIssuedEvent struct {
	RaffleID int64  `json:"raffle_id"`
	Claimant string `json:"claimant"`
	Amount   int64  `json:"amount"`
}
