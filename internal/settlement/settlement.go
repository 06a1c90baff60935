package settlement

import (
	"fmt"
	"ms-raffle/internal/models"
	"ms-raffle/internal/utils"
)

// Payer executes an external funds transfer out of custody. Implementations
// must return an error on any transfer that did not demonstrably complete;
// settlement never marks work done against an unconfirmed payout.
type Payer interface {
	Pay(recipient string, amount int64) error
}

// WinnerIndex maps an external random value onto the entry sequence. Pure
// function of its inputs; entryCount is the snapshot captured when the draw
// was requested, never a re-read of the ledger.
func WinnerIndex(randomValue uint64, entryCount int64) int64 {
	return int64(randomValue % uint64(entryCount))
}

// Fee is the protocol cut in basis points, integer arithmetic truncated
// toward zero. Pools smaller than 10000/feeBps yield a zero fee.
func Fee(pool, feeBps int64) int64 {
	return pool * feeBps / 10000
}

// Prize is what the winner receives. Fee(pool)+Prize(pool) == pool exactly.
func Prize(pool, fee int64) int64 {
	return pool - fee
}

// Engine performs fee math and builds the transfer plans the state machine
// commits. FeeBps is fixed at construction; there is no runtime mutation.
type Engine struct {
	FeeBps       int64
	FeeRecipient string
	Payer        Payer
}

func NewEngine(feeBps int64, feeRecipient string, payer Payer) (*Engine, error) {
	if feeBps < 0 || feeBps > 1000 {
		return nil, fmt.Errorf("fee bps out of range [0,1000]: %d", feeBps)
	}
	return &Engine{FeeBps: feeBps, FeeRecipient: feeRecipient, Payer: payer}, nil
}

// Settle builds the payout plan for a finalized draw: the ledger rows to
// record and the external transfers to execute. The pay func runs last,
// inside the caller's transaction, so a failed transfer blocks finalization
// instead of leaving it marked done with unpaid funds.
func (e *Engine) Settle(raffle *models.Raffle, winner string) (transfers []*models.Transfer, pay func() error, fee, prize int64) {
	fee = Fee(raffle.Pool, e.FeeBps)
	prize = Prize(raffle.Pool, fee)

	transfers = []*models.Transfer{
		{
			ID:           utils.GenerateTransferID(),
			RaffleID:     raffle.ID,
			Kind:         models.TransferPrize,
			Counterparty: winner,
			Amount:       prize,
		},
		{
			ID:           utils.GenerateTransferID(),
			RaffleID:     raffle.ID,
			Kind:         models.TransferFee,
			Counterparty: e.FeeRecipient,
			Amount:       fee,
		},
	}

	pay = func() error {
		if err := e.Payer.Pay(winner, prize); err != nil {
			return fmt.Errorf("prize payout: %w", err)
		}
		if fee > 0 {
			if err := e.Payer.Pay(e.FeeRecipient, fee); err != nil {
				return fmt.Errorf("fee payout: %w", err)
			}
		}
		return nil
	}
	return transfers, pay, fee, prize
}

// Refund builds the per-claimant refund plan for a cancelled raffle:
// entryCount * entryPrice, paid once.
func (e *Engine) Refund(raffle *models.Raffle, claimant string, entryCount int64) (claim *models.RefundClaim, transfer *models.Transfer, pay func() error, amount int64) {
	amount = entryCount * raffle.EntryPrice

	claim = &models.RefundClaim{
		RaffleID: raffle.ID,
		Claimant: claimant,
		Amount:   amount,
	}
	transfer = &models.Transfer{
		ID:           utils.GenerateTransferID(),
		RaffleID:     raffle.ID,
		Kind:         models.TransferRefund,
		Counterparty: claimant,
		Amount:       amount,
	}
	pay = func() error {
		if err := e.Payer.Pay(claimant, amount); err != nil {
			return fmt.Errorf("refund payout: %w", err)
		}
		return nil
	}
	return claim, transfer, pay, amount
}
