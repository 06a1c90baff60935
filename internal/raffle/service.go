package raffle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/randomness"
	raffledb "ms-raffle/internal/raffle/db"
	"ms-raffle/internal/settlement"
	"ms-raffle/internal/utils"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// Creation bounds. A raffle shorter than an hour can't realistically
	// sell, and one longer than 30 days parks funds for too long.
	MinDuration = time.Hour
	MaxDuration = 30 * 24 * time.Hour

	CancelReasonByCreator   = "cancelled by creator"
	CancelReasonMinimum     = "minimum entries not met"
	CancelReasonDrawTimeout = "draw timed out"
)

type DBLayer interface {
	CreateRaffle(raffle *models.Raffle) error
	GetRaffleByID(id int64) (*models.Raffle, error)
	UpdateRaffle(raffle *models.Raffle) error
	CountRaffles() (int64, error)
	ListRaffleIDs(status *models.RaffleStatus) ([]int64, error)
	ListDueActive(now time.Time) ([]*models.Raffle, error)

	RecordPurchase(raffle *models.Raffle, buyer string, quantity int64, deposit *models.Transfer) error
	EntryCount(raffleID int64) (int64, error)
	EntryAt(raffleID, index int64) (string, error)
	CountFor(raffleID int64, participant string) (int64, error)
	Participants(raffleID int64) ([]string, error)

	GetRefundClaim(raffleID int64, claimant string) (*models.RefundClaim, error)
	SettleRefund(claim *models.RefundClaim, transfer *models.Transfer, pay func() error) error
	FinalizeRaffle(raffle *models.Raffle, transfers []*models.Transfer, pay func() error) error
}

type LockLayer interface {
	AcquireRaffleLock(raffleID int64, token string) (bool, error)
	ReleaseRaffleLock(raffleID int64, token string) error
	ArmDrawTimeout(raffleID int64, requestID string, ttl time.Duration) error
	DisarmDrawTimeout(raffleID int64) error
}

type Publisher interface {
	Publish(topic string, key string, value []byte) error
}

type Gateway interface {
	Request(raffleID, entryCount int64) (string, error)
	Lookup(requestID string) (*models.RandomnessRequest, error)
	Fulfill(requestID string, randomValue uint64) (*models.RandomnessRequest, error)
	Expire(requestID string) (bool, error)
}

// RaffleService owns the raffle lifecycle. Every mutating call runs under the
// per-raffle lock, so its effects are atomic with respect to other mutations
// on the same raffle.
type RaffleService struct {
	DB         DBLayer
	Lock       LockLayer
	Kafka      Publisher
	Gateway    Gateway
	Settlement *settlement.Engine
	Logger     *logger.Logger

	DrawTimeout time.Duration

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

func NewRaffleService(db DBLayer, lock LockLayer, publisher Publisher, gateway Gateway, engine *settlement.Engine, log *logger.Logger, drawTimeout time.Duration) *RaffleService {
	return &RaffleService{
		DB:          db,
		Lock:        lock,
		Kafka:       publisher,
		Gateway:     gateway,
		Settlement:  engine,
		Logger:      log,
		DrawTimeout: drawTimeout,
		Now:         time.Now,
	}
}

// withLock serializes fn against all other mutations of the same raffle.
func (s *RaffleService) withLock(raffleID int64, fn func() error) error {
	token := uuid.NewString()
	ok, err := s.Lock.AcquireRaffleLock(raffleID, token)
	if err != nil {
		return fmt.Errorf("acquire raffle lock: %w", err)
	}
	if !ok {
		return ErrBusy
	}
	defer func() {
		if err := s.Lock.ReleaseRaffleLock(raffleID, token); err != nil {
			s.Logger.Error("LOCK", fmt.Sprintf("Failed to release lock for raffle %d: %v", raffleID, err))
		}
	}()
	return fn()
}

func (s *RaffleService) publish(topic string, raffleID int64, event interface{}) {
	// A nil publisher means Kafka is disabled; state changes still commit,
	// they just go unannounced.
	if s.Kafka == nil {
		return
	}
	value, err := json.Marshal(event)
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to marshal event for topic %s: %v", topic, err))
		return
	}
	if err := s.Kafka.Publish(topic, strconv.FormatInt(raffleID, 10), value); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Publish error on %s for raffle %d: %v", topic, raffleID, err))
	}
}

// ---------------- WRITE PATH ----------------

type CreateParams struct {
	Description string
	EntryPrice  int64
	MaxEntries  int64
	MinEntries  int64
	Duration    time.Duration
}

func (s *RaffleService) Create(caller string, params CreateParams) (*models.Raffle, error) {
	if caller == "" {
		return nil, validationf("missing caller identity")
	}
	if params.Description == "" {
		return nil, validationf("description must not be empty")
	}
	if params.EntryPrice <= 0 {
		return nil, validationf("entry price must be positive, got %d", params.EntryPrice)
	}
	if params.MaxEntries < 0 || params.MinEntries < 0 {
		return nil, validationf("entry bounds must not be negative")
	}
	if params.MaxEntries > 0 && params.MinEntries > params.MaxEntries {
		return nil, validationf("min entries %d exceeds max entries %d", params.MinEntries, params.MaxEntries)
	}
	if params.Duration < MinDuration || params.Duration > MaxDuration {
		return nil, validationf("duration must be between %s and %s", MinDuration, MaxDuration)
	}

	now := s.Now()
	raffle := &models.Raffle{
		Creator:     caller,
		Description: params.Description,
		EntryPrice:  params.EntryPrice,
		MaxEntries:  params.MaxEntries,
		MinEntries:  params.MinEntries,
		EndTime:     now.Add(params.Duration),
		Status:      models.StatusActive,
		CreatedAt:   now,
	}
	if err := s.DB.CreateRaffle(raffle); err != nil {
		return nil, fmt.Errorf("create raffle: %w", err)
	}

	s.Logger.LogRaffle("CREATE", raffle.ID, fmt.Sprintf("creator=%s price=%d max=%d min=%d end=%s",
		caller, raffle.EntryPrice, raffle.MaxEntries, raffle.MinEntries, raffle.EndTime.Format(time.RFC3339)))

	s.publish(kafka.TopicRaffleCreated, raffle.ID, models.RaffleCreatedEvent{
		RaffleID:    raffle.ID,
		Creator:     raffle.Creator,
		Description: raffle.Description,
		EntryPrice:  raffle.EntryPrice,
		MaxEntries:  raffle.MaxEntries,
		MinEntries:  raffle.MinEntries,
		EndTime:     raffle.EndTime,
	})

	return raffle, nil
}

// Buy sells quantity entries to caller. All-or-nothing: a quantity the
// remaining capacity cannot hold rejects in full, and the payment must match
// quantity*entryPrice exactly.
func (s *RaffleService) Buy(caller string, raffleID, quantity, paid int64) error {
	if quantity < 1 {
		return validationf("quantity must be at least 1, got %d", quantity)
	}

	return s.withLock(raffleID, func() error {
		raffle, err := s.getRaffle(raffleID)
		if err != nil {
			return err
		}

		if raffle.Status != models.StatusActive {
			return guardf("raffle %d is %s, not active", raffleID, raffle.Status)
		}
		if !s.Now().Before(raffle.EndTime) {
			return guardf("raffle %d deadline has passed", raffleID)
		}
		if raffle.MaxEntries > 0 && raffle.EntriesSold+quantity > raffle.MaxEntries {
			return guardf("raffle %d capacity exceeded: %d sold, %d requested, %d max",
				raffleID, raffle.EntriesSold, quantity, raffle.MaxEntries)
		}
		// quantity is caller-controlled and unbounded when maxEntries is 0,
		// so the total must be proven not to wrap before it is trusted.
		if raffle.EntryPrice > 0 && quantity > math.MaxInt64/raffle.EntryPrice {
			return validationf("quantity %d is too large for entry price %d", quantity, raffle.EntryPrice)
		}
		if total := quantity * raffle.EntryPrice; paid != total {
			return validationf("exact payment required: expected %d, got %d", total, paid)
		}

		deposit := &models.Transfer{
			ID:           utils.GenerateTransferID(),
			RaffleID:     raffleID,
			Kind:         models.TransferDeposit,
			Counterparty: caller,
			Amount:       paid,
		}
		if err := s.DB.RecordPurchase(raffle, caller, quantity, deposit); err != nil {
			return fmt.Errorf("record purchase: %w", err)
		}

		s.Logger.LogRaffle("BUY", raffleID, fmt.Sprintf("buyer=%s qty=%d paid=%d sold=%d", caller, quantity, paid, raffle.EntriesSold))

		s.publish(kafka.TopicEntriesPurchased, raffleID, models.EntriesPurchasedEvent{
			RaffleID:  raffleID,
			Buyer:     caller,
			Quantity:  quantity,
			TotalPaid: paid,
		})
		return nil
	})
}

// Close moves a deadline-passed raffle toward its draw. If the minimum was
// met the raffle goes Closed and randomness is requested; if not, the raffle
// fails to Cancelled with refunds open immediately. It is not retried.
func (s *RaffleService) Close(raffleID int64) error {
	return s.withLock(raffleID, func() error {
		raffle, err := s.getRaffle(raffleID)
		if err != nil {
			return err
		}

		if raffle.Status != models.StatusActive {
			return guardf("raffle %d is %s, not active", raffleID, raffle.Status)
		}
		if s.Now().Before(raffle.EndTime) {
			return guardf("raffle %d deadline not reached", raffleID)
		}

		// Zero entries can never draw a winner, so an unsold raffle fails the
		// same way an under-minimum one does.
		if raffle.EntriesSold == 0 || raffle.EntriesSold < raffle.MinEntries {
			return s.cancelLocked(raffle, CancelReasonMinimum)
		}

		requestID, err := s.Gateway.Request(raffleID, raffle.EntriesSold)
		if err != nil {
			return fmt.Errorf("close raffle %d: %w", raffleID, err)
		}

		raffle.Status = models.StatusClosed
		raffle.RandomRequestID = requestID
		if err := s.DB.UpdateRaffle(raffle); err != nil {
			return fmt.Errorf("persist closed raffle: %w", err)
		}

		if err := s.Lock.ArmDrawTimeout(raffleID, requestID, s.DrawTimeout); err != nil {
			s.Logger.Warn("DRAW", fmt.Sprintf("Failed to arm draw timeout for raffle %d: %v", raffleID, err))
		}

		s.Logger.LogRaffle("CLOSE", raffleID, fmt.Sprintf("entries=%d request=%s", raffle.EntriesSold, requestID))
		return nil
	})
}

// Cancel withdraws an unsold raffle. Only the creator may do it and only
// while nothing has been sold; anything else goes through Close.
func (s *RaffleService) Cancel(caller string, raffleID int64) error {
	return s.withLock(raffleID, func() error {
		raffle, err := s.getRaffle(raffleID)
		if err != nil {
			return err
		}

		if raffle.Status != models.StatusActive {
			return guardf("raffle %d is %s, not active", raffleID, raffle.Status)
		}
		if raffle.EntriesSold != 0 {
			return guardf("raffle %d has %d entries sold, cannot cancel", raffleID, raffle.EntriesSold)
		}
		if raffle.Creator != caller {
			return guardf("only the creator may cancel raffle %d", raffleID)
		}

		return s.cancelLocked(raffle, CancelReasonByCreator)
	})
}

// cancelLocked flips a raffle to Cancelled and emits the event. Callers hold
// the raffle lock.
func (s *RaffleService) cancelLocked(raffle *models.Raffle, reason string) error {
	raffle.Status = models.StatusCancelled
	if err := s.DB.UpdateRaffle(raffle); err != nil {
		return fmt.Errorf("persist cancelled raffle: %w", err)
	}

	s.Logger.LogRaffle("CANCEL", raffle.ID, reason)

	s.publish(kafka.TopicRaffleCancelled, raffle.ID, models.RaffleCancelledEvent{
		RaffleID: raffle.ID,
		Reason:   reason,
	})
	return nil
}

// HandleFulfillment is the oracle's re-entry point. The correlation id is
// resolved first so the raffle can be locked before the one-shot fulfillment
// mark is taken; a duplicate or stale delivery is rejected without effect.
func (s *RaffleService) HandleFulfillment(requestID string, randomValue uint64) error {
	req, err := s.Gateway.Lookup(requestID)
	if err != nil {
		return guardf("fulfillment for unknown request %s", requestID)
	}

	return s.withLock(req.RaffleID, func() error {
		raffle, err := s.getRaffle(req.RaffleID)
		if err != nil {
			return err
		}
		if raffle.Status != models.StatusClosed {
			return guardf("raffle %d is %s, not awaiting a draw", raffle.ID, raffle.Status)
		}
		if raffle.RandomRequestID != requestID {
			return guardf("request %s does not match raffle %d", requestID, raffle.ID)
		}

		accepted, err := s.Gateway.Fulfill(requestID, randomValue)
		if err != nil {
			if errors.Is(err, randomness.ErrAlreadyFulfilled) || errors.Is(err, randomness.ErrRequestExpired) {
				return guardf("fulfillment for request %s rejected: %v", requestID, err)
			}
			return err
		}

		s.Logger.LogDraw(requestID, fmt.Sprintf("fulfilled with value %d for raffle %d", randomValue, raffle.ID))

		return s.finalizeLocked(raffle, accepted)
	})
}

// Finalize retries settlement for a Closed raffle whose fulfillment arrived
// but whose payout failed. Idempotent once the raffle is Finalized.
func (s *RaffleService) Finalize(raffleID int64) error {
	return s.withLock(raffleID, func() error {
		raffle, err := s.getRaffle(raffleID)
		if err != nil {
			return err
		}
		if raffle.Status != models.StatusClosed {
			return guardf("raffle %d is %s, nothing to finalize", raffleID, raffle.Status)
		}
		if raffle.RandomRequestID == "" {
			return guardf("raffle %d has no randomness request", raffleID)
		}

		req, err := s.Gateway.Lookup(raffle.RandomRequestID)
		if err != nil {
			return fmt.Errorf("lookup request %s: %w", raffle.RandomRequestID, err)
		}
		if req.Status != models.RequestFulfilled {
			return guardf("request %s is %s, not fulfilled", req.RequestID, req.Status)
		}

		return s.finalizeLocked(raffle, req)
	})
}

// finalizeLocked selects the winner and settles. State mutations and payout
// commit or roll back together: a failed transfer leaves the raffle Closed
// with the fulfilled value retained, so Finalize can be retried.
func (s *RaffleService) finalizeLocked(raffle *models.Raffle, req *models.RandomnessRequest) error {
	// The draw maps the random value over the request-time snapshot. Entries
	// are append-only and sales stop at close, so the ledger must still hold
	// exactly that many rows; anything else means corruption, and drawing
	// over a corrupt ledger could pick the wrong winner.
	ledger, err := s.DB.EntryCount(raffle.ID)
	if err != nil {
		return fmt.Errorf("count entries for raffle %d: %w", raffle.ID, err)
	}
	if ledger != req.EntryCount {
		return fmt.Errorf("entry ledger for raffle %d holds %d rows, draw snapshot expects %d", raffle.ID, ledger, req.EntryCount)
	}

	index := settlement.WinnerIndex(req.RandomValue, req.EntryCount)
	winner, err := s.DB.EntryAt(raffle.ID, index)
	if err != nil {
		return fmt.Errorf("resolve winner at index %d: %w", index, err)
	}

	raffle.Winner = winner
	raffle.Status = models.StatusFinalized

	transfers, pay, fee, prize := s.Settlement.Settle(raffle, winner)
	if err := s.DB.FinalizeRaffle(raffle, transfers, pay); err != nil {
		// Undo the in-memory flip; the row still says Closed.
		raffle.Winner = ""
		raffle.Status = models.StatusClosed
		return fmt.Errorf("settlement for raffle %d: %w", raffle.ID, err)
	}

	if err := s.Lock.DisarmDrawTimeout(raffle.ID); err != nil {
		s.Logger.Warn("DRAW", fmt.Sprintf("Failed to disarm draw timeout for raffle %d: %v", raffle.ID, err))
	}

	s.Logger.LogSettlement("PRIZE", raffle.ID, prize)
	s.Logger.LogSettlement("FEE", raffle.ID, fee)
	s.Logger.LogRaffle("FINALIZE", raffle.ID, fmt.Sprintf("winner=%s index=%d prize=%d fee=%d", winner, index, prize, fee))

	s.publish(kafka.TopicWinnerSelected, raffle.ID, models.WinnerSelectedEvent{
		RaffleID:    raffle.ID,
		Winner:      winner,
		PrizeAmount: prize,
		FeeAmount:   fee,
		RequestID:   req.RequestID,
	})
	return nil
}

// ExpireDraw is the draw-timeout fallback: a Closed raffle whose oracle
// never answered within the grace period fails to Cancelled with refunds
// open. A fulfillment that raced in first wins and the expiry is a no-op.
func (s *RaffleService) ExpireDraw(raffleID int64) error {
	return s.withLock(raffleID, func() error {
		raffle, err := s.getRaffle(raffleID)
		if err != nil {
			return err
		}
		if raffle.Status != models.StatusClosed {
			return nil
		}

		expired, err := s.Gateway.Expire(raffle.RandomRequestID)
		if err != nil {
			return fmt.Errorf("expire request %s: %w", raffle.RandomRequestID, err)
		}
		if !expired {
			// Fulfilled in the meantime; settlement owns this raffle now.
			return nil
		}

		s.Logger.Warn("DRAW", fmt.Sprintf("Request %s for raffle %d timed out, cancelling with refunds", raffle.RandomRequestID, raffleID))
		return s.cancelLocked(raffle, CancelReasonDrawTimeout)
	})
}

// ClaimRefund pays back a participant of a cancelled raffle. Per-claimant
// idempotent: the first claim pays count*price, any further claim pays zero
// without error.
func (s *RaffleService) ClaimRefund(caller string, raffleID int64) (int64, error) {
	var amount int64
	err := s.withLock(raffleID, func() error {
		raffle, err := s.getRaffle(raffleID)
		if err != nil {
			return err
		}
		if raffle.Status != models.StatusCancelled {
			return guardf("raffle %d is %s, refunds only open when cancelled", raffleID, raffle.Status)
		}

		if _, err := s.DB.GetRefundClaim(raffleID, caller); err == nil {
			amount = 0 // already claimed; pay nothing, fail nothing
			return nil
		}

		count, err := s.DB.CountFor(raffleID, caller)
		if err != nil {
			return fmt.Errorf("count entries: %w", err)
		}
		if count == 0 {
			return guardf("%s holds no entries in raffle %d", caller, raffleID)
		}

		claim, transfer, pay, refund := s.Settlement.Refund(raffle, caller, count)
		if err := s.DB.SettleRefund(claim, transfer, pay); err != nil {
			return fmt.Errorf("refund for %s on raffle %d: %w", caller, raffleID, err)
		}
		amount = refund

		s.Logger.LogSettlement("REFUND", raffleID, amount)

		s.publish(kafka.TopicRefundIssued, raffleID, models.RefundIssuedEvent{
			RaffleID: raffleID,
			Claimant: caller,
			Amount:   amount,
		})
		return nil
	})
	return amount, err
}

// SweepDeadlines closes every Active raffle whose deadline has passed. Run
// by the scheduler so raffles progress without waiting for a caller action.
func (s *RaffleService) SweepDeadlines() (int, error) {
	due, err := s.DB.ListDueActive(s.Now())
	if err != nil {
		return 0, fmt.Errorf("list due raffles: %w", err)
	}
	closed := 0
	for _, raffle := range due {
		if err := s.Close(raffle.ID); err != nil {
			if errors.Is(err, ErrBusy) || IsGuardViolation(err) {
				continue // someone else got there first
			}
			s.Logger.Error("SWEEP", fmt.Sprintf("Failed to close raffle %d: %v", raffle.ID, err))
			continue
		}
		closed++
	}
	return closed, nil
}

func (s *RaffleService) getRaffle(raffleID int64) (*models.Raffle, error) {
	raffle, err := s.DB.GetRaffleByID(raffleID)
	if err != nil {
		if errors.Is(err, raffledb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load raffle %d: %w", raffleID, err)
	}
	return raffle, nil
}
