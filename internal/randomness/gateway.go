package randomness

import (
	"errors"
	"fmt"
	"ms-raffle/internal/models"

	"github.com/google/uuid"
)

var (
	ErrUnknownRequest   = errors.New("unknown randomness request")
	ErrAlreadyFulfilled = errors.New("randomness request already fulfilled")
	ErrRequestExpired   = errors.New("randomness request expired")
)

// Store is the slice of the persistence layer the gateway needs.
type Store interface {
	CreateRandomnessRequest(req *models.RandomnessRequest) error
	GetRequestByID(requestID string) (*models.RandomnessRequest, error)
	GetPendingRequestByRaffle(raffleID int64) (*models.RandomnessRequest, error)
	MarkRequestFulfilled(requestID string, randomValue uint64) (bool, error)
	MarkRequestExpired(requestID string) (bool, error)
	DeleteRequest(requestID string) error
}

// Oracle issues the outbound request.
type Oracle interface {
	RequestRandomness(requestID string) error
}

// Gateway correlates one outbound randomness request per raffle with the one
// inbound fulfillment the oracle owes it. This is the single place external
// non-determinism enters the system, so both directions are guarded: at most
// one live request per raffle, and at most one accepted fulfillment per
// request.
type Gateway struct {
	Store  Store
	Oracle Oracle
}

func NewGateway(store Store, oracle Oracle) *Gateway {
	return &Gateway{Store: store, Oracle: oracle}
}

// Request issues a randomness request for a raffle and returns its
// correlation id. entryCount is the ledger size at request time; the draw
// uses this snapshot, never a later read. A raffle that already has a live
// request gets that request's id back rather than a second oracle call, so
// a close that died between requesting and persisting can be retried.
func (g *Gateway) Request(raffleID, entryCount int64) (string, error) {
	if entryCount <= 0 {
		return "", fmt.Errorf("cannot request randomness for empty raffle %d", raffleID)
	}
	if pending, err := g.Store.GetPendingRequestByRaffle(raffleID); err == nil {
		return pending.RequestID, nil
	}

	req := &models.RandomnessRequest{
		RequestID:  uuid.NewString(),
		RaffleID:   raffleID,
		EntryCount: entryCount,
		Status:     models.RequestPending,
	}
	if err := g.Store.CreateRandomnessRequest(req); err != nil {
		return "", fmt.Errorf("store randomness request: %w", err)
	}

	if err := g.Oracle.RequestRandomness(req.RequestID); err != nil {
		// The oracle never saw the request; drop the correlation row so the
		// close can be retried.
		_ = g.Store.DeleteRequest(req.RequestID)
		return "", fmt.Errorf("request randomness: %w", err)
	}

	return req.RequestID, nil
}

// Lookup resolves a request id without mutating anything, so the caller can
// lock the right raffle before accepting the fulfillment.
func (g *Gateway) Lookup(requestID string) (*models.RandomnessRequest, error) {
	req, err := g.Store.GetRequestByID(requestID)
	if err != nil {
		return nil, ErrUnknownRequest
	}
	return req, nil
}

// Fulfill accepts the oracle's callback exactly once. A second call with the
// same request id is rejected and changes no state; a callback for an
// expired request is rejected the same way.
func (g *Gateway) Fulfill(requestID string, randomValue uint64) (*models.RandomnessRequest, error) {
	req, err := g.Store.GetRequestByID(requestID)
	if err != nil {
		return nil, ErrUnknownRequest
	}

	switch req.Status {
	case models.RequestFulfilled:
		return nil, ErrAlreadyFulfilled
	case models.RequestExpired:
		return nil, ErrRequestExpired
	}

	ok, err := g.Store.MarkRequestFulfilled(requestID, randomValue)
	if err != nil {
		return nil, fmt.Errorf("mark request fulfilled: %w", err)
	}
	if !ok {
		// Lost the race against a duplicate delivery or the timeout sweep.
		if current, lookupErr := g.Store.GetRequestByID(requestID); lookupErr == nil && current.Status == models.RequestExpired {
			return nil, ErrRequestExpired
		}
		return nil, ErrAlreadyFulfilled
	}

	req.Status = models.RequestFulfilled
	req.RandomValue = randomValue
	return req, nil
}

// Expire invalidates a request whose fulfillment never arrived. Returns
// false if a fulfillment landed first.
func (g *Gateway) Expire(requestID string) (bool, error) {
	return g.Store.MarkRequestExpired(requestID)
}
