package raffle_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"ms-raffle/internal/auth"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/raffle"
	"ms-raffle/internal/utils"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"
)

const (
	activeIDsCacheKey = "active_raffle_ids"
	cacheTTL          = 5 * time.Second
)

type Handler struct {
	RaffleService *raffle.RaffleService
	Logger        *logger.Logger
	cache         *gocache.Cache
}

func NewHandler(service *raffle.RaffleService, log *logger.Logger) *Handler {
	return &Handler{
		RaffleService: service,
		Logger:        log,
		cache:         gocache.New(cacheTTL, time.Minute),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the service error taxonomy onto HTTP statuses: bad input
// 400, wrong state or time window 409, unknown raffle 404, lock contention
// 503, anything else 500.
func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case raffle.IsValidation(err):
		status = http.StatusBadRequest
	case raffle.IsGuardViolation(err):
		status = http.StatusConflict
	case errors.Is(err, raffle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, raffle.ErrBusy):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func (h *Handler) raffleID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "raffleId"), 10, 64)
}

// ---------------- WRITE PATH ----------------

type createRequest struct {
	Description     string `json:"description"`
	EntryPrice      int64  `json:"entry_price"`
	MaxEntries      int64  `json:"max_entries"`
	MinEntries      int64  `json:"min_entries"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (h *Handler) CreateRaffle(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	created, err := h.RaffleService.Create(auth.Caller(r.Context()), raffle.CreateParams{
		Description: req.Description,
		EntryPrice:  req.EntryPrice,
		MaxEntries:  req.MaxEntries,
		MinEntries:  req.MinEntries,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		h.writeError(w, "Could not create raffle", err)
		return
	}

	h.cache.Delete(activeIDsCacheKey)
	writeJSON(w, http.StatusCreated, utils.SuccessResponse("Raffle created", created))
}

type buyRequest struct {
	Quantity int64 `json:"quantity"`
	Value    int64 `json:"value"`
}

func (h *Handler) BuyEntries(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	if err := h.RaffleService.Buy(auth.Caller(r.Context()), id, req.Quantity, req.Value); err != nil {
		h.writeError(w, "Could not buy entries", err)
		return
	}

	h.cache.Delete(detailsCacheKey(id))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Entries purchased", nil))
}

func (h *Handler) CloseRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	if err := h.RaffleService.Close(id); err != nil {
		h.writeError(w, "Could not close raffle", err)
		return
	}

	h.cache.Delete(activeIDsCacheKey)
	h.cache.Delete(detailsCacheKey(id))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Raffle closed", nil))
}

func (h *Handler) CancelRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	if err := h.RaffleService.Cancel(auth.Caller(r.Context()), id); err != nil {
		h.writeError(w, "Could not cancel raffle", err)
		return
	}

	h.cache.Delete(activeIDsCacheKey)
	h.cache.Delete(detailsCacheKey(id))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Raffle cancelled", nil))
}

func (h *Handler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	amount, err := h.RaffleService.ClaimRefund(auth.Caller(r.Context()), id)
	if err != nil {
		h.writeError(w, "Could not claim refund", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Refund processed", map[string]int64{"amount": amount}))
}

func (h *Handler) FinalizeRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	if err := h.RaffleService.Finalize(id); err != nil {
		h.writeError(w, "Could not finalize raffle", err)
		return
	}

	h.cache.Delete(detailsCacheKey(id))
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Raffle finalized", nil))
}

// ---------------- READ PATH ----------------

func detailsCacheKey(id int64) string {
	return "raffle_details:" + strconv.FormatInt(id, 10)
}

func (h *Handler) ListRaffles(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")

	if filter == "" || filter == "active" {
		if cached, found := h.cache.Get(activeIDsCacheKey); found {
			writeJSON(w, http.StatusOK, utils.SuccessResponse("Active raffles", cached))
			return
		}
		ids, err := h.RaffleService.ActiveRaffleIDs()
		if err != nil {
			h.writeError(w, "Could not list raffles", err)
			return
		}
		h.cache.Set(activeIDsCacheKey, ids, cacheTTL)
		writeJSON(w, http.StatusOK, utils.SuccessResponse("Active raffles", ids))
		return
	}

	ids, err := h.RaffleService.AllRaffleIDs()
	if err != nil {
		h.writeError(w, "Could not list raffles", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("All raffles", ids))
}

func (h *Handler) CountRaffles(w http.ResponseWriter, r *http.Request) {
	total, err := h.RaffleService.TotalRaffles()
	if err != nil {
		h.writeError(w, "Could not count raffles", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Total raffles", map[string]int64{"total": total}))
}

func (h *Handler) GetRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	key := detailsCacheKey(id)
	if cached, found := h.cache.Get(key); found {
		writeJSON(w, http.StatusOK, utils.SuccessResponse("Raffle details", cached))
		return
	}

	details, err := h.RaffleService.RaffleDetails(id)
	if err != nil {
		h.writeError(w, "Could not load raffle", err)
		return
	}

	h.cache.Set(key, details, cacheTTL)
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Raffle details", details))
}

func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	participants, err := h.RaffleService.Participants(id)
	if err != nil {
		h.writeError(w, "Could not load participants", err)
		return
	}
	if participants == nil {
		participants = []string{}
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Participants", participants))
}

func (h *Handler) GetEntryCount(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}
	participant := chi.URLParam(r, "participant")

	count, err := h.RaffleService.EntryCountFor(id, participant)
	if err != nil {
		h.writeError(w, "Could not count entries", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Entry count", map[string]int64{"count": count}))
}

func (h *Handler) GetEstimatedPrize(w http.ResponseWriter, r *http.Request) {
	id, err := h.raffleID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid raffle id", err.Error()))
		return
	}

	prize, err := h.RaffleService.EstimatedPrize(id)
	if err != nil {
		h.writeError(w, "Could not estimate prize", err)
		return
	}
	writeJSON(w, http.StatusOK, utils.SuccessResponse("Estimated prize", map[string]int64{"prize": prize}))
}

// ---------------- ORACLE CALLBACK ----------------

type fulfillRequest struct {
	RequestID   string `json:"request_id"`
	RandomValue uint64 `json:"random_value"`
}

// FulfillRandomness is the oracle's inbound entry point. It is correlated,
// not authenticated: a callback only has effect if its request id matches a
// live outstanding request.
func (h *Handler) FulfillRandomness(w http.ResponseWriter, r *http.Request) {
	var req fulfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}
	if req.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", "request_id is required"))
		return
	}

	if err := h.RaffleService.HandleFulfillment(req.RequestID, req.RandomValue); err != nil {
		h.Logger.Warn("ORACLE", fmt.Sprintf("Fulfillment for %s rejected: %v", req.RequestID, err))
		h.writeError(w, "Could not process fulfillment", err)
		return
	}

	writeJSON(w, http.StatusOK, utils.SuccessResponse("Fulfillment accepted", nil))
}
