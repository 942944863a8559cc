package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/xvault/settlement/internal/equity"
	"github.com/xvault/settlement/internal/ingestion"
	"github.com/xvault/settlement/internal/ledger"
	"github.com/xvault/settlement/internal/position"
)

// Handlers wires the query service, the live ledger/position/equity
// components, and the admin injection service into HTTP endpoints. Reads
// that need only current state (balance, positions, equity) go straight to
// the in-memory components; reads over history go through QueryService's
// projection tables.
type Handlers struct {
	queries *QueryService
	ledger  *ledger.Ledger
	store   *position.Store
	equity  *equity.Engine
	admin   *ingestion.AdminIngestService
}

func NewHandlers(
	queries *QueryService,
	l *ledger.Ledger,
	store *position.Store,
	eq *equity.Engine,
	admin *ingestion.AdminIngestService,
) *Handlers {
	return &Handlers{queries: queries, ledger: l, store: store, equity: eq, admin: admin}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func parseUserID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("userID"))
}

// GetBalance handles GET /users/{userID}/balance. Reads directly off the
// ledger's in-memory sub-ledgers — fresher than the Postgres projection,
// which trails the persistence worker's flush cadence.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	resp := BalanceResponse{
		UserID:     userID,
		Collateral: int64(h.ledger.Collateral(userID)),
		PnL:        int64(h.ledger.PnL(userID)),
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetPositions handles GET /users/{userID}/positions, reading live from the
// position store rather than the lagging projection.
func (h *Handlers) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	positions := make([]PositionResponse, 0)
	for pos := range h.store.IterUser(userID) {
		positions = append(positions, PositionResponse{
			UserID:     pos.User,
			VenueID:    pos.Venue,
			Instrument: pos.Instrument,
			PositionID: pos.PositionID,
			Side:       int8(pos.Side),
			Size:       int64(pos.Size),
			EntryPrice: int64(pos.EntryPrice),
			Stale:      pos.Stale,
		})
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetEquity handles GET /users/{userID}/equity, forcing a fresh recompute
// rather than serving a cached value — callers asking for equity want the
// current number, not the last debounced push.
func (h *Handlers) GetEquity(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	updates, err := h.equity.Recompute(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := make([]EquityResponse, 0, len(updates))
	for _, u := range updates {
		resp = append(resp, EquityResponse{
			UserID:   userID,
			VenueID:  u.Venue,
			Equity:   u.Equity,
			Sequence: u.Sequence,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSettlementHistory handles GET /users/{userID}/settlement-history.
func (h *Handlers) GetSettlementHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var venueID *string
	if v := r.URL.Query().Get("venue_id"); v != "" {
		venueID = &v
	}

	var beforeSeq *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			beforeSeq = &parsed
		}
	}

	history, err := h.queries.GetSettlementHistory(r.Context(), userID, venueID, limit, beforeSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GetJournalHistory handles GET /users/{userID}/journal-history.
func (h *Handlers) GetJournalHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var beforeSeq *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			beforeSeq = &parsed
		}
	}

	entries, err := h.queries.GetJournalHistory(r.Context(), userID, limit, beforeSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// VerifyIntegrity handles GET /admin/integrity.
func (h *Handlers) VerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type depositRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
}

// InjectDeposit handles POST /admin/deposits.
func (h *Handlers) InjectDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.admin.InjectDeposit(r.Context(), req.UserID, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type withdrawalRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
}

// InjectWithdrawal handles POST /admin/withdrawals.
func (h *Handlers) InjectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.admin.InjectWithdrawal(r.Context(), req.UserID, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type markPriceRequest struct {
	Symbol        string `json:"symbol"`
	RawPrice      int64  `json:"raw_price"`
	Expo          int    `json:"expo"`
	PriceSequence int64  `json:"price_sequence"`
}

// InjectMarkPrice handles POST /admin/prices.
func (h *Handlers) InjectMarkPrice(w http.ResponseWriter, r *http.Request) {
	var req markPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.admin.InjectMarkPrice(r.Context(), req.Symbol, req.RawPrice, req.Expo, req.PriceSequence); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type shortfallRequest struct {
	ClaimID string `json:"claim_id"`
	UserID  string `json:"user_id"`
	VenueID string `json:"venue_id"`
	Amount  int64  `json:"amount"`
}

// InjectVenueShortfall handles POST /admin/shortfalls.
func (h *Handlers) InjectVenueShortfall(w http.ResponseWriter, r *http.Request) {
	var req shortfallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.admin.InjectVenueShortfall(r.Context(), req.ClaimID, req.UserID, req.VenueID, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// Pause handles POST /admin/pause, halting new settlement activity
// (ledger.Ledger.Pause).
func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.ledger.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"state": h.ledger.State().String()})
}

// Unpause handles POST /admin/unpause.
func (h *Handlers) Unpause(w http.ResponseWriter, r *http.Request) {
	h.ledger.Unpause()
	writeJSON(w, http.StatusOK, map[string]string{"state": h.ledger.State().String()})
}

// GetLedgerState handles GET /admin/state, reporting the circuit breaker
// state alongside the insurance fund and socialized-loss tallies.
func (h *Handlers) GetLedgerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":           h.ledger.State().String(),
		"insurance_fund":  int64(h.ledger.InsuranceFund()),
		"broker_pool":     int64(h.ledger.BrokerPool()),
		"socialized_loss": int64(h.ledger.SocializedLoss()),
	})
}
