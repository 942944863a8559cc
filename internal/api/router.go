package api

import "net/http"

// NewRouter wires Handlers onto a stdlib net/http.ServeMux using Go 1.22+
// method-and-path pattern routing. No third-party HTTP router appears
// anywhere among the example dependency stacks surveyed for this engine —
// the original design routed through grpc-gateway instead of a router library, so
// there is no ecosystem choice to carry forward for a plain JSON API.
// ServeMux's pattern matching (verb + {param} segments) covers every route
// below without reimplementing a trie matcher by hand.
func NewRouter(h *Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /users/{userID}/balance", h.GetBalance)
	mux.HandleFunc("GET /users/{userID}/positions", h.GetPositions)
	mux.HandleFunc("GET /users/{userID}/equity", h.GetEquity)
	mux.HandleFunc("GET /users/{userID}/settlement-history", h.GetSettlementHistory)
	mux.HandleFunc("GET /users/{userID}/journal-history", h.GetJournalHistory)

	mux.HandleFunc("GET /admin/integrity", h.VerifyIntegrity)
	mux.HandleFunc("GET /admin/state", h.GetLedgerState)
	mux.HandleFunc("POST /admin/pause", h.Pause)
	mux.HandleFunc("POST /admin/unpause", h.Unpause)
	mux.HandleFunc("POST /admin/deposits", h.InjectDeposit)
	mux.HandleFunc("POST /admin/withdrawals", h.InjectWithdrawal)
	mux.HandleFunc("POST /admin/prices", h.InjectMarkPrice)
	mux.HandleFunc("POST /admin/shortfalls", h.InjectVenueShortfall)

	return mux
}
