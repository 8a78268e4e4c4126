package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"escrowflow/custody"
	"escrowflow/escrow"
	"escrowflow/identity"
	"escrowflow/offer"
)

type ctxKey int

const (
	ctxKeyAddress ctxKey = iota
	ctxKeyRole
)

// EngineAPI is the slice of the escrow engine the handlers invoke.
type EngineAPI interface {
	CreateOffer(ctx context.Context, provider, description string, price int64) (offer.Record, error)
	AcceptOffer(ctx context.Context, offerID int64, client string, payment int64) (offer.Record, error)
	ConfirmDelivery(ctx context.Context, offerID int64, caller string) error
	WithdrawFunds(ctx context.Context, caller string) (int64, error)
	WithdrawPlatformFees(ctx context.Context, caller, to string) (int64, error)
}

// RegistryAPI handles participant registration and role reads.
type RegistryAPI interface {
	Register(ctx context.Context, req identity.RegisterRequest) (identity.RegisterResult, error)
	RoleOf(ctx context.Context, address string) (identity.Role, error)
}

// OfferReader serves the presentation layer's offer reads.
type OfferReader interface {
	Get(ctx context.Context, id int64) (offer.Record, error)
	List(ctx context.Context, filters offer.ListFilters) ([]offer.Record, int, error)
	Count(ctx context.Context) (int64, error)
}

// BalanceReader serves the balance reads.
type BalanceReader interface {
	PendingBalance(ctx context.Context, provider string) (int64, error)
	PlatformBalance(ctx context.Context) (int64, error)
}

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (string, identity.Role, error)
}

// Server is the thin HTTP consumer of the escrow core.
type Server struct {
	engine   EngineAPI
	registry RegistryAPI
	offers   OfferReader
	balances BalanceReader
	tokens   TokenVerifier
	operator string
	log      *slog.Logger
}

// Routes builds the request multiplexer.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("GET /api/roles/{address}", s.handleRole)

	mux.HandleFunc("GET /api/offers", s.handleListOffers)
	mux.HandleFunc("GET /api/offers/count", s.handleOfferCount)
	mux.HandleFunc("GET /api/offers/{id}", s.handleGetOffer)
	mux.HandleFunc("POST /api/offers", s.requireAuth(s.handleCreateOffer))
	mux.HandleFunc("POST /api/offers/{id}/accept", s.requireAuth(s.handleAcceptOffer))
	mux.HandleFunc("POST /api/offers/{id}/confirm", s.requireAuth(s.handleConfirmDelivery))

	mux.HandleFunc("GET /api/balance", s.requireAuth(s.handleBalance))
	mux.HandleFunc("POST /api/withdrawals", s.requireAuth(s.handleWithdraw))
	mux.HandleFunc("GET /api/platform/balance", s.requireAuth(s.handlePlatformBalance))
	mux.HandleFunc("POST /api/platform/withdrawals", s.requireAuth(s.handleWithdrawPlatformFees))

	return mux
}

// requireAuth resolves the caller address and role from the bearer token.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		address, role, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAddress, address)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next(w, r.WithContext(ctx))
	}
}

func callerAddress(r *http.Request) string {
	address, _ := r.Context().Value(ctxKeyAddress).(string)
	return address
}

type registerRequest struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

type registerResponse struct {
	Address string `json:"address"`
	Role    string `json:"role"`
	Token   string `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.registry.Register(r.Context(), identity.RegisterRequest{
		Address: req.Address,
		Role:    identity.Role(req.Role),
	})
	if err != nil {
		if errors.Is(err, identity.ErrAlreadyRegistered) {
			writeError(w, http.StatusConflict, "address already registered")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Address: res.Participant.Address,
		Role:    string(res.Participant.Role),
		Token:   res.Token,
	})
}

func (s *Server) handleRole(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	role, err := s.registry.RoleOf(r.Context(), address)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": address,
		"role":    string(role),
	})
}

type offerResponse struct {
	ID              int64   `json:"id"`
	Provider        string  `json:"provider"`
	Client          *string `json:"client,omitempty"`
	Price           int64   `json:"price"`
	TotalDue        int64   `json:"totalDue"`
	DescriptionHash string  `json:"descriptionHash"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"createdAt"`
}

type createOfferRequest struct {
	Description string `json:"description"`
	Price       int64  `json:"price"`
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req createOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.engine.CreateOffer(r.Context(), callerAddress(r), req.Description, req.Price)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOfferResponse(rec))
}

type acceptOfferRequest struct {
	Payment int64 `json:"payment"`
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	var req acceptOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.engine.AcceptOffer(r.Context(), id, callerAddress(r), req.Payment)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOfferResponse(rec))
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	if err := s.engine.ConfirmDelivery(r.Context(), id, callerAddress(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	rec, err := s.offers.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOfferResponse(rec))
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	records, total, err := s.offers.List(r.Context(), offer.ListFilters{
		Provider: q.Get("provider"),
		Status:   offer.Status(q.Get("status")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	items := make([]offerResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toOfferResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (s *Server) handleOfferCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.offers.Count(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	amount, err := s.balances.PendingBalance(r.Context(), callerAddress(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pending": amount})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	amount, err := s.engine.WithdrawFunds(r.Context(), callerAddress(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

func (s *Server) handlePlatformBalance(w http.ResponseWriter, r *http.Request) {
	if callerAddress(r) != s.operator {
		writeError(w, http.StatusForbidden, "operator only")
		return
	}
	amount, err := s.balances.PlatformBalance(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

type feeWithdrawalRequest struct {
	To string `json:"to"`
}

func (s *Server) handleWithdrawPlatformFees(w http.ResponseWriter, r *http.Request) {
	var req feeWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.To == "" {
		writeError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	amount, err := s.engine.WithdrawPlatformFees(r.Context(), callerAddress(r), req.To)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"amount": amount})
}

// writeServiceError maps core sentinel errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, offer.ErrNotFound):
		writeError(w, http.StatusNotFound, "offer not found")
	case errors.Is(err, escrow.ErrNotAProvider),
		errors.Is(err, escrow.ErrNotTheClient),
		errors.Is(err, escrow.ErrSelfDealing),
		errors.Is(err, escrow.ErrNotOperator):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, escrow.ErrInvalidPrice),
		errors.Is(err, escrow.ErrIncorrectPayment):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, escrow.ErrOfferNotOpen),
		errors.Is(err, escrow.ErrOfferNotAccepted),
		errors.Is(err, escrow.ErrNothingToWithdraw):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, escrow.ErrTransferFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.ErrorContext(r.Context(), "internal error", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toOfferResponse(rec offer.Record) offerResponse {
	return offerResponse{
		ID:              rec.ID,
		Provider:        rec.Provider,
		Client:          rec.Client,
		Price:           rec.Price,
		TotalDue:        custody.TotalDue(rec.Price),
		DescriptionHash: rec.DescriptionHash,
		Status:          string(rec.Status),
		CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
