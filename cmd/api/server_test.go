package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrowflow/escrow"
	"escrowflow/identity"
	"escrowflow/offer"
)

func newTestServer(t *testing.T) (*Server, *stubEngine, *identity.TokenIssuer) {
	t.Helper()
	engine := &stubEngine{}
	tokens := identity.NewTokenIssuer("test-secret", time.Hour)
	server := &Server{
		engine:   engine,
		registry: &stubRegistry{},
		offers:   &stubOffers{},
		balances: &stubBalances{},
		tokens:   tokens,
		operator: "0xoperator",
		log:      slog.New(slog.NewTextHandler(&strings.Builder{}, nil)),
	}
	return server, engine, tokens
}

func bearer(t *testing.T, tokens *identity.TokenIssuer, address string, role identity.Role) string {
	t.Helper()
	token, err := tokens.Issue(address, role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + token
}

func TestHandleRegister_Success(t *testing.T) {
	server, _, _ := newTestServer(t)

	body := strings.NewReader(`{"address":"0xprovider","role":"provider"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/register", body)
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Address != "0xprovider" || resp.Role != "provider" || resp.Token == "" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleRegister_Duplicate(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.registry = &stubRegistry{registerErr: identity.ErrAlreadyRegistered}

	body := strings.NewReader(`{"address":"0xprovider","role":"provider"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/register", body)
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleCreateOffer_RequiresAuth(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(`{"description":"x","price":100}`))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCreateOffer_Success(t *testing.T) {
	server, engine, tokens := newTestServer(t)
	engine.createRec = offer.Record{ID: 0, Provider: "0xprovider", Price: 100, Status: offer.StatusOpen}

	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(`{"description":"logo design","price":100}`))
	req.Header.Set("Authorization", bearer(t, tokens, "0xprovider", identity.RoleProvider))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if engine.createCaller != "0xprovider" {
		t.Fatalf("expected caller from token, got %q", engine.createCaller)
	}

	var resp offerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalDue != 102 {
		t.Fatalf("expected totalDue 102, got %d", resp.TotalDue)
	}
}

func TestHandleCreateOffer_NotAProvider(t *testing.T) {
	server, engine, tokens := newTestServer(t)
	engine.createErr = escrow.ErrNotAProvider

	req := httptest.NewRequest(http.MethodPost, "/api/offers", strings.NewReader(`{"description":"x","price":100}`))
	req.Header.Set("Authorization", bearer(t, tokens, "0xclient", identity.RoleClient))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleAcceptOffer_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{escrow.ErrOfferNotOpen, http.StatusConflict},
		{escrow.ErrSelfDealing, http.StatusForbidden},
		{escrow.ErrIncorrectPayment, http.StatusBadRequest},
		{offer.ErrNotFound, http.StatusNotFound},
		{escrow.ErrTransferFailed, http.StatusBadGateway},
	}

	for _, tc := range cases {
		server, engine, tokens := newTestServer(t)
		engine.acceptErr = tc.err

		req := httptest.NewRequest(http.MethodPost, "/api/offers/0/accept", strings.NewReader(`{"payment":102}`))
		req.Header.Set("Authorization", bearer(t, tokens, "0xclient", identity.RoleClient))
		rec := httptest.NewRecorder()

		server.Routes().ServeHTTP(rec, req)

		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestHandleAcceptOffer_InvalidID(t *testing.T) {
	server, _, tokens := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/offers/abc/accept", strings.NewReader(`{"payment":102}`))
	req.Header.Set("Authorization", bearer(t, tokens, "0xclient", identity.RoleClient))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleConfirmDelivery_Success(t *testing.T) {
	server, engine, tokens := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/offers/7/confirm", nil)
	req.Header.Set("Authorization", bearer(t, tokens, "0xclient", identity.RoleClient))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if engine.confirmID != 7 || engine.confirmCaller != "0xclient" {
		t.Fatalf("unexpected confirm call: id=%d caller=%q", engine.confirmID, engine.confirmCaller)
	}
}

func TestHandleWithdraw_NothingToWithdraw(t *testing.T) {
	server, engine, tokens := newTestServer(t)
	engine.withdrawErr = escrow.ErrNothingToWithdraw

	req := httptest.NewRequest(http.MethodPost, "/api/withdrawals", nil)
	req.Header.Set("Authorization", bearer(t, tokens, "0xprovider", identity.RoleProvider))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandlePlatformBalance_OperatorOnly(t *testing.T) {
	server, _, tokens := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/platform/balance", nil)
	req.Header.Set("Authorization", bearer(t, tokens, "0xprovider", identity.RoleProvider))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-operator, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/platform/balance", nil)
	req.Header.Set("Authorization", bearer(t, tokens, "0xoperator", identity.RoleNone))
	rec = httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for operator, got %d", rec.Code)
	}
}

func TestHandleWithdrawPlatformFees_MissingRecipient(t *testing.T) {
	server, _, tokens := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/platform/withdrawals", strings.NewReader(`{}`))
	req.Header.Set("Authorization", bearer(t, tokens, "0xoperator", identity.RoleNone))
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleListOffers(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.offers = &stubOffers{
		list: []offer.Record{
			{ID: 0, Provider: "0xprovider", Price: 100, Status: offer.StatusOpen},
			{ID: 1, Provider: "0xprovider", Price: 50, Status: offer.StatusAccepted},
		},
		total: 2,
	}

	req := httptest.NewRequest(http.MethodGet, "/api/offers?provider=0xprovider", nil)
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []offerResponse `json:"items"`
		Total int             `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Items) != 2 || payload.Total != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleGetOffer_NotFound(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.offers = &stubOffers{getErr: offer.ErrNotFound}

	req := httptest.NewRequest(http.MethodGet, "/api/offers/99", nil)
	rec := httptest.NewRecorder()

	server.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// --- stubs ---

type stubEngine struct {
	createRec    offer.Record
	createErr    error
	createCaller string

	acceptRec offer.Record
	acceptErr error

	confirmID     int64
	confirmCaller string
	confirmErr    error

	withdrawAmount int64
	withdrawErr    error

	feeAmount int64
	feeErr    error
}

func (s *stubEngine) CreateOffer(_ context.Context, provider, description string, price int64) (offer.Record, error) {
	s.createCaller = provider
	return s.createRec, s.createErr
}

func (s *stubEngine) AcceptOffer(_ context.Context, offerID int64, client string, payment int64) (offer.Record, error) {
	return s.acceptRec, s.acceptErr
}

func (s *stubEngine) ConfirmDelivery(_ context.Context, offerID int64, caller string) error {
	s.confirmID = offerID
	s.confirmCaller = caller
	return s.confirmErr
}

func (s *stubEngine) WithdrawFunds(_ context.Context, caller string) (int64, error) {
	return s.withdrawAmount, s.withdrawErr
}

func (s *stubEngine) WithdrawPlatformFees(_ context.Context, caller, to string) (int64, error) {
	return s.feeAmount, s.feeErr
}

type stubRegistry struct {
	registerErr error
	role        identity.Role
}

func (s *stubRegistry) Register(_ context.Context, req identity.RegisterRequest) (identity.RegisterResult, error) {
	if s.registerErr != nil {
		return identity.RegisterResult{}, s.registerErr
	}
	return identity.RegisterResult{
		Participant: identity.Participant{Address: req.Address, Role: req.Role},
		Token:       "token-" + req.Address,
	}, nil
}

func (s *stubRegistry) RoleOf(_ context.Context, address string) (identity.Role, error) {
	return s.role, nil
}

type stubOffers struct {
	get    offer.Record
	getErr error
	list   []offer.Record
	total  int
	count  int64
}

func (s *stubOffers) Get(_ context.Context, id int64) (offer.Record, error) {
	if s.getErr != nil {
		return offer.Record{}, s.getErr
	}
	return s.get, nil
}

func (s *stubOffers) List(_ context.Context, filters offer.ListFilters) ([]offer.Record, int, error) {
	return s.list, s.total, nil
}

func (s *stubOffers) Count(_ context.Context) (int64, error) {
	return s.count, nil
}

type stubBalances struct {
	pending  int64
	platform int64
	err      error
}

func (s *stubBalances) PendingBalance(_ context.Context, provider string) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.pending, nil
}

func (s *stubBalances) PlatformBalance(_ context.Context) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.platform, nil
}
