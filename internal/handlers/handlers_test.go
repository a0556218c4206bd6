package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/internal/auth"
	apperrors "passgate/internal/errors"
	"passgate/internal/models"
	"passgate/internal/repository"
	"passgate/internal/service"
)

// tokenStub accepts tokens from a fixed table
type tokenStub map[string]*auth.Claims

func (s tokenStub) ValidateAndDecodeToken(token string) (*auth.Claims, error) {
	if c, ok := s[token]; ok {
		return c, nil
	}
	return nil, apperrors.ErrUnauthorized
}

var tokens = tokenStub{
	"issuer":   {UserID: "issuer-1", Role: auth.RoleIssuer},
	"op":       {UserID: "op-1", Role: auth.RoleOperator},
	"admin":    {UserID: "admin-1", Role: auth.RoleAdmin},
	"buyer":    {UserID: "user-1", Role: auth.RoleCustomer},
	"stranger": {UserID: "user-2", Role: auth.RoleCustomer},
}

type stubGateway struct {
	mu     sync.Mutex
	n      int
	states map[string]models.PaymentState
}

func (g *stubGateway) CreatePaymentRequest(_ context.Context, req models.PaymentRequest) (*models.PaymentSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return &models.PaymentSession{ProviderRef: req.OrderRef + "-pay", RedirectURL: "https://pay.example/" + req.OrderRef}, nil
}

func (g *stubGateway) CheckPayment(_ context.Context, orderRef string) (*models.PaymentState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[orderRef]
	if !ok {
		return &models.PaymentState{Status: "NEW"}, nil
	}
	return &st, nil
}

// settle records the state the gateway reports for orderRef
func (g *stubGateway) settle(orderRef, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.states[orderRef] = models.PaymentState{ProviderPaymentID: "gw-" + orderRef, Status: status}
}

func (g *stubGateway) CancelPayment(context.Context, string) error { return nil }

func (g *stubGateway) VerifyTeamSlug(slug string) bool { return slug == "team" }

type stubAvailability struct{}

func (stubAvailability) GetEventAvailability(_ context.Context, eventID int64) (*models.Availability, error) {
	if eventID == 404 {
		return nil, apperrors.ErrEventUnavailable
	}
	return &models.Availability{EventID: eventID, TotalPasses: 100, AvailablePasses: 100}, nil
}

type stubIssuer struct{}

func (stubIssuer) IssueTicketsForGroup(context.Context, models.PaymentGroup) ([]models.TicketRef, error) {
	return nil, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *stubGateway) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gateway := &stubGateway{states: map[string]models.PaymentState{}}
	services := service.NewServices(repository.NewMemoryRepositories(), service.Collaborators{
		Issuer:       stubIssuer{},
		Availability: stubAvailability{},
		Payments:     gateway,
	}, service.Options{
		QRSecret: "test-secret",
		QRTTL:    time.Hour,
		Checkout: service.CheckoutOptions{SessionTTL: 15 * time.Minute, MaxPaymentAttempts: 3},
	})

	r := gin.New()
	NewHandlers(services, gateway).RegisterRoutes(r, tokens)
	return r, gateway
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// registerTicket registers a ticket for user-1 with one consumption line of quantity 5
func registerTicket(t *testing.T, r http.Handler) models.TicketStatusView {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/tickets", "issuer", models.RegisterTicketRequest{
		UserID:  "user-1",
		EventID: 1,
		PassID:  10,
		Consumptions: []models.RegisterConsumptionDetail{
			{ConsumptionTypeID: 7, Quantity: 5},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.TicketStatusView](t, w)
}

func ticketCodes(t *testing.T, r http.Handler, ticketID string) models.TicketCodes {
	t.Helper()
	w := do(t, r, http.MethodGet, "/api/tickets/"+ticketID+"/qr", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[models.TicketCodes](t, w)
}

func TestRedeemEntry(t *testing.T) {
	r, _ := setupRouter(t)
	ticket := registerTicket(t, r)
	codes := ticketCodes(t, r, ticket.TicketID)

	w := do(t, r, http.MethodPost, "/api/redemptions/entry", "op", models.RedeemEntryRequest{Code: codes.EntryCode})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[models.RedeemEntryResponse](t, w)
	assert.True(t, first.Valid)
	assert.Equal(t, ticket.TicketID, first.TicketID)

	w = do(t, r, http.MethodPost, "/api/redemptions/entry", "op", models.RedeemEntryRequest{Code: codes.EntryCode})
	assert.Equal(t, http.StatusConflict, w.Code)
	second := decode[models.RedeemEntryResponse](t, w)
	assert.False(t, second.Valid)
	assert.Equal(t, "ticket already redeemed", second.Message)
}

func TestRedeemEntry_InvalidCode(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(t, r, http.MethodPost, "/api/redemptions/entry", "op", models.RedeemEntryRequest{Code: "not-a-code"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[models.RedeemEntryResponse](t, w)
	assert.False(t, resp.Valid)
	assert.Equal(t, "invalid code", resp.Message)
}

func TestRedemptions_RequireOperator(t *testing.T) {
	r, _ := setupRouter(t)
	body := models.RedeemEntryRequest{Code: "x"}

	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodPost, "/api/redemptions/entry", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodPost, "/api/redemptions/entry", "forged", body).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, "/api/redemptions/entry", "buyer", body).Code)
}

func TestRedeemConsumption(t *testing.T) {
	r, _ := setupRouter(t)
	ticket := registerTicket(t, r)
	require.Len(t, ticket.Consumptions, 1)
	detailID := ticket.Consumptions[0].ID
	code := ticketCodes(t, r, ticket.TicketID).Consumptions[detailID]
	require.NotEmpty(t, code)

	w := do(t, r, http.MethodPost, "/api/redemptions/consumption", "op", models.RedeemConsumptionRequest{Code: code})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	zero := decode[models.RedeemConsumptionResponse](t, w)
	assert.False(t, zero.Valid)
	assert.Equal(t, "quantity must be positive", zero.Message)
	assert.Equal(t, 5, zero.RemainingQuantity)

	w = do(t, r, http.MethodPost, "/api/redemptions/consumption", "op", models.RedeemConsumptionRequest{Code: code, Quantity: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ok := decode[models.RedeemConsumptionResponse](t, w)
	assert.True(t, ok.Valid)
	assert.Equal(t, 3, ok.QuantityRedeemed)
	assert.Equal(t, 2, ok.RemainingQuantity)

	w = do(t, r, http.MethodPost, "/api/redemptions/consumption", "op", models.RedeemConsumptionRequest{Code: code, Quantity: 3})
	assert.Equal(t, http.StatusConflict, w.Code)
	rejected := decode[models.RedeemConsumptionResponse](t, w)
	assert.False(t, rejected.Valid)
	assert.Equal(t, 2, rejected.RemainingQuantity)

	w = do(t, r, http.MethodGet, "/api/redemptions?ticket_id="+ticket.TicketID, "op", nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode[models.RedemptionSearchResult](t, w)
	assert.Equal(t, int64(1), records.Total)
}

func TestGetTicket_Ownership(t *testing.T) {
	r, _ := setupRouter(t)
	ticket := registerTicket(t, r)
	path := "/api/tickets/" + ticket.TicketID

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, path, "buyer", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, path, "op", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodGet, path, "stranger", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodGet, path+"/qr", "op", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/tickets/missing", "op", nil).Code)
}

func TestRegisterTicket_RejectsNonUUID(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(t, r, http.MethodPost, "/api/tickets", "issuer", models.RegisterTicketRequest{
		TicketID: "ticket-1",
		UserID:   "user-1",
		EventID:  1,
		PassID:   10,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
}

func TestInvalidateTicket(t *testing.T) {
	r, _ := setupRouter(t)
	ticket := registerTicket(t, r)
	path := "/api/tickets/" + ticket.TicketID + "/invalidate"

	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPatch, path, "op", nil).Code)

	w := do(t, r, http.MethodPatch, path, "admin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.TicketInvalid, decode[models.TicketStatusView](t, w).EntryStatus)
}

func cart() models.CreateSessionRequest {
	return models.CreateSessionRequest{
		Items: []models.CartItem{
			{EventID: 1, PassID: 10, OrganizerID: 100, Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
			{EventID: 2, PassID: 20, OrganizerID: 200, Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
		},
		Payer: models.PayerInfo{Email: "buyer@example.com"},
	}
}

func createSession(t *testing.T, r http.Handler) models.SessionStateView {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/checkout/sessions", "buyer", cart())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view := decode[models.SessionStateView](t, w)
	require.Len(t, view.Groups, 2)
	return view
}

func notify(t *testing.T, r http.Handler, slug, orderRef, status string) *httptest.ResponseRecorder {
	return do(t, r, http.MethodPost, "/api/payments/notifications", "", models.PaymentNotificationPayload{
		PaymentID: "gw-" + orderRef,
		OrderID:   orderRef,
		Status:    status,
		TeamSlug:  slug,
	})
}

func TestCheckout_WebhookFlow(t *testing.T) {
	r, gateway := setupRouter(t)
	session := createSession(t, r)
	assert.Equal(t, models.SessionPending, session.Status)
	assert.True(t, session.TotalAmount.Equal(decimal.NewFromInt(150)))

	first, second := session.Groups[0].OrderRef, session.Groups[1].OrderRef

	assert.Equal(t, http.StatusUnauthorized, notify(t, r, "intruder", first, "CONFIRMED").Code)

	gateway.settle(first, "CONFIRMED")
	w := notify(t, r, "team", first, "CONFIRMED")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.SessionPartial, decode[models.SessionStateView](t, w).Status)

	// redelivery of a settled notification is acknowledged
	assert.Equal(t, http.StatusOK, notify(t, r, "team", first, "CONFIRMED").Code)

	// the gateway has not confirmed the second payment, a claimed approval changes nothing
	w = notify(t, r, "team", second, "CONFIRMED")
	require.Equal(t, http.StatusOK, w.Code)
	forged := decode[models.SessionStateView](t, w)
	assert.Equal(t, models.SessionPartial, forged.Status)
	assert.Equal(t, models.GroupPending, forged.Groups[1].Status)

	gateway.settle(second, "CONFIRMED")
	w = notify(t, r, "team", second, "CONFIRMED")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionCompleted, decode[models.SessionStateView](t, w).Status)

	w = do(t, r, http.MethodGet, "/api/checkout/sessions/"+session.SessionID, "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionCompleted, decode[models.SessionStateView](t, w).Status)
}

func TestCheckout_WebhookRejections(t *testing.T) {
	r, gateway := setupRouter(t)
	session := createSession(t, r)

	assert.Equal(t, http.StatusNotFound, notify(t, r, "team", "unknown-order", "CONFIRMED").Code)
	assert.Equal(t, http.StatusBadRequest, notify(t, r, "team", "", "CONFIRMED").Code)

	// an unknown gateway status is acknowledged and leaves the group as is
	gateway.settle(session.Groups[0].OrderRef, "WHATEVER")
	w := notify(t, r, "team", session.Groups[0].OrderRef, "WHATEVER")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.GroupPending, decode[models.SessionStateView](t, w).Groups[0].Status)
}

func TestCheckout_ReturnURLPullsGatewayState(t *testing.T) {
	r, gateway := setupRouter(t)
	session := createSession(t, r)
	orderRef := session.Groups[1].OrderRef

	gateway.states[orderRef] = models.PaymentState{ProviderPaymentID: "gw-1", Status: models.ProviderRejected}

	w := do(t, r, http.MethodGet, "/api/payments/fail?orderId="+orderRef, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[models.SessionStateView](t, w)
	assert.Equal(t, models.SessionPending, view.Status)
	assert.Equal(t, models.GroupFailed, view.Groups[1].Status)

	// a still-pending payment leaves the session unchanged
	w = do(t, r, http.MethodGet, "/api/payments/success?orderId="+session.Groups[0].OrderRef, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.GroupPending, decode[models.SessionStateView](t, w).Groups[0].Status)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/payments/success", "", nil).Code)
}

func TestCheckout_RetryFailedGroup(t *testing.T) {
	r, gateway := setupRouter(t)
	session := createSession(t, r)
	group := session.Groups[0]

	gateway.settle(group.OrderRef, "REJECTED")
	require.Equal(t, http.StatusOK, notify(t, r, "team", group.OrderRef, "REJECTED").Code)

	path := "/api/checkout/sessions/" + session.SessionID + "/groups/" + group.ID + "/retry"
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPost, path, "stranger", nil).Code)

	w := do(t, r, http.MethodPost, path, "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[models.SessionStateView](t, w)
	assert.Equal(t, models.GroupPending, view.Groups[0].Status)
	assert.Equal(t, 2, view.AttemptCount)

	// PENDING groups are not retryable
	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, path, "buyer", nil).Code)
}

func TestCheckout_CancelAndOwnership(t *testing.T) {
	r, _ := setupRouter(t)
	session := createSession(t, r)
	path := "/api/checkout/sessions/" + session.SessionID

	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodGet, path, "stranger", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, path, "admin", nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, r, http.MethodPatch, path+"/cancel", "stranger", nil).Code)

	w := do(t, r, http.MethodPatch, path+"/cancel", "buyer", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.SessionCancelled, decode[models.SessionStateView](t, w).Status)

	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPatch, path+"/cancel", "buyer", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/checkout/sessions/missing", "buyer", nil).Code)
}

func TestCheckout_CartRejections(t *testing.T) {
	r, _ := setupRouter(t)

	w := do(t, r, http.MethodPost, "/api/checkout/sessions", "buyer", models.CreateSessionRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bad := cart()
	bad.Items[0].EventID = 404
	w = do(t, r, http.MethodPost, "/api/checkout/sessions", "buyer", bad)
	assert.Equal(t, http.StatusConflict, w.Code)

	negative := cart()
	negative.Items[0].UnitPrice = decimal.NewFromInt(-100)
	w = do(t, r, http.MethodPost, "/api/checkout/sessions", "buyer", negative)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
