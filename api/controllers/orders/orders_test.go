package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gadgetswap-backend/api/middleware"
	"github.com/angelmondragon/gadgetswap-backend/pkg/auth"
	"github.com/angelmondragon/gadgetswap-backend/pkg/db/models"
	"github.com/angelmondragon/gadgetswap-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gadgetswap-backend/pkg/errors"
	"github.com/angelmondragon/gadgetswap-backend/pkg/types"
)

type stubOrderService struct {
	order     *models.Order
	orders    []models.Order
	err       error
	gotBuyer  string
	gotOrder  uuid.UUID
	gotQuery  string
	gotReason string
	purged    bool
}

func (s *stubOrderService) AddItem(ctx context.Context, buyerID string, listingID uuid.UUID) (*models.Order, error) {
	s.gotBuyer = buyerID
	return s.order, s.err
}

func (s *stubOrderService) Current(ctx context.Context, buyerID string) ([]models.Order, error) {
	s.gotBuyer = buyerID
	return s.orders, s.err
}

func (s *stubOrderService) Previous(ctx context.Context, buyerID string) ([]models.Order, error) {
	s.gotBuyer = buyerID
	return s.orders, s.err
}

func (s *stubOrderService) SearchCurrent(ctx context.Context, buyerID, query string) ([]models.Order, error) {
	s.gotQuery = query
	return s.orders, s.err
}

func (s *stubOrderService) SearchPrevious(ctx context.Context, buyerID, query string) ([]models.Order, error) {
	s.gotQuery = query
	return s.orders, s.err
}

func (s *stubOrderService) Get(ctx context.Context, buyerID string, orderID uuid.UUID) (*models.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) Cancel(ctx context.Context, buyerID string, orderID uuid.UUID, reason string) (*models.Order, error) {
	s.gotOrder = orderID
	s.gotReason = reason
	return s.order, s.err
}

func (s *stubOrderService) PrepareCheckout(ctx context.Context, buyerID string, orderID uuid.UUID) (*models.Order, error) {
	s.gotOrder = orderID
	return s.order, s.err
}

func (s *stubOrderService) RecordCheckoutSession(ctx context.Context, orderID uuid.UUID, sessionID string) error {
	return s.err
}

func (s *stubOrderService) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return s.orders, s.err
}

func (s *stubOrderService) Expire(ctx context.Context, orderID uuid.UUID, cutoff time.Time) (bool, error) {
	return false, s.err
}

func (s *stubOrderService) Purge(ctx context.Context, actorID string, orderID uuid.UUID) error {
	s.purged = s.err == nil
	return s.err
}

type stubConfirmer struct {
	order     *models.Order
	err       error
	sessionID string
}

func (s *stubConfirmer) Confirm(ctx context.Context, buyerID string, orderID uuid.UUID, sessionID string) (*models.Order, error) {
	s.sessionID = sessionID
	return s.order, s.err
}

func sampleOrder() *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		BuyerID:       "buyer-a",
		Status:        enums.OrderStatusCurrent,
		PaymentStatus: enums.PaymentStatusPending,
		Subtotal:      decimal.RequireFromString("80.00"),
		Items: []models.OrderItem{
			{ListingID: uuid.New(), Title: "Phone", Price: decimal.RequireFromString("50.00"), Quantity: 1},
			{ListingID: uuid.New(), Title: "Charger", Price: decimal.RequireFromString("30.00"), Quantity: 1},
		},
	}
}

// serve mounts h on a chi route so URL params resolve, and authenticates as buyerID when set.
func serve(h http.HandlerFunc, method, pattern, target, buyerID, body string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.MethodFunc(method, pattern, h)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if buyerID != "" {
		req = req.WithContext(middleware.WithIdentity(req.Context(), auth.Identity{ID: buyerID, Role: auth.RoleBuyer}))
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) types.ErrorBody {
	t.Helper()
	var body types.ErrorBody
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAddItemCreated(t *testing.T) {
	svc := &stubOrderService{order: sampleOrder()}
	resp := serve(AddItem(svc, nil), http.MethodPost, "/orders/current", "/orders/current", "buyer-a", `{"listingId":"`+uuid.NewString()+`"}`)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotBuyer != "buyer-a" {
		t.Fatalf("buyer not forwarded: %q", svc.gotBuyer)
	}
	var order models.Order
	if err := json.Unmarshal(resp.Body.Bytes(), &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if !order.Subtotal.Equal(decimal.RequireFromString("80")) || len(order.Items) != 2 {
		t.Fatalf("unexpected order body %+v", order)
	}
}

func TestAddItemRequiresAuthAndListing(t *testing.T) {
	svc := &stubOrderService{order: sampleOrder()}

	resp := serve(AddItem(svc, nil), http.MethodPost, "/orders/current", "/orders/current", "", `{"listingId":"`+uuid.NewString()+`"}`)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}

	resp = serve(AddItem(svc, nil), http.MethodPost, "/orders/current", "/orders/current", "buyer-a", `{}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if body := decodeError(t, resp); body.Code != string(pkgerrors.CodeValidation) || body.Error != "listingId is required" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestAddItemMapsServiceErrors(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeNotFound: http.StatusNotFound,
		pkgerrors.CodeConflict: http.StatusConflict,
	}
	for code, status := range cases {
		svc := &stubOrderService{err: pkgerrors.New(code, "nope")}
		resp := serve(AddItem(svc, nil), http.MethodPost, "/orders/current", "/orders/current", "buyer-a", `{"listingId":"`+uuid.NewString()+`"}`)
		if resp.Code != status {
			t.Fatalf("%s: expected %d got %d", code, status, resp.Code)
		}
	}
}

func TestListsReturnEmptyArray(t *testing.T) {
	svc := &stubOrderService{}
	for _, h := range []http.HandlerFunc{Current(svc, nil), Previous(svc, nil)} {
		resp := serve(h, http.MethodGet, "/orders/x", "/orders/x", "buyer-a", "")
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", resp.Code)
		}
		if strings.TrimSpace(resp.Body.String()) != "[]" {
			t.Fatalf("expected empty array, got %s", resp.Body.String())
		}
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	svc := &stubOrderService{orders: []models.Order{*sampleOrder()}}

	resp := serve(SearchPrevious(svc, nil), http.MethodGet, "/orders/previous/search", "/orders/previous/search", "buyer-a", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	resp = serve(SearchCurrent(svc, nil), http.MethodGet, "/orders/current/search", "/orders/current/search?q=%20phone%20", "buyer-a", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.gotQuery != "phone" {
		t.Fatalf("query not sanitized: %q", svc.gotQuery)
	}
}

func TestCancelWithAndWithoutBody(t *testing.T) {
	order := sampleOrder()
	order.Status = enums.OrderStatusCanceled
	svc := &stubOrderService{order: order}

	resp := serve(Cancel(svc, nil), http.MethodPost, "/orders/{orderId}/cancel", "/orders/"+order.ID.String()+"/cancel", "buyer-a", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotOrder != order.ID || svc.gotReason != "" {
		t.Fatalf("unexpected forward %s %q", svc.gotOrder, svc.gotReason)
	}

	resp = serve(Cancel(svc, nil), http.MethodPost, "/orders/{orderId}/cancel", "/orders/"+order.ID.String()+"/cancel", "buyer-a", `{"reason":"  changed   my mind "}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.gotReason != "changed my mind" {
		t.Fatalf("reason not sanitized: %q", svc.gotReason)
	}

	resp = serve(Cancel(svc, nil), http.MethodPost, "/orders/{orderId}/cancel", "/orders/not-a-uuid/cancel", "buyer-a", "")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id got %d", resp.Code)
	}
}

func TestCheckoutReturnsInstructions(t *testing.T) {
	order := sampleOrder()
	svc := &stubOrderService{order: order}

	resp := serve(Checkout(svc, nil), http.MethodPost, "/orders/{orderId}/checkout", "/orders/"+order.ID.String()+"/checkout", "buyer-a", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var body struct {
		Message string       `json:"message"`
		Order   models.Order `json:"order"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != CheckoutMessage || body.Order.ID != order.ID {
		t.Fatalf("unexpected body %+v", body)
	}

	svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found or empty")
	resp = serve(Checkout(svc, nil), http.MethodPost, "/orders/{orderId}/checkout", "/orders/"+order.ID.String()+"/checkout", "buyer-a", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestCompleteForwardsSession(t *testing.T) {
	order := sampleOrder()
	order.Status = enums.OrderStatusFulfilled
	confirmer := &stubConfirmer{order: order}

	resp := serve(Complete(confirmer, nil), http.MethodPost, "/orders/{orderId}/complete", "/orders/"+order.ID.String()+"/complete", "buyer-a", `{"sessionId":"cs_test_123"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if confirmer.sessionID != "cs_test_123" {
		t.Fatalf("session id not forwarded")
	}

	resp = serve(Complete(confirmer, nil), http.MethodPost, "/orders/{orderId}/complete", "/orders/"+order.ID.String()+"/complete", "buyer-a", `{"sessionId":"pi_123"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-session id got %d", resp.Code)
	}

	confirmer.err = pkgerrors.New(pkgerrors.CodeConflict, "one or more items are no longer available").
		WithDetails([]map[string]string{{"listingId": "x"}})
	resp = serve(Complete(confirmer, nil), http.MethodPost, "/orders/{orderId}/complete", "/orders/"+order.ID.String()+"/complete", "buyer-a", `{"sessionId":"cs_test_123"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if body := decodeError(t, resp); body.Details == nil {
		t.Fatalf("conflict details must be exposed")
	}
}

func TestPurge(t *testing.T) {
	svc := &stubOrderService{}
	id := uuid.NewString()

	resp := serve(Purge(svc, nil), http.MethodDelete, "/orders/{orderId}", "/orders/"+id, "admin-1", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != `{"ok":true}` || !svc.purged {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}

	svc.err = pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	resp = serve(Purge(svc, nil), http.MethodDelete, "/orders/{orderId}", "/orders/"+id, "admin-1", "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
