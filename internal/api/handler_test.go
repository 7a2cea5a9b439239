package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/service"
	"checkout-service/internal/store/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appID = "2021000000000001"

type testServer struct {
	router      *gin.Engine
	repo        *memory.Store
	product     models.Product
	providerKey *rsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	appKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	providerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(appKey)
	require.NoError(t, err)
	pub, err := x509.MarshalPKIXPublicKey(&providerKey.PublicKey)
	require.NoError(t, err)

	gateway, err := payment.NewAlipayGateway(config.AlipayConfig{
		GatewayURL:        "https://pay.example.com/gateway.do",
		AppID:             appID,
		AppPrivateKey:     string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		ProviderPublicKey: base64.StdEncoding.EncodeToString(pub),
		NotifyURL:         "https://shop.example.com/api/v1/payments/alipay/notify",
	})
	require.NoError(t, err)

	repo := memory.NewStore()
	deps := service.Deps{}
	inventory := service.NewInventoryLedger(repo, deps, 3)
	cart := service.NewCartService(repo, inventory)
	coupons := service.NewCouponService(repo)
	orders := service.NewOrderService(repo, coupons, deps)
	reconciler := service.NewReconciler(repo, orders, inventory, cart, deps, time.Second)
	payments := service.NewPaymentService(repo, gateway, reconciler, time.Second)

	router := gin.New()
	NewHandler(Services{
		Cart:      cart,
		Coupons:   coupons,
		Orders:    orders,
		Payments:  payments,
		Inventory: inventory,
		Messages:  repo,
	}).SetupRoutes(router)

	return &testServer{
		router:      router,
		repo:        repo,
		product:     repo.AddProduct(models.Product{Title: "Tomato", Price: 1000, ShopOwnerID: 9}, 5),
		providerKey: providerKey,
	}
}

func (s *testServer) do(t *testing.T, method, path string, account int64, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return s.doAs(t, method, path, account, "", body)
}

func (s *testServer) doAs(t *testing.T, method, path string, account int64, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != 0 {
		req.Header.Set(accountHeader, itoa(account))
	}
	if role != "" {
		req.Header.Set(roleHeader, role)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) notify(t *testing.T, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	sign, err := payment.Sign(params, s.providerKey)
	require.NoError(t, err)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("sign", sign)
	form.Set("sign_type", "RSA2")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/alipay/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) checkout(t *testing.T, account int64, quantity int) service.OrderView {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/cart/items", account, gin.H{"product_id": s.product.ID, "quantity": quantity})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var item models.CartItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &item))

	w = s.do(t, http.MethodPost, "/api/v1/orders/checkout", account, gin.H{"cart_item_ids": []int64{item.ID}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var order service.OrderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	return order
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/ready", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccountHeaderRequired(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/cart", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set(accountHeader, "abc")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutPayAndSettle(t *testing.T) {
	s := newTestServer(t)
	order := s.checkout(t, 100, 3)
	assert.Equal(t, int64(3000), order.TotalAmount)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	path := "/api/v1/orders/" + itoa(order.ID)

	w := s.do(t, http.MethodGet, path, 200, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ORDER_NOT_FOUND", decodeError(t, w).Code)

	w = s.do(t, http.MethodPost, path+"/payment", 100, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var form payment.Form
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &form))
	assert.NotEmpty(t, form.Fields["sign"])
	assert.Contains(t, form.Fields["biz_content"], `"total_amount":"30.00"`)

	w = s.notify(t, map[string]string{
		"app_id":       appID,
		"out_trade_no": itoa(order.ID),
		"total_amount": "30.00",
		"trade_no":     "2024050122001",
		"notify_id":    "n-1",
		"trade_status": payment.TradeSuccess,
	})
	assert.Equal(t, "success", w.Body.String())

	w = s.do(t, http.MethodGet, path, 100, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var settled service.OrderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settled))
	assert.Equal(t, models.OrderStatusSuccess, settled.Status)

	inv, err := s.repo.GetInventory(context.Background(), s.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.Available)

	w = s.do(t, http.MethodGet, "/api/v1/cart", 100, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var cart service.CartView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cart))
	assert.Empty(t, cart.Items)

	w = s.do(t, http.MethodPost, path+"/cancel", 100, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ORDER_NOT_PENDING", decodeError(t, w).Code)
}

func TestNotify_RejectsForgedAndMismatched(t *testing.T) {
	s := newTestServer(t)
	order := s.checkout(t, 100, 2)

	form := url.Values{
		"out_trade_no": {itoa(order.ID)},
		"total_amount": {"20.00"},
		"trade_status": {payment.TradeSuccess},
		"sign":         {"Zm9yZ2Vk"},
		"sign_type":    {"RSA2"},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/alipay/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "fail", w.Body.String())

	params := map[string]string{
		"app_id":       appID,
		"out_trade_no": itoa(order.ID),
		"total_amount": "0.01",
		"trade_no":     "T-mismatch",
		"notify_id":    "n-2",
		"trade_status": payment.TradeSuccess,
	}
	assert.Equal(t, "fail", s.notify(t, params).Body.String())

	got, err := s.repo.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFailed, got.Status)

	// the retry sees a finished order
	assert.Equal(t, "success", s.notify(t, params).Body.String())
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/cart/items", 100, gin.H{"product_id": s.product.ID, "quantity": 9})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "OUT_OF_STOCK", decodeError(t, w).Code)

	w = s.do(t, http.MethodPost, "/api/v1/cart/items", 100, gin.H{"product_id": 404, "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders/checkout", 100, gin.H{"cart_item_ids": []int64{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/api/v1/orders/abc", 100, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCouponFlow(t *testing.T) {
	s := newTestServer(t)
	now := time.Now()

	body := gin.H{
		"name":           "ten off",
		"discount_type":  models.DiscountFixedAmount,
		"discount_value": "1000",
		"start_time":     now.Add(-time.Hour),
		"end_time":       now.Add(time.Hour),
		"quantity":       1,
	}

	w := s.do(t, http.MethodPost, "/api/v1/admin/coupons", 100, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeError(t, w).Code)

	w = s.doAs(t, http.MethodPost, "/api/v1/admin/coupons", 1, roleAdmin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var coupon models.Coupon
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coupon))

	receive := "/api/v1/coupons/" + itoa(coupon.ID) + "/receive"
	w = s.do(t, http.MethodPost, receive, 100, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, receive, 200, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "COUPON_EXHAUSTED", decodeError(t, w).Code)

	w = s.do(t, http.MethodGet, "/api/v1/account/coupons", 100, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balances struct {
		Balances []models.AccountCouponBalance `json:"balances"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balances))
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, 1, balances.Balances[0].RemainingQuantity)
}

func TestRestock(t *testing.T) {
	s := newTestServer(t)

	path := "/api/v1/admin/products/" + itoa(s.product.ID) + "/restock"

	w := s.do(t, http.MethodPost, path, 9, gin.H{"delta": 7})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.doAs(t, http.MethodPost, path, 0, roleAdmin, gin.H{"delta": 7})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.doAs(t, http.MethodPost, path, 9, "admin", gin.H{"delta": 7})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Available int `json:"available"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 12, body.Available)
}
