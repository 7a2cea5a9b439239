package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	accountHeader = "X-Account-ID"
	roleHeader    = "X-Account-Role"
	accountKey    = "account_id"

	roleAdmin = "ADMIN"
)

// Services are the collaborators the HTTP layer calls into
type Services struct {
	Cart      *service.CartService
	Coupons   *service.CouponService
	Orders    *service.OrderService
	Payments  *service.PaymentService
	Inventory *service.InventoryLedger
	Messages  store.MessageRepository
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services) *Handler {
	return &Handler{
		svc:    svc,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// the provider calls back without an account
	v1.POST("/payments/alipay/notify", h.alipayNotify)

	buyer := v1.Group("", accountMiddleware())
	{
		buyer.POST("/cart/items", h.addCartItem)
		buyer.GET("/cart", h.listCart)
		buyer.PATCH("/cart/items/:id", h.setCartItemQuantity)
		buyer.DELETE("/cart/items/:id", h.removeCartItem)

		buyer.GET("/coupons", h.listCoupons)
		buyer.POST("/coupons/:id/receive", h.receiveCoupon)
		buyer.GET("/account/coupons", h.listCouponBalances)
		buyer.GET("/account/messages", h.listMessages)

		buyer.POST("/orders/checkout", h.checkout)
		buyer.GET("/orders", h.listOrders)
		buyer.GET("/orders/:id", h.getOrder)
		buyer.POST("/orders/:id/cancel", h.cancelOrder)
		buyer.POST("/orders/:id/payment", h.requestPayment)
	}

	admin := v1.Group("/admin", accountMiddleware(), roleMiddleware(roleAdmin))
	{
		admin.POST("/coupons", h.createCoupon)
		admin.POST("/products/:id/restock", h.restock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.svc.Ready != nil {
		if err := h.svc.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	item, err := h.svc.Cart.Add(c.Request.Context(), accountID(c), req.ProductID, req.Quantity)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) listCart(c *gin.Context) {
	view, err := h.svc.Cart.List(c.Request.Context(), accountID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) setCartItemQuantity(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req setQuantityRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.svc.Cart.SetQuantity(c.Request.Context(), accountID(c), id, req.Quantity); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.svc.Cart.Remove(c.Request.Context(), accountID(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listCoupons(c *gin.Context) {
	coupons, err := h.svc.Coupons.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}

type createCouponRequest struct {
	Name          string              `json:"name" binding:"required"`
	DiscountType  models.DiscountType `json:"discount_type" binding:"required"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
	StartTime     time.Time           `json:"start_time" binding:"required"`
	EndTime       time.Time           `json:"end_time" binding:"required"`
	Quantity      int                 `json:"quantity"`
}

func (h *Handler) createCoupon(c *gin.Context) {
	var req createCouponRequest
	if !bindJSON(c, &req) {
		return
	}

	coupon := &models.Coupon{
		Name:          req.Name,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Quantity:      req.Quantity,
	}
	if err := h.svc.Coupons.Create(c.Request.Context(), coupon); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, coupon)
}

type receiveCouponRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) receiveCoupon(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	req := receiveCouponRequest{Quantity: 1}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	if err := h.svc.Coupons.Receive(c.Request.Context(), accountID(c), id, req.Quantity); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listCouponBalances(c *gin.Context) {
	balances, err := h.svc.Coupons.Balances(c.Request.Context(), accountID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (h *Handler) listMessages(c *gin.Context) {
	messages, err := h.svc.Messages.ListMessages(c.Request.Context(), accountID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// checkout handles order creation from cart items
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)

	order, err := h.svc.Orders.Checkout(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.svc.Orders.ListOrders(c.Request.Context(), accountID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.svc.Orders.GetOrder(c.Request.Context(), accountID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.svc.Orders.Cancel(c.Request.Context(), accountID(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// requestPayment returns the signed provider form for a pending order
func (h *Handler) requestPayment(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	form, err := h.svc.Payments.RequestPayment(c.Request.Context(), accountID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, form)
}

type restockRequest struct {
	Delta int `json:"delta"`
}

func (h *Handler) restock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req restockRequest
	if !bindJSON(c, &req) {
		return
	}

	available, err := h.svc.Inventory.Restock(c.Request.Context(), id, req.Delta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": id,
		"available":  available,
	})
}

// alipayNotify answers the provider with the literal it expects. Anything
// but "success" makes the provider retry.
func (h *Handler) alipayNotify(c *gin.Context) {
	reply := "success"
	if err := c.Request.ParseForm(); err != nil {
		h.logger.Warn("Malformed payment notification", zap.Error(err))
		reply = "fail"
	} else if err := h.svc.Payments.HandleNotification(c.Request.Context(), c.Request.PostForm); err != nil {
		h.logger.Warn("Payment notification not accepted", zap.Error(err))
		reply = "fail"
	}

	util.PaymentCallbacksTotal.WithLabelValues(reply).Inc()
	c.String(http.StatusOK, reply)
}

// accountMiddleware reads the account placed by the authenticating gateway
func accountMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(accountHeader), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Code:    "UNAUTHENTICATED",
				Message: "missing or invalid " + accountHeader + " header",
			})
			return
		}
		c.Set(accountKey, id)
		c.Next()
	}
}

// roleMiddleware admits accounts whose gateway-assigned role is role
func roleMiddleware(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(c.GetHeader(roleHeader), role) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{
				Code:    "FORBIDDEN",
				Message: role + " role required",
			})
			return
		}
		c.Next()
	}
}

func accountID(c *gin.Context) int64 {
	return c.GetInt64(accountKey)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
