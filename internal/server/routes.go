package server

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"storefront-engine/internal/domain"
	"storefront-engine/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerSignature = "X-Razorpay-Signature"
	headerEventID   = "X-Razorpay-Event-Id"
	maxWebhookBody  = 1 << 20
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Accept", "Authorization", "Content-Type", headerSignature, headerEventID},
	}
	if len(s.allowedOrigins) == 0 || slices.Contains(s.allowedOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
		corsCfg.AllowCredentials = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.healthHandler)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api/v1")
	api.POST("/checkout", s.checkoutHandler)
	api.POST("/carts/:userId/items", s.addCartItemHandler)
	api.GET("/carts/:userId", s.cartHandler)
	api.GET("/orders/:id", s.getOrderHandler)
	api.POST("/orders/:id/cancel", s.cancelOrderHandler)
	api.POST("/payments/verify", s.verifyPaymentHandler)
	api.POST("/payments/webhook", s.webhookHandler)
	api.GET("/reconciliations", s.reconciliationsHandler)

	return r
}

// observe continues the caller's trace, records a server span and feeds the
// request metrics.
func (s *Server) observe() gin.HandlerFunc {
	tracer := otel.Tracer("storefront-engine/internal/server")
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			s.metrics.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		}
		if s.log != nil && route != "/health" && route != "/metrics" {
			s.log.InfoContext(c.Request.Context(), "http request",
				"method", c.Request.Method,
				"route", route,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
		return
	}
	stats := s.db.Health(c.Request.Context())
	code := http.StatusOK
	if stats["status"] != "up" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, stats)
}

func (s *Server) checkoutHandler(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	order, err := s.orders.Checkout(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (s *Server) addCartItemHandler(c *gin.Context) {
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	var item domain.CartItem
	if err := c.ShouldBindJSON(&item); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if err := s.orders.AddToCart(c.Request.Context(), userID, item); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cartHandler(c *gin.Context) {
	userID, ok := uuidParam(c, "userId")
	if !ok {
		return
	}
	items, err := s.orders.Cart(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) getOrderHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	order, err := s.orders.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelOrderHandler(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
	}
	res, err := s.payments.CancelOrder(c.Request.Context(), id, req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type verifyRequest struct {
	GatewayOrderID   string `json:"razorpay_order_id" binding:"required"`
	GatewayPaymentID string `json:"razorpay_payment_id" binding:"required"`
	Signature        string `json:"razorpay_signature" binding:"required"`
}

func (s *Server) verifyPaymentHandler(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "razorpay_order_id, razorpay_payment_id and razorpay_signature are required")
		return
	}
	order, err := s.payments.FinalizeFromClientCallback(c.Request.Context(), req.GatewayOrderID, req.GatewayPaymentID, req.Signature)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) webhookHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	res, err := s.payments.FinalizeFromWebhook(
		c.Request.Context(),
		body,
		c.GetHeader(headerSignature),
		c.GetHeader(headerEventID),
	)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) reconciliationsHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recs, err := s.orders.Reconciliations(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": recs})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps engine errors onto HTTP. 5xx answers to the gateway's
// webhook make it redeliver, which is what retryable errors want.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnauthorized, "SIGNATURE_INVALID"
	case errors.Is(err, domain.ErrInvalidWebhook):
		return http.StatusBadRequest, "INVALID_WEBHOOK"
	case errors.Is(err, domain.ErrInvalidLine):
		return http.StatusBadRequest, "INVALID_LINE"
	case errors.Is(err, domain.ErrVariantNotFound):
		return http.StatusUnprocessableEntity, "VARIANT_NOT_FOUND"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrPaymentMissing):
		return http.StatusUnprocessableEntity, "PAYMENT_MISSING"
	case errors.Is(err, domain.ErrRefundFailed):
		return http.StatusBadGateway, "REFUND_FAILED"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code, name := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		if s.log != nil {
			s.log.ErrorContext(c.Request.Context(), "request failed", "route", c.FullPath(), "err", err)
		}
		msg = "internal error"
	}
	c.AbortWithStatusJSON(code, errorBody{Code: name, Message: msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: msg})
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, name+" must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}
