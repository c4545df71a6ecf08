package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-payments/internal/database"
	"storefront-payments/internal/infrastructure/payment"
	"storefront-payments/internal/metrics"
	"storefront-payments/internal/service"
)

type PaymentHandler struct {
	svc    service.PaymentService
	health database.Service
	logger *zap.Logger
}

func NewPaymentHandler(svc service.PaymentService, health database.Service, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{svc: svc, health: health, logger: logger}
}

func (h *PaymentHandler) Register(r *gin.Engine) {
	r.GET("/health", h.healthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/payments")
	api.POST("", h.initiate)
	// The gateway may deliver via redirect-style GET or
	// server-to-server POST; both land here.
	api.GET("/webhook/:gateway", h.webhook)
	api.POST("/webhook/:gateway", h.webhook)
	api.GET("/confirm/:orderId", h.confirm)
	api.GET("/order/:orderId", h.listForOrder)
	api.POST("/:orderId/refund", h.refund)
}

type initiateRequest struct {
	OrderID     string `json:"orderId" binding:"required"`
	Gateway     string `json:"gateway" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Currency    string `json:"currency"`
	Description string `json:"description" binding:"required"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Name        string `json:"name"`
}

func (h *PaymentHandler) initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid order id"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid amount"})
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "VND"
	}

	res, err := h.svc.InitiatePayment(c.Request.Context(), service.InitiateInput{
		OrderID:     orderID,
		Gateway:     req.Gateway,
		Amount:      amount,
		Currency:    currency,
		Description: req.Description,
		Customer: payment.Customer{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		},
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"paymentId":   res.PaymentID,
		"txnRef":      res.TransactionRef,
		"redirectUrl": res.RedirectURL,
	})
}

// webhook always acknowledges with a success-shaped response. A failed
// verification is recorded and logged, never returned as an HTTP
// error; otherwise the gateway retry-storms the endpoint.
func (h *PaymentHandler) webhook(c *gin.Context) {
	gateway := c.Param("gateway")

	fields := make(map[string]string)
	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for k, vs := range c.Request.PostForm {
				if len(vs) > 0 {
					fields[k] = vs[0]
				}
			}
		}
	}
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			fields[k] = vs[0]
		}
	}

	res := h.svc.HandleWebhook(c.Request.Context(), gateway, fields)
	c.JSON(http.StatusOK, gin.H{"RspCode": res.Code, "Message": res.Message})
}

func (h *PaymentHandler) confirm(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid order id"})
		return
	}
	conf, err := h.svc.ConfirmPayment(c.Request.Context(), orderID)
	if err != nil {
		status := http.StatusInternalServerError
		if err == service.ErrOrderNotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orderId": conf.OrderID,
		"isPaid":  conf.IsPaid,
		"paidAt":  conf.PaidAt,
		"payment": conf.Payment,
	})
}

func (h *PaymentHandler) listForOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid order id"})
		return
	}
	payments, err := h.svc.ListPaymentsForOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "payments": payments})
}

type refundRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *PaymentHandler) refund(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("orderId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid order id"})
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if err := h.svc.RefundPayment(c.Request.Context(), orderID, req.Reason); err != nil {
		status := http.StatusBadRequest
		switch {
		case err == service.ErrNoRefundable:
			status = http.StatusNotFound
		case isUnsupported(err):
			status = http.StatusNotImplemented
		}
		c.JSON(status, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PaymentHandler) healthCheck(c *gin.Context) {
	stats := h.health.Health()
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, stats)
}

func isUnsupported(err error) bool {
	return errors.Is(err, payment.ErrUnsupported)
}
