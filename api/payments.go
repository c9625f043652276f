package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	models "github.com/WoPay/WoPay-Gateway/api/models"
	basemodels "github.com/WoPay/WoPay-Gateway/models"
	"github.com/WoPay/WoPay-Gateway/services/payment"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Payments struct {
	server *Server
}

func (p Payments) router(server *Server) {
	p.server = server

	serverGroupV1 := server.router.Group("/api/v1/payments")
	serverGroupV1.Use(server.MerchantAuthMiddleware())
	serverGroupV1.POST("", p.createPayment)
	serverGroupV1.GET("", p.listPayments)
	serverGroupV1.GET(":payment_id", p.getPayment)
	serverGroupV1.GET(":payment_id/qrcode", p.getPaymentQRCode)
	serverGroupV1.GET(":payment_id/transactions", p.getPaymentTransactions)
}

func (p *Payments) createPayment(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	var request models.CreatePaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			ctx.JSON(http.StatusBadRequest, basemodels.NewError(verrs.Error()))
			return
		}
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("invalid request body"))
		return
	}

	amount, err := decimal.NewFromString(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("amount is not a valid decimal"))
		return
	}

	created, err := p.server.payments.Create(ctx, m.ID, payment.CreateInput{
		OrderID:   request.OrderID,
		Amount:    amount,
		Currency:  request.Currency,
		ExpiresIn: time.Duration(request.ExpiresInSeconds) * time.Second,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrOrderIDTaken):
			ctx.JSON(http.StatusConflict, basemodels.NewError(err.Error()))
		case errors.Is(err, payment.ErrUnsupportedCurrency),
			errors.Is(err, payment.ErrAmountTooSmall),
			errors.Is(err, payment.ErrAmountTooLarge),
			errors.Is(err, payment.ErrInvalidExpiry):
			ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
		default:
			p.server.logger.Log(logrus.ErrorLevel, err.Error())
			ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not create payment"))
		}
		return
	}

	ctx.JSON(http.StatusCreated, basemodels.NewSuccess("payment created",
		models.NewPaymentResponse(created.Payment, created.PaymentURI)))
}

func (p *Payments) getPayment(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	id, err := uuid.Parse(ctx.Param("payment_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("invalid payment ID"))
		return
	}

	pay, err := p.server.payments.Get(ctx, m.ID, id)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch payment"))
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("payment",
		models.NewPaymentResponse(pay, p.server.payments.URI(pay))))
}

func (p *Payments) listPayments(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	in := payment.ListInput{
		Status:   ctx.Query("status"),
		Currency: ctx.Query("currency"),
		Page:     queryInt32(ctx, "page", 1),
		PageSize: queryInt32(ctx, "page_size", 20),
	}
	if v := ctx.Query("start_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			in.StartDate = t
		}
	}
	if v := ctx.Query("end_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			in.EndDate = t
		}
	}

	payments, total, err := p.server.payments.List(ctx, m.ID, in)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidStatus) {
			ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
			return
		}
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not list payments"))
		return
	}

	resp := models.PaymentListResponse{
		Payments: make([]models.PaymentResponse, 0, len(payments)),
		Total:    total,
		Page:     in.Page,
		PageSize: in.PageSize,
	}
	for _, pay := range payments {
		resp.Payments = append(resp.Payments, models.NewPaymentResponse(pay, ""))
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("payments", resp))
}

// getPaymentQRCode returns the wallet URI for rendering a payment QR code.
func (p *Payments) getPaymentQRCode(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	id, err := uuid.Parse(ctx.Param("payment_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("invalid payment ID"))
		return
	}

	pay, err := p.server.payments.Get(ctx, m.ID, id)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch payment"))
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("payment URI", gin.H{
		"payment_id":  pay.ID,
		"payment_uri": p.server.payments.URI(pay),
		"address":     pay.PaymentAddress,
	}))
}

// getPaymentTransactions lists the on-chain transactions observed for a
// payment's deposit address.
func (p *Payments) getPaymentTransactions(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	id, err := uuid.Parse(ctx.Param("payment_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("invalid payment ID"))
		return
	}

	if _, err := p.server.payments.Get(ctx, m.ID, id); err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch payment"))
		return
	}

	txs, err := p.server.store.ListChainTransactions(ctx, id)
	if err != nil {
		p.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not list transactions"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("transactions", txs))
}

func queryInt32(ctx *gin.Context, key string, fallback int32) int32 {
	v := ctx.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fallback
	}
	return int32(n)
}
