package api

import (
	"errors"
	"net/http"

	models "github.com/WoPay/WoPay-Gateway/api/models"
	basemodels "github.com/WoPay/WoPay-Gateway/models"
	"github.com/WoPay/WoPay-Gateway/services/merchant"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Merchants struct {
	server *Server
}

func (m Merchants) router(server *Server) {
	m.server = server

	serverGroupV1 := server.router.Group("/api/v1/merchants")
	serverGroupV1.POST("", m.createMerchant)

	authed := server.router.Group("/api/v1/merchants")
	authed.Use(server.MerchantAuthMiddleware())
	authed.GET(":merchant_id", m.getMerchant)
	authed.PUT(":merchant_id", m.updateMerchant)
	authed.DELETE(":merchant_id", m.deactivateMerchant)
	authed.POST(":merchant_id/regenerate-keys", m.regenerateKeys)
	authed.GET(":merchant_id/stats", m.getMerchantStats)
}

// pathMerchantID parses the path ID and checks it names the caller. A
// merchant's API key grants access to its own records only.
func (m *Merchants) pathMerchantID(ctx *gin.Context) (uuid.UUID, bool) {
	caller, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ctx.Param("merchant_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("invalid merchant ID"))
		return uuid.Nil, false
	}
	if id != caller.ID {
		ctx.JSON(http.StatusForbidden, basemodels.NewError("cannot access another merchant"))
		return uuid.Nil, false
	}
	return id, true
}

func (m *Merchants) createMerchant(ctx *gin.Context) {
	var request models.CreateMerchantRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
		return
	}

	creds, err := m.server.merchants.Register(ctx, request.Name, request.Email, request.WebhookURL)
	if err != nil {
		switch {
		case errors.Is(err, merchant.ErrEmailTaken):
			ctx.JSON(http.StatusConflict, basemodels.NewError(err.Error()))
		case errors.Is(err, merchant.ErrInvalidWebhookURL):
			ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
		default:
			m.server.logger.Log(logrus.ErrorLevel, err.Error())
			ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not register merchant"))
		}
		return
	}

	ctx.JSON(http.StatusCreated, basemodels.NewSuccess("merchant registered",
		models.MerchantCredentialsResponse{
			Merchant:  models.NewMerchantResponse(creds.Merchant),
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
		}))
}

func (m *Merchants) getMerchant(ctx *gin.Context) {
	id, ok := m.pathMerchantID(ctx)
	if !ok {
		return
	}

	mer, err := m.server.merchants.Get(ctx, id)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		m.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch merchant"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("merchant", models.NewMerchantResponse(mer)))
}

func (m *Merchants) updateMerchant(ctx *gin.Context) {
	id, ok := m.pathMerchantID(ctx)
	if !ok {
		return
	}

	var request models.UpdateMerchantRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
		return
	}

	in := merchant.UpdateInput{
		Name:  request.Name,
		Email: request.Email,
	}
	if request.WebhookURL != nil {
		in.SetWebhook = true
		in.WebhookURL = *request.WebhookURL
	}

	mer, err := m.server.merchants.Update(ctx, id, in)
	if err != nil {
		switch {
		case errors.Is(err, merchant.ErrMerchantNotFound):
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
		case errors.Is(err, merchant.ErrEmailTaken):
			ctx.JSON(http.StatusConflict, basemodels.NewError(err.Error()))
		case errors.Is(err, merchant.ErrInvalidWebhookURL):
			ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
		default:
			m.server.logger.Log(logrus.ErrorLevel, err.Error())
			ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not update merchant"))
		}
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("merchant updated", models.NewMerchantResponse(mer)))
}

func (m *Merchants) deactivateMerchant(ctx *gin.Context) {
	id, ok := m.pathMerchantID(ctx)
	if !ok {
		return
	}

	mer, err := m.server.merchants.Deactivate(ctx, id)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		m.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not deactivate merchant"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("merchant deactivated", models.NewMerchantResponse(mer)))
}

func (m *Merchants) regenerateKeys(ctx *gin.Context) {
	id, ok := m.pathMerchantID(ctx)
	if !ok {
		return
	}

	creds, err := m.server.merchants.RegenerateKeys(ctx, id)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		m.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not regenerate keys"))
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("API keys regenerated",
		models.MerchantCredentialsResponse{
			Merchant:  models.NewMerchantResponse(creds.Merchant),
			APIKey:    creds.APIKey,
			APISecret: creds.APISecret,
		}))
}

func (m *Merchants) getMerchantStats(ctx *gin.Context) {
	id, ok := m.pathMerchantID(ctx)
	if !ok {
		return
	}

	stats, err := m.server.merchants.Stats(ctx, id)
	if err != nil {
		m.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch merchant stats"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("merchant stats", gin.H{
		"total_payments":     stats.TotalPayments,
		"completed_payments": stats.CompletedPayments,
		"pending_payments":   stats.PendingPayments,
		"expired_payments":   stats.ExpiredPayments,
		"failed_payments":    stats.FailedPayments,
	}))
}
