package api

import (
	"errors"
	"net/http"

	models "github.com/WoPay/WoPay-Gateway/api/models"
	"github.com/WoPay/WoPay-Gateway/db/store"
	basemodels "github.com/WoPay/WoPay-Gateway/models"
	"github.com/WoPay/WoPay-Gateway/services/webhook"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Webhooks struct {
	server *Server
}

func (w Webhooks) router(server *Server) {
	w.server = server

	serverGroupV1 := server.router.Group("/api/v1/webhooks")
	serverGroupV1.Use(server.MerchantAuthMiddleware())
	serverGroupV1.POST("test", w.testWebhook)
	serverGroupV1.GET("stats", w.getWebhookStats)
	serverGroupV1.GET("logs", w.listWebhookLogs)
	serverGroupV1.GET("logs/:webhook_id", w.getWebhookLog)
	serverGroupV1.POST("logs/:webhook_id/reprocess", w.reprocessWebhook)
}

// testWebhook sends a sample signed delivery to the merchant's endpoint.
func (w *Webhooks) testWebhook(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	log, err := w.server.webhooks.SendTest(ctx, m.ID)
	if err != nil {
		if errors.Is(err, webhook.ErrNoWebhookURL) {
			ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
			return
		}
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not send test webhook"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("test webhook sent", models.NewWebhookLogResponse(log)))
}

func (w *Webhooks) getWebhookStats(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	stats, err := w.server.webhooks.Stats(ctx, m.ID)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch webhook stats"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("webhook stats", gin.H{
		"total":   stats.Total,
		"pending": stats.Pending,
		"success": stats.Success,
		"failed":  stats.Failed,
	}))
}

func (w *Webhooks) listWebhookLogs(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	page := queryInt32(ctx, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt32(ctx, "page_size", 20)
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	logs, err := w.server.webhooks.List(ctx, store.ListWebhookLogsParams{
		MerchantID: m.ID,
		Status:     ctx.Query("status"),
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	})
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not list webhook logs"))
		return
	}

	resp := make([]models.WebhookLogResponse, 0, len(logs))
	for _, log := range logs {
		resp = append(resp, models.NewWebhookLogResponse(log))
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("webhook logs", resp))
}

func (w *Webhooks) getWebhookLog(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	id, err := uuid.Parse(ctx.Param("webhook_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("invalid webhook ID"))
		return
	}

	log, err := w.server.webhooks.Get(ctx, m.ID, id)
	if err != nil {
		if errors.Is(err, webhook.ErrWebhookNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch webhook log"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("webhook log", models.NewWebhookLogResponse(log)))
}

// reprocessWebhook rewinds a delivery and attempts it again immediately.
func (w *Webhooks) reprocessWebhook(ctx *gin.Context) {
	m, ok := authenticatedMerchant(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError("unauthorized"))
		return
	}

	id, err := uuid.Parse(ctx.Param("webhook_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("invalid webhook ID"))
		return
	}

	log, err := w.server.webhooks.Reprocess(ctx, m.ID, id)
	if err != nil {
		if errors.Is(err, webhook.ErrWebhookNotFound) {
			ctx.JSON(http.StatusNotFound, basemodels.NewError(err.Error()))
			return
		}
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not reprocess webhook"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("webhook reprocessed", models.NewWebhookLogResponse(log)))
}
