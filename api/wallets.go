package api

import (
	"errors"
	"net/http"

	models "github.com/WoPay/WoPay-Gateway/api/models"
	"github.com/WoPay/WoPay-Gateway/db/store"
	basemodels "github.com/WoPay/WoPay-Gateway/models"
	"github.com/WoPay/WoPay-Gateway/services/collection"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Wallets struct {
	server *Server
}

func (w Wallets) router(server *Server) {
	w.server = server

	serverGroupV1 := server.router.Group("/api/v1/wallet")
	serverGroupV1.Use(server.MerchantAuthMiddleware())
	serverGroupV1.GET("stats", w.getWalletStats)
	serverGroupV1.POST("collect", w.manualCollection)
	serverGroupV1.GET("collections", w.getCollectionStats)
	serverGroupV1.GET("collections/transactions", w.listCollectionTransactions)
	serverGroupV1.GET("config", w.getCollectionConfig)
	serverGroupV1.PUT("config", w.updateCollectionConfig)
	serverGroupV1.GET("addresses", w.getActiveAddresses)
}

func (w *Wallets) getWalletStats(ctx *gin.Context) {
	stats, err := w.server.collector.WalletStats(ctx)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch wallet stats"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("wallet stats", stats))
}

// manualCollection triggers a sweep cycle immediately, regardless of the
// automatic collection schedule.
func (w *Wallets) manualCollection(ctx *gin.Context) {
	results, err := w.server.collector.ManualCollection(ctx)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("collection cycle failed"))
		return
	}

	resp := make([]models.SweepResponse, 0, len(results))
	for _, r := range results {
		resp = append(resp, models.SweepResponse{
			FromAddress: r.FromAddress,
			AmountWei:   r.Amount.String(),
			TxHash:      r.TxHash,
		})
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("collection cycle finished", resp))
}

func (w *Wallets) getCollectionStats(ctx *gin.Context) {
	days := int(queryInt32(ctx, "days", 30))
	stats, err := w.server.collector.Stats(ctx, days)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch collection stats"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("collection stats", stats))
}

func (w *Wallets) listCollectionTransactions(ctx *gin.Context) {
	page := queryInt32(ctx, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt32(ctx, "page_size", 20)

	txs, err := w.server.collector.Transactions(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not list collection transactions"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("collection transactions", txs))
}

func (w *Wallets) getCollectionConfig(ctx *gin.Context) {
	config, err := w.server.collector.Config(ctx)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not fetch collection config"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("collection config", models.NewWalletConfigResponse(config)))
}

func (w *Wallets) updateCollectionConfig(ctx *gin.Context) {
	var request models.UpdateWalletConfigRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
		return
	}

	threshold, err := decimal.NewFromString(request.CollectionThreshold)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("collection threshold is not a valid decimal"))
		return
	}

	config, err := w.server.collector.UpdateConfig(ctx, store.UpdateWalletConfigParams{
		AutoCollectionEnabled:     *request.AutoCollectionEnabled,
		CollectionThreshold:       threshold,
		CollectionIntervalMinutes: request.CollectionIntervalMinutes,
	})
	if err != nil {
		if errors.Is(err, collection.ErrInvalidThreshold) || errors.Is(err, collection.ErrInvalidInterval) {
			ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
			return
		}
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not update collection config"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("collection config updated", models.NewWalletConfigResponse(config)))
}

// getActiveAddresses lists deposit addresses still awaiting collection.
func (w *Wallets) getActiveAddresses(ctx *gin.Context) {
	addresses, err := w.server.store.ListUncollectedAddresses(ctx)
	if err != nil {
		w.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not list active addresses"))
		return
	}

	type activeAddress struct {
		Address      string `json:"address"`
		AddressIndex int64  `json:"address_index"`
	}
	resp := make([]activeAddress, 0, len(addresses))
	for _, a := range addresses {
		resp = append(resp, activeAddress{Address: a.Address, AddressIndex: a.AddressIndex})
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("active addresses", resp))
}
