package api

import (
	"net/http"

	basemodels "github.com/WoPay/WoPay-Gateway/models"
	"github.com/WoPay/WoPay-Gateway/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Status struct {
	server *Server
}

func (s Status) router(server *Server) {
	s.server = server

	serverGroupV1 := server.router.Group("/api/v1")
	serverGroupV1.GET("status", s.systemStatus)
	serverGroupV1.GET("version", s.versionInfo)
	serverGroupV1.GET("network/status", s.networkStatus)
}

func (s *Status) systemStatus(ctx *gin.Context) {
	dbUp := s.server.store.DB.PingContext(ctx) == nil
	chainUp := true
	if _, err := s.server.chain.CurrentBlock(ctx); err != nil {
		chainUp = false
	}

	status := http.StatusOK
	if !dbUp || !chainUp {
		status = http.StatusServiceUnavailable
	}
	ctx.JSON(status, basemodels.NewSuccess("system status", gin.H{
		"database":   dbUp,
		"blockchain": chainUp,
	}))
}

func (s *Status) versionInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("version", gin.H{
		"version": utils.REVISION,
	}))
}

func (s *Status) networkStatus(ctx *gin.Context) {
	status, err := s.server.chain.NetworkStatus(ctx)
	if err != nil {
		s.server.logger.Log(logrus.ErrorLevel, err.Error())
		ctx.JSON(http.StatusServiceUnavailable, basemodels.NewError("blockchain node unavailable"))
		return
	}
	ctx.JSON(http.StatusOK, basemodels.NewSuccess("network status", status))
}
