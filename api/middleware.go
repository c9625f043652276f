package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/WoPay/WoPay-Gateway/db/store"
	basemodels "github.com/WoPay/WoPay-Gateway/models"
	"github.com/WoPay/WoPay-Gateway/services/merchant"
	"github.com/gin-gonic/gin"
)

const merchantContextKey = "merchant"

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {

		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST,HEAD,PATCH,OPTIONS,GET,PUT,DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// extractAPIKey accepts either "Authorization: Bearer <key>" or an X-API-Key
// header.
func extractAPIKey(ctx *gin.Context) string {
	if auth := ctx.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return ctx.GetHeader("X-API-Key")
}

// MerchantAuthMiddleware resolves the caller's API key to an active merchant
// and stores it on the request context.
func (s *Server) MerchantAuthMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		apiKey := extractAPIKey(ctx)
		if apiKey == "" {
			ctx.JSON(http.StatusUnauthorized, basemodels.NewError("missing API key"))
			ctx.Abort()
			return
		}

		m, err := s.merchants.LookupByAPIKey(ctx, apiKey)
		if err != nil {
			switch {
			case errors.Is(err, merchant.ErrMerchantNotFound):
				ctx.JSON(http.StatusUnauthorized, basemodels.NewError("invalid API key"))
			case errors.Is(err, merchant.ErrMerchantInactive):
				ctx.JSON(http.StatusForbidden, basemodels.NewError("merchant account is not active"))
			default:
				s.logger.WithError(err).Error("API key lookup failed")
				ctx.JSON(http.StatusInternalServerError, basemodels.NewError("could not validate API key"))
			}
			ctx.Abort()
			return
		}

		ctx.Set(merchantContextKey, m)
		ctx.Next()
	}
}

// authenticatedMerchant returns the merchant the auth middleware resolved.
func authenticatedMerchant(ctx *gin.Context) (store.Merchant, bool) {
	value, exists := ctx.Get(merchantContextKey)
	if !exists {
		return store.Merchant{}, false
	}
	m, ok := value.(store.Merchant)
	return m, ok
}
