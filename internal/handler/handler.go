package handler

import (
	"github.com/gin-gonic/gin"

	"SolMixer/internal/middleware"
)

func RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", HealthzHandler)
	r.GET("/readyz", ReadinessHandler)

	api := r.Group("/api")
	api.POST("/transactions", CreateTransactionHandler)
	api.GET("/transactions/:id", GetTransactionHandler)
	// 列表是运维接口，只允许本地访问
	api.GET("/transactions", middleware.LocalOnly(), ListTransactionsHandler)
}
