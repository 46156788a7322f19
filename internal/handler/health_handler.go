package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"SolMixer/internal/db"
)

var (
	// startTime 记录服务启动时间
	startTime     time.Time
	startTimeOnce sync.Once
)

// InitStartTime 初始化服务启动时间（只执行一次）
func InitStartTime() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthzHandler 存活探针（liveness probe）
func HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"type":   "liveness",
	})
}

// ReadinessHandler 就绪探针（readiness probe）：数据库连通才算就绪
func ReadinessHandler(c *gin.Context) {
	if startTime.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "服务启动时间未初始化",
		})
		return
	}

	if db.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "数据库未初始化",
		})
		return
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "无法获取数据库连接",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"type":    "readiness",
			"message": "数据库连接失败",
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"type":   "readiness",
		"uptime": time.Since(startTime).String(),
	})
}
