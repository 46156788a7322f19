package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"SolMixer/internal/db"
	"SolMixer/internal/handler"
	"SolMixer/internal/models"
	"SolMixer/internal/relayer"
	"SolMixer/internal/services"
	"SolMixer/utils"
)

type Config struct {
	MySQL struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		DBName   string `mapstructure:"dbname"`
	} `mapstructure:"mysql"`
	App struct {
		Port         int `mapstructure:"port"`
		PollInterval int `mapstructure:"poll_interval"` // 轮询间隔（秒）
		TxTimeout    int `mapstructure:"tx_timeout"`    // 单笔交易一次推进的超时（秒）
	} `mapstructure:"app"`
}

func main() {
	// 读取配置
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal("读取配置失败:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatal("解析配置失败:", err)
	}

	// 连接 MySQL 并初始化 DB
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.DBName)
	dbConn, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("MySQL 连接失败:", err)
	}

	// 表结构迁移
	if err := dbConn.AutoMigrate(&models.Transaction{}, &models.Wallet{}, &models.Step{}); err != nil {
		log.Fatal("表迁移失败:", err)
	}
	db.DB = dbConn
	fmt.Println("数据库初始化完成")

	// 保险库 / 链适配器 / 聚合器客户端
	if err := services.InitVault(); err != nil {
		log.Fatal("保险库初始化失败:", err)
	}
	if err := services.InitChains(); err != nil {
		log.Fatal("链适配器初始化失败:", err)
	}
	bridge, err := services.NewBridgeClientFromConfig()
	if err != nil {
		log.Fatal("聚合器客户端初始化失败:", err)
	}

	// relayer 引擎（持久化句柄显式注入，不走全局 DB）
	engine := relayer.NewEngine(
		db.NewStore(dbConn),
		services.Chains(),
		bridge,
		services.DefaultVault,
		relayer.Config{
			MinDeposit:           minDeposits(),
			IntermediateAsset:    viper.GetString("mixer.intermediate_asset"),
			SlippageBps:          viper.GetInt("mixer.slippage_bps"),
			QuoteDeadlineMinutes: viper.GetInt("mixer.quote_deadline_minutes"),
			TxTimeout:            time.Duration(cfg.App.TxTimeout) * time.Second,
		},
	)
	rel := relayer.New(engine, time.Duration(cfg.App.PollInterval)*time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go rel.Start(ctx)

	// 初始化 Gin
	handler.InitStartTime()
	r := gin.Default()
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: r,
	}
	go func() {
		fmt.Printf("服务器启动于端口 :%d\n", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Gin 服务器启动失败:", err)
		}
	}()

	// 优雅关闭：先停 HTTP，再等 relayer 把在途的迭代走完
	<-ctx.Done()
	utils.DefaultLogger.Info("收到退出信号，开始优雅关闭")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.DefaultLogger.Error("HTTP 关闭失败: %v", err)
	}
	rel.Wait()
	utils.DefaultLogger.Info("退出")
}

// minDeposits 按资产读取最小入金阈值并换算为最小单位
func minDeposits() map[string]uint64 {
	decimals := map[string]int{
		models.TokenSOL: utils.DecimalsSOL,
		models.TokenBNB: utils.DecimalsBNB,
	}
	out := make(map[string]uint64, len(decimals))
	for token, dec := range decimals {
		raw := viper.GetString("mixer." + strings.ToLower(token) + ".min_deposit")
		if raw == "" {
			continue
		}
		v, err := utils.ToBaseUnits(raw, dec)
		if err != nil {
			log.Fatalf("mixer.%s.min_deposit 配置无效: %v", strings.ToLower(token), err)
		}
		out[token] = v
	}
	return out
}
