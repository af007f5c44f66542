// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"rag-sync-go/internal/bootstrap"
	"rag-sync-go/internal/config"
	"rag-sync-go/internal/service"
	"rag-sync-go/pkg/log"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 构建全部组件
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	app, err := bootstrap.New(rootCtx, &cfg, bootstrap.Options{EnableSync: true})
	if err != nil {
		log.Fatal("应用初始化失败", err)
	}

	// 4. 启动自检。依赖不可用时只告警，服务照常启动
	report := app.Health.Check(rootCtx)
	if report.Status != service.HealthOK {
		log.Warnw("启动自检未全部通过", "vectorStore", report.VectorStore, "embedding", report.Embedding, "errors", report.Errors)
	} else {
		log.Info("启动自检通过")
	}

	// 5. 启动目录同步
	if err := app.StartSync(rootCtx); err != nil {
		log.Errorf("目录同步启动失败, 服务仅提供检索接口: %v", err)
	}

	// 6. 设置 Gin 模式并启动 HTTP 服务器
	gin.SetMode(cfg.Server.Mode)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: app.Router(),
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先停止接收请求，再停止同步引擎并关闭连接
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	if err := app.Close(); err != nil {
		log.Errorf("关闭组件时出错: %v", err)
	}
	log.Info("服务已优雅关闭")
}
