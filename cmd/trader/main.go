package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"options-trader/internal/container"
	"options-trader/internal/control"
)

func main() {
	cfgPath := flag.String("config", "configs/trader.yaml", "配置文件路径")
	envFile := flag.String("env-file", ".env", "环境变量文件，不存在时忽略")
	console := flag.Bool("console", false, "从标准输入读取控制命令")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("加载 %s 失败: %v", *envFile, err)
	}

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	lg := c.Logger()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify ready failed", zap.Error(err))
	} else if ok {
		lg.Info("systemd notified ready")
	}

	if *console {
		go func() {
			if err := control.NewConsole(c.Controller(), os.Stdin, os.Stdout).Run(ctx); err != nil {
				lg.Warn("console stopped", zap.Error(err))
			}
			cancel()
		}()
	}

	<-ctx.Done()
	lg.Info("shutdown requested")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := c.Stop(); err != nil {
		log.Printf("停止时出错: %v", err)
		os.Exit(1)
	}
}
