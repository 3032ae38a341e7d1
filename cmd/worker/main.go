// Package main - точка входа для фонового процесса тьютора.
//
// Worker выполняет периодические задачи без HTTP сервера:
// - резервное копирование каталога данных (file/sqlite хранилища)
// - выгрузка сравнительного отчёта по когортам в xlsx
//
// Тот же worker запускается командой "tutor worker"; этот бинарник нужен
// для деплоя, где процессы разнесены по контейнерам.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/socratic-tutor/config"
	"github.com/alem-hub/socratic-tutor/internal/interface/cli"
	"github.com/alem-hub/socratic-tutor/pkg/logger"
)

var version = "dev"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	configFile := flag.String("config", "", "config file (yaml or toml)")
	envFile := flag.String("env-file", ".env", "dotenv file to preload")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configFile, envFile string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(config.LoadOptions{File: configFile, DotEnv: envFile})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" {
		cfg.App.Version = version
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.Setup(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: logger.ParseFormat(cfg.Logging.Format),
	})
	log.Info("starting tutor worker",
		"env", cfg.App.Environment,
		"storage", cfg.Storage.Driver,
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ИНИЦИАЛИЗАЦИЯ ПРИЛОЖЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	app, err := cli.Bootstrap(ctx, cfg, log, cli.BootstrapOptions{})
	if err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error("shutdown finished with errors", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК ПЛАНИРОВЩИКА
	// ─────────────────────────────────────────────────────────────────────────
	if err := cli.RunWorker(ctx, app); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("worker stopped")
	return nil
}
