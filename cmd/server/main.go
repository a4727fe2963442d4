package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"carparts/backend/internal/cache"
	"carparts/backend/internal/config"
	"carparts/backend/internal/httpapi"
	"carparts/backend/internal/report"
	"carparts/backend/internal/service"
	"carparts/backend/internal/store"
	"carparts/backend/internal/store/memory"
	pgstore "carparts/backend/internal/store/postgres"
	sqlitestore "carparts/backend/internal/store/sqlite"
)

const minBootstrapPasswordLength = 12

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	case cfg.SQLitePath != "":
		lite, err := sqlitestore.New(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite unavailable at %s: %v", cfg.SQLitePath, err)
		}
		repo = lite
		closers = append(closers, lite.Close)
		log.Printf("repository: sqlite (%s)", cfg.SQLitePath)
	default:
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	cacheStore := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			cacheStore = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	reports := report.NewEngine(repo, cacheStore, time.Duration(cfg.ReportTTLSeconds)*time.Second, cfg.LowStockThreshold)
	svc := service.New(repo, reports)

	if err := svc.UpgradeLegacyPasswords(ctx); err != nil {
		log.Fatalf("failed to upgrade stored passwords: %v", err)
	}
	if cfg.BootstrapUsername != "" {
		created, err := svc.EnsureSuperadmin(ctx, cfg.BootstrapUsername, cfg.BootstrapPassword)
		if err != nil {
			log.Fatalf("failed to bootstrap superadmin: %v", err)
		}
		if created {
			log.Printf("bootstrap: created superadmin %q", cfg.BootstrapUsername)
		}
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("car parts backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BootstrapUsername == "" {
		return nil
	}
	if len(cfg.BootstrapPassword) < minBootstrapPasswordLength {
		return fmt.Errorf("BOOTSTRAP_SUPERADMIN_PASSWORD must be at least %d characters", minBootstrapPasswordLength)
	}
	if err := validatePasswordStrength(cfg.BootstrapUsername, cfg.BootstrapPassword); err != nil {
		return fmt.Errorf("BOOTSTRAP_SUPERADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects passwords that contain the username,
// repeat one character, run sequentially, or start with a known-weak stem.
func validatePasswordStrength(username string, password string) error {
	lower := strings.ToLower(password)
	if strings.Contains(lower, strings.ToLower(username)) {
		return fmt.Errorf("password must not contain the username")
	}

	for _, stem := range []string{"password", "superadmin", "admin123", "qwerty", "letmein", "123456"} {
		if strings.HasPrefix(lower, stem) {
			return fmt.Errorf("common password not allowed")
		}
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(password); i++ {
		diff := int(password[i]) - int(password[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential password not allowed")
	}

	return nil
}
