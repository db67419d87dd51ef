package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"formgate/internal/captcha"
	"formgate/internal/check"
	"formgate/internal/config"
	"formgate/internal/dataType"
	"formgate/internal/ratelimit"
	"formgate/internal/server"
	"formgate/internal/utils"
)

func main() {
	var basePath string
	flag.StringVar(&basePath, "prefix", "", "Config file base path")
	flag.Parse()

	cfg, err := config.LoadMainConfig(basePath)
	if err != nil {
		if cfg == nil {
			log.Fatalf("Load config failed: %v", err)
		}
		log.Printf("Load config failed, running on defaults: %v", err)
	}

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("Load settings failed: %v", err)
	}

	logx := utils.NewManager(cfg.LogPath, settings.EnableDebugLogging)

	stopCh := make(chan struct{})

	var store dataType.Store
	switch settings.Storage.Backend {
	case "redis":
		redisStore, err := dataType.NewRedisStore(settings.Storage.Redis)
		if err != nil {
			log.Fatalf("Connect redis failed: %v", err)
		}
		store = redisStore
	default:
		memStore := dataType.NewMemoryStore(64)
		go dataType.StartStoreGC(memStore, time.Minute, stopCh)
		store = memStore
	}

	whitelist := dataType.ParseIPList(settings.WhitelistIPs)
	blocklist := dataType.ParseIPList(settings.BlocklistIPs)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:        settings.EnableRateLimiting,
		MaxAttempts:    settings.RateLimitRequests,
		LockoutMinutes: settings.RateLimitLockout,
		WindowMinutes:  settings.RateLimitWindow,
	}, store, whitelist, nil)
	go ratelimit.StartSweep(limiter, 10*time.Minute, stopCh)

	honeypot := captcha.NewHoneypot(captcha.HoneypotOptions{
		Secret:  settings.HoneypotSecret,
		MinTime: settings.HoneypotMinTime,
		Primary: settings.Provider == dataType.ProviderHoneypot,
	}, store, logx, nil)

	var provider captcha.Provider
	switch {
	case settings.Provider == dataType.ProviderHoneypot:
		provider = honeypot
	case settings.Provider.IsRemote():
		if err := captcha.ValidateKeys(settings.Provider, settings.SiteKey, settings.SecretKey); err != nil {
			log.Printf("Warning: %s keys look misconfigured: %v", settings.Provider, err)
		}
		provider, err = captcha.NewRemote(captcha.RemoteOptions{
			ID:        settings.Provider,
			SiteKey:   settings.SiteKey,
			SecretKey: settings.SecretKey,
			Threshold: settings.ScoreThreshold,
			Theme:     settings.Theme,
			Size:      settings.Size,
			Timeout:   settings.VerifyTimeout(),
		})
		if err != nil {
			log.Fatalf("Build provider failed: %v", err)
		}
	}

	guard := check.NewGuard(check.Deps{
		Settings:  settings,
		Whitelist: whitelist,
		Blocklist: blocklist,
		Limiter:   limiter,
		Provider:  provider,
		Honeypot:  honeypot,
		Logx:      logx,
	})

	log.Printf("Ready to start server on port %s", cfg.Port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(cfg, guard)
	}()

	select {
	case <-stop:
		log.Println("Stopping server...")
	case err := <-serverErr:
		if err != nil {
			close(stopCh)
			log.Fatalf("Failed to start server: %v", err)
		}
	}

	close(stopCh)
	if err := store.Close(); err != nil {
		log.Printf("Store close failed: %v", err)
	}
	log.Println("Server stopped")
}
