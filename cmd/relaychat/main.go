package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentworkforce/relaychat/internal/chat"
	"github.com/agentworkforce/relaychat/internal/config"
	"github.com/agentworkforce/relaychat/internal/eventbus"
	"github.com/agentworkforce/relaychat/internal/poll"
	"github.com/agentworkforce/relaychat/internal/session"
	"github.com/agentworkforce/relaychat/internal/state"
	"github.com/agentworkforce/relaychat/internal/transport"
)

func main() {
	configPath := flag.String("config", envOr("RELAYCHAT_CONFIG", ""), "path to the config file")
	server := flag.String("server", envOr("RELAYCHAT_SERVER", ""), "base URL of the chat service")
	pass := flag.String("pass", envOr("RELAYCHAT_PASS", ""), "chat pass or token")
	tokenFile := flag.String("token-file", envOr("RELAYCHAT_TOKEN_FILE", ""), "where to persist the session token")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("loading config failed: %v", err)
		}
		cfg = loaded
	}
	if *server != "" {
		cfg.Server = *server
	}
	if *tokenFile != "" {
		cfg.TokenFile = *tokenFile
	}
	if cfg.TokenFile == "" {
		cfg.TokenFile = filepath.Join(".relaychat", "token")
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	bus := eventbus.New(logger)
	client := transport.NewHTTPClient(cfg.Server, "", nil)
	ctrl := session.NewController(client, bus, session.Options{
		Polling: poll.Config{
			Interval:         cfg.Polling.Interval(),
			InactiveInterval: cfg.Polling.InactiveInterval(),
			ActiveThreshold:  cfg.Polling.ActiveThreshold(),
			MaxConcurrent:    cfg.Polling.MaxConcurrentPolls,
		},
		TokenStore: session.NewFileTokenStore(cfg.TokenFile),
		Logger:     logger,
	})
	subscribeRenderer(bus, logger)

	ctx := context.Background()
	restored, err := ctrl.Init(ctx)
	if err != nil {
		logger.Printf("restoring session failed: %v", err)
	}
	if !restored {
		if *pass == "" {
			log.Fatal("no credential: set -pass or RELAYCHAT_PASS")
		}
		if err := ctrl.Login(ctx, *pass); err != nil {
			log.Fatalf("login failed: %v", err)
		}
	}

	if *configPath != "" {
		watcher, err := config.Watch(*configPath, func(next *config.Config) {
			logger.Printf("config reloaded, polling interval now %s", next.Polling.Interval())
			ctrl.SetPollingInterval(next.Polling.Interval())
		}, logger)
		if err != nil {
			logger.Printf("config watch unavailable: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Printf("shutting down")
	if err := ctrl.Logout(context.Background()); err != nil {
		logger.Printf("logout failed: %v", err)
	}
}

// subscribeRenderer is the stand-in presentation layer: it prints every
// notification the engine publishes.
func subscribeRenderer(bus *eventbus.Bus, logger *log.Logger) {
	bus.Subscribe(state.EventAddChatUser, func(_ context.Context, payload any) (bool, error) {
		logger.Printf("user %v", payload)
		return false, nil
	})
	bus.Subscribe(state.EventAddChannel, func(_ context.Context, payload any) (bool, error) {
		if info, ok := payload.(state.ChannelInfo); ok {
			logger.Printf("channel #%d %s/%s (%s)", info.ID, info.User, info.Name, info.Type)
		}
		return false, nil
	})
	bus.Subscribe(state.EventRemoveChannel, func(_ context.Context, payload any) (bool, error) {
		logger.Printf("channel #%v removed", payload)
		return false, nil
	})
	bus.Subscribe(state.EventAddMessage, func(_ context.Context, payload any) (bool, error) {
		if m, ok := payload.(chat.Message); ok {
			logger.Printf("[#%d] %s: %s", m.Channel, m.User, m.Text)
		}
		return false, nil
	})
	bus.Subscribe(state.EventAddSystemMessage, func(_ context.Context, payload any) (bool, error) {
		if sm, ok := payload.(state.SystemMessage); ok {
			logger.Printf("* %s", sm.Text)
		}
		return false, nil
	})
	bus.Subscribe(state.EventLoginSuccess, func(_ context.Context, _ any) (bool, error) {
		logger.Printf("logged in")
		return false, nil
	})
	bus.Subscribe(state.EventLogout, func(_ context.Context, _ any) (bool, error) {
		logger.Printf("logged out")
		return false, nil
	})
	bus.Subscribe(state.EventFetchFailure, func(_ context.Context, payload any) (bool, error) {
		if info, ok := payload.(state.ErrorInfo); ok {
			logger.Printf("poll failed: %s", info.Msg)
		}
		return false, nil
	})
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}
