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

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/internal/handlers"
	"github.com/company-assistant-go/internal/i18n"
	"github.com/company-assistant-go/internal/middleware"
	"github.com/company-assistant-go/internal/models"
	"github.com/company-assistant-go/internal/services/chat"
	"github.com/company-assistant-go/internal/services/conversation"
	"github.com/company-assistant-go/internal/services/diagnostics"
	"github.com/company-assistant-go/internal/services/pending"
	"github.com/company-assistant-go/internal/services/settings"
	"github.com/company-assistant-go/internal/services/storage"
	"github.com/company-assistant-go/internal/services/webhook"
	"github.com/company-assistant-go/pkg/logger"
	"github.com/company-assistant-go/pkg/markdown"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	question := flag.String("ask", "", "Ask one question from the terminal and exit")
	conversationID := flag.String("conversation", "", "Conversation to continue in -ask mode (default: last one)")
	width := flag.Int("width", 100, "Wrap width for answers in -ask mode")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", *envFile, err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Printf("%s %s (%s)\n", cfg.App.Name, cfg.App.Version, diagnostics.BuildRevision())
		return
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewMetrics()
	if cfg.Monitoring.Metrics.Enabled && *question == "" {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path, metrics); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	storageManager, err := storage.NewManager(&cfg.Storage, metrics, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer storageManager.Close()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}
	lang := localizer.DefaultLanguage()

	provider := settings.NewProvider(storageManager, config.ReadOverrides, log)
	provider.RegisterChangeListener(func(s models.Settings) {
		log.WithField("theme", s.Theme).Debug("Settings changed")
	})

	registry := pending.NewRegistry()
	registry.OnChange(metrics.SetPendingRequests)

	client := webhook.NewClient(&cfg.Webhook, &cfg.App, provider, registry, localizer, lang, metrics, log)
	if client.MockMode() {
		log.Warn("Mock mode is on; questions are answered locally")
	}

	store := conversation.NewStore(&cfg.Conversations, storageManager, log)
	janitor := conversation.NewJanitor(store, &cfg.Conversations, log)
	service := chat.NewService(store, janitor, client, localizer, lang, metrics, log)

	if *question != "" {
		code := runAsk(ctx, service, *conversationID, *question, *width, log)
		storageManager.Close()
		stop()
		os.Exit(code)
	}

	if err := janitor.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start trash janitor")
	}

	collector := diagnostics.NewCollector(cfg.App, client.ClientInfo(), client.MockMode(), provider, storageManager, store, registry, log)
	router := handlers.NewRouter(
		handlers.NewSettingsHandler(provider, collector, client.ClientInfo(), log),
		handlers.NewConversationHandler(service, log),
		handlers.NewMessageHandler(service, client, registry, middleware.NewRateLimiter(&cfg.RateLimit, log), metrics, log),
		metrics,
		log,
	)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":    cfg.Server.Addr,
			"version": cfg.App.Version,
			"storage": storageManager.Info().Type,
		}).Info("Assistant backend listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down API server")
	}
	janitor.Stop()

	log.Info("Assistant stopped")
}

// runAsk sends one question and prints the answer. It returns the
// process exit code.
func runAsk(ctx context.Context, service *chat.Service, conversationID, question string, width int, log *logrus.Logger) int {
	var (
		conv models.Conversation
		err  error
	)
	if conversationID != "" {
		conv, err = service.Load(ctx, conversationID)
	} else {
		conv, err = service.LoadLast(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open conversation: %v\n", err)
		return 1
	}

	res, err := service.Send(ctx, conv.ConversationID, question, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot send question: %v\n", err)
		return 1
	}
	if res.SaveError != "" {
		fmt.Fprintln(os.Stderr, res.SaveError)
	}

	result := res.Result
	if !result.OK() {
		if result.Kind.Surfaced() {
			fmt.Fprintln(os.Stderr, result.Error)
		}
		return 1
	}

	out, err := markdown.ToTerminal(result.Answer, width)
	if err != nil {
		log.WithError(err).Debug("Terminal rendering failed, printing raw answer")
		out = result.Answer + "\n"
	}
	fmt.Print(out)

	for _, source := range result.Sources {
		line := "  - " + source.Source
		if source.Text != "" {
			line += ": " + source.Text
		}
		fmt.Println(line)
	}
	fmt.Printf("\nconversation: %s\n", conv.ConversationID)
	return 0
}
