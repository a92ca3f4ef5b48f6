package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justbri/shelfmark/config"
	"github.com/justbri/shelfmark/database"
	"github.com/justbri/shelfmark/handlers"
	"github.com/justbri/shelfmark/middleware"
	"github.com/justbri/shelfmark/services"
	"github.com/justbri/shelfmark/shared/format"
	"github.com/justbri/shelfmark/shared/server"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts.Config())
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting shelfmark", "env", cfg.Environment, "debug", cfg.Debug, "port", cfg.ServerPort)

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.RunMigrations(db, dialect); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if created, err := database.SeedAdminUser(ctx, db, cfg.Admin); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	} else if created {
		slog.Info("Admin user created", "username", cfg.Admin.Username)
	}

	users := database.NewUserStore(db)

	hub := services.NewHub(cfg.Events.BufferSize)
	go hub.Run(ctx)

	if cfg.Events.NATSURL != "" {
		bridge, err := services.NewEventBridge(cfg.Events.NATSURL, cfg.Events.NATSSubject, hub)
		if err != nil {
			slog.Warn("Event bridge unavailable, events stay local to this instance", "error", err)
		} else {
			defer bridge.Close()
		}
	}

	library := services.NewLibraryCache(catalogSource(cfg), libraryCacheConfig(cfg), hub)
	library.Start(ctx)
	defer library.Stop()

	hooks := services.NewHookRunner(cfg.HookWorkers, notifiers(cfg, users)...)
	defer hooks.Stop()

	var dispatcher services.Dispatcher
	if cfg.Pipeline.DownloaderURL != "" {
		dispatcher = services.NewHTTPDispatcher(cfg.Pipeline.DownloaderURL, cfg.Pipeline.Token, nil)
	} else {
		slog.Info("No downloader configured, approved requests wait for manual handling")
	}

	requests := services.NewRequestService(database.NewRequestStore(db), services.RequestServiceOptions{
		Users:      users,
		Library:    library,
		Events:     hub,
		Hooks:      hooks,
		Dispatcher: dispatcher,
	})

	auth := services.NewAuthService(users)
	sessions := services.NewSessionStore(cfg.SessionSecret, cfg.IsProduction())
	limiter := middleware.NewRateLimiter("create_request", cfg.CreateRatePerMinute)
	defer limiter.Stop()

	router := handlers.NewRouter(&handlers.Server{
		Requests:      requests,
		Auth:          auth,
		Sessions:      sessions,
		Library:       library,
		Hub:           hub,
		Authn:         middleware.NewAuth(sessions, auth, cfg.Pipeline.Token),
		CreateLimiter: limiter,
	})

	srvCfg := server.DefaultConfig(":" + cfg.ServerPort)
	return server.Run(ctx, srvCfg, server.CreateServer(srvCfg, router))
}

// catalogSource returns nil when Audiobookshelf is not configured, which
// leaves the library cache disabled.
func catalogSource(cfg *config.Config) services.CatalogSource {
	if cfg.Library.URL == "" || cfg.Library.Token == "" {
		return nil
	}
	return services.NewAudiobookshelfClient(cfg.Library.URL, cfg.Library.Token, cfg.Library.PageSize, nil)
}

func libraryCacheConfig(cfg *config.Config) services.LibraryCacheConfig {
	return services.LibraryCacheConfig{
		RefreshInterval: cfg.Library.RefreshInterval,
		FetchTimeout:    cfg.Library.FetchTimeout,
		LookupTimeout:   cfg.Library.LookupTimeout,
	}
}

func notifiers(cfg *config.Config, users services.UserLookup) []services.Notifier {
	var out []services.Notifier
	n := cfg.Notify

	if n.DiscordWebhookURL != "" {
		if services.ValidDiscordWebhookURL(n.DiscordWebhookURL) {
			out = append(out, services.NewDiscordNotifier(n.DiscordWebhookURL, n.DiscordNewRequest, n.DiscordBookAvailable, nil))
		} else {
			slog.Warn("Ignoring DISCORD_WEBHOOK_URL, not a Discord webhook URL")
		}
	}
	if n.PushoverUserKey != "" && n.PushoverAPIToken != "" {
		out = append(out, services.NewPushoverNotifier(n.PushoverUserKey, n.PushoverAPIToken, nil))
	}
	if n.EmailEnabled {
		from := format.FirstNonEmpty(n.SMTPFrom, n.SMTPUsername)
		if n.SMTPHost == "" || from == "" {
			slog.Warn("Email notifications enabled but SMTP_HOST or SMTP_FROM is empty, skipping")
		} else {
			out = append(out, services.NewEmailNotifier(services.SMTPConfig{
				Host:     n.SMTPHost,
				Port:     n.SMTPPort,
				Username: n.SMTPUsername,
				Password: n.SMTPPassword,
				From:     from,
			}, users))
		}
	}

	names := make([]string, 0, len(out))
	for _, x := range out {
		names = append(names, x.Name())
	}
	slog.Info("Notifiers configured", "notifiers", names)
	return out
}
