package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"schoollibrary/internal/bot"
	"schoollibrary/internal/catalog"
	"schoollibrary/internal/clock"
	"schoollibrary/internal/config"
	"schoollibrary/internal/inventory"
	"schoollibrary/internal/ledger"
	"schoollibrary/internal/notify"
	"schoollibrary/internal/roster"
	"schoollibrary/internal/scanner"
	"schoollibrary/internal/storage"
	"schoollibrary/internal/storage/ch"
	"schoollibrary/internal/storage/pg"
	"schoollibrary/internal/storage/stubs"
)

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger
	clock  clock.Clock

	db      storage.Storage
	catalog *catalog.Catalog
	roster  *roster.Roster
	ledger  *ledger.Ledger

	scanner *scanner.Scanner
	marker  *scanner.RedisMarker
	bot     *bot.Bot
	journal *ch.Journal

	server *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return NewWithConfig(context.Background(), cfg, logger)
}

// NewWithConfig wires the application from an already loaded configuration
func NewWithConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		config: cfg,
		logger: logger,
		clock:  clock.System{Location: cfg.Location},
	}

	logger.Info("Starting school library service...")

	// Initialize database
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}

	app.initServices()

	// Reminder sinks and scanner
	if err := app.initScanner(ctx); err != nil {
		app.closeAll()
		return nil, err
	}

	// Initialize HTTP server
	app.initHTTPServer()

	return app, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// initDatabase initializes the database connection
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to PostgreSQL")
		store, err := pg.NewStore(ctx, a.config.DatabaseURL, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		db = store
	}

	// Apply schema migrations
	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

func (a *App) initServices() {
	reconciler := inventory.NewReconciler(a.logger)
	a.catalog = catalog.New(a.db, reconciler, a.logger)
	a.roster = roster.New(a.db, a.logger)
	a.ledger = ledger.New(a.db, reconciler, a.clock, a.logger)
}

// initScanner builds the reminder sinks and the due-date scanner
func (a *App) initScanner(ctx context.Context) error {
	sinks := notify.Fanout{notify.NewLogSink(a.logger)}

	if a.config.TelegramEnabled() {
		telegramBot, err := bot.NewBot(a.config.TelegramToken, bot.Config{
			Loans:          a.ledger,
			Due:            a.db,
			Clock:          a.clock,
			AllowedUserIDs: a.config.AllowedUserIDs,
			ChatIDs:        a.config.NotifyChatIDs,
			Logger:         a.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create Telegram bot: %w", err)
		}
		a.logger.Info("Telegram reminders enabled", zap.Int64s("chat_ids", a.config.NotifyChatIDs))
		a.bot = telegramBot
		sinks = append(sinks, telegramBot)
	}

	if a.config.ClickHouseEnabled() {
		a.logger.Info("Connecting to ClickHouse reminder journal",
			zap.String("host", a.config.ClickHouseHost),
			zap.Int("port", a.config.ClickHousePort),
			zap.String("database", a.config.ClickHouseDatabase),
			zap.Bool("tls", a.config.ClickHouseUseTLS),
		)
		journal, err := ch.NewJournal(
			a.config.ClickHouseHost,
			a.config.ClickHousePort,
			a.config.ClickHouseDatabase,
			a.config.ClickHouseUser,
			a.config.ClickHousePassword,
			a.config.ClickHouseUseTLS,
		)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		a.journal = journal
		if err := journal.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize ClickHouse journal: %w", err)
		}
		sinks = append(sinks, journal)
	}

	opts := []scanner.Option{
		scanner.WithInterval(a.config.ScanInterval),
		scanner.WithLogger(a.logger),
	}
	if a.config.RedisAddr != "" {
		a.logger.Info("Using Redis for the notification marker", zap.String("addr", a.config.RedisAddr))
		a.marker = scanner.NewRedisMarker(a.config.RedisAddr, a.config.RedisPassword)
		opts = append(opts, scanner.WithMarker(a.marker))
	}

	a.scanner = scanner.New(a.db, a.clock, sinks, opts...)
	return nil
}

// initHTTPServer initializes the HTTP server for health checks and the API
func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	})

	api := &HTTPServer{
		catalog:     a.catalog,
		roster:      a.roster,
		ledger:      a.ledger,
		graceDays:   a.config.LoanGraceDays,
		renewalDays: a.config.RenewalDays,
		logger:      a.logger,
	}
	api.RegisterRoutes(mux)

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler returns the HTTP handler
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := a.Serve(ctx)
	if shutdownErr := a.Shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

// Serve runs the HTTP server, the scanner and the bot until ctx is done
// or one of them fails
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return a.scanner.Run(gctx)
	})

	if a.bot != nil {
		g.Go(func() error {
			return a.bot.Start(gctx)
		})
	}

	return g.Wait()
}

// Shutdown releases connections held by the application
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down...")
	err := a.closeAll()
	if err != nil {
		a.logger.Error("Shutdown finished with errors", zap.Error(err))
	} else {
		a.logger.Info("Shutdown complete")
	}
	_ = a.logger.Sync()
	return err
}

func (a *App) closeAll() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.marker != nil {
		errs = append(errs, a.marker.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
