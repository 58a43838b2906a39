package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/chat"
	"github.com/iliyamo/dental-clinic-admin/internal/config"
	"github.com/iliyamo/dental-clinic-admin/internal/database"
	"github.com/iliyamo/dental-clinic-admin/internal/generator"
	"github.com/iliyamo/dental-clinic-admin/internal/handler"
	"github.com/iliyamo/dental-clinic-admin/internal/logging"
	"github.com/iliyamo/dental-clinic-admin/internal/model"
	"github.com/iliyamo/dental-clinic-admin/internal/queue"
	"github.com/iliyamo/dental-clinic-admin/internal/repository"
	"github.com/iliyamo/dental-clinic-admin/internal/router"
	"github.com/iliyamo/dental-clinic-admin/internal/service"
)

const serviceName = "dental-clinic-admin"

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "clinic-server",
		Short:         "Dental clinic administration API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd(), consumeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger every command uses.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return cfg, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	var inMemory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runServer(cfg, log, inMemory)
		},
	}
	cmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep all data in process memory instead of MySQL")
	return cmd
}

type stores struct {
	users    handler.UserStore
	tokens   handler.TokenStore
	patients handler.PatientStore
	messages chat.MessageStore
}

func runServer(cfg config.Config, log *zap.Logger, inMemory bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st stores
	if inMemory {
		log.Warn("running with in-memory storage; data is lost on exit")
		mem := repository.NewMemory()
		st = stores{users: mem.Users, tokens: mem.Tokens, patients: mem.Patients, messages: mem.Chat}
	} else {
		db, err := database.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Warn("close database", zap.Error(err))
			}
		}()
		st = stores{
			users:    repository.NewUserRepo(db),
			tokens:   repository.NewTokenRepo(db),
			patients: repository.NewPatientRepo(db),
			messages: repository.NewChatRepo(db),
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable; rate limits are enforced per process")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	gen, err := generator.New(cfg.Generator, rdb, log)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}

	var publisher chat.Publisher
	if cfg.ChatEventsEnabled {
		publisher = service.NewPublisher(cfg.RabbitURL, log)
	}

	relay := chat.NewRelay(chat.Deps{
		Patients:     st.patients,
		Messages:     st.messages,
		Generator:    gen,
		Publisher:    publisher,
		Config:       cfg.Chat,
		Logger:       log.Named("chat"),
		ExposeDetail: cfg.IsDev(),
	})

	e := router.New(router.Deps{
		Cfg:           cfg,
		Auth:          handler.NewAuthHandler(cfg, st.users, st.tokens, log),
		Patients:      handler.NewPatientHandler(st.patients, cfg.IsDev(), log),
		Chat:          handler.NewChatHandler(relay, cfg.Chat.MaxMessageChars, cfg.IsDev()),
		Status:        &handler.StatusHandler{Generator: gen},
		Redis:         rdb,
		RateLimit:     config.LoadRateLimitConfig(),
		AuthRateLimit: config.LoadAuthRateLimitConfig(),
		ChatRateLimit: config.LoadChatRateLimitConfig(),
		Log:           log,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env), zap.String("generator", gen.Name()))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// streams in flight finish their turn before the pool closes
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Chat.SyncTimeout+5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and seed the admin account",
		Long: "Applies the embedded schema (idempotent). When ADMIN_EMAIL and ADMIN_PASSWORD are set, " +
			"an admin account with those credentials is created if it does not exist yet.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			db, err := database.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()

			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
			log.Info("schema applied", zap.Int("statements", len(database.Statements())))

			email, password := os.Getenv("ADMIN_EMAIL"), os.Getenv("ADMIN_PASSWORD")
			if email == "" || password == "" {
				return nil
			}
			name := os.Getenv("ADMIN_FULL_NAME")
			if name == "" {
				name = "Administrator"
			}
			users := repository.NewUserRepo(db)
			u, err := users.Create(ctx, email, password, name, model.RoleAdmin, cfg.BcryptCost)
			switch {
			case errors.Is(err, repository.ErrEmailExists):
				log.Info("admin account already exists", zap.String("email", email))
				return nil
			case err != nil:
				return fmt.Errorf("seed admin: %w", err)
			}
			log.Info("admin account created", zap.String("user_id", u.ID))
			return nil
		},
	}
}

func consumeCmd() *cobra.Command {
	var logPath string
	cmd := &cobra.Command{
		Use:   "consume-events",
		Short: "Record chat.turn.completed events in a log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := &queue.Consumer{URL: cfg.RabbitURL, LogPath: logPath, Log: log.Named("consumer")}
			log.Info("consuming", zap.String("queue", queue.TurnCompletedQueue), zap.String("file", logPath))
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logPath, "log-file", "logs/chat_turns.log", "file receiving one line per event")
	return cmd
}
