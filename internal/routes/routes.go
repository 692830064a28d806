package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/agentpay/agent_pay/internal/config"
	"github.com/agentpay/agent_pay/internal/custody"
	"github.com/agentpay/agent_pay/internal/deposit"
	"github.com/agentpay/agent_pay/internal/derivation"
	"github.com/agentpay/agent_pay/internal/escrow"
	"github.com/agentpay/agent_pay/internal/events"
	"github.com/agentpay/agent_pay/internal/ledger"
	"github.com/agentpay/agent_pay/internal/middleware"
	"github.com/agentpay/agent_pay/internal/task"
	"github.com/agentpay/agent_pay/internal/treasury"
	"github.com/agentpay/agent_pay/internal/withdrawal"
	"github.com/agentpay/agent_pay/internal/worker"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services exposes long-running collaborators wired during Setup that the
// caller must drive, such as the settlement release worker.
type Services struct {
	Escrow *escrow.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (Services, error) {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return Services{}, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return Services{}, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Storage backends fall back to in-memory without a database.
	var (
		ledgerStore    ledger.Store
		taskRepo       task.Repository
		workerRepo     worker.Repository
		depositRepo    deposit.Repository
		withdrawalRepo withdrawal.Repository
		releaseStore   escrow.ReleaseStore
		treasuryStore  treasury.Store
		indexStore     derivation.Store
	)
	if d.DB != nil {
		ledgerStore = ledger.NewPostgresStore(d.DB)
		taskRepo = task.NewPostgresRepository(d.DB)
		workerRepo = worker.NewPostgresRepository(d.DB)
		depositRepo = deposit.NewPostgresRepository(d.DB)
		withdrawalRepo = withdrawal.NewPostgresRepository(d.DB)
		releaseStore = escrow.NewPostgresReleaseStore(d.DB)
		treasuryStore = treasury.NewPostgresStore(d.DB)
		indexStore = derivation.NewPostgresStore(d.DB)
	} else {
		ledgerStore = ledger.NewInMemory()
		taskRepo = task.NewMemoryRepository()
		workerRepo = worker.NewMemoryRepository()
		depositRepo = deposit.NewMemoryRepository()
		withdrawalRepo = withdrawal.NewMemoryRepository()
		releaseStore = escrow.NewMemoryReleaseStore()
		treasuryStore = treasury.NewMemoryStore()
		indexStore = derivation.NewMemoryStore()
	}

	// Shared collaborators
	provider := custody.StaticProvider{}
	sink := events.NewLoggerSink(d.Logger)
	resolver := treasury.NewResolver(treasuryStore)
	allocator := derivation.NewAllocator(indexStore)

	// Optional treasury bootstrap from the environment. Locked chains keep
	// their stored address.
	for chain, address := range d.Cfg.TreasuryAddresses {
		err := resolver.Configure(context.Background(), chain, address)
		if err != nil && !errors.Is(err, treasury.ErrAddressLocked) {
			return Services{}, fmt.Errorf("bootstrap treasury %s: %w", chain, err)
		}
	}

	escrowSvc := escrow.NewService(ledgerStore, taskRepo, releaseStore, resolver, provider, sink, d.Logger, escrow.Config{
		FeeRateBps: d.Cfg.FeeRateBps,
		HoldPeriod: d.Cfg.HoldPeriod,
	})
	depositSvc := deposit.NewService(depositRepo, allocator, provider, ledgerStore, sink, d.Logger)
	riskEngine := withdrawal.NewEngine(withdrawal.RiskConfig{
		MinAccountAge: d.Cfg.MinAccountAge,
		MinReputation: d.Cfg.MinReputation,
		Policies:      d.Cfg.Policies,
	})
	withdrawalSvc := withdrawal.NewService(withdrawalRepo, ledgerStore, workerRepo, riskEngine, provider, sink, d.Logger)

	escrowHandler := escrow.NewHandler(escrowSvc)
	depositHandler := deposit.NewHandler(depositSvc)
	withdrawalHandler := withdrawal.NewHandler(withdrawalSvc)
	treasuryHandler := treasury.NewHandler(resolver)
	balanceHandler := ledger.NewHandler(ledgerStore)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterEscrowRoutes(api, escrowHandler)
	RegisterDepositRoutes(api, depositHandler)
	withdrawalLimiter := middleware.WithdrawalRateLimit(d.Cache, d.Cfg.WithdrawalsPerMin)
	RegisterWithdrawalRoutes(api, withdrawalHandler, withdrawalLimiter)
	RegisterBalanceRoutes(api, balanceHandler)
	RegisterTreasuryRoutes(api, treasuryHandler)

	return Services{Escrow: escrowSvc}, nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
