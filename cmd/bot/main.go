package main

import (
	"context"
	nethttp "net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/open-builders/draw-airdrop-bot/internal/bot"
	"github.com/open-builders/draw-airdrop-bot/internal/cache"
	rcache "github.com/open-builders/draw-airdrop-bot/internal/cache/redis"
	"github.com/open-builders/draw-airdrop-bot/internal/common/logger"
	"github.com/open-builders/draw-airdrop-bot/internal/config"
	apphttp "github.com/open-builders/draw-airdrop-bot/internal/http"
	mw "github.com/open-builders/draw-airdrop-bot/internal/http/middleware"
	"github.com/open-builders/draw-airdrop-bot/internal/ledger/ton"
	"github.com/open-builders/draw-airdrop-bot/internal/platform/db"
	redisplatform "github.com/open-builders/draw-airdrop-bot/internal/platform/redis"
	pgrepo "github.com/open-builders/draw-airdrop-bot/internal/repository/postgres"
	"github.com/open-builders/draw-airdrop-bot/internal/service/notifications"
	"github.com/open-builders/draw-airdrop-bot/internal/service/payout"
	"github.com/open-builders/draw-airdrop-bot/internal/service/registration"
	"github.com/open-builders/draw-airdrop-bot/internal/service/scheduler"
	"github.com/open-builders/draw-airdrop-bot/internal/service/status"
	"github.com/open-builders/draw-airdrop-bot/internal/service/telegram"
	"github.com/open-builders/draw-airdrop-bot/internal/service/tonproof"
	"github.com/open-builders/draw-airdrop-bot/internal/workers"
)

const (
	pendingReferralTTL = 72 * time.Hour
	statusCacheTTL     = time.Minute
)

// @title           Draw Airdrop Bot API
// @version         1.0
// @description     Read-only status of the periodic TON draw and the Mini App ownership proof endpoints.

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @BasePath  /api/v1

// @securityDefinitions.apikey TelegramInitData
// @in header
// @name X-Telegram-Init-Data
// @description Telegram Mini App init_data string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load")
	}
	logger.Init("draw-airdrop-bot", cfg.Debug)

	params, err := config.NewParamsLoader(cfg.ParamsFile, logger.Named("params"))
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.ParamsFile).Msg("load draw params")
	}

	pg, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPool)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer pg.Close()
	if cfg.DBAutoMigrate {
		if err := db.Migrate(pg); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
		logger.Info().Msg("migrations applied")
	}

	rdb, err := redisplatform.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis open")
	}
	defer rdb.Close()

	api, err := ton.Dial(ctx, cfg.TonLiteConfigURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("ton dial")
	}
	tonOpts := []ton.Option{
		ton.WithTonAPI(ton.NewTonAPI(cfg.TonAPIBaseURL, cfg.TonAPIToken)),
		ton.WithLogger(logger.Named("ton")),
		ton.WithConfirmations(cfg.TonOracleConfirmations),
	}
	if cfg.WalletSeed != "" {
		w, err := ton.OpenWallet(api, cfg.WalletWords())
		if err != nil {
			logger.Fatal().Err(err).Msg("payout wallet")
		}
		tonOpts = append(tonOpts, ton.WithWallet(w))
	}
	ledger := ton.New(api, tonOpts...)
	payoutSource := ledger.WalletAddress()
	if payoutSource == "" {
		logger.Warn().Msg("WALLET_SEED not set, payouts will fail until configured")
	}

	draws := pgrepo.NewDrawRepository(pg)
	participants := pgrepo.NewParticipantRepository(pg)

	tg := telegram.NewClient(cfg.TelegramAPIBaseURL, cfg.TelegramBotToken, cfg.TelegramPollTimeout, logger.Named("telegram"))
	botUsername := cfg.TelegramBotUsername
	if botUsername == "" && cfg.TelegramBotToken != "" {
		me, err := tg.GetMe(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("telegram getMe")
		}
		botUsername = me.Username
	}
	notifier := notifications.NewService(tg, participants, cfg.AdminChatIDs, logger.Named("notifications"))

	var locker *redisplatform.Locker
	if cfg.DistributedLocks {
		locker = redisplatform.NewLocker(rdb, "lock:")
	}

	prover := tonproof.NewService(tonproof.NewRedisStore(rdb), cfg.TonProofDomain, cfg.TonProofPayloadTTL,
		tonproof.WithLogger(logger.Named("tonproof")))
	registry := registration.NewService(participants, prover, registration.NewRedisPending(rdb, pendingReferralTTL),
		params, logger.Named("registration"))

	balances := cache.NewBalances(ledger, rcache.NewBalanceCache(rdb, cfg.BalanceCacheTTL), logger.Named("balances"))
	history := cache.NewHistory(draws)
	responses := mw.NewResponseCache(rdb, statusCacheTTL, logger.Named("http-cache"))
	collector := scheduler.NewCollector(registry, balances, history, logger.Named("collector"))

	payoutOpts := []payout.Option{payout.WithAlerter(notifier), payout.WithLogger(logger.Named("payout"))}
	if locker != nil {
		payoutOpts = append(payoutOpts, payout.WithLocker(locker, cfg.LockTTL))
	}
	payouts := payout.NewProcessor(draws, ledger, payoutSource, payoutOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithCaches(balances, history, responses),
		scheduler.WithSettler(payouts),
		scheduler.WithNotifier(notifier),
		scheduler.WithPayoutSource(payoutSource),
		scheduler.WithLogger(logger.Named("scheduler")),
	}
	if locker != nil {
		schedOpts = append(schedOpts, scheduler.WithLocker(locker, cfg.LockTTL))
	}
	sched := scheduler.New(collector, registry, draws, ledger, params, schedOpts...)

	reports := status.NewService(collector, draws, sched, registry, params, payoutSource, logger.Named("status"))

	router := apphttp.NewRouter(apphttp.RouterConfig{
		Debug:          cfg.Debug,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		BotToken:       cfg.TelegramBotToken,
		InitDataTTL:    cfg.InitDataTTL,
		Status:         reports,
		Prover:         registry,
		Domain:         cfg.TonProofDomain,
		Checks: map[string]apphttp.Check{
			"postgres": pg.PingContext,
			"redis":    rdb.Check,
		},
		Cache: responses,
		Log:   logger.Named("http"),
	})
	srv := &nethttp.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	runner := workers.NewRunner(logger.Named("cron"))
	if err := runner.Every(ctx, "draw", cfg.DrawPollInterval, sched.Tick); err != nil {
		logger.Fatal().Err(err).Msg("schedule draw poll")
	}
	if err := runner.Every(ctx, "payout-sweep", cfg.PayoutSweepInterval, payouts.Sweep); err != nil {
		logger.Fatal().Err(err).Msg("schedule payout sweep")
	}
	runner.Start()

	var wg sync.WaitGroup
	stream := workers.NewLedgerStreamWorker(rdb, cfg.LedgerStream, cfg.LedgerStreamGroup, balances, registry, logger.Named("ledger-stream"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		stream.Start(ctx)
	}()

	if cfg.TelegramBotToken != "" {
		chat := bot.New(registry, reports, tg, bot.Config{
			BotUsername: botUsername,
			ProofDomain: cfg.TonProofDomain,
			WebAppURL:   cfg.WebAppBaseURL,
		}, logger.Named("bot"))
		poller := workers.NewTelegramPoller(tg, chat, cfg.TelegramPollTimeout, logger.Named("telegram-poller"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	} else {
		logger.Warn().Msg("TELEGRAM_BOT_TOKEN not set, chat bot disabled")
	}

	if err := apphttp.Serve(ctx, srv, logger.Named("http")); err != nil {
		logger.Error().Err(err).Msg("http server")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runner.Stop(shutdownCtx)
	wg.Wait()
	logger.Info().Msg("draw bot stopped")
}
