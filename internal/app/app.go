package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/NikaPanchulidze/Vinyl/internal/bus"
	"github.com/NikaPanchulidze/Vinyl/internal/catalog"
	"github.com/NikaPanchulidze/Vinyl/internal/config"
	"github.com/NikaPanchulidze/Vinyl/internal/httpapi"
	"github.com/NikaPanchulidze/Vinyl/internal/messaging"
	"github.com/NikaPanchulidze/Vinyl/internal/notification"
	"github.com/NikaPanchulidze/Vinyl/internal/order"
	"github.com/NikaPanchulidze/Vinyl/internal/payment"
	"github.com/NikaPanchulidze/Vinyl/internal/statusfeed"
	"github.com/NikaPanchulidze/Vinyl/internal/storage"
)

type App struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *storage.Store
	feed      *statusfeed.Feed
	publisher messaging.Publisher
	outbox    *messaging.OutboxDispatcher
	httpSrv   *http.Server
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, err := storage.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	eventBus := bus.New(logger)

	catalogSvc := catalog.NewService(store.Pool(), eventBus)
	orderStore := order.NewPGStore(store.Pool())
	orderSvc := order.NewService(orderStore, catalogSvc)

	providerClient := payment.NewClient(cfg.ProviderAPIURL, cfg.ProviderSecretKey)
	gateway := payment.NewGateway(providerClient, orderSvc, cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL)
	verifier := payment.NewVerifier(cfg.WebhookSecret, cfg.SignatureTolerance)
	intake := payment.NewIntake(verifier, orderSvc, eventBus, logger)

	feed := statusfeed.New()

	mailer := notification.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	telegram := notification.NewTelegramClient(cfg.TelegramBotToken, cfg.TelegramChatID)
	directory := notification.NewHTTPDirectory(cfg.UserAPIURL)
	listeners := notification.NewListeners(orderSvc, directory, mailer, telegram, feed, cfg.StoreURL, logger)
	listeners.Register(eventBus)

	publisher, err := messaging.NewRabbitPublisher(cfg.RabbitURL, cfg.OrdersExchange)
	if err != nil {
		store.Close()
		return nil, err
	}
	outbox := messaging.NewOutboxDispatcher(store.Pool(), publisher, cfg.OutboxInterval, cfg.OutboxBatch, logger)

	api := httpapi.NewServer(orderSvc, gateway, intake, catalogSvc, logger)
	wsHandler := statusfeed.NewHandler(feed, orderSvc)
	api.HandleFunc("GET /orders/{orderID}/ws", wsHandler.ServeWS)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		feed:      feed,
		publisher: publisher,
		outbox:    outbox,
		httpSrv:   httpSrv,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)

	a.outbox.Start(ctx)

	go func() {
		a.logger.Info("vinyl store listening", "addr", a.cfg.HTTPAddr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGracePeriod)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	a.feed.Close()
	a.publisher.Close()
	a.store.Close()
}

func Run() error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer app.Close(ctx)

	return app.Run(ctx)
}
