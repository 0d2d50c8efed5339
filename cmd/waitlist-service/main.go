package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"waitlist/queue-service/internal/config"
	"waitlist/queue-service/internal/httpapi"
	"waitlist/queue-service/internal/models"
	"waitlist/queue-service/internal/notify"
	"waitlist/queue-service/internal/queue"
	"waitlist/queue-service/internal/quota"
	"waitlist/queue-service/internal/ratelimit"
	"waitlist/queue-service/internal/realtime"
	"waitlist/queue-service/internal/telemetry"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "waitlist-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	shutdownTelemetry := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	hub := realtime.NewHub()
	publishers := realtime.Fanout{hub}
	if cfg.RealtimeBackend == config.RealtimeMQTT {
		mqttPublisher, err := realtime.NewMQTTPublisher(realtime.MQTTConfig{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		})
		if err != nil {
			log.Fatalf("realtime: %v", err)
		}
		defer mqttPublisher.Close()
		publishers = append(publishers, mqttPublisher)
	}

	limiter := ratelimit.New(cfg.RateLimitWindow, map[string]int{
		ratelimit.ClassIP:      cfg.RateLimitIPPerWindow,
		ratelimit.ClassDisplay: cfg.RateLimitDisplayPerWindow,
	})
	notifier := notify.New(st,
		notify.NewProvider(models.ChannelSMS, notify.ProviderConfig(cfg.SMS)),
		notify.NewProvider(models.ChannelEmail, notify.ProviderConfig(cfg.Email)),
	)
	gateway := queue.New(st,
		quota.NewGuard(st, st, cfg.FreePlanEntryLimit),
		limiter,
		notifier,
		realtime.NewBroadcaster(publishers, cfg.RealtimeTimeout),
		queue.Options{PublicBaseURL: cfg.PublicBaseURL},
	)

	handler := httpapi.NewHandler(gateway, httpapi.Options{WebhookToken: cfg.WebhookToken})
	mux := http.NewServeMux()
	mux.Handle("/realtime/", realtime.Handler("/realtime", hub, httpapi.ChannelAuthorizer(st, st)))
	mux.Handle("/", handler.Routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(httpapi.AuthMiddleware(st, mux)), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("%s listening on %s driver=%s realtime=%s", serviceName, server.Addr, cfg.DBDriver, cfg.RealtimeBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return gateway.RunArchiver(gctx, cfg.NoShowInterval, cfg.NoShowGrace, cfg.NoShowBatchSize)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server error: %v", err)
	}
}
