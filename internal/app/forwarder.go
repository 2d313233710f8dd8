package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gocloud.dev/pubsub"

	"github.com/athenasync/athenasync/internal/alarm"
	grpcapi "github.com/athenasync/athenasync/internal/api/grpc"
	httpapi "github.com/athenasync/athenasync/internal/api/http"
	"github.com/athenasync/athenasync/internal/config"
	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/metrics"
	"github.com/athenasync/athenasync/internal/server"
)

// ForwarderService runs the alarm forwarder as a long-lived process: SNS push
// endpoint, pubsub subscription, metrics, and health endpoints.
type ForwarderService struct {
	cfg       config.ForwarderConfig
	forwarder *alarm.Forwarder
	metrics   *metrics.ForwarderMetrics
	shutdown  *server.ShutdownManager
	logger    *slog.Logger

	httpAddr net.Addr
	grpcAddr net.Addr
}

// NewForwarderService validates cfg and opens the outbound publisher.
func NewForwarderService(ctx context.Context, cfg *config.Config, clients *Clients, logger *slog.Logger) (*ForwarderService, error) {
	if err := cfg.ValidateForwarder(); err != nil {
		return nil, err
	}
	if clients == nil {
		clients = &Clients{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	fc := cfg.Forwarder

	var publisher interface {
		alarm.Publisher
		io.Closer
	}
	switch fc.Publisher {
	case config.PublisherSNS:
		if clients.SNS == nil {
			return nil, missingClient("sns", "forwarder.publisher")
		}
		publisher = alarm.NewSNSPublisher(clients.SNS, fc.Destination)
	case config.PublisherPubSub:
		p, err := alarm.OpenTopicPublisher(ctx, fc.Destination)
		if err != nil {
			return nil, err
		}
		publisher = p
	}

	m := metrics.NewForwarderMetrics(cfg.Metrics.Job)
	s := &ForwarderService{
		cfg:       fc,
		forwarder: alarm.NewForwarder(publisher, fc.PublishTimeout, m, logger.With("component", "forwarder")),
		metrics:   m,
		shutdown:  server.NewShutdownManager(server.DefaultShutdownConfig(), logger),
		logger:    logger,
	}
	s.shutdown.RegisterCloser(publisher)
	return s, nil
}

// Forwarder returns the forwarder, e.g. for a Lambda handler.
func (s *ForwarderService) Forwarder() *alarm.Forwarder {
	return s.forwarder
}

// Handler returns the HTTP routes: /sns, /metrics and /healthz.
func (s *ForwarderService) Handler() http.Handler {
	sns := alarm.NewSNSHandler(s.forwarder, alarm.HandlerOptions{
		SourceTopic:   s.cfg.SourceTopicARN,
		TrustUnsigned: s.cfg.TrustUnsignedPush,
	}, s.logger.With("component", "sns-http"))

	mux := http.NewServeMux()
	mux.Handle("/sns", httpapi.ChainMiddleware(
		server.ShutdownMiddleware(s.shutdown),
		httpapi.DefaultMiddleware(s.logger),
	)(sns))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/healthz", httpapi.HealthHandler())
	return mux
}

// Start opens the listeners and the subscription receiver.
func (s *ForwarderService) Start(ctx context.Context) error {
	if s.cfg.SubscriptionURL != "" {
		sub, err := pubsub.OpenSubscription(ctx, s.cfg.SubscriptionURL)
		if err != nil {
			return apperrors.NewConfigError(apperrors.CodeInvalidConfig, "open subscription "+s.cfg.SubscriptionURL+": "+err.Error())
		}
		receiver := alarm.NewSubscriptionReceiver(sub, s.forwarder, s.cfg.MaxHandlers, s.logger.With("component", "receiver"))
		if err := receiver.Start(ctx); err != nil {
			sub.Shutdown(ctx)
			return err
		}
		s.shutdown.RegisterCloser(server.CloserFunc(func() error {
			receiver.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sub.Shutdown(shutdownCtx)
		}))
		s.logger.Info("receiving from subscription", "url", s.cfg.SubscriptionURL)
	}

	if s.cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return apperrors.NewConfigError(apperrors.CodeInvalidConfig, "listen on grpc_addr: "+err.Error())
		}
		health := grpcapi.NewHealthServer(s.logger)
		s.shutdown.RegisterCloser(health)
		s.shutdown.OnShutdownStart(func() { health.SetServing(false) })
		s.shutdown.ServeGRPC(health.Server, lis)
		s.grpcAddr = lis.Addr()
		s.logger.Info("grpc health listening", "addr", lis.Addr().String())
	}

	if s.cfg.HTTPAddr != "" {
		lis, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			return apperrors.NewConfigError(apperrors.CodeInvalidConfig, "listen on http_addr: "+err.Error())
		}
		srv := &http.Server{
			Handler:      s.Handler(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: s.cfg.PublishTimeout + 30*time.Second,
			IdleTimeout:  120 * time.Second,
		}
		s.shutdown.ServeHTTP(srv, lis)
		s.httpAddr = lis.Addr()
		s.logger.Info("http listening", "addr", lis.Addr().String())
	}
	return nil
}

// HTTPAddr returns the bound HTTP address, or nil before Start.
func (s *ForwarderService) HTTPAddr() net.Addr {
	return s.httpAddr
}

// GRPCAddr returns the bound gRPC address, or nil.
func (s *ForwarderService) GRPCAddr() net.Addr {
	return s.grpcAddr
}

// Wait blocks until a signal, ctx cancellation or Shutdown, then shuts down.
func (s *ForwarderService) Wait(ctx context.Context) error {
	return s.shutdown.ListenForSignals(ctx)
}

// Shutdown stops every component and closes the publisher.
func (s *ForwarderService) Shutdown(ctx context.Context) error {
	return s.shutdown.Shutdown(ctx, "requested")
}
