// Package main implements the athenasync alarm forwarder. As a Lambda function
// it forwards SNS deliveries; otherwise it serves an SNS HTTP endpoint and an
// optional pubsub subscription until signalled.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/athenasync/athenasync/internal/app"
	"github.com/athenasync/athenasync/internal/config"
	apperrors "github.com/athenasync/athenasync/internal/errors"
	"github.com/athenasync/athenasync/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		profile     string
		destination string
		httpAddr    string
		grpcAddr    string
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&profile, "profile", "", "AWS shared config profile")
	flag.StringVar(&destination, "destination", "", "Destination topic ARN or pubsub URL (overrides ALARM_SNS)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP address for the SNS endpoint, metrics and health")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC health address")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("athenasync-forwarder version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(2)
	}
	if profile != "" {
		cfg.AWS.Profile = profile
	}
	if destination != "" {
		cfg.Forwarder.Destination = destination
	}
	if httpAddr != "" {
		cfg.Forwarder.HTTPAddr = httpAddr
	}
	if grpcAddr != "" {
		cfg.Forwarder.GRPCAddr = grpcAddr
	}

	logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
	logger := logging.Component("forwarder")

	ctx := context.Background()
	var clients *app.Clients
	if cfg.Forwarder.Publisher == config.PublisherSNS {
		awsCfg, err := app.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			log.Printf("AWS configuration: %v", err)
			os.Exit(2)
		}
		clients = app.NewClients(awsCfg, cfg.AWS.Endpoint)
	}

	svc, err := app.NewForwarderService(ctx, cfg, clients, logger)
	if err != nil {
		log.Printf("Failed to configure forwarder: %v", err)
		if errors.Is(err, apperrors.ErrConfig) {
			os.Exit(2)
		}
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		log.Printf("athenasync-forwarder %s starting in Lambda mode, destination=%s", version, cfg.Forwarder.Destination)
		lambda.Start(svc.Forwarder().HandleSNSEvent)
		return
	}

	log.Printf("athenasync-forwarder %s: destination=%s publisher=%s http=%s grpc=%s subscription=%s",
		version, cfg.Forwarder.Destination, cfg.Forwarder.Publisher,
		cfg.Forwarder.HTTPAddr, cfg.Forwarder.GRPCAddr, cfg.Forwarder.SubscriptionURL)

	if err := svc.Start(ctx); err != nil {
		log.Printf("Failed to start forwarder: %v", err)
		svc.Shutdown(ctx)
		os.Exit(1)
	}
	if err := svc.Wait(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
		os.Exit(1)
	}
}
