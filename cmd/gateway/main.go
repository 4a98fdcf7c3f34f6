package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundview/gateway/internal/config"
	"github.com/fundview/gateway/internal/gateway"
	"github.com/fundview/gateway/internal/handler"
	"github.com/fundview/gateway/internal/security"
	"github.com/fundview/gateway/internal/service"
	"github.com/fundview/gateway/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	gw := gateway.New(log)
	if err := registerServices(gw, cfg, log); err != nil {
		log.WithError(err).Fatal("Failed to register services")
	}

	if cfg.Security != nil {
		validator, err := security.NewJWTValidator(security.JWTConfig{
			SecretKey: cfg.Security.JWTSecret,
			Issuer:    cfg.Security.Issuer,
			Audience:  cfg.Security.Audience,
		}, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to build security validator")
		}
		gw.ConfigureSecurity(validator)
	}

	admin := handler.NewAdminHandler(gw, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      admin.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Infof("Gateway listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("Received signal %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	gw.Shutdown()
	log.Info("Shutdown complete")
}

// registerServices builds HTTP-backed service instances from configuration
// and applies each service's routing policy.
func registerServices(gw *gateway.Gateway, cfg *config.Config, log *logger.Logger) error {
	for _, svc := range cfg.Services {
		for _, inst := range svc.Instances {
			backend, err := service.NewHTTPService(service.HTTPServiceConfig{
				Name:            svc.Name,
				BaseURL:         inst.BaseURL,
				HealthCheckPath: svc.HealthCheckPath,
				Timeout:         svc.Timeout,
			}, log)
			if err != nil {
				return fmt.Errorf("service %q: %w", svc.Name, err)
			}
			if !gw.RegisterServiceInstance(svc.Name, backend) {
				return fmt.Errorf("failed to register instance for service %q", svc.Name)
			}
		}

		if svc.Strategy != "" {
			if err := gw.SetLoadBalancingStrategy(svc.Name, svc.Strategy); err != nil {
				return fmt.Errorf("service %q: %w", svc.Name, err)
			}
		}
		if svc.RateLimit != nil {
			if err := gw.ConfigureRateLimit(svc.Name, svc.RateLimit.RequestsPerSecond); err != nil {
				return fmt.Errorf("service %q: %w", svc.Name, err)
			}
		}
		if svc.CircuitBreaker != nil {
			if err := gw.ConfigureCircuitBreaker(svc.Name, svc.CircuitBreaker.FailureThreshold, svc.CircuitBreaker.RecoveryTimeout); err != nil {
				return fmt.Errorf("service %q: %w", svc.Name, err)
			}
		}

		log.WithField("service", svc.Name).
			WithField("instances", len(svc.Instances)).
			Info("Service configured")
	}
	return nil
}
