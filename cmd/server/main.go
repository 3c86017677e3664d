package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"onboarding-service/internal/factory"
	"onboarding-service/internal/handler"
	"onboarding-service/internal/util"
)

func main() {
	appFactory, err := factory.NewFactory()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer appFactory.Close()

	cfg := appFactory.Config()
	router := setupRouter(appFactory)

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Server.EnableTLS {
		tlsManager := appFactory.TLSManager()
		server.TLSConfig = tlsManager.GetTLSConfig()
		server.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)

		if cfg.Server.AutoCert && cfg.IsProduction() {
			startProductionServerWithAutoCert(server, appFactory)
		} else {
			startTLSServer(server, appFactory)
		}
	} else {
		startServer(server, appFactory)
	}

	waitForShutdown(server)
}

func setupRouter(appFactory *factory.Factory) http.Handler {
	cfg := appFactory.Config()
	logger := util.Get()

	onboardingHandler := handler.NewOnboardingHandler(appFactory.OnboardingService(), cfg, logger)
	resumeHandler := handler.NewResumeHandler(appFactory.ResumeService(), cfg, logger)
	cleanupHandler := handler.NewCleanupHandler(appFactory.CleanupService(), cfg, logger)

	return handler.NewRouter(onboardingHandler, resumeHandler, cleanupHandler, logger)
}

func startServer(server *http.Server, appFactory *factory.Factory) {
	go func() {
		util.Info("Starting HTTP server",
			util.String("address", server.Addr),
			util.String("environment", appFactory.Config().Environment))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("Server failed to start", util.ErrorField(err))
		}
	}()
}

func startTLSServer(server *http.Server, appFactory *factory.Factory) {
	go func() {
		util.Info("Starting HTTPS server",
			util.String("address", server.Addr),
			util.String("environment", appFactory.Config().Environment))

		// Cert and key paths come from TLSConfig.GetCertificate.
		if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			util.Fatal("HTTPS server failed to start", util.ErrorField(err))
		}
	}()
}

// startProductionServerWithAutoCert runs the HTTPS server alongside a plain
// HTTP listener that answers ACME challenges and redirects everything else.
func startProductionServerWithAutoCert(server *http.Server, appFactory *factory.Factory) {
	cfg := appFactory.Config()
	autocertManager := appFactory.TLSManager().GetAutocertManager()

	if autocertManager != nil {
		httpServer := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      autocertManager.HTTPHandler(http.HandlerFunc(redirectToHTTPS)),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		go func() {
			util.Info("Starting HTTP challenge server", util.String("address", httpServer.Addr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				util.Warn("HTTP challenge server stopped", util.ErrorField(err))
			}
		}()
	}

	startTLSServer(server, appFactory)
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func waitForShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-quit
	util.Info("Shutting down server", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		util.Error("Server forced to shutdown", util.ErrorField(err))
	}

	util.Info("Server exited")
}
