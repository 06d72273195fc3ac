// Package main runs a standalone mock Mercado Pago API for local and E2E runs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sipico/checklist-bff/internal/testutil/mockmp"
)

// getPort returns the port from the PORT environment variable or the default.
func getPort() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	return port
}

// createHandler builds the mock API. MOCK_MP_ACCESS_TOKEN, when set, is the
// only bearer token the mock accepts.
func createHandler() http.Handler {
	return mockmp.NewMock(os.Getenv("MOCK_MP_ACCESS_TOKEN"))
}

func createHTTPServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// runHealthCheck returns 0 when the local mock answers /admin/state.
// Used by the container HEALTHCHECK.
func runHealthCheck() int {
	return doHealthCheck("http://localhost:" + getPort() + "/admin/state")
}

func doHealthCheck(url string) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 1
	}
	//nolint:errcheck // Response body close errors are unrecoverable in health check
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "health" {
		os.Exit(runHealthCheck())
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	httpServer := createHTTPServer(getPort(), createHandler())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down mock mercado pago")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:errcheck
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("mock mercado pago listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
}
