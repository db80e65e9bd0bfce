package workers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crossbridge/metrics"
	"crossbridge/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

type HTTPConfig struct {
	Listen   string
	UseSSL   bool
	CertFile string
	KeyFile  string
}

// Router wires the REST routes. metricsHandler serves /metrics when set.
func Router(api *handlers.API, metricsHandler http.Handler, m *metrics.Metrics, logs *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  zap.NewStdLog(logs.Desugar()),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(countRequests(m))

	r.Options("/*", CORSHeaders)

	r.Get("/health", api.HealthCheck)
	r.Get("/state", api.State)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/chains", api.GetChains)
		r.Get("/chains/{chainId}", api.GetChain)
		r.Post("/accounts/{address}/chain", api.SwitchChain)

		r.Post("/transfers", api.InitiateTransfer)
		r.Get("/transfers", api.ListTransfers)
		r.Get("/transfers/{transferId}", api.GetTransfer)
		r.Post("/transfers/{transferId}/complete", api.CompleteTransfer)

		r.Post("/proofs/verify", api.VerifyProof)
		r.Post("/proofs/verify/batch", api.VerifyProofBatch)
		r.Get("/proofs/stats", api.ProofStats)
		r.Get("/proofs/stats/{chainId}", api.ChainProofStats)
		r.Get("/proofs/issued/{proofId}", api.GetIssuedProof)
		r.Get("/proofs/{proofId}/chains/{chainId}", api.ProofResult)
		r.Get("/issuers/{address}/proofs", api.IssuerProofs)

		r.Get("/gas/estimate", api.EstimateGasFee)
		r.Get("/gas/{chainId}/predict", api.PredictGas)
		r.Get("/gas/{chainId}/optimize", api.OptimizeGas)
		r.Get("/gas/{chainId}/window", api.OptimalWindow)

		r.Post("/swaps", api.CreateSwap)
		r.Get("/swaps/{swapId}", api.GetSwap)
		r.Post("/swaps/{swapId}/participate", api.ParticipateSwap)
		r.Post("/swaps/{swapId}/redeem", api.RedeemSwap)
		r.Post("/swaps/{swapId}/refund", api.RefundSwap)
		r.Post("/swaps/{swapId}/cancel", api.CancelSwap)
		r.Get("/users/{address}/swaps", api.UserSwaps)

		r.Post("/proposals", api.CreateProposal)
		r.Get("/proposals/{proposalId}", api.GetProposal)
		r.Post("/proposals/{proposalId}/accept", api.AcceptProposal)
		r.Post("/proposals/{proposalId}/withdraw", api.WithdrawProposal)
		r.Get("/users/{address}/proposals", api.UserProposals)

		r.Post("/relayers", api.RegisterRelayer)
		r.Get("/relayers", api.ListRelayers)
		r.Get("/relayers/{relayerId}", api.GetRelayer)
		r.Post("/relayers/{relayerId}/status", api.SetRelayerStatus)

		r.Post("/queues", api.CreateQueue)
		r.Get("/queues", api.ListQueues)
		r.Get("/queues/{queueId}/messages", api.QueueMessages)

		r.Get("/messages/{messageId}", api.GetMessage)
		r.Get("/recipients/{address}/messages", api.RecipientMessages)
	})
	return r
}

// countRequests records every response by route pattern and status code.
func countRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.HTTPRequest(route, status)
		})
	}
}

// Worker_HTTP serves handler until SIGINT/SIGTERM or until ctx ends. A
// signal calls stop, which tells every other worker to exit.
func Worker_HTTP(ctx context.Context, stop context.CancelFunc, cfg HTTPConfig, handler http.Handler, logs *zap.SugaredLogger) error {
	logs.Infow("Starting HTTP service", "listen", cfg.Listen, "ssl", cfg.UseSSL)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.UseSSL {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(done)

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if cfg.UseSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logs.Infow("HTTP service started")

	var err error
	select {
	case sig := <-done:
		logs.Infow("HTTP service stopped", "signal", sig.String())
	case <-ctx.Done():
		logs.Infow("HTTP service stopped", "reason", ctx.Err())
	case err = <-serveErr:
		logs.Errorw("error listening", "error", err)
	}

	// send signal to other workers to exit
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logs.Errorw("HTTP service shutdown error", "error", serr)
		return errors.Join(err, serr)
	}
	logs.Infow("HTTP service shutdown normal")
	return err
}

func CORSHeaders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Origin, X-Requested-With, X-Caller-Address")
}
