// Package server is the operator surface of the daemon: health, metrics, and
// HMAC-guarded manual triggers for reconciliation and orphan recovery.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bidrails/internal/chain"
	"bidrails/internal/config"
	"bidrails/internal/money"
	"bidrails/internal/opsauth"
	"bidrails/internal/reconcile"
	"bidrails/internal/recovery"
	"bidrails/internal/settlement"
)

type Server struct {
	cfg        *config.AppConfig
	vault      chain.Vault
	orch       *settlement.Orchestrator
	reconciler *reconcile.Job
	scanner    *recovery.Scanner
	httpServer *http.Server
	metrics    *metricsRegistry
	ops        *opsauth.Verifier

	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error
}

// NewServer wires the ops endpoints. The background jobs are attached after
// construction because they report into the server's metrics registry.
// dbHealth may be nil when running on the in-memory stores.
func NewServer(cfg *config.AppConfig, vault chain.Vault, dbHealth func(context.Context) error) *Server {
	s := &Server{
		cfg:     cfg,
		vault:   vault,
		metrics: newMetricsRegistry(),
		ops: &opsauth.Verifier{
			Secret:  cfg.Service.OpsHMACSecret,
			MaxSkew: cfg.Service.OpsClockSkew,
		},
		dbHealthFn: dbHealth,
	}
	if checker, ok := vault.(chain.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ops/v1/health", s.handleHealth)
	mux.Handle("/ops/v1/metrics", s.metrics.handler())
	mux.Handle("/ops/v1/reconcile", s.ops.Middleware(http.HandlerFunc(s.handleReconcile)))
	mux.Handle("/ops/v1/orphan-scan", s.ops.Middleware(http.HandlerFunc(s.handleOrphanScan)))
	mux.Handle("/ops/v1/verify-reserves", s.ops.Middleware(http.HandlerFunc(s.handleVerifyReserves)))
	mux.Handle("/api/v1/locks", s.ops.Middleware(http.HandlerFunc(s.handleLockFunds)))

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Attach connects the background collaborators the handlers drive.
func (s *Server) Attach(orch *settlement.Orchestrator, reconciler *reconcile.Job, scanner *recovery.Scanner) {
	s.orch = orch
	s.reconciler = reconciler
	s.scanner = scanner
}

// Recorders returns the metric sinks the background loops report into.
func (s *Server) Recorders() *metricsRegistry {
	return s.metrics
}

func (s *Server) Start() error {
	log.Printf("ops API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	porInfo := struct {
		Solvent bool   `json:"solvent"`
		Error   string `json:"error,omitempty"`
	}{}
	porCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	solvent, err := s.vault.LastPorSolvent(porCtx)
	if err != nil {
		porInfo.Error = err.Error()
	} else {
		porInfo.Solvent = solvent
		if !solvent {
			overallHealthy = false
		}
	}

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
		Reserves interface{} `json:"reserves"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Database: dbInfo,
		Reserves: porInfo,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type lockFundsRequest struct {
	AuctionID int64  `json:"auctionId"`
	Bidder    string `json:"bidderAddress"`
	Amount    string `json:"amount"`
}

// handleLockFunds is the marketplace's bid intake: it locks the bidder's
// deposited funds against the auction and returns the chain-assigned lock id.
func (s *Server) handleLockFunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.orch == nil {
		http.Error(w, "lock intake not available", http.StatusServiceUnavailable)
		return
	}

	var payload lockFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.AuctionID <= 0 {
		http.Error(w, "auctionId is required", http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(payload.Bidder) {
		http.Error(w, "invalid bidder address", http.StatusBadRequest)
		return
	}
	amount, err := money.Parse(payload.Amount)
	if err != nil || amount <= 0 {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	lock, err := s.orch.LockFunds(r.Context(), payload.AuctionID, common.HexToAddress(payload.Bidder), amount)
	if err != nil {
		if errors.Is(err, chain.ErrInsufficientFunds) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, fmt.Sprintf("lock funds failed: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(struct {
		LockID    int64  `json:"lockId"`
		AuctionID int64  `json:"auctionId"`
		Status    string `json:"status"`
	}{LockID: lock.LockID, AuctionID: lock.AuctionID, Status: string(lock.Status)})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reconciler == nil {
		http.Error(w, "reconciler not available", http.StatusServiceUnavailable)
		return
	}
	report := s.reconciler.Run(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

type orphanScanRequest struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
}

func (s *Server) handleOrphanScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.scanner == nil {
		http.Error(w, "scanner not available", http.StatusServiceUnavailable)
		return
	}

	var payload orphanScanRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.ToBlock < payload.FromBlock {
		http.Error(w, "toBlock must be >= fromBlock", http.StatusBadRequest)
		return
	}

	refunded, err := s.scanner.Scan(r.Context(), payload.FromBlock, payload.ToBlock)
	if err != nil {
		http.Error(w, fmt.Sprintf("scan failed: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		RefundedCount int `json:"refundedCount"`
	}{RefundedCount: refunded})
}

func (s *Server) handleVerifyReserves(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txHash, err := s.vault.VerifyReserves(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("verify reserves failed: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		TxHash string `json:"txHash"`
	}{TxHash: txHash})
}
