// Copyright 2025 Certen Protocol

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/independant-validator/pkg/chainadapter"
	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/coordinator"
	"github.com/certen/independant-validator/pkg/driver"
	"github.com/certen/independant-validator/pkg/metrics"
	"github.com/certen/independant-validator/pkg/opstore"
	"github.com/certen/independant-validator/pkg/planassigner"
	"github.com/certen/independant-validator/pkg/prestartdedup"
	"github.com/certen/independant-validator/pkg/registry"
	"github.com/certen/independant-validator/pkg/types"
)

// HealthStatus tracks the health of the worker's dependencies for the
// /health endpoint.
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	Coordinator   string `json:"coordinator"`
	OpStore       string `json:"op_store"`
	Registry      string `json:"registry"`
	PlansInFlight int    `json:"-"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	startTime     time.Time
	mu            sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:      "starting",
	Coordinator: "unknown",
	OpStore:     "disabled",
	Registry:    "unknown",
	startTime:   time.Now(),
}

func (h *HealthStatus) SetCoordinator(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Coordinator = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetOpStore(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.OpStore = status
	h.updateOverallStatus()
}

func (h *HealthStatus) SetRegistry(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Registry = status
	h.updateOverallStatus()
}

func (h *HealthStatus) updateOverallStatus() {
	if h.Coordinator == "disconnected" || h.Registry == "invalid" {
		h.Status = "error"
		return
	}
	if h.OpStore == "disconnected" {
		h.Status = "degraded"
		return
	}
	h.Status = "ok"
}

func (h *HealthStatus) ToJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

// chainResolver implements driver.AdapterResolver from the static registry
// plus the two worker signer keys: one account per chain family, shared
// across every chain of that family this worker serves.
type chainResolver struct {
	adapters map[types.ChainId]chainadapter.Adapter
	signers  map[types.ChainId]types.Address
}

func (r *chainResolver) Adapter(chain types.ChainId) (chainadapter.Adapter, error) {
	a, ok := r.adapters[chain]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for %s", chain)
	}
	return a, nil
}

func (r *chainResolver) Signer(chain types.ChainId) (types.Address, error) {
	s, ok := r.signers[chain]
	if !ok {
		return types.Address{}, fmt.Errorf("no signer configured for %s", chain)
	}
	return s, nil
}

func buildResolver(cfg *config.Config, reg registry.ChainRegistry) (*chainResolver, error) {
	var evmSigner types.Address
	var substrateSigner *chainadapter.Ed25519SubstrateSigner
	var substrateSignerAddr types.Address

	if cfg.EVMSignerKeyHex != "" {
		addr, err := chainadapter.EVMAddressFromKey(cfg.EVMSignerKeyHex)
		if err != nil {
			return nil, fmt.Errorf("evm signer key: %w", err)
		}
		evmSigner = addr
	}
	if cfg.SubstrateSignerSeed != "" {
		s, err := chainadapter.NewEd25519SubstrateSigner(cfg.SubstrateSignerSeed)
		if err != nil {
			return nil, fmt.Errorf("substrate signer seed: %w", err)
		}
		substrateSigner = s
		substrateSignerAddr = s.Address()
	}

	r := &chainResolver{
		adapters: make(map[types.ChainId]chainadapter.Adapter),
		signers:  make(map[types.ChainId]types.Address),
	}

	for _, entry := range reg.All() {
		switch entry.Family {
		case types.ChainFamilyEVM:
			if cfg.EVMSignerKeyHex == "" {
				return nil, fmt.Errorf("chain %s requires EVM_SIGNER_KEY, none configured", entry.Name)
			}
			adapter, err := chainadapter.NewEVMAdapter(entry.ChainId, entry.RPCEndpoint, int64(entry.ChainId), cfg.EVMSignerKeyHex, entry.RequiredConfirmations)
			if err != nil {
				return nil, fmt.Errorf("build EVM adapter for %s: %w", entry.Name, err)
			}
			r.adapters[entry.ChainId] = adapter
			r.signers[entry.ChainId] = evmSigner

		case types.ChainFamilySubstrate:
			if substrateSigner == nil {
				return nil, fmt.Errorf("chain %s requires SUBSTRATE_SIGNER_SEED, none configured", entry.Name)
			}
			adapter := chainadapter.NewSubstrateAdapter(entry.ChainId, entry.RPCEndpoint, substrateSigner, entry.RequiredConfirmations)
			r.adapters[entry.ChainId] = adapter
			r.signers[entry.ChainId] = substrateSignerAddr

		default:
			return nil, fmt.Errorf("chain %s has unknown family", entry.Name)
		}
	}

	return r, nil
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting privadex worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	reg, err := registry.LoadStaticRegistryFile(cfg.RegistryPath)
	if err != nil {
		healthStatus.SetRegistry("invalid")
		log.Fatalf("load chain registry: %v", err)
	}
	healthStatus.SetRegistry("loaded")
	log.Printf("chain registry loaded: %d chains", len(reg.All()))

	if cfg.PolicyPath != "" {
		policy, err := config.LoadPolicyConfig(cfg.PolicyPath)
		if err != nil {
			log.Fatalf("load policy config: %v", err)
		}
		if err := policy.Validate(); err != nil {
			log.Fatalf("invalid policy config: %v", err)
		}
		log.Printf("policy config loaded: %d chain policies", len(policy.Chains))
	}

	var store coordinator.Store
	switch cfg.CoordinatorBackend {
	case "memory":
		store = coordinator.NewMemoryStore()
		healthStatus.SetCoordinator("connected")
		log.Printf("coordinator backend: in-memory (single-process only)")
	case "firestore":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		client, err := gcpfirestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			healthStatus.SetCoordinator("disconnected")
			log.Fatalf("connect to firestore: %v", err)
		}
		store = coordinator.NewFirestoreStore(client, cfg.FirestoreCollection)
		healthStatus.SetCoordinator("connected")
		log.Printf("coordinator backend: firestore project=%s collection=%s", cfg.FirestoreProjectID, cfg.FirestoreCollection)
	default:
		log.Fatalf("unknown coordinator backend %q", cfg.CoordinatorBackend)
	}

	resolver, err := buildResolver(cfg, reg)
	if err != nil {
		log.Fatalf("build chain adapters: %v", err)
	}

	var opStore *opstore.Store
	if cfg.DatabaseURL != "" {
		opStore, err = opstore.New(cfg)
		if err != nil {
			if cfg.DatabaseRequired {
				log.Fatalf("connect op store: %v", err)
			}
			log.Printf("op store disabled, continuing without operator snapshots: %v", err)
			healthStatus.SetOpStore("disconnected")
		} else {
			defer opStore.Close()
			healthStatus.SetOpStore("connected")
			log.Printf("op store connected")
		}
	}

	metricsReg := metrics.New(prometheus.DefaultRegisterer)

	d := &driver.Driver{
		Store:             store,
		Plans:             driver.NewCoordinatorPlanStore(store),
		Lease:             planassigner.New(store, cfg.LeaseDuration),
		Dedup:             prestartdedup.New(store),
		Registry:          reg,
		Adapters:          resolver,
		Metrics:           metricsReg,
		Logger:            log.New(log.Writer(), "[driver] ", log.LstdFlags),
		RetryBudget:       cfg.RetryBudget,
		StepsPerIteration: cfg.StepsPerIteration,
	}
	if opStore != nil {
		d.OpStore = opStore
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if healthStatus.Status == "ok" || healthStatus.Status == "degraded" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(healthStatus.ToJSON())
	})
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runDriverLoop(ctx, d, cfg.PollInterval)
	}()

	go func() {
		log.Printf("worker API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}

	log.Printf("worker stopped")
}

// runDriverLoop ticks RunIteration at the configured poll interval until
// ctx is canceled, logging (not dying on) iteration errors so one bad pass
// never takes the worker down.
func runDriverLoop(ctx context.Context, d *driver.Driver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.RunIteration(ctx); err != nil {
				log.Printf("driver iteration error: %v", err)
			}
		}
	}
}
