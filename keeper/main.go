// Package keeper implements the cage keeper: an autonomous agent that
// watches a collateralized-lending protocol for Emergency Shutdown and
// drives the unwind sequence once the shutdown is final.
package keeper

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"cagekeeper/config"
	"cagekeeper/dss"
	"cagekeeper/keeper/urnhistory"
	"cagekeeper/observability/logging"
	telemetry "cagekeeper/observability/otel"
)

// Main runs the cage keeper daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to cage keeper config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CAGE_KEEPER_ENV"))
	logger := logging.Setup("cage-keeper", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "cage-keeper",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.RPCTimeout())
	client, err := ethclient.DialContext(dialCtx, cfg.RPC.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("dial node: %w", err)
	}
	defer client.Close()

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		idCtx, cancel := context.WithTimeout(context.Background(), cfg.RPCTimeout())
		chainID, err = client.ChainID(idCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("read chain id: %w", err)
		}
	}

	key, err := loadSignerKey(cfg.Signer)
	if err != nil {
		return fmt.Errorf("load signer key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return fmt.Errorf("build transactor: %w", err)
	}
	address := gethcrypto.PubkeyToAddress(key.PublicKey)

	dep, err := dss.LoadDeployment(cfg.Deployment.File, client)
	if err != nil {
		return fmt.Errorf("load deployment: %w", err)
	}

	metrics := NewMetrics()
	budget := NewErrorBudget(cfg.MaxErrors)

	maximumWei := new(big.Int).Mul(big.NewInt(cfg.Gas.MaximumGwei), big.NewInt(1_000_000_000))
	gas := NewNodeGasStrategy(client, cfg.Gas.InitialMultiplier, maximumWei)

	writer := NewDssWriter(dep, client, opts, gas, logger,
		WithReactiveMultiplier(cfg.Gas.ReactiveMultiplier))
	orch := NewOrchestrator(writer, budget, logger, metrics)

	var provider urnhistory.Provider
	if cfg.UrnHistory.Endpoint != "" {
		provider, err = urnhistory.NewRemoteProvider(
			cfg.UrnHistory.Endpoint, cfg.UrnHistory.APIKey, cfg.RPCTimeout(), logger)
		if err != nil {
			return fmt.Errorf("build urn history provider: %w", err)
		}
	} else {
		chainOpts := []urnhistory.ChainProviderOption{
			urnhistory.WithChunkSize(cfg.UrnHistory.ChunkSize),
			urnhistory.WithRateLimit(rate.NewLimiter(rate.Limit(cfg.UrnHistory.RequestsPerSecond), 1)),
		}
		if cfg.UrnHistory.CachePath != "" {
			cache, err := urnhistory.OpenCache(cfg.UrnHistory.CachePath)
			if err != nil {
				return fmt.Errorf("open urn cache: %w", err)
			}
			defer func() { _ = cache.Close() }()
			chainOpts = append(chainOpts, urnhistory.WithCache(cache))
		}
		provider = urnhistory.NewChainProvider(
			client, dep.Vat, dep.Vat.Address(), dep.DeploymentBlock, logger, chainOpts...)
	}

	scanner := NewUrnScanner(provider, dep.Vat, dep.Spotter, logger, metrics)
	agg := NewAggregator(dep, logger)

	keeperOpts := []Option{WithPollInterval(cfg.PollInterval())}
	if cfg.PreviousCage {
		keeperOpts = append(keeperOpts, WithPreviousCage())
	}
	if cfg.PSM.Enabled() {
		addr, err := dss.ParseAddress(cfg.PSM.Address)
		if err != nil {
			return fmt.Errorf("psm address: %w", err)
		}
		keeperOpts = append(keeperOpts, WithPegModule(PegModule{Ilk: cfg.PSM.Ilk, Address: addr}))
	}

	k := New(client, dep, agg, scanner, orch, budget, address, logger, metrics, keeperOpts...)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	httpServer := &http.Server{
		Addr:         cfg.MetricsListen,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpErrs := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsListen)
		httpErrs <- httpServer.ListenAndServe()
	}()

	runErrs := make(chan error, 1)
	go func() {
		runErrs <- k.Run(stopCtx)
	}()

	select {
	case err := <-runErrs:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			_ = httpServer.Close()
		}
		return err
	case err := <-httpErrs:
		if err != nil && err != http.ErrServerClosed {
			stop()
			<-runErrs
			return err
		}
		return <-runErrs
	}
}

func loadSignerKey(cfg config.SignerConfig) (*ecdsa.PrivateKey, error) {
	if cfg.KeyHex != "" {
		return gethcrypto.HexToECDSA(strings.TrimPrefix(cfg.KeyHex, "0x"))
	}
	encrypted, err := os.ReadFile(cfg.KeystoreFile)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	passphrase, err := os.ReadFile(cfg.PassphraseFile)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	decrypted, err := keystore.DecryptKey(encrypted, strings.TrimSpace(string(passphrase)))
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return decrypted.PrivateKey, nil
}
