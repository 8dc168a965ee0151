// creditdesk is the invoice-financing credit desk service: it reads protocol
// state from a Neo N3 node, validates and plans user actions, executes the
// resulting transaction sequences, and serves the REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lendlink-labs/creditdesk/applications/httpapi"
	"github.com/lendlink-labs/creditdesk/internal/audit"
	"github.com/lendlink-labs/creditdesk/internal/chain"
	"github.com/lendlink-labs/creditdesk/internal/config"
	"github.com/lendlink-labs/creditdesk/internal/credit"
	"github.com/lendlink-labs/creditdesk/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "creditdesk: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Config{Component: "creditdesk", Debug: cfg.Debug})
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.RPCURL,
		NetworkID: cfg.NetworkID,
		Timeout:   cfg.ReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}

	if cfg.SignerKeyHex == "" {
		return fmt.Errorf("CREDITDESK_SIGNER_KEY is required")
	}
	writer, err := chain.NewWriter(client, cfg.SignerKeyHex, cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("chain writer: %w", err)
	}
	log.Info(ctx, "signer loaded", map[string]interface{}{"address": writer.Address()})

	tables, err := credit.TablesFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("domain tables: %w", err)
	}

	reader := credit.NewReader(credit.ReaderConfig{
		Staking:     chain.NewStakingContract(client, cfg.Contracts.Staking),
		Invoices:    chain.NewInvoiceRegistry(client, cfg.Contracts.InvoiceRegistry),
		Pool:        chain.NewLendingPool(client, cfg.Contracts.LendingPool),
		Token:       chain.NewToken(client, cfg.Contracts.Token),
		PoolHash:    cfg.Contracts.LendingPool,
		StakingHash: cfg.Contracts.Staking,
		Tables:      tables,
		ScanWindow:  cfg.ScanWindow,
		Logger:      log.With(map[string]interface{}{"subsystem": "reader"}),
	})

	var auditRepo *audit.Repository
	var auditSink credit.AuditSink
	var auditReader httpapi.AuditReader
	if cfg.AuditDSN != "" {
		auditRepo, err = audit.Open(cfg.AuditDSN, log.With(map[string]interface{}{"subsystem": "audit"}))
		if err != nil {
			return fmt.Errorf("audit trail: %w", err)
		}
		defer auditRepo.Close()
		auditSink = auditRepo
		auditReader = auditRepo
	}

	executor := credit.NewExecutor(credit.ExecutorConfig{
		Gateway:        writer,
		Audit:          auditSink,
		Logger:         log.With(map[string]interface{}{"subsystem": "executor"}),
		ConfirmTimeout: cfg.ConfirmTimeout,
		WriteRate:      cfg.WriteRate,
		WriteBurst:     cfg.WriteBurst,
	})

	svc := credit.NewService(
		reader,
		credit.NewValidator(tables),
		credit.NewPlanner(credit.Addresses{
			Staking:         cfg.Contracts.Staking,
			InvoiceRegistry: cfg.Contracts.InvoiceRegistry,
			LendingPool:     cfg.Contracts.LendingPool,
			Token:           cfg.Contracts.Token,
		}),
		executor,
		log.With(map[string]interface{}{"subsystem": "service"}),
	)

	server := httpapi.NewServer(svc, auditReader, log.With(map[string]interface{}{"subsystem": "httpapi"}))
	return server.Run(ctx, cfg.ListenAddr)
}
