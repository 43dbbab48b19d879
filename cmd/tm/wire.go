package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/taskmirror/taskmirror/internal/config"
	"github.com/taskmirror/taskmirror/internal/ledger"
	"github.com/taskmirror/taskmirror/internal/orchestrator"
	"github.com/taskmirror/taskmirror/internal/resolve"
	"github.com/taskmirror/taskmirror/internal/store"
	"github.com/taskmirror/taskmirror/internal/store/gtasks"
	"github.com/taskmirror/taskmirror/internal/store/replica"
	"github.com/taskmirror/taskmirror/internal/store/sqlite"
	"github.com/taskmirror/taskmirror/internal/task"
)

// engine bundles the wired stores and orchestrator for one CLI invocation.
type engine struct {
	cfg      *config.Config
	local    *sqlite.DB
	ledger   *ledger.Ledger
	replicas []*replica.Store
	cloud    store.Cloud
	orch     *orchestrator.Orchestrator
}

// buildEngine opens every configured store and wires the orchestrator.
// Replica and cloud connection failures are warnings: the pass itself
// degrades gracefully, and a half-configured setup should still sync what
// it can.
func buildEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*engine, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	local, err := sqlite.Open(cfg.LocalDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}

	led, err := ledger.Open(cfg.LedgerDB)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	e := &engine{cfg: cfg, local: local, ledger: led}

	var replicas []store.Replica
	for _, rc := range cfg.Replicas {
		r, err := replica.Open(rc.Name, rc.URL, rc.AuthToken())
		if err != nil {
			logger.Printf("Warning: replica %s not connected: %v", rc.Name, err)
			continue
		}
		e.replicas = append(e.replicas, r)
		replicas = append(replicas, r)
	}

	var cloud store.Cloud
	if cfg.Cloud.Enabled {
		cloud, err = openCloud(ctx, cfg.Cloud)
		if err != nil {
			logger.Printf("Warning: cloud not connected: %v", err)
		} else {
			e.cloud = cloud
		}
	}

	resolver := resolve.New(
		resolve.Strategy(cfg.Sync.Strategy),
		preferredSource(cfg.Sync.PreferredSource),
		logger,
	)

	orch, err := orchestrator.New(orchestrator.Config{
		Local:     local,
		Replicas:  replicas,
		Cloud:     cloud,
		Ledger:    led,
		Resolver:  resolver,
		LockPath:  cfg.LockFile,
		Tolerance: cfg.Sync.Tolerance,
		Logger:    logger,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.orch = orch
	return e, nil
}

func (e *engine) Close() {
	for _, r := range e.replicas {
		if err := r.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: closing replica %s: %v\n", r.Name(), err)
		}
	}
	if e.ledger != nil {
		_ = e.ledger.Close()
	}
	if e.local != nil {
		_ = e.local.Close()
	}
}

func openCloud(ctx context.Context, cc config.CloudConfig) (store.Cloud, error) {
	auth, err := gtasks.DefaultAuthFiles()
	if err != nil {
		return nil, err
	}
	if cc.CredentialsFile != "" {
		auth.CredentialsFile = cc.CredentialsFile
	}
	if cc.TokenFile != "" {
		auth.TokenFile = cc.TokenFile
	}
	opt, err := auth.ClientOption(ctx)
	if err != nil {
		return nil, err
	}
	return gtasks.New(ctx, cc.ListTitle, opt)
}

func preferredSource(name string) task.Source {
	switch name {
	case "local":
		return task.SourceLocal
	case "replica":
		return task.SourceReplica
	case "cloud":
		return task.SourceCloud
	default:
		return ""
	}
}
