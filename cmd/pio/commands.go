package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/ajkula/GoPIO/adapter/outbound/registry"
	"github.com/ajkula/GoPIO/config"
	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/inbound"
	"github.com/ajkula/GoPIO/domain/service"
)

var (
	success = color.New(color.FgGreen)
	failure = color.New(color.FgRed)
)

func selectorArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// withLifecycle runs fn against a lifecycle service bound to the configured engine
func (a *app) withLifecycle(ctx context.Context, fn func(ctx context.Context, svc inbound.LifecycleService) error) error {
	env, err := a.setup()
	if err != nil {
		return err
	}
	defer env.close()

	orch, err := newOrchestrator(env.cfg, env.logger)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := context.WithTimeout(ctx, env.cfg.Orchestrator.Timeout)
	defer cancel()
	return fn(ctx, service.NewLifecycleService(orch, env.logger, a.force))
}

func (a *app) list(ctx context.Context, args []string) error {
	filter := selectorArg(args)
	return a.withLifecycle(ctx, func(ctx context.Context, svc inbound.LifecycleService) error {
		names, err := svc.List(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			if filter == "" || strings.Contains(name, filter) {
				fmt.Fprintln(a.stdout, name)
			}
		}
		return nil
	})
}

func (a *app) deploy(ctx context.Context, args []string) error {
	return a.withLifecycle(ctx, func(ctx context.Context, svc inbound.LifecycleService) error {
		return svc.Deploy(ctx, selectorArg(args))
	})
}

func (a *app) info(ctx context.Context, args []string) error {
	return a.withLifecycle(ctx, func(ctx context.Context, svc inbound.LifecycleService) error {
		result, err := svc.Info(ctx, selectorArg(args))
		if err != nil {
			return err
		}
		return a.printResult(result)
	})
}

func (a *app) status(ctx context.Context, args []string) error {
	return a.withLifecycle(ctx, func(ctx context.Context, svc inbound.LifecycleService) error {
		result, err := svc.Status(ctx, selectorArg(args))
		if err != nil {
			return err
		}
		return a.printResult(result)
	})
}

func (a *app) test(ctx context.Context, args []string) error {
	return a.withLifecycle(ctx, func(ctx context.Context, svc inbound.LifecycleService) error {
		result, err := svc.Test(ctx, selectorArg(args))
		if err != nil {
			return err
		}
		return a.printResult(result)
	})
}

func (a *app) publish(ctx context.Context, args []string) error {
	return a.withLifecycle(ctx, func(ctx context.Context, svc inbound.LifecycleService) error {
		return svc.Publish(ctx, selectorArg(args))
	})
}

func (a *app) printResult(result model.Result) error {
	data, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Fprintln(a.stdout, string(data))
	return nil
}

// spin blocks until interrupted or a scan fails
func (a *app) spin(ctx context.Context, args []string) error {
	env, err := a.setup()
	if err != nil {
		return err
	}
	defer env.close()

	reg, err := registry.NewWorkspaceRegistry(env.cfg.General.Workspace, env.logger)
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(env.cfg, env.logger)
	if err != nil {
		return err
	}
	defer orch.Close()

	spin := service.NewSpinService(
		spinOptions(env.cfg),
		reg,
		orch,
		hintFactory(env.cfg),
		env.logger,
	)

	if env.cfg.Diagnostics.Enabled {
		shutdown := startDiagnostics(env.cfg, spin, env.logger)
		defer shutdown()
	}

	reports, unsubscribe := spin.Subscribe()
	defer unsubscribe()
	go a.printFlushes(reports)

	fmt.Fprintf(a.stdout, "Watching %s\n", reg.Root())
	return spin.Run(ctx)
}

func (a *app) printFlushes(reports <-chan *model.FlushReport) {
	for report := range reports {
		uploaded := report.Count(model.SyncUploaded)
		if err := report.Err(); err != nil {
			failure.Fprintf(a.stderr, "Sync %s: %d uploaded, %d failed: %v\n",
				report.BatchID, uploaded, report.Count(model.SyncFailed), err)
			continue
		}
		success.Fprintf(a.stdout, "Synced %d file(s), restarted %v, redeployed %v\n",
			uploaded, report.Restarted, report.Redeployed)
	}
}

// genUUID needs no engine connection
func (a *app) genUUID(ctx context.Context, args []string) error {
	fmt.Fprintln(a.stdout, service.NewLifecycleService(nil, nopLogger{}, false).GenID())
	return nil
}

func (a *app) generateConfig(ctx context.Context, args []string) error {
	if _, err := os.Stat(a.configPath); err == nil && !a.force {
		return fmt.Errorf("%s already exists, use --force to overwrite", a.configPath)
	}
	if err := config.SaveConfig(config.DefaultConfig(), a.configPath); err != nil {
		return fmt.Errorf("error generating config file: %w", err)
	}
	success.Fprintf(a.stdout, "Default configuration file generated at: %s\n", a.configPath)
	return nil
}
