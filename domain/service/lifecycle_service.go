package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ajkula/GoPIO/domain/model"
	"github.com/ajkula/GoPIO/domain/port/outbound"
)

type lifecycleService struct {
	orchestrator outbound.LifecycleOrchestrator
	logger       outbound.Logger
	force        bool
}

// NewLifecycleService runs every command behind an ensure of its selector.
// force is forwarded to each ensure call.
func NewLifecycleService(
	orchestrator outbound.LifecycleOrchestrator,
	logger outbound.Logger,
	force bool,
) *lifecycleService {
	return &lifecycleService{
		orchestrator: orchestrator,
		logger:       logger,
		force:        force,
	}
}

func (s *lifecycleService) ensure(ctx context.Context, selector string) error {
	s.logger.Debug("Ensuring services", "selector", selector, "force", s.force)
	if _, err := s.orchestrator.Ensure(ctx, selector, model.EnsureOptions{Force: s.force}); err != nil {
		return fmt.Errorf("ensure %q: %w", selector, err)
	}
	return nil
}

func (s *lifecycleService) List(ctx context.Context) ([]string, error) {
	if err := s.ensure(ctx, ""); err != nil {
		return nil, err
	}
	return s.orchestrator.List(ctx)
}

func (s *lifecycleService) Deploy(ctx context.Context, selector string) error {
	if err := s.ensure(ctx, selector); err != nil {
		return err
	}
	if _, err := s.orchestrator.Deploy(ctx); err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	s.logger.Info("Deploy complete", "selector", selector)
	return nil
}

func (s *lifecycleService) Info(ctx context.Context, selector string) (model.Result, error) {
	if err := s.ensure(ctx, selector); err != nil {
		return nil, err
	}
	return s.orchestrator.Info(ctx)
}

func (s *lifecycleService) Status(ctx context.Context, selector string) (model.Result, error) {
	if err := s.ensure(ctx, selector); err != nil {
		return nil, err
	}
	return s.orchestrator.Status(ctx)
}

func (s *lifecycleService) Test(ctx context.Context, selector string) (model.Result, error) {
	if err := s.ensure(ctx, selector); err != nil {
		return nil, err
	}
	return s.orchestrator.Test(ctx)
}

func (s *lifecycleService) Publish(ctx context.Context, selector string) error {
	if err := s.ensure(ctx, selector); err != nil {
		return err
	}
	if _, err := s.orchestrator.Publish(ctx); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (s *lifecycleService) GenID() string {
	return uuid.NewString()
}
