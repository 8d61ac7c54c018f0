package node

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Service is the interface for managed subsystems.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// ServiceManager handles ordered start/stop of services.
type ServiceManager struct {
	services []Service
	started  int
	logger   *zap.Logger
}

// NewServiceManager creates a service manager.
func NewServiceManager(logger *zap.Logger) *ServiceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceManager{logger: logger}
}

// Add appends a service to the manager.
func (sm *ServiceManager) Add(svc Service) {
	sm.services = append(sm.services, svc)
}

// StartAll starts all services in order. On failure, stops already-started services.
func (sm *ServiceManager) StartAll(ctx context.Context) error {
	for i, svc := range sm.services {
		sm.logger.Info("starting service", zap.String("name", svc.Name()))
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := sm.services[j].Stop(); stopErr != nil {
					sm.logger.Error("failed to stop service during rollback",
						zap.String("name", sm.services[j].Name()),
						zap.Error(stopErr),
					)
				}
			}
			sm.started = 0
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		sm.started = i + 1
	}
	return nil
}

// StopAll stops the started services in reverse order.
func (sm *ServiceManager) StopAll() error {
	var firstErr error
	for i := sm.started - 1; i >= 0; i-- {
		svc := sm.services[i]
		sm.logger.Info("stopping service", zap.String("name", svc.Name()))
		if err := svc.Stop(); err != nil {
			sm.logger.Error("failed to stop service",
				zap.String("name", svc.Name()),
				zap.Error(err),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", svc.Name(), err)
			}
		}
	}
	sm.started = 0
	return firstErr
}

// Services returns the list of managed services.
func (sm *ServiceManager) Services() []Service {
	return sm.services
}

// serviceFunc adapts a start/stop pair into a Service.
type serviceFunc struct {
	name  string
	start func(ctx context.Context) error
	stop  func() error
}

func (s *serviceFunc) Start(ctx context.Context) error {
	if s.start == nil {
		return nil
	}
	return s.start(ctx)
}

func (s *serviceFunc) Stop() error {
	if s.stop == nil {
		return nil
	}
	return s.stop()
}

func (s *serviceFunc) Name() string { return s.name }
