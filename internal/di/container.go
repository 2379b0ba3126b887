package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories"
	"github.com/hanko-field/storefront/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Checkout       services.CheckoutService
	Reconciliation services.ReconciliationService
	OrderStatus    services.OrderStatusService
	Orders         services.OrderQueryService
	Shipping       services.ShippingService
	System         services.SystemService
	PaymentsActive bool
}

// Runtime carries process-level collaborators that are not repositories.
type Runtime struct {
	// Gateway is nil when no processor key is configured; checkout then creates orders without sessions.
	Gateway   payments.Gateway
	Events    services.OrderEventPublisher
	Readiness *repositories.ReadinessChecker
	Build     services.BuildInfo
	Clock     func() time.Time
	// Logger returns the event logger for a named component.
	Logger func(component string) func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(cfg config.Config, reg repositories.Registry, rt Runtime) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(cfg, reg, rt)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, rt Runtime) (Services, error) {
	var svc Services
	clock := rt.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := rt.Logger
	if logger == nil {
		logger = func(string) func(context.Context, string, map[string]any) { return nil }
	}

	pricing, err := services.NewPricingResolver(services.PricingResolverDeps{
		Variants:  reg.Variants(),
		Tolerance: cfg.Checkout.PriceTolerance,
		Logger:    logger("pricing"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing resolver: %w", err)
	}

	builder, err := services.NewOrderBuilder(services.OrderBuilderDeps{
		Orders:   reg.Orders(),
		Pricing:  pricing,
		Events:   rt.Events,
		Currency: cfg.PSP.Currency,
		Clock:    clock,
		Logger:   logger("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order builder: %w", err)
	}

	sessions, err := services.NewPaymentSessionService(services.PaymentSessionServiceDeps{
		Gateway:  rt.Gateway,
		Pricing:  pricing,
		Currency: cfg.PSP.Currency,
		Timeout:  cfg.PSP.Timeout,
		Logger:   logger("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment session service: %w", err)
	}
	svc.PaymentsActive = sessions.Enabled()

	svc.Checkout, err = services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:   builder,
		Sessions: sessions,
		TestMode: cfg.PSP.TestMode(),
		Logger:   logger("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}

	svc.Reconciliation, err = services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:   reg.Orders(),
		Sessions: sessions,
		Events:   rt.Events,
		Clock:    clock,
		Logger:   logger("reconciliation"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}

	svc.OrderStatus, err = services.NewOrderStatusService(services.OrderStatusServiceDeps{
		Orders:             reg.Orders(),
		Sessions:           sessions,
		Events:             rt.Events,
		EnforceTransitions: cfg.Features.AdminEnforceTransitions,
		RetrySuccessPath:   cfg.Checkout.RetrySuccessPath,
		RetryCancelPath:    cfg.Checkout.RetryCancelPath,
		Clock:              clock,
		Logger:             logger("order_status"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order status service: %w", err)
	}

	svc.Orders, err = services.NewOrderQueryService(services.OrderQueryServiceDeps{
		Orders: reg.Orders(),
		Clock:  clock,
		Logger: logger("order_query"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order query service: %w", err)
	}

	svc.Shipping, err = services.NewShippingService(services.ShippingServiceDeps{
		Rules:         reg.ShippingRules(),
		FreeThreshold: cfg.Shipping.FreeThreshold,
		Logger:        logger("shipping"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping service: %w", err)
	}

	if rt.Readiness != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			Readiness: rt.Readiness,
			Clock:     clock,
			Build:     rt.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
