package di

import (
	"context"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/config"
	"github.com/hanko-field/storefront/internal/repositories"
)

type stubOrders struct{ repositories.OrderRepository }
type stubVariants struct{ repositories.VariantRepository }
type stubRules struct{ repositories.ShippingRuleRepository }

type stubRegistry struct {
	closed bool
}

func (r *stubRegistry) Close(context.Context) error { r.closed = true; return nil }
func (r *stubRegistry) Ping(context.Context) error  { return nil }
func (r *stubRegistry) Orders() repositories.OrderRepository {
	return stubOrders{}
}
func (r *stubRegistry) Variants() repositories.VariantRepository {
	return stubVariants{}
}
func (r *stubRegistry) ShippingRules() repositories.ShippingRuleRepository {
	return stubRules{}
}

type stubGateway struct{ payments.Gateway }

func testConfig() config.Config {
	return config.Config{
		PSP:      config.PSPConfig{Currency: "BRL", PaymentMode: config.PaymentModeTest, Timeout: time.Second},
		Checkout: config.CheckoutConfig{PriceTolerance: 10},
		Shipping: config.ShippingConfig{FreeThreshold: 20000},
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	reg := &stubRegistry{}
	readiness, err := repositories.NewReadinessChecker([]repositories.Dependency{{Name: "orders", Check: reg.Ping}})
	if err != nil {
		t.Fatalf("NewReadinessChecker: %v", err)
	}

	var components []string
	container, err := NewContainer(testConfig(), reg, Runtime{
		Gateway:   stubGateway{},
		Readiness: readiness,
		Logger: func(component string) func(context.Context, string, map[string]any) {
			components = append(components, component)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	svc := container.Services
	if svc.Checkout == nil || svc.Reconciliation == nil || svc.OrderStatus == nil || svc.Orders == nil || svc.Shipping == nil {
		t.Fatalf("expected every order service to be wired, got %+v", svc)
	}
	if svc.System == nil {
		t.Fatalf("expected system service when readiness is configured")
	}
	if !svc.PaymentsActive {
		t.Fatalf("expected payments to be active with a gateway")
	}
	if len(components) == 0 {
		t.Fatalf("expected component loggers to be requested")
	}

	report, err := svc.System.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok readiness, got %s", report.Status)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry to be closed")
	}
}

func TestNewContainerWithoutGateway(t *testing.T) {
	container, err := NewContainer(testConfig(), &stubRegistry{}, Runtime{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.PaymentsActive {
		t.Fatalf("expected payments to be inactive without a gateway")
	}
	if container.Services.System != nil {
		t.Fatalf("expected no system service without readiness")
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(testConfig(), nil, Runtime{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}
