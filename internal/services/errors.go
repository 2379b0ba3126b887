package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied malformed or missing data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order (or a referenced record) does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrVariantNotFound narrows ErrOrderNotFound to an unknown catalog variant.
	ErrVariantNotFound = fmt.Errorf("%w: variant", ErrOrderNotFound)
	// ErrOrderOutOfStock indicates a requested variant cannot be sold.
	ErrOrderOutOfStock = errors.New("order: out of stock")
	// ErrOrderForbidden indicates the requester does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the order status does not allow the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderUnavailable indicates order storage failed.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrPaymentSignature indicates a webhook failed signature verification.
	ErrPaymentSignature = errors.New("payment: invalid signature")
	// ErrPaymentUnavailable indicates the payment processor failed or is not configured.
	ErrPaymentUnavailable = errors.New("payment: unavailable")
)

// translateRepoError maps storage failures onto the order sentinels.
func translateRepoError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %w", notFound, err)
	}
	return fmt.Errorf("%w: %w", ErrOrderUnavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// translateGatewayError maps processor failures. An unknown session reads as a missing order.
func translateGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payments.ErrSignatureInvalid):
		return fmt.Errorf("%w: %w", ErrPaymentSignature, err)
	case errors.Is(err, payments.ErrSessionNotFound):
		return fmt.Errorf("%w: %w", ErrOrderNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
	}
}

func nopLogger(context.Context, string, map[string]any) {}
