package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

// Verifier adapts a Gateway into the processor's payment verification hook.
// Unknown payments are terminal; every other lookup failure is retryable.
func Verifier(gw Gateway) clickpay.VerifyFunc {
	return func(ctx context.Context, paymentID string) (*clickpay.PaymentObject, error) {
		p, err := gw.GetPayment(ctx, paymentID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) || errors.Is(err, ErrInvalidRequest) {
				return nil, fmt.Errorf("%w: %w", clickpay.ErrMalformedEvent, err)
			}
			return nil, fmt.Errorf("%w: %w", clickpay.ErrGatewayUnavailable, err)
		}
		return &clickpay.PaymentObject{
			ID:     p.ID,
			Status: p.Status,
			Paid:   p.Paid,
			Metadata: clickpay.PaymentMetadata{
				UserID:   p.Metadata["userId"],
				Clicks:   p.Metadata["clicks"],
				Username: p.Metadata["username"],
			},
		}, nil
	}
}
