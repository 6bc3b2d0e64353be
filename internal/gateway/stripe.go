package gateway

import (
	"context"
	"fmt"
	"strings"

	"reconciliation-service/internal/service"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"
)

// StripeGateway — адаптер платёжного шлюза поверх Stripe API.
// Ссылка вида cs_* трактуется как checkout session, pi_* — как payment intent.
type StripeGateway struct {
	api *client.API
	log *zap.Logger
}

func NewStripeGateway(apiKey string, log *zap.Logger) *StripeGateway {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeGateway{api: api, log: log}
}

func (g *StripeGateway) GetPaymentStatus(ctx context.Context, ref string) (service.GatewayStatus, error) {
	switch {
	case strings.HasPrefix(ref, "cs_"):
		return g.sessionStatus(ctx, ref)
	case strings.HasPrefix(ref, "pi_"):
		return g.intentStatus(ctx, ref)
	default:
		return service.GatewayStatus{}, fmt.Errorf("unrecognized payment reference: %s", ref)
	}
}

func (g *StripeGateway) sessionStatus(ctx context.Context, id string) (service.GatewayStatus, error) {
	sess, err := g.api.CheckoutSessions.Get(id, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return service.GatewayStatus{}, fmt.Errorf("stripe checkout session %s: %w", id, err)
	}

	st := service.PaymentStatePending
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		st = service.PaymentStateSucceeded
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		st = service.PaymentStateCanceled
	}
	return service.GatewayStatus{State: st, AmountCents: sess.AmountTotal}, nil
}

func (g *StripeGateway) intentStatus(ctx context.Context, id string) (service.GatewayStatus, error) {
	pi, err := g.api.PaymentIntents.Get(id, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return service.GatewayStatus{}, fmt.Errorf("stripe payment intent %s: %w", id, err)
	}

	st := service.PaymentStatePending
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		st = service.PaymentStateSucceeded
	case stripe.PaymentIntentStatusCanceled:
		st = service.PaymentStateCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// Предыдущая попытка списания отклонена; платёж ещё может пройти.
		if pi.LastPaymentError != nil {
			st = service.PaymentStateFailed
		}
	}
	return service.GatewayStatus{State: st, AmountCents: pi.Amount}, nil
}

func (g *StripeGateway) CancelPayment(ctx context.Context, ref string) error {
	if !strings.HasPrefix(ref, "pi_") {
		return fmt.Errorf("cancellation supported only for payment intents, got %s", ref)
	}
	_, err := g.api.PaymentIntents.Cancel(ref, &stripe.PaymentIntentCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return fmt.Errorf("stripe cancel %s: %w", ref, err)
	}
	g.log.Info("stripe payment intent cancelled", zap.String("ref", ref))
	return nil
}
