package billing

import (
	"context"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/subscription"
)

// StripeClient は決済サービスAPIのうち本サービスが利用する操作のインターフェース。
type StripeClient interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error)
	NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// stripeAPI はstripe-goのリソースパッケージを呼び出すStripeClient実装。
type stripeAPI struct{}

// NewStripeClient はシークレットキーを設定してStripeClientを生成する。
func NewStripeClient(secretKey string) StripeClient {
	stripe.Key = secretKey
	return stripeAPI{}
}

func (stripeAPI) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (stripeAPI) CancelAtPeriodEnd(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx
	return subscription.Update(id, params)
}

func (stripeAPI) NewCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return checkoutsession.New(params)
}
