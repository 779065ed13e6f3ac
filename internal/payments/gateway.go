package payments

import "context"

// Intent is the gateway-neutral view of a payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountCents  int64
	Currency     string
	Metadata     map[string]string
}

// Succeeded reports whether the intent captured funds.
func (i *Intent) Succeeded() bool {
	return i != nil && i.Status == "succeeded"
}

// CreateIntentParams describes the charge to stage. The idempotency key
// guards against double charges on client retries.
type CreateIntentParams struct {
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Gateway abstracts the payment provider. The booking core verifies
// intents through this interface and never talks to the provider SDK
// directly.
type Gateway interface {
	CreateIntent(ctx context.Context, params CreateIntentParams) (*Intent, error)
	VerifyIntent(ctx context.Context, intentID string) (*Intent, error)
}
