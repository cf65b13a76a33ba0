package notify

import (
	"context"
	"sync/atomic"

	"github.com/agenthands/driftwatch/internal/core/model"
	"github.com/agenthands/driftwatch/internal/fault"
	"github.com/agenthands/driftwatch/internal/identity"
	"github.com/agenthands/driftwatch/internal/logging"
	"github.com/agenthands/driftwatch/internal/retry"
)

// Delivery is the outcome of delivering one message.
type Delivery struct {
	Outcome  model.DeliveryOutcome
	Attempts int
	Err      error
}

// Dispatcher resolves owners to chat users and sends under the retry policy.
type Dispatcher struct {
	sender Sender
	policy *retry.Policy
	logger logging.Logger
}

func NewDispatcher(sender Sender, policy *retry.Policy, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{sender: sender, policy: policy, logger: logger}
}

// Deliver sends msg to the owner with the given email. An owner without a
// chat mapping is undeliverable and nothing is sent.
func (d *Dispatcher) Deliver(ctx context.Context, reg *identity.Registry, ownerEmail string, msg Message) Delivery {
	rec, ok := reg.ByEmail(ownerEmail)
	if !ok || rec.ChatUserID == "" {
		return Delivery{
			Outcome: model.OutcomeUndeliverable,
			Err:     fault.Errorf(fault.UnmappedIdentity, "notify.resolve", "no chat user for %q", ownerEmail),
		}
	}

	var attempts atomic.Int32
	err := d.policy.Do(ctx, func(ctx context.Context) error {
		attempts.Add(1)
		return d.sender.Send(ctx, rec.ChatUserID, msg)
	})
	delivery := Delivery{Attempts: int(attempts.Load()), Err: err}
	if err != nil {
		delivery.Outcome = model.OutcomeFailed
		d.logger.WithFields(logging.Fields{
			"owner":    rec.Email,
			"attempts": delivery.Attempts,
			"kind":     fault.KindOf(err),
		}).WithError(err).Warn("notification failed")
		return delivery
	}
	delivery.Outcome = model.OutcomeDelivered
	return delivery
}
