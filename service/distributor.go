package service

import (
	"sync"

	"github.com/rs/zerolog"

	"baldr/domain/market"
)

// Subscription is a live execution feed for one user. Deliver must not
// block; implementations buffer and drop when the consumer is slow,
// since the durable feed is Kafka.
type Subscription interface {
	User() market.UserID
	Deliver(market.UserExecution)
	Close()
}

// Distributor fans executions out to per-user subscriptions. Each user
// has at most one active subscription.
type Distributor struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[market.UserID]Subscription
}

func NewDistributor(log zerolog.Logger) *Distributor {
	return &Distributor{
		log:  log,
		subs: make(map[market.UserID]Subscription),
	}
}

// Subscribe registers sub for its user. A second subscription for the
// same user is rejected until the first unsubscribes.
func (d *Distributor) Subscribe(sub Subscription) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[sub.User()]; ok {
		return market.ErrAlreadySubscribed
	}
	d.subs[sub.User()] = sub
	d.log.Debug().Stringer("user", sub.User()).Msg("execution feed subscribed")
	return nil
}

// Unsubscribe removes the user's subscription if sub is still the
// registered one.
func (d *Distributor) Unsubscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.subs[sub.User()]; ok && cur == sub {
		delete(d.subs, sub.User())
		d.log.Debug().Stringer("user", sub.User()).Msg("execution feed unsubscribed")
	}
}

// Publish delivers each execution to its buyer's and seller's feeds.
// Users without a subscription are skipped; delivery is best effort.
func (d *Distributor) Publish(execs []market.Execution) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, x := range execs {
		d.deliverTo(x, x.Buyer)
		if x.Seller != x.Buyer {
			d.deliverTo(x, x.Seller)
		}
	}
}

func (d *Distributor) deliverTo(x market.Execution, user market.UserID) {
	sub, ok := d.subs[user]
	if !ok {
		return
	}
	if ue, ok := x.ForUser(user); ok {
		sub.Deliver(ue)
	}
}
