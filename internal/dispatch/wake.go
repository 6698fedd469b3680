package dispatch

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// wakeChannel carries cross-process wake signals: another API instance
// releasing a slot or absorbing a webhook nudges every dispatcher.
const wakeChannel = "dispatch:wake"

// Notifier fans a wake signal out to the local dispatcher and, when
// Redis is configured, to every other process subscribed to the wake
// channel. Notify never blocks and never fails the caller.
type Notifier struct {
	rdb   *redis.Client
	local func()
	log   *slog.Logger
}

func NewNotifier(rdb *redis.Client, local func(), log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{rdb: rdb, local: local, log: log}
}

func (n *Notifier) Notify(ctx context.Context) {
	if n == nil {
		return
	}
	if n.local != nil {
		n.local()
	}
	if n.rdb == nil {
		return
	}
	if err := n.rdb.Publish(ctx, wakeChannel, "wake").Err(); err != nil {
		n.log.Warn("wake publish failed", "err", err)
	}
}

// SubscribeWakes forwards Redis wake messages into the dispatcher until
// ctx is cancelled. Run it as a goroutine next to Dispatcher.Run; with
// no Redis it returns immediately.
func (d *Dispatcher) SubscribeWakes(ctx context.Context, rdb *redis.Client) {
	if rdb == nil {
		return
	}
	sub := rdb.Subscribe(ctx, wakeChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			d.Wake()
		}
	}
}
