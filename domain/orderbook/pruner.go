package orderbook

import (
	"time"

	"go.uber.org/zap"
)

// MarketCloseHour is the default local hour at which GoodForDay orders
// expire.
const MarketCloseHour = 16

// boundarySlack pushes the wakeup slightly past the boundary so a prune
// never fires a hair early.
const boundarySlack = 100 * time.Millisecond

// PruneGoodForDay cancels every live GoodForDay order. Ids are collected
// under the lock and then cancelled one by one through the normal path, so
// racing a foreground cancellation is harmless. The ledger is never touched.
func (b *Book) PruneGoodForDay() {
	b.mu.Lock()
	var doomed []OrderID
	b.orders.Each(func(o *Order) bool {
		if o.Type == GoodForDay {
			doomed = append(doomed, o.ID)
		}
		return true
	})
	b.mu.Unlock()

	for _, id := range doomed {
		_ = b.Cancel(id)
	}
	if len(doomed) > 0 {
		b.log.Info("pruned good-for-day orders", zap.Int("count", len(doomed)))
	}
}

func (b *Book) pruneLoop() {
	defer b.wg.Done()
	for {
		now := time.Now().In(b.loc)
		timer := time.NewTimer(nextCloseBoundary(now, b.closeHour).Sub(now) + boundarySlack)
		select {
		case <-b.stop:
			timer.Stop()
			return
		case <-timer.C:
			b.PruneGoodForDay()
		}
	}
}

// nextCloseBoundary returns the upcoming close instant: today at hour, or
// tomorrow when the hour has already passed.
func nextCloseBoundary(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if now.Hour() >= hour {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Close stops the day-boundary pruner and waits for it to exit. Safe to call
// more than once; the book itself stays usable after Close.
func (b *Book) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		b.wg.Wait()
	})
}
