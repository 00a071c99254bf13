// Package ticker keeps last-trade statistics in Redis for the ticker
// endpoint. The cache is best-effort: a write failure costs nothing but a
// stale ticker.
package ticker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"matchd/domain/orderbook"
)

// ErrNoData marks an empty ticker hash: nothing has traded yet.
var ErrNoData = errors.New("ticker: no data")

const hashKey = "matchd:ticker"

// Stats is the cached ticker state. Prices are in ticks.
type Stats struct {
	LastPrice    orderbook.Price
	LastQuantity orderbook.Quantity
	TradeCount   uint64
	Volume       uint64
	UpdatedAt    time.Time
}

type Store struct {
	rdb *redis.Client
	log *zap.Logger
}

func New(addr, password string, db int, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		log: log,
	}
}

// Record folds a batch of executions into the cached ticker.
func (s *Store) Record(ctx context.Context, trades []orderbook.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	var volume uint64
	for _, t := range trades {
		volume += uint64(t.Bid.Quantity)
	}
	last := trades[len(trades)-1]

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hashKey, map[string]any{
		"last_price":    uint64(last.Bid.Price),
		"last_quantity": uint64(last.Bid.Quantity),
		"updated_at":    time.Now().UnixNano(),
	})
	pipe.HIncrBy(ctx, hashKey, "trade_count", int64(len(trades)))
	pipe.HIncrBy(ctx, hashKey, "volume", int64(volume))
	_, err := pipe.Exec(ctx)
	return err
}

// Stats reads the cached ticker back.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	fields, err := s.rdb.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return Stats{}, err
	}
	return parseStats(fields)
}

// parseStats tolerates partially written hashes; unparseable fields stay at
// their zero value.
func parseStats(fields map[string]string) (Stats, error) {
	if len(fields) == 0 {
		return Stats{}, ErrNoData
	}
	var st Stats
	if v, err := strconv.ParseUint(fields["last_price"], 10, 64); err == nil {
		st.LastPrice = orderbook.Price(v)
	}
	if v, err := strconv.ParseUint(fields["last_quantity"], 10, 64); err == nil {
		st.LastQuantity = orderbook.Quantity(v)
	}
	if v, err := strconv.ParseUint(fields["trade_count"], 10, 64); err == nil {
		st.TradeCount = v
	}
	if v, err := strconv.ParseUint(fields["volume"], 10, 64); err == nil {
		st.Volume = v
	}
	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		st.UpdatedAt = time.Unix(0, v)
	}
	return st, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
