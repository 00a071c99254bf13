// Package outbox persists executed trades until the broadcaster has handed
// them to Kafka. It is the only durable state the engine owns: book state is
// rebuilt from scratch on restart, the outbound trade stream is not allowed
// to be lost.
package outbox

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"matchd/domain/orderbook"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Record is one trade waiting for publication.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64 // unix nanos of the last publish attempt
	Trade       orderbook.Trade
}

const headerLen = 1 + 4 + 8

// binary layout: [state:1][retries:4][lastAttempt:8][json payload]
func encodeRecord(r Record) ([]byte, error) {
	payload, err := json.Marshal(r.Trade)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerLen+len(payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[headerLen:], payload)
	return buf, nil
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.New("outbox: record too short")
	}
	r := Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}
	if err := json.Unmarshal(b[headerLen:], &r.Trade); err != nil {
		return Record{}, fmt.Errorf("outbox: decode payload: %w", err)
	}
	return r, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db  *pebble.DB
	log *zap.Logger
	seq atomic.Uint64
}

func Open(dir string, log *zap.Logger) (*Outbox, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // records must survive a crash
	})
	if err != nil {
		return nil, err
	}
	o := &Outbox{db: db, log: log}
	if err := o.restoreSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if cur := o.seq.Load(); cur > 0 {
		log.Info("outbox opened", zap.Uint64("last_seq", cur))
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// restoreSeq continues numbering after the highest key already on disk.
func (o *Outbox) restoreSeq() error {
	iter, err := o.newPrefixIter()
	if err != nil {
		return err
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		o.seq.Store(seq)
	}
	return iter.Error()
}

// -------------------- API --------------------

// Append stores a freshly executed trade in StateNew and returns its
// sequence number. The write is synced before Append returns.
func (o *Outbox) Append(t orderbook.Trade) (uint64, error) {
	seq := o.seq.Add(1)
	val, err := encodeRecord(Record{Seq: seq, State: StateNew, Trade: t})
	if err != nil {
		return 0, err
	}
	if err := o.db.Set(keyFor(seq), val, pebble.Sync); err != nil {
		return 0, err
	}
	return seq, nil
}

// UpdateState rewrites a record's lifecycle state in place, preserving the
// payload. Moving to StateSent counts as another delivery attempt.
func (o *Outbox) UpdateState(seq uint64, state State) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	if state == StateSent {
		rec.Retries++
		rec.LastAttempt = time.Now().UnixNano()
	}
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return o.db.Set(keyFor(seq), val, pebble.Sync)
}

// Get returns the record for a sequence number.
func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

// Delete removes a record; used to purge acknowledged trades.
func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

// -------------------- Scan --------------------

// ScanByState calls fn for every record in the given state, in sequence
// order. Returning an error from fn stops the scan.
func (o *Outbox) ScanByState(state State, fn func(rec Record) error) error {
	iter, err := o.newPrefixIter()
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != state {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// CountPending returns how many records have not reached StateAcked or
// StateFailed yet.
func (o *Outbox) CountPending() (int, error) {
	iter, err := o.newPrefixIter()
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) < 1 {
			continue
		}
		if st := State(val[0]); st == StateNew || st == StateSent {
			n++
		}
	}
	return n, iter.Error()
}

// PurgeAcked deletes acknowledged records and reports how many went away.
func (o *Outbox) PurgeAcked() (int, error) {
	var doomed []uint64
	err := o.ScanByState(StateAcked, func(rec Record) error {
		doomed = append(doomed, rec.Seq)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, seq := range doomed {
		if err := o.Delete(seq); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

// -------------------- Helpers --------------------

const keyPrefix = "trade/"

func (o *Outbox) newPrefixIter() (*pebble.Iterator, error) {
	return o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(string(b), keyPrefix), 10, 64)
}
