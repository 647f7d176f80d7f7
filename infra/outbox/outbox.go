package outbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

// Record is a summary waiting to be acknowledged by the broadcast sink.
type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// ErrCorrupt is returned when a stored payload fails its checksum.
var ErrCorrupt = errors.New("outbox: corrupt record")

// binary encoding: [state:1][retries:4][lastAttempt:8][crc:4][payload...]
const headerLen = 1 + 4 + 8 + 4

func encodeRecord(r Record) []byte {
	buf := make([]byte, headerLen+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	binary.BigEndian.PutUint32(buf[13:17], crc32.ChecksumIEEE(r.Payload))
	copy(buf[headerLen:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.New("invalid outbox record length")
	}
	if crc32.ChecksumIEEE(b[headerLen:]) != binary.BigEndian.Uint32(b[13:17]) {
		return Record{}, fmt.Errorf("%w: seq %d", ErrCorrupt, seq)
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     bytes.Clone(b[headerLen:]),
	}, nil
}

// -------------------- Outbox --------------------

// Outbox holds summaries between the merge and the broadcast sink, keyed by
// book sequence so a scan yields them oldest first. It lives on an
// in-memory filesystem: nothing is written to disk.
type Outbox struct {
	db *pebble.DB
}

func Open() (*Outbox, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	return &Outbox{db: db}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// -------------------- API --------------------

// Put stores a new pending summary.
func (o *Outbox) Put(seq uint64, payload []byte) error {
	return o.db.Set(keyFor(seq), encodeRecord(Record{State: StateNew, Payload: payload}), pebble.NoSync)
}

// MarkFailed bumps the retry count of a pending summary.
func (o *Outbox) MarkFailed(rec Record) error {
	rec.State = StateFailed
	rec.Retries++
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(rec.Seq), encodeRecord(rec), pebble.NoSync)
}

// MarkAcked removes a summary the sink accepted.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.NoSync)
}

// -------------------- Scan --------------------

// ScanPending calls fn for every pending summary, oldest first, until fn
// returns an error.
func (o *Outbox) ScanPending(fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
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
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Len counts pending summaries.
func (o *Outbox) Len() (int, error) {
	n := 0
	err := o.ScanPending(func(Record) error {
		n++
		return nil
	})
	return n, err
}

// Trim drops the oldest pending summaries so that at most keep remain.
// Only the latest books matter downstream.
func (o *Outbox) Trim(keep int) error {
	var seqs []uint64
	if err := o.ScanPending(func(r Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}); err != nil {
		return err
	}
	if len(seqs) <= keep {
		return nil
	}

	b := o.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs[:len(seqs)-keep] {
		if err := b.Delete(keyFor(seq), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.NoSync)
}

// -------------------- Helpers --------------------

const keyPrefix = "summary/"

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(bytes.TrimPrefix(b, []byte(keyPrefix))), "%d", &seq)
	return seq, err
}
