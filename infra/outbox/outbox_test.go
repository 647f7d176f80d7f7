package outbox

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Outbox {
	t.Helper()
	o, err := Open()
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func pending(t *testing.T, o *Outbox) []Record {
	t.Helper()
	var out []Record
	require.NoError(t, o.ScanPending(func(r Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestPutScanOldestFirst(t *testing.T) {
	o := open(t)
	require.NoError(t, o.Put(12, []byte("b")))
	require.NoError(t, o.Put(3, []byte("a")))

	recs := pending(t, o)
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(3), recs[0].Seq)
	assert.Equal(t, []byte("a"), recs[0].Payload)
	assert.Equal(t, StateNew, recs[0].State)
	assert.Equal(t, uint64(12), recs[1].Seq)
}

func TestMarkFailedAndAcked(t *testing.T) {
	o := open(t)
	require.NoError(t, o.Put(1, []byte("x")))

	rec := pending(t, o)[0]
	require.NoError(t, o.MarkFailed(rec))
	rec = pending(t, o)[0]
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, uint32(1), rec.Retries)
	assert.NotZero(t, rec.LastAttempt)
	assert.Equal(t, []byte("x"), rec.Payload)

	require.NoError(t, o.MarkAcked(1))
	n, err := o.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrimKeepsNewest(t *testing.T) {
	o := open(t)
	for seq := uint64(1); seq <= 10; seq++ {
		require.NoError(t, o.Put(seq, nil))
	}
	require.NoError(t, o.Trim(3))

	recs := pending(t, o)
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(8), recs[0].Seq)
	assert.Equal(t, uint64(10), recs[2].Seq)
}

// --- Edge Cases ---

func TestScanStopsOnError(t *testing.T) {
	o := open(t)
	require.NoError(t, o.Put(1, nil))
	require.NoError(t, o.Put(2, nil))

	stop := errors.New("stop")
	calls := 0
	err := o.ScanPending(func(Record) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestDecodeShortRecord(t *testing.T) {
	_, err := decodeRecord(1, []byte{1, 2})
	assert.Error(t, err)
}

func TestDecodeDetectsCorruptPayload(t *testing.T) {
	raw := encodeRecord(Record{State: StateNew, Payload: []byte("book")})
	raw[len(raw)-1] ^= 0xff

	_, err := decodeRecord(7, raw)
	assert.ErrorIs(t, err, ErrCorrupt)

	raw[len(raw)-1] ^= 0xff
	rec, err := decodeRecord(7, raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("book"), rec.Payload)
}
