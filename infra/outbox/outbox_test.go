package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	ob, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { ob.Close() })
	return ob
}

func pendingLSNs(t *testing.T, ob *Outbox) []uint64 {
	t.Helper()
	var out []uint64
	require.NoError(t, ob.ScanPending(func(r *Record) error {
		out = append(out, r.LSN)
		return nil
	}))
	return out
}

func TestPutAndGet(t *testing.T) {
	ob := openTestOutbox(t)
	require.NoError(t, ob.Put(7, []byte("payload")))

	rec, err := ob.Get(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), rec.LSN)
	assert.Equal(t, StateNew, rec.State)
	assert.Equal(t, []byte("payload"), rec.Payload)
	assert.Zero(t, rec.Retries)
}

func TestStateTransitions(t *testing.T) {
	ob := openTestOutbox(t)
	require.NoError(t, ob.Put(1, []byte("a")))

	require.NoError(t, ob.MarkSent(1))
	rec, err := ob.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateSent, rec.State)
	assert.Equal(t, uint32(1), rec.Retries)

	require.NoError(t, ob.MarkSent(1)) // republish bumps the retry count
	rec, err = ob.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.Retries)

	require.NoError(t, ob.MarkAcked(1))
	rec, err = ob.Get(1)
	require.NoError(t, err)
	assert.Equal(t, StateAcked, rec.State)
}

func TestScanPendingSkipsAckedKeepsSent(t *testing.T) {
	ob := openTestOutbox(t)
	for lsn := uint64(1); lsn <= 4; lsn++ {
		require.NoError(t, ob.Put(lsn, []byte{byte(lsn)}))
	}
	require.NoError(t, ob.MarkSent(2)) // crashed between send and ack
	require.NoError(t, ob.MarkSent(3))
	require.NoError(t, ob.MarkAcked(3))

	assert.Equal(t, []uint64{1, 2, 4}, pendingLSNs(t, ob))
}

func TestScanPendingLSNOrder(t *testing.T) {
	ob := openTestOutbox(t)
	// Insertion order must not matter; the key encoding orders by LSN.
	for _, lsn := range []uint64{30, 2, 100, 7} {
		require.NoError(t, ob.Put(lsn, []byte("x")))
	}
	assert.Equal(t, []uint64{2, 7, 30, 100}, pendingLSNs(t, ob))
}

func TestTruncateAckedUpTo(t *testing.T) {
	ob := openTestOutbox(t)
	for lsn := uint64(1); lsn <= 5; lsn++ {
		require.NoError(t, ob.Put(lsn, []byte("x")))
		require.NoError(t, ob.MarkSent(lsn))
	}
	require.NoError(t, ob.MarkAcked(1))
	require.NoError(t, ob.MarkAcked(2))
	require.NoError(t, ob.MarkAcked(4))

	require.NoError(t, ob.TruncateAckedUpTo(3))

	// 1 and 2 gone; 4 acked but above the bound; 3 and 5 still pending.
	_, err := ob.Get(1)
	assert.Error(t, err)
	_, err = ob.Get(2)
	assert.Error(t, err)
	rec, err := ob.Get(4)
	require.NoError(t, err)
	assert.Equal(t, StateAcked, rec.State)
	assert.Equal(t, []uint64{3, 5}, pendingLSNs(t, ob))
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ob, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, ob.Put(1, []byte("a")))
	require.NoError(t, ob.Put(2, []byte("b")))
	require.NoError(t, ob.MarkSent(1))
	require.NoError(t, ob.Close())

	ob2, err := Open(dir)
	require.NoError(t, err)
	defer ob2.Close()
	assert.Equal(t, []uint64{1, 2}, pendingLSNs(t, ob2))
}
