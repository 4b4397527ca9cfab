package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vidar/domain/book"
	"vidar/engine"
	"vidar/infra/metrics"
	"vidar/infra/queue"
	"vidar/infra/wal"
)

type fixture struct {
	eng *engine.Engine
	srv *httptest.Server
}

func startOps(t *testing.T, role engine.Role, promote func() error) *fixture {
	t.Helper()
	dir := t.TempDir()
	w, err := wal.Open(wal.Config{Dir: filepath.Join(dir, "wal"), SegmentSize: 1 << 20})
	require.NoError(t, err)
	snapDir := filepath.Join(dir, "snapshots")
	require.NoError(t, os.MkdirAll(snapDir, 0o755))

	q := queue.NewChan[*engine.Command](256, queue.RejectNew)
	eng := engine.New(engine.Config{}, role, snapDir, q, w, nil, metrics.New(), zaptest.NewLogger(t))
	_, err = eng.Recover()
	require.NoError(t, err)

	writerDone := make(chan struct{})
	if role == engine.RolePrimary {
		go func() {
			defer close(writerDone)
			eng.Run()
		}()
	} else {
		close(writerDone)
	}
	t.Cleanup(func() {
		q.Close()
		<-writerDone
		_ = w.Close()
	})

	srv := httptest.NewServer(Router(Options{
		Engine:  eng,
		Promote: promote,
		Metrics: metrics.New(),
		Log:     zaptest.NewLogger(t),
	}))
	t.Cleanup(srv.Close)
	return &fixture{eng: eng, srv: srv}
}

func (f *fixture) submit(t *testing.T, side book.Side, price book.Price, qty book.Qty) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.eng.Execute(ctx, &engine.Command{
		Type: engine.CmdSubmit, Symbol: "BTC-USD",
		Side: side, Price: price, Qty: qty, TIF: book.GTC,
	})
	require.NoError(t, err)
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := startOps(t, engine.RolePrimary, nil)

	var body map[string]any
	code := getJSON(t, f.srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "primary", body["role"])
	assert.Equal(t, false, body["halted"])
}

func TestSymbolsAndDepth(t *testing.T) {
	f := startOps(t, engine.RolePrimary, nil)
	f.submit(t, book.Bid, 100, 5)
	f.submit(t, book.Bid, 99, 3)
	f.submit(t, book.Ask, 101, 2)

	var syms struct {
		Symbols []string `json:"symbols"`
	}
	code := getJSON(t, f.srv.URL+"/v1/symbols", &syms)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"BTC-USD"}, syms.Symbols)

	var d book.Depth
	code = getJSON(t, f.srv.URL+"/v1/depth/BTC-USD", &d)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, d.Bids, 2)
	assert.Equal(t, book.Price(100), d.Bids[0].Price)
	require.Len(t, d.Asks, 1)

	// Trimmed view.
	code = getJSON(t, f.srv.URL+"/v1/depth/BTC-USD?levels=1", &d)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, d.Bids, 1)

	code = getJSON(t, f.srv.URL+"/v1/depth/BTC-USD?levels=zero", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = getJSON(t, f.srv.URL+"/v1/depth/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestReplicationStatusOnPrimary(t *testing.T) {
	f := startOps(t, engine.RolePrimary, nil)
	f.submit(t, book.Bid, 100, 5)

	var st struct {
		LastApplied uint64 `json:"last_applied"`
		PrimaryLSN  uint64 `json:"primary_lsn"`
		Lag         uint64 `json:"lag"`
	}
	code := getJSON(t, f.srv.URL+"/v1/replication", &st)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, f.eng.LastLSN(), st.LastApplied)
	assert.Zero(t, st.Lag)
}

func TestPromoteConflictsOnPrimary(t *testing.T) {
	f := startOps(t, engine.RolePrimary, nil)

	resp, err := http.Post(f.srv.URL+"/v1/promote", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPromoteFollower(t *testing.T) {
	var f *fixture
	f = startOps(t, engine.RoleFollower, func() error {
		f.eng.Promote()
		return nil
	})

	resp, err := http.Post(f.srv.URL+"/v1/promote", "", nil)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "primary", body["role"])
	assert.Equal(t, engine.RolePrimary, f.eng.Role())
}

func TestPromoteNotConfigured(t *testing.T) {
	f := startOps(t, engine.RoleFollower, nil)

	resp, err := http.Post(f.srv.URL+"/v1/promote", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := startOps(t, engine.RolePrimary, nil)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
