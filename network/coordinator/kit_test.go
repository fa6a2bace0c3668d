package coordinator

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wikikv/configs"
	"wikikv/network/replica"
	"wikikv/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

// replicaNode is one in-process replica behind a loopback HTTP server.
type replicaNode struct {
	mgr *replica.Manager
	ts  *httptest.Server
}

func (n *replicaNode) addr() string {
	return strings.TrimPrefix(n.ts.URL, "http://")
}

// testKit stands up a coordinator and n replicas on loopback ports.
func testKit(t *testing.T, n int) (*Manager, []*replicaNode) {
	t.Helper()
	reps := make([]*replicaNode, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		repCfg := &configs.Config{ThisIP: "127.0.0.1", Port: 8001 + i}
		log, err := storage.OpenTxnLog(t.TempDir(), false)
		require.NoError(t, err)
		t.Cleanup(func() { log.Close() })
		mgr := replica.NewManager(repCfg, storage.NewMemStore(), log)
		router := chi.NewRouter()
		replica.NewServer(repCfg, mgr).Routes(router)
		ts := httptest.NewServer(router)
		t.Cleanup(ts.Close)
		reps[i] = &replicaNode{mgr: mgr, ts: ts}
		addrs[i] = reps[i].addr()
	}

	cfg := &configs.Config{
		ThisIP:             "127.0.0.1",
		Port:               8000,
		Coordinator:        "127.0.0.1",
		Replicas:           addrs,
		ReplicaCallTimeout: 2 * time.Second,
	}
	log, err := storage.OpenTxnLog(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	pending, err := storage.OpenPendingTable(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { pending.Close() })
	return NewManager(cfg, log, pending), reps
}
