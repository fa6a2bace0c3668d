package replica

import (
	"testing"
	"time"

	"wikikv/configs"
	"wikikv/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := &configs.Config{ThisIP: "127.0.0.1", Port: 8001}
	log, err := storage.OpenTxnLog(t.TempDir(), false)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return NewManager(cfg, storage.NewMemStore(), log)
}

func pageEntry(tid uint64) storage.LogEntry {
	return storage.LogEntry{TID: tid, Kind: configs.KindPage, Name: "home", Content: "v1"}
}

func TestCanCommitVotesYes(t *testing.T) {
	mgr := testManager(t)
	reply := mgr.CanCommit(pageEntry(1))
	assert.True(t, reply.Commit)
	assert.Equal(t, uint64(1), reply.TransactionID)
	assert.Equal(t, "127.0.0.1:8001", reply.Sender)

	e, ok := mgr.Log().Get(1)
	require.True(t, ok)
	assert.Equal(t, configs.StatusPromised, e.Status)
}

func TestCanCommitRetryVotesYesAgain(t *testing.T) {
	mgr := testManager(t)
	require.True(t, mgr.CanCommit(pageEntry(1)).Commit)
	assert.True(t, mgr.CanCommit(pageEntry(1)).Commit)
}

func TestCanCommitAfterAbortVotesNo(t *testing.T) {
	mgr := testManager(t)
	require.True(t, mgr.CanCommit(pageEntry(1)).Commit)
	_, err := mgr.DoCommit(1, false)
	require.NoError(t, err)
	assert.False(t, mgr.CanCommit(pageEntry(1)).Commit)
}

func TestCanCommitBroken(t *testing.T) {
	mgr := testManager(t)
	mgr.Break()
	assert.False(t, mgr.CanCommit(pageEntry(1)).Commit)
	// The refused prepare leaves no promise behind.
	assert.False(t, mgr.Log().Has(1))
	mgr.Recover()
	assert.True(t, mgr.CanCommit(pageEntry(1)).Commit)
}

func TestDoCommitAppliesToStore(t *testing.T) {
	mgr := testManager(t)
	require.True(t, mgr.CanCommit(pageEntry(1)).Commit)
	ack, err := mgr.DoCommit(1, true)
	require.NoError(t, err)
	assert.True(t, ack.Commit)

	p, ok := mgr.Store().GetPage("home")
	require.True(t, ok)
	assert.Equal(t, "v1", p.Content)

	// Replayed decision acks again without touching the store.
	ack, err = mgr.DoCommit(1, true)
	require.NoError(t, err)
	assert.True(t, ack.Commit)
}

func TestDoCommitAbort(t *testing.T) {
	mgr := testManager(t)
	require.True(t, mgr.CanCommit(pageEntry(1)).Commit)
	ack, err := mgr.DoCommit(1, false)
	require.NoError(t, err)
	assert.False(t, ack.Commit)

	e, _ := mgr.Log().Get(1)
	assert.Equal(t, configs.StatusAborted, e.Status)
	_, ok := mgr.Store().GetPage("home")
	assert.False(t, ok)
}

func TestDoCommitUnknownTID(t *testing.T) {
	mgr := testManager(t)
	ack, err := mgr.DoCommit(42, true)
	require.NoError(t, err)
	assert.False(t, ack.Commit)

	// The stub keeps a later prepare replay rejected.
	e, ok := mgr.Log().Get(42)
	require.True(t, ok)
	assert.Equal(t, configs.StatusAborted, e.Status)
	assert.False(t, mgr.CanCommit(pageEntry(42)).Commit)
}

func TestDoCommitAfterAbortRefused(t *testing.T) {
	mgr := testManager(t)
	require.True(t, mgr.CanCommit(pageEntry(1)).Commit)
	_, err := mgr.DoCommit(1, false)
	require.NoError(t, err)

	ack, err := mgr.DoCommit(1, true)
	require.NoError(t, err)
	assert.False(t, ack.Commit)
	_, ok := mgr.Store().GetPage("home")
	assert.False(t, ok)
}

func TestDoCommitAbortAfterCommitRefused(t *testing.T) {
	mgr := testManager(t)
	require.True(t, mgr.CanCommit(pageEntry(1)).Commit)
	_, err := mgr.DoCommit(1, true)
	require.NoError(t, err)

	ack, err := mgr.DoCommit(1, false)
	require.NoError(t, err)
	assert.True(t, ack.Commit)

	e, _ := mgr.Log().Get(1)
	assert.Equal(t, configs.StatusCommitted, e.Status)
	p, ok := mgr.Store().GetPage("home")
	require.True(t, ok)
	assert.Equal(t, "v1", p.Content)
}

func TestRestoreRebuildsStore(t *testing.T) {
	dir := t.TempDir()
	cfg := &configs.Config{ThisIP: "127.0.0.1", Port: 8001}
	log, err := storage.OpenTxnLog(dir, false)
	require.NoError(t, err)
	mgr := NewManager(cfg, storage.NewMemStore(), log)
	require.True(t, mgr.CanCommit(pageEntry(1)).Commit)
	_, err = mgr.DoCommit(1, true)
	require.NoError(t, err)
	require.True(t, mgr.CanCommit(storage.LogEntry{TID: 2, Kind: configs.KindUser, Name: "alice", Admin: true}).Commit)
	_, err = mgr.DoCommit(2, true)
	require.NoError(t, err)
	require.NoError(t, log.Close())

	// Fresh process: empty store, same log directory.
	log, err = storage.OpenTxnLog(dir, false)
	require.NoError(t, err)
	defer log.Close()
	mgr = NewManager(cfg, storage.NewMemStore(), log)
	require.NoError(t, mgr.Restore())

	p, ok := mgr.Store().GetPage("home")
	require.True(t, ok)
	assert.Equal(t, "v1", p.Content)
	u, ok := mgr.Store().GetUserByName("alice")
	require.True(t, ok)
	assert.True(t, u.Admin)
}

func TestSlowDownDelaysPrepare(t *testing.T) {
	mgr := testManager(t)
	mgr.SlowDown(50 * time.Millisecond)
	start := time.Now()
	reply := mgr.CanCommit(pageEntry(1))
	assert.True(t, reply.Commit)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
