package coordinator

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"wikikv/configs"
	"wikikv/network"
	"wikikv/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test2PCUserCommit(t *testing.T) {
	coord, reps := testKit(t, 3)
	require.NoError(t, coord.RequestUserCommit(context.Background(), "alice", true))

	for _, rep := range reps {
		u, ok := rep.mgr.Store().GetUserByName("alice")
		require.True(t, ok)
		assert.True(t, u.Admin)
	}
	entries := coord.Log().Committed()
	assert.Empty(t, entries) // done, not committed, on the coordinator
	open := coord.Log().NonTerminal()
	assert.Empty(t, open)
	assert.Empty(t, coord.Pending().Stalled())
}

func Test2PCPageCommit(t *testing.T) {
	coord, reps := testKit(t, 3)
	require.NoError(t, coord.RequestPageCommit(context.Background(), "home", "v1"))
	require.NoError(t, coord.RequestPageCommit(context.Background(), "home", "v2"))

	for _, rep := range reps {
		p, ok := rep.mgr.Store().GetPage("home")
		require.True(t, ok)
		assert.Equal(t, "v2", p.Content)
	}
}

func Test2PCConflictRejected(t *testing.T) {
	coord, _ := testKit(t, 3)
	// An open transaction on the same page, as if another request were
	// mid-flight.
	_, err := coord.Log().Allocate(configs.KindPage, "home", "v0", false)
	require.NoError(t, err)

	err = coord.RequestPageCommit(context.Background(), "home", "v1")
	assert.ErrorIs(t, err, storage.ErrConflict)

	// A different page is unaffected.
	assert.NoError(t, coord.RequestPageCommit(context.Background(), "about", "hi"))
}

func Test2PCConcurrentWritersSingleWinner(t *testing.T) {
	coord, reps := testKit(t, 3)
	for round := 0; round < 20; round++ {
		page := "page" + strconv.Itoa(round)
		start := make(chan struct{})
		errs := make(chan error, 2)
		for _, content := range []string{"left", "right"} {
			go func(content string) {
				<-start
				errs <- coord.RequestPageCommit(context.Background(), page, content)
			}(content)
		}
		close(start)

		wins := 0
		for i := 0; i < 2; i++ {
			err := <-errs
			if err == nil {
				wins++
				continue
			}
			// The loser is turned away by the guard before it can
			// consume a tid, or nacked if it slipped past.
			assert.True(t, errors.Is(err, storage.ErrConflict) || errors.Is(err, ErrPrepareNack))
		}
		assert.Equal(t, 1, wins)

		// Every replica holds the winner's write and nothing is left open.
		want, ok := reps[0].mgr.Store().GetPage(page)
		require.True(t, ok)
		for _, rep := range reps[1:] {
			got, ok := rep.mgr.Store().GetPage(page)
			require.True(t, ok)
			assert.Equal(t, want.Content, got.Content)
		}
		assert.Empty(t, coord.Log().NonTerminal())
	}
}

func Test2PCPrepareNack(t *testing.T) {
	coord, reps := testKit(t, 3)
	reps[1].mgr.Break()

	err := coord.RequestPageCommit(context.Background(), "home", "v1")
	assert.ErrorIs(t, err, ErrPrepareNack)

	open := coord.Log().NonTerminal()
	assert.Empty(t, open)
	for _, rep := range reps {
		_, ok := rep.mgr.Store().GetPage("home")
		assert.False(t, ok)
	}
	// The yes-voters closed their promise to aborted.
	e, ok := reps[0].mgr.Log().Get(1)
	require.True(t, ok)
	assert.Equal(t, configs.StatusAborted, e.Status)

	// The page is writable again once the round is closed.
	reps[1].mgr.Recover()
	assert.NoError(t, coord.RequestPageCommit(context.Background(), "home", "v2"))
}

func Test2PCReplicaTimeout(t *testing.T) {
	coord, reps := testKit(t, 3)
	coord.timeout = 100 * time.Millisecond
	reps[2].mgr.SlowDown(500 * time.Millisecond)

	err := coord.RequestPageCommit(context.Background(), "home", "v1")
	assert.ErrorIs(t, err, ErrPrepareNack)
	assert.Empty(t, coord.Log().NonTerminal())
}

func Test2PCDecisionRetryIdempotent(t *testing.T) {
	coord, reps := testKit(t, 3)
	require.NoError(t, coord.RequestPageCommit(context.Background(), "home", "v1"))

	// A duplicate decision, as the recovery scan would resend it.
	client := network.NewClient()
	var ack network.HaveCommit
	err := client.Post(context.Background(), reps[0].addr(), "/do_commit",
		network.DoCommit{TransactionID: 1, Commit: true}, &ack)
	require.NoError(t, err)
	assert.True(t, ack.Commit)
	p, ok := reps[0].mgr.Store().GetPage("home")
	require.True(t, ok)
	assert.Equal(t, "v1", p.Content)
}

func TestRecoveryFinishesPromised(t *testing.T) {
	coord, reps := testKit(t, 3)
	// Crash point: every vote collected and the promise logged, but the
	// decision never sent.
	tid, err := coord.Log().Allocate(configs.KindPage, "home", "v1", false)
	require.NoError(t, err)
	e, _ := coord.Log().Get(tid)
	require.True(t, coord.prepareRound(context.Background(), e))
	require.NoError(t, coord.Log().UpdateStatus(tid, configs.StatusPromised))

	require.NoError(t, coord.Recover())

	got, _ := coord.Log().Get(tid)
	assert.Equal(t, configs.StatusDone, got.Status)
	for _, rep := range reps {
		p, ok := rep.mgr.Store().GetPage("home")
		require.True(t, ok)
		assert.Equal(t, "v1", p.Content)
	}
}

func TestRecoveryAbortsUndecided(t *testing.T) {
	coord, reps := testKit(t, 3)
	// Crash point: tid allocated, no votes collected.
	tid, err := coord.Log().Allocate(configs.KindPage, "home", "v1", false)
	require.NoError(t, err)

	require.NoError(t, coord.Recover())

	got, _ := coord.Log().Get(tid)
	assert.Equal(t, configs.StatusAborted, got.Status)
	for _, rep := range reps {
		// The abort broadcast left a closed stub on every replica.
		e, ok := rep.mgr.Log().Get(tid)
		require.True(t, ok)
		assert.Equal(t, configs.StatusAborted, e.Status)
	}
	assert.NoError(t, coord.RequestPageCommit(context.Background(), "home", "v2"))
}

func TestCoordinatorEndpoints(t *testing.T) {
	coord, reps := testKit(t, 3)
	cfg := &configs.Config{ThisIP: "127.0.0.1", Port: 8000}
	srv := NewServer(cfg, coord, nil)
	ts := httptest.NewServer(srv.httpSrv.Handler)
	defer ts.Close()

	post := func(path, body string) int {
		resp, err := http.Post(ts.URL+path, "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post("/request_user_commit", `{"name":"alice","admin":true}`))
	assert.Equal(t, http.StatusOK, post("/request_page_commit", `{"page":"home","content":"v1"}`))
	assert.Equal(t, http.StatusBadRequest, post("/request_page_commit", `{`))

	_, err := coord.Log().Allocate(configs.KindPage, "busy", "v0", false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, post("/request_page_commit", `{"page":"busy","content":"v1"}`))

	u, ok := reps[0].mgr.Store().GetUserByName("alice")
	require.True(t, ok)
	assert.True(t, u.Admin)
}
