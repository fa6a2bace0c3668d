// Package coordinator drives every write through two-phase commit:
// allocate a tid behind the conflict guard, fan out the prepare, decide,
// fan out the decision, and finalize the log.
package coordinator

import (
	"context"
	"errors"
	"time"

	"wikikv/configs"
	"wikikv/network"
	"wikikv/storage"
)

// ErrPrepareNack at least one replica voted no, timed out, or replied
// with garbage. Surfaced to the front-end as 409, same as a conflict.
var ErrPrepareNack = errors.New("prepare round rejected")

// Manager serializes writes for the whole cluster.
type Manager struct {
	cfg     *configs.Config
	log     *storage.TxnLog
	pending *storage.PendingTable
	client  *network.Client
	timeout time.Duration
}

func NewManager(cfg *configs.Config, log *storage.TxnLog, pending *storage.PendingTable) *Manager {
	return &Manager{
		cfg:     cfg,
		log:     log,
		pending: pending,
		client:  network.NewClient(),
		timeout: cfg.ReplicaCallTimeout,
	}
}

// RequestPageCommit runs 2PC for a page write.
func (c *Manager) RequestPageCommit(ctx context.Context, page, content string) error {
	return c.requestCommit(ctx, storage.LogEntry{Kind: configs.KindPage, Name: page, Content: content})
}

// RequestUserCommit runs 2PC for a user write.
func (c *Manager) RequestUserCommit(ctx context.Context, name string, admin bool) error {
	return c.requestCommit(ctx, storage.LogEntry{Kind: configs.KindUser, Name: name, Admin: admin})
}

func (c *Manager) requestCommit(ctx context.Context, e storage.LogEntry) error {
	// Conflict guard and tid allocation are one atomic step on the log;
	// a rejected request never consumes a tid.
	tid, err := c.log.Allocate(e.Kind, e.Name, e.Content, e.Admin)
	if err != nil {
		return err
	}
	e.TID = tid
	configs.TxnPrint(tid, "allocated for %s %q", e.Kind, e.Name)

	allYes := c.prepareRound(ctx, e)
	if !allYes {
		// Every replica gets the abort, including no-voters, so their
		// logs close explicitly.
		if err := c.log.UpdateStatus(tid, configs.StatusAborted); err != nil {
			return err
		}
		c.decideRound(tid, false)
		_ = c.pending.RemoveAll(tid)
		configs.TxnPrint(tid, "aborted")
		return ErrPrepareNack
	}

	if err := c.log.UpdateStatus(tid, configs.StatusPromised); err != nil {
		return err
	}
	if c.finishCommit(tid) {
		configs.TxnPrint(tid, "done")
	} else {
		// The decision stands; unacked replicas stay visible in the
		// pending table until an operator or the recovery scan
		// re-drives them.
		configs.Warn(false, "commit round finished without all acks")
	}
	return nil
}

// finishCommit broadcasts DoCommit{true}, marks each acked replica done
// and, once every replica has acked, closes the log entry. Reports
// whether the transaction reached done.
func (c *Manager) finishCommit(tid uint64) bool {
	for _, r := range c.cfg.Replicas {
		_ = c.pending.Insert(tid, r, configs.PendingStarted)
	}
	acks := c.decideRound(tid, true)
	allAcked := true
	for r, ok := range acks {
		if ok {
			_ = c.pending.Insert(tid, r, configs.PendingDone)
		} else {
			allAcked = false
		}
	}
	if !allAcked {
		return false
	}
	if err := c.log.UpdateStatus(tid, configs.StatusDone); err != nil {
		configs.Warn(false, "log close failed: "+err.Error())
		return false
	}
	_ = c.pending.RemoveAll(tid)
	return true
}

// prepareRound fans out CanCommit to every replica concurrently and
// reports whether every vote came back valid and yes. Missing,
// malformed and late replies all count as no.
func (c *Manager) prepareRound(ctx context.Context, e storage.LogEntry) bool {
	type vote struct {
		replica string
		yes     bool
	}
	for _, r := range c.cfg.Replicas {
		_ = c.pending.Insert(e.TID, r, configs.PendingRequested)
	}
	results := make(chan vote, len(c.cfg.Replicas))
	for _, r := range c.cfg.Replicas {
		go func(addr string) {
			results <- vote{replica: addr, yes: c.sendPrepare(ctx, addr, e)}
		}(r)
	}
	allYes := true
	for range c.cfg.Replicas {
		v := <-results
		if v.yes {
			_ = c.pending.UpdateStatus(e.TID, v.replica, configs.PendingPromised)
		} else {
			_ = c.pending.UpdateStatus(e.TID, v.replica, configs.PendingAborted)
			allYes = false
		}
	}
	return allYes
}

func (c *Manager) sendPrepare(ctx context.Context, addr string, e storage.LogEntry) bool {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var reply network.CommitReply
	var err error
	switch e.Kind {
	case configs.KindPage:
		msg := network.PageCommit{TransactionID: e.TID, Page: e.Name, Content: e.Content}
		err = c.client.Post(callCtx, addr, "/can_page_commit", msg, &reply)
	case configs.KindUser:
		msg := network.UserCommit{TransactionID: e.TID, Name: e.Name, Admin: e.Admin}
		err = c.client.Post(callCtx, addr, "/can_user_commit", msg, &reply)
	default:
		configs.Assert(false, "invalid record kind "+e.Kind)
	}
	if err != nil {
		configs.TxnPrint(e.TID, "prepare to %s failed: %v", addr, err)
		return false
	}
	if reply.TransactionID != e.TID {
		configs.TxnPrint(e.TID, "prepare reply from %s malformed", addr)
		return false
	}
	return reply.Commit
}

// decideRound fans out the decision concurrently and collects the acks.
// It deliberately ignores the caller's context: once decided, delivery
// is attempted to every replica even if the front-end went away.
func (c *Manager) decideRound(tid uint64, commit bool) map[string]bool {
	type ack struct {
		replica string
		ok      bool
	}
	results := make(chan ack, len(c.cfg.Replicas))
	for _, r := range c.cfg.Replicas {
		go func(addr string) {
			callCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			var reply network.HaveCommit
			err := c.client.Post(callCtx, addr, "/do_commit",
				network.DoCommit{TransactionID: tid, Commit: commit}, &reply)
			ok := err == nil && reply.TransactionID == tid && reply.Commit == commit
			if err != nil {
				configs.TxnPrint(tid, "decision to %s failed: %v", addr, err)
			}
			results <- ack{replica: addr, ok: ok}
		}(r)
	}
	acks := make(map[string]bool, len(c.cfg.Replicas))
	for range c.cfg.Replicas {
		a := <-results
		acks[a.replica] = a.ok
	}
	return acks
}

func (c *Manager) Log() *storage.TxnLog {
	return c.log
}

func (c *Manager) Pending() *storage.PendingTable {
	return c.pending
}
