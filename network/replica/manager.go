// Package replica implements the 2PC participant: the prepare/commit
// state machine over the local transaction log and record store.
package replica

import (
	"sync/atomic"
	"time"

	"wikikv/configs"
	"wikikv/network"
	"wikikv/storage"
)

// Manager serves CanCommit / DoCommit against this node's log and store.
type Manager struct {
	cfg   *configs.Config
	store storage.Store
	log   *storage.TxnLog

	// test bits, used to simulate crash failure and network delay.
	broken  int32
	delayNS int64
}

func NewManager(cfg *configs.Config, store storage.Store, log *storage.TxnLog) *Manager {
	return &Manager{cfg: cfg, store: store, log: log}
}

// Restore replays committed log entries into the store. The memory
// backend loses its maps on restart and owes its durability to the log;
// database backends already hold the data, and the upsert is idempotent
// either way.
func (c *Manager) Restore() error {
	for _, e := range c.log.Committed() {
		if err := c.apply(e); err != nil {
			return err
		}
	}
	return nil
}

// CanCommit votes on a prepare. The entry arrives in status promised;
// the vote is yes iff that promise is durably in the log when the reply
// leaves. A retry of an already promised tid votes yes again without
// touching state, any other resident status votes no.
func (c *Manager) CanCommit(e storage.LogEntry) network.CommitReply {
	reply := network.CommitReply{TransactionID: e.TID, Sender: c.cfg.Address()}
	if d := atomic.LoadInt64(&c.delayNS); d > 0 {
		time.Sleep(time.Duration(d))
	}
	if c.isBroken() {
		configs.TxnPrint(e.TID, "vote no (failure injected) on %s", c.cfg.Address())
		return reply
	}
	e.Status = configs.StatusPromised
	cur, inserted, err := c.log.InsertIfAbsent(e)
	if err != nil {
		configs.Warn(false, "prepare not recorded: "+err.Error())
		return reply
	}
	reply.Commit = inserted || cur.Status == configs.StatusPromised
	configs.TxnPrint(e.TID, "vote %v on %s", reply.Commit, c.cfg.Address())
	return reply
}

// DoCommit applies the coordinator's decision. Errors are durability
// failures only; a protocol-level oddity changes nothing and the ack
// reports whether the transaction is applied. Replays of an applied
// decision return the original ack.
func (c *Manager) DoCommit(tid uint64, commit bool) (network.HaveCommit, error) {
	ack := network.HaveCommit{TransactionID: tid, Sender: c.cfg.Address()}
	e, ok := c.log.Get(tid)
	if !ok {
		// A decision for a prepare this node never saw. Close the tid
		// with an aborted stub so a later replay stays rejected.
		stub := storage.LogEntry{TID: tid, Status: configs.StatusAborted}
		if _, _, err := c.log.InsertIfAbsent(stub); err != nil {
			return ack, err
		}
		configs.TxnPrint(tid, "stale decision on %s, recorded aborted stub", c.cfg.Address())
		return ack, nil
	}
	if !commit {
		if e.Status == configs.StatusCommitted {
			// Abort after commit is a coordinator bug; the applied write
			// stays, and the ack reports the true state.
			configs.Warn(false, "abort received for committed transaction")
			ack.Commit = true
			return ack, nil
		}
		if err := c.log.UpdateStatus(tid, configs.StatusAborted); err != nil {
			return ack, err
		}
		return ack, nil
	}
	switch e.Status {
	case configs.StatusPromised, configs.StatusCommitted:
		if err := c.log.Commit(tid, c.apply); err != nil {
			return ack, err
		}
		ack.Commit = true
	case configs.StatusAborted:
		// Commit after abort is a coordinator bug; refuse to apply.
		configs.Warn(false, "commit received for aborted transaction")
	default:
		if err := c.log.UpdateStatus(tid, configs.StatusAborted); err != nil {
			return ack, err
		}
	}
	return ack, nil
}

func (c *Manager) apply(e storage.LogEntry) error {
	switch e.Kind {
	case configs.KindUser:
		return c.store.UpsertUser(e.Name, e.Admin)
	case configs.KindPage:
		return c.store.UpsertPage(e.Name, e.Content)
	default:
		return storage.ErrUnknownKind
	}
}

func (c *Manager) Store() storage.Store {
	return c.store
}

func (c *Manager) Log() *storage.TxnLog {
	return c.log
}

/* test APIs to simulate failures */

// Break makes every following prepare vote no until Recover.
func (c *Manager) Break() {
	atomic.StoreInt32(&c.broken, 1)
}

// Recover clears an injected failure.
func (c *Manager) Recover() {
	atomic.StoreInt32(&c.broken, 0)
	atomic.StoreInt64(&c.delayNS, 0)
}

// SlowDown delays every following prepare by d, to simulate an
// unresponsive replica.
func (c *Manager) SlowDown(d time.Duration) {
	atomic.StoreInt64(&c.delayNS, int64(d))
}

func (c *Manager) isBroken() bool {
	return atomic.LoadInt32(&c.broken) == 1
}
