package storage

import (
	"fmt"
	"sort"

	"wikikv/configs"

	"github.com/goccy/go-json"
	"github.com/tidwall/wal"
	lock "github.com/viney-shih/go-lock"
)

// PendingEntry is the status of one replica within one commit round.
type PendingEntry struct {
	TID     uint64 `json:"tid"`
	Replica string `json:"replica"`
	Status  string `json:"status"`
}

const pendingTombstone = "removed"

// PendingTable tracks per-(tid, replica) round progress on the
// coordinator. It is not on the correctness path of the protocol; it
// exists so an operator or the recovery scan can see where a round
// stalled, and therefore survives restarts the same way the txn log
// does.
type PendingTable struct {
	latch lock.Mutex
	wal   *wal.Log
	lsn   uint64
	rows  map[uint64]map[string]string
}

// OpenPendingTable opens (or creates) the table under dir and replays it.
func OpenPendingTable(dir string) (*PendingTable, error) {
	w, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open pending table %s: %w", dir, err)
	}
	c := &PendingTable{
		latch: lock.NewCASMutex(),
		wal:   w,
		rows:  make(map[uint64]map[string]string),
	}
	if err := c.replay(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return c, nil
}

func (c *PendingTable) replay() error {
	first, err := c.wal.FirstIndex()
	if err != nil {
		return err
	}
	last, err := c.wal.LastIndex()
	if err != nil {
		return err
	}
	for i := first; i != 0 && i <= last; i++ {
		raw, err := c.wal.Read(i)
		if err != nil {
			return fmt.Errorf("replay pending table at %d: %w", i, err)
		}
		var e PendingEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("replay pending table at %d: %w", i, err)
		}
		c.apply(e)
	}
	c.lsn = last
	return nil
}

func (c *PendingTable) apply(e PendingEntry) {
	if e.Status == pendingTombstone {
		delete(c.rows, e.TID)
		return
	}
	if c.rows[e.TID] == nil {
		c.rows[e.TID] = make(map[string]string)
	}
	c.rows[e.TID][e.Replica] = e.Status
}

func (c *PendingTable) persist(e PendingEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := c.wal.Write(c.lsn+1, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrLogWrite, err)
	}
	c.lsn++
	return nil
}

// Insert records a new (tid, replica) row.
func (c *PendingTable) Insert(tid uint64, replica, status string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	e := PendingEntry{TID: tid, Replica: replica, Status: status}
	if err := c.persist(e); err != nil {
		return err
	}
	c.apply(e)
	return nil
}

// UpdateStatus moves an existing (tid, replica) row to status.
func (c *PendingTable) UpdateStatus(tid uint64, replica, status string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	if _, ok := c.rows[tid][replica]; !ok {
		return fmt.Errorf("pending table has no row for tid %d replica %s", tid, replica)
	}
	e := PendingEntry{TID: tid, Replica: replica, Status: status}
	if err := c.persist(e); err != nil {
		return err
	}
	c.apply(e)
	return nil
}

// RemoveAll drops every row of tid once the round has fully finished.
func (c *PendingTable) RemoveAll(tid uint64) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	e := PendingEntry{TID: tid, Status: pendingTombstone}
	if err := c.persist(e); err != nil {
		return err
	}
	c.apply(e)
	return nil
}

// Snapshot returns the replica statuses recorded for tid.
func (c *PendingTable) Snapshot(tid uint64) map[string]string {
	c.latch.Lock()
	defer c.latch.Unlock()
	res := make(map[string]string, len(c.rows[tid]))
	for r, s := range c.rows[tid] {
		res[r] = s
	}
	return res
}

// Stalled returns every row that never reached done, oldest round first.
func (c *PendingTable) Stalled() []PendingEntry {
	c.latch.Lock()
	defer c.latch.Unlock()
	res := make([]PendingEntry, 0)
	for tid, m := range c.rows {
		for r, s := range m {
			if s != configs.PendingDone {
				res = append(res, PendingEntry{TID: tid, Replica: r, Status: s})
			}
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].TID != res[j].TID {
			return res[i].TID < res[j].TID
		}
		return res[i].Replica < res[j].Replica
	})
	return res
}

func (c *PendingTable) Close() error {
	return c.wal.Close()
}
