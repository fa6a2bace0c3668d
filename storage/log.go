package storage

import (
	"fmt"
	"sort"

	"wikikv/configs"

	mapset "github.com/deckarep/golang-set"
	"github.com/goccy/go-json"
	"github.com/tidwall/wal"
	lock "github.com/viney-shih/go-lock"
)

// LogEntry records one transaction as this node saw it. The row is a
// flattened tagged union: Content is empty for user transactions and
// Admin is false for page transactions.
type LogEntry struct {
	TID     uint64 `json:"tid"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Admin   bool   `json:"admin"`
}

func (e LogEntry) objectKey() string {
	return e.Kind + "/" + e.Name
}

// TxnLog is the durable per-node transaction log, keyed by tid. Every
// mutation is appended to a write-ahead log and fsynced before the call
// returns, so a reply sent after a TxnLog call is backed by disk. The
// in-memory map is rebuilt from the WAL on startup; the last appended
// snapshot of a row wins.
//
// The same type serves both roles: a coordinator treats done/aborted as
// terminal, a replica treats committed/aborted as terminal. Terminal
// entries do not count as open for the conflict guard.
type TxnLog struct {
	latch    lock.Mutex
	wal      *wal.Log
	lsn      uint64
	entries  map[uint64]LogEntry
	open     mapset.Set // objectKey of every non-terminal entry
	terminal map[string]bool
	nextTID  uint64
}

// OpenTxnLog opens (or creates) the log under dir and replays it.
func OpenTxnLog(dir string, coordinator bool) (*TxnLog, error) {
	w, err := wal.Open(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open txn log %s: %w", dir, err)
	}
	c := &TxnLog{
		latch:   lock.NewCASMutex(),
		wal:     w,
		entries: make(map[uint64]LogEntry),
		open:    mapset.NewSet(),
		nextTID: 1,
	}
	if coordinator {
		c.terminal = map[string]bool{configs.StatusDone: true, configs.StatusAborted: true}
	} else {
		c.terminal = map[string]bool{configs.StatusCommitted: true, configs.StatusAborted: true}
	}
	if err := c.replay(); err != nil {
		_ = w.Close()
		return nil, err
	}
	return c, nil
}

func (c *TxnLog) replay() error {
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
			return fmt.Errorf("replay txn log at %d: %w", i, err)
		}
		var e LogEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("replay txn log at %d: %w", i, err)
		}
		c.entries[e.TID] = e
		if e.TID >= c.nextTID {
			c.nextTID = e.TID + 1
		}
	}
	c.lsn = last
	for _, e := range c.entries {
		if !c.terminal[e.Status] {
			c.open.Add(e.objectKey())
		}
	}
	return nil
}

// persist appends the full row snapshot. Caller holds the latch.
func (c *TxnLog) persist(e LogEntry) error {
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

// store updates the in-memory row and the open set. Caller holds the latch.
func (c *TxnLog) store(e LogEntry) {
	c.entries[e.TID] = e
	if c.terminal[e.Status] {
		c.open.Remove(e.objectKey())
	} else {
		c.open.Add(e.objectKey())
	}
}

// Allocate runs the conflict guard and, if it passes, durably inserts a
// new pending entry and returns its tid. The guard check and the insert
// happen under one latch acquisition so two concurrent requests for the
// same object cannot both pass. Coordinator only.
func (c *TxnLog) Allocate(kind, name, content string, admin bool) (uint64, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	e := LogEntry{Kind: kind, Status: configs.StatusPending, Name: name, Content: content, Admin: admin}
	if c.open.Contains(e.objectKey()) {
		return 0, ErrConflict
	}
	e.TID = c.nextTID
	if err := c.persist(e); err != nil {
		return 0, err
	}
	c.nextTID++
	c.store(e)
	return e.TID, nil
}

// InsertIfAbsent durably inserts e unless its tid is already present.
// It returns the row now in the log and whether the insert happened, so
// a retried prepare observes the first outcome instead of a new one.
func (c *TxnLog) InsertIfAbsent(e LogEntry) (LogEntry, bool, error) {
	c.latch.Lock()
	defer c.latch.Unlock()
	if cur, ok := c.entries[e.TID]; ok {
		return cur, false, nil
	}
	if err := c.persist(e); err != nil {
		return LogEntry{}, false, err
	}
	if e.TID >= c.nextTID {
		c.nextTID = e.TID + 1
	}
	c.store(e)
	return e, true, nil
}

// UpdateStatus durably moves the entry for tid to status. Setting the
// status it already has is a no-op, which keeps retries idempotent.
func (c *TxnLog) UpdateStatus(tid uint64, status string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	e, ok := c.entries[tid]
	if !ok {
		return fmt.Errorf("txn log has no entry for tid %d", tid)
	}
	if e.Status == status {
		return nil
	}
	e.Status = status
	if err := c.persist(e); err != nil {
		return err
	}
	c.store(e)
	return nil
}

// Commit applies the entry to the store and moves it to committed in
// one critical section. A failed apply leaves the entry untouched. An
// entry already committed returns nil without re-applying. Replica only.
func (c *TxnLog) Commit(tid uint64, apply func(LogEntry) error) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	e, ok := c.entries[tid]
	if !ok {
		return fmt.Errorf("txn log has no entry for tid %d", tid)
	}
	if e.Status == configs.StatusCommitted {
		return nil
	}
	if err := apply(e); err != nil {
		return err
	}
	e.Status = configs.StatusCommitted
	if err := c.persist(e); err != nil {
		return err
	}
	c.store(e)
	return nil
}

// Get returns the entry for tid.
func (c *TxnLog) Get(tid uint64) (LogEntry, bool) {
	c.latch.Lock()
	defer c.latch.Unlock()
	e, ok := c.entries[tid]
	return e, ok
}

// Has reports whether tid is present.
func (c *TxnLog) Has(tid uint64) bool {
	c.latch.Lock()
	defer c.latch.Unlock()
	_, ok := c.entries[tid]
	return ok
}

// HasOpen reports whether any non-terminal entry targets (kind, name).
func (c *TxnLog) HasOpen(kind, name string) bool {
	c.latch.Lock()
	defer c.latch.Unlock()
	return c.open.Contains(LogEntry{Kind: kind, Name: name}.objectKey())
}

// NonTerminal returns every entry still open, in tid order. The
// coordinator resolves these on startup before accepting new work.
func (c *TxnLog) NonTerminal() []LogEntry {
	c.latch.Lock()
	defer c.latch.Unlock()
	res := make([]LogEntry, 0)
	for _, e := range c.entries {
		if !c.terminal[e.Status] {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TID < res[j].TID })
	return res
}

// Committed returns every committed entry in tid order, used to rebuild
// the in-memory store on replica startup.
func (c *TxnLog) Committed() []LogEntry {
	c.latch.Lock()
	defer c.latch.Unlock()
	res := make([]LogEntry, 0)
	for _, e := range c.entries {
		if e.Status == configs.StatusCommitted {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TID < res[j].TID })
	return res
}

func (c *TxnLog) Close() error {
	return c.wal.Close()
}
