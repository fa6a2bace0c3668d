package configs

import "time"

// Debugging parameters.
var (
	ShowDebugInfo = false
	ShowWarnings  = ShowDebugInfo
	ShowTestInfo  = ShowDebugInfo
	LogToFile     = false
)

// KindUser et,al. the record kinds carried by a transaction.
const (
	KindUser = "user"
	KindPage = "page"
)

// StatusPending et,al. the transaction log statuses.
// A coordinator entry ends in StatusDone or StatusAborted,
// a replica entry ends in StatusCommitted or StatusAborted.
const (
	StatusPending   = "pending"
	StatusPromised  = "promised"
	StatusCommitted = "committed"
	StatusAborted   = "aborted"
	StatusDone      = "done"
)

// PendingRequested et,al. the per-(tid, replica) round statuses
// kept in the coordinator pending table.
const (
	PendingRequested = "requested"
	PendingPromised  = "promised"
	PendingAborted   = "aborted"
	PendingStarted   = "started"
	PendingDone      = "done"
)

// MemoryStorage et,al. the replica store backends.
const (
	MemoryStorage = "memory"
	PostgreSQL    = "sql"
	MongoDB       = "mongo"
)

// System parameters.
const (
	MaxConnectionHandler      = 16
	DefaultPort               = 8000
	DefaultReplicaCallTimeout = 5 * time.Second
	HTTPShutdownTimeout       = 5 * time.Second
)
