package storage

import (
	"errors"
	"sort"
	"strings"

	"wikikv/configs"

	lock "github.com/viney-shih/go-lock"
)

var (
	// ErrConflict another open transaction targets the same object.
	ErrConflict = errors.New("object has an open transaction")
	// ErrLogWrite the durable log rejected a write.
	ErrLogWrite = errors.New("transaction log write failed")
	// ErrUnknownKind the log entry carries a kind the store cannot apply.
	ErrUnknownKind = errors.New("unknown record kind")
)

// User a wiki account. Identified by name across all replicas.
type User struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// Page a wiki page. Identified by name across all replicas.
type Page struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Store is the replica-local record store. Writes happen only inside
// the log commit step (TxnLog.Commit), reads carry no cross-replica
// consistency guarantee.
type Store interface {
	UpsertUser(name string, admin bool) error
	UpsertPage(name string, content string) error

	GetUserByName(name string) (*User, bool)
	GetPage(name string) (*Page, bool)
	ListUsers() []User
	ListPages() []Page
	SearchPages(substr string) []Page
	UserCount() int

	Close() error
}

// NewStore builds the store backend selected in the config.
func NewStore(cfg *configs.Config) (Store, error) {
	switch cfg.StorageBackend {
	case configs.MemoryStorage:
		return NewMemStore(), nil
	case configs.PostgreSQL:
		return NewSQLStore(cfg.StorageURL)
	case configs.MongoDB:
		return NewMongoStore(cfg.StorageURL, cfg.Address())
	default:
		return nil, errors.New("invalid storage backend " + cfg.StorageBackend)
	}
}

// MemStore keeps users and pages in process memory. Durability comes
// from the transaction log: ReplayCommitted rebuilds the maps from the
// committed log entries on startup.
type MemStore struct {
	latch lock.Mutex
	users map[string]User
	pages map[string]Page
}

func NewMemStore() *MemStore {
	return &MemStore{
		latch: lock.NewCASMutex(),
		users: make(map[string]User),
		pages: make(map[string]Page),
	}
}

func (c *MemStore) UpsertUser(name string, admin bool) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.users[name] = User{Name: name, Admin: admin}
	return nil
}

func (c *MemStore) UpsertPage(name string, content string) error {
	c.latch.Lock()
	defer c.latch.Unlock()
	c.pages[name] = Page{Name: name, Content: content}
	return nil
}

func (c *MemStore) GetUserByName(name string) (*User, bool) {
	c.latch.Lock()
	defer c.latch.Unlock()
	u, ok := c.users[name]
	if !ok {
		return nil, false
	}
	return &u, true
}

func (c *MemStore) GetPage(name string) (*Page, bool) {
	c.latch.Lock()
	defer c.latch.Unlock()
	p, ok := c.pages[name]
	if !ok {
		return nil, false
	}
	return &p, true
}

func (c *MemStore) ListUsers() []User {
	c.latch.Lock()
	defer c.latch.Unlock()
	res := make([]User, 0, len(c.users))
	for _, u := range c.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

func (c *MemStore) ListPages() []Page {
	c.latch.Lock()
	defer c.latch.Unlock()
	res := make([]Page, 0, len(c.pages))
	for _, p := range c.pages {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

func (c *MemStore) SearchPages(substr string) []Page {
	c.latch.Lock()
	defer c.latch.Unlock()
	res := make([]Page, 0)
	for _, p := range c.pages {
		if strings.Contains(p.Name, substr) {
			res = append(res, p)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

func (c *MemStore) UserCount() int {
	c.latch.Lock()
	defer c.latch.Unlock()
	return len(c.users)
}

func (c *MemStore) Close() error {
	return nil
}
