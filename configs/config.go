package configs

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
)

// Config carries the node topology and tunables for one process.
// It is built once at startup and treated as immutable afterwards.
type Config struct {
	ThisIP      string
	Port        int
	Coordinator string
	Replicas    []string

	StorageBackend string
	StorageURL     string
	DataDir        string

	ReplicaCallTimeout time.Duration
}

// LoadConfig reads the node config from a key=value file:
//
//	this_ip     = 127.0.0.1
//	port        = 8000
//	coordinator = 127.0.0.1
//	replicas    = 127.0.0.1:8001,127.0.0.1:8002,127.0.0.1:8003
func LoadConfig(path string) (*Config, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg := &Config{
		ThisIP:             p.GetString("this_ip", ""),
		Port:               p.GetInt("port", DefaultPort),
		Coordinator:        p.GetString("coordinator", ""),
		StorageBackend:     p.GetString("storage", MemoryStorage),
		StorageURL:         p.GetString("storage_url", ""),
		DataDir:            p.GetString("data_dir", "./data"),
		ReplicaCallTimeout: p.GetParsedDuration("replica_call_timeout", DefaultReplicaCallTimeout),
	}
	if cfg.ThisIP == "" {
		return nil, fmt.Errorf("config %s: this_ip is required", path)
	}
	if cfg.Coordinator == "" {
		return nil, fmt.Errorf("config %s: coordinator is required", path)
	}
	for _, r := range strings.Split(p.GetString("replicas", ""), ",") {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		cfg.Replicas = append(cfg.Replicas, normalizeAddr(r, cfg.Port))
	}
	if len(cfg.Replicas) == 0 {
		return nil, fmt.Errorf("config %s: replicas is required", path)
	}
	return cfg, nil
}

// IsCoordinator reports whether this node drives the write path.
func (c *Config) IsCoordinator() bool {
	return c.ThisIP == c.Coordinator
}

// Address the listen address of this node.
func (c *Config) Address() string {
	return net.JoinHostPort(c.ThisIP, strconv.Itoa(c.Port))
}

// CoordinatorAddress the address writes are forwarded to.
func (c *Config) CoordinatorAddress() string {
	return normalizeAddr(c.Coordinator, c.Port)
}

// HoldsReplica reports whether this node also serves as one of the
// replicas the coordinator fans out to.
func (c *Config) HoldsReplica() bool {
	addr := c.Address()
	for _, r := range c.Replicas {
		if r == addr {
			return true
		}
	}
	return false
}

// normalizeAddr appends the cluster port to bare host entries so the
// replicas list may mix "host" and "host:port" forms.
func normalizeAddr(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}
