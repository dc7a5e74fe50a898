package hostauth

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/matst80/rpcapd/internal/config"
	"github.com/matst80/rpcapd/internal/obs"
)

// Source produces the current allow-list. Load is called at startup and on
// every reload.
type Source interface {
	Load(ctx context.Context) (*AllowList, error)
	Name() string
	Close() error
}

// FileSource reads entries from a file plus a fixed set of inline entries.
// An empty Path yields only the inline entries.
type FileSource struct {
	Path   string
	Inline []string
}

var _ Source = (*FileSource)(nil)

func (f *FileSource) Load(ctx context.Context) (*AllowList, error) {
	inline := Parse(strings.Join(f.Inline, "\n"))
	if f.Path == "" {
		return inline, nil
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read host list %s: %w", f.Path, err)
	}
	return Merge(Parse(string(b)), inline), nil
}

func (f *FileSource) Name() string { return "file" }
func (f *FileSource) Close() error { return nil }

// NewSource picks the allow-list backend from configuration: Redis when an
// address is configured, the host file otherwise.
func NewSource(cfg *config.Config) (Source, error) {
	if cfg.Redis.Addr == "" {
		obs.Info("hostauth.source", obs.Fields{"type": "file", "path": cfg.HostsFile, "inline": len(cfg.Hosts)})
		return &FileSource{Path: cfg.HostsFile, Inline: cfg.Hosts}, nil
	}
	obs.Info("hostauth.source", obs.Fields{"type": "redis", "addr": cfg.Redis.Addr, "key": cfg.RedisKey()})
	return NewRedisSource(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.RedisKey(), cfg.Hosts)
}

// NewResolver returns a DNS resolver for server, or the system resolver when
// server is empty.
func NewResolver(server string) Resolver {
	if server == "" {
		return SystemResolver{}
	}
	return NewDNSResolver(server)
}
