package bootstrap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/darstays/stayportal/config"
)

type redisMode string

const (
	redisDirect   redisMode = "direct"
	redisSentinel redisMode = "sentinel"
	redisCluster  redisMode = "cluster"
)

// redisTopology is the resolved connection plan for the token store.
type redisTopology struct {
	Mode       redisMode
	Addrs      []string
	Username   string
	Password   string
	DB         int
	MasterName string
	// SentinelPassword authenticates against the sentinels, not the master.
	SentinelPassword string
	TLS              *tls.Config
}

// Describe names the endpoint for logs. It never includes credentials.
func (t redisTopology) Describe() string {
	switch t.Mode {
	case redisSentinel:
		return "sentinel:" + t.MasterName
	case redisCluster:
		return "cluster:" + strings.Join(t.Addrs, ",")
	default:
		if len(t.Addrs) == 0 {
			return ""
		}
		return t.Addrs[0]
	}
}

// resolveRedis turns cfg into a topology. Cluster wins over sentinel. A cluster
// with no explicit nodes falls back to the single address in URI.
func resolveRedis(cfg config.RedisConfig) (redisTopology, error) {
	top := redisTopology{Password: cfg.Password, DB: cfg.DB}

	switch {
	case cfg.UseCluster:
		top.Mode = redisCluster
		top.DB = 0
		top.Addrs = trimAll(cfg.ClusterNodes)
		if len(top.Addrs) == 0 {
			if err := top.applyURI(cfg.URI); err != nil {
				return redisTopology{}, fmt.Errorf("parse redis cluster url: %w", err)
			}
			top.DB = 0
		}
		if len(top.Addrs) == 0 {
			return redisTopology{}, errors.New("redis cluster requires at least one address")
		}
	case cfg.UseSentinel:
		top.Mode = redisSentinel
		top.Addrs = trimAll(cfg.SentinelNodes)
		top.MasterName = cfg.SentinelMasterName
		top.SentinelPassword = cfg.SentinelPassword
		if len(top.Addrs) == 0 {
			return redisTopology{}, errors.New("redis sentinel requires at least one sentinel node")
		}
	default:
		top.Mode = redisDirect
		if strings.TrimSpace(cfg.URI) == "" {
			return redisTopology{}, errors.New("redis requires a URI")
		}
		if err := top.applyURI(cfg.URI); err != nil {
			return redisTopology{}, fmt.Errorf("parse redis url: %w", err)
		}
		// An explicit REDIS_DB overrides the URL path.
		if cfg.DB != 0 {
			top.DB = cfg.DB
		}
	}
	return top, nil
}

// applyURI accepts either a bare host:port or a redis:// / rediss:// URL.
// URL credentials override the configured password.
func (t *redisTopology) applyURI(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if !strings.HasPrefix(raw, "redis://") && !strings.HasPrefix(raw, "rediss://") {
		t.Addrs = []string{raw}
		return nil
	}
	opt, err := redis.ParseURL(raw)
	if err != nil {
		return err
	}
	t.Addrs = []string{opt.Addr}
	t.Username = opt.Username
	if opt.Password != "" {
		t.Password = opt.Password
	}
	t.DB = opt.DB
	t.TLS = opt.TLSConfig
	return nil
}

//nolint:ireturn // the topology decides between single, sentinel and cluster clients.
func (t redisTopology) client() redis.UniversalClient {
	switch t.Mode {
	case redisCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:     t.Addrs,
			Username:  t.Username,
			Password:  t.Password,
			TLSConfig: t.TLS,
		})
	case redisSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       t.MasterName,
			SentinelAddrs:    t.Addrs,
			Password:         t.Password,
			SentinelPassword: t.SentinelPassword,
			DB:               t.DB,
		})
	default:
		return redis.NewClient(&redis.Options{
			Addr:      t.Addrs[0],
			Username:  t.Username,
			Password:  t.Password,
			DB:        t.DB,
			TLSConfig: t.TLS,
		})
	}
}

// ConnectRedis opens the session token store connection and verifies it answers a ping.
//
//nolint:ireturn // see redisTopology.client.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	top, err := resolveRedis(cfg)
	if err != nil {
		return nil, err
	}
	client := top.client()

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if logger != nil {
		logger.InfoContext(ctx, "redis connected", "mode", string(top.Mode), "addr", top.Describe())
	}
	return client, nil
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
