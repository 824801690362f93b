package cmn

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Role is one of the five node roles a Node can carry (spec §3, §6).
type Role string

const (
	RoleIngester  Role = "Ingester"
	RoleQuerier   Role = "Querier"
	RoleCompactor Role = "Compactor"
	RoleRouter    Role = "Router"
	RoleAll       Role = "All"
)

// ParseRoles splits the comma-separated node_role environment value.
func ParseRoles(s string) []Role {
	parts := strings.Split(s, ",")
	roles := make([]Role, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			roles = append(roles, Role(p))
		}
	}
	return roles
}

func HasRole(roles []Role, want Role) bool {
	for _, r := range roles {
		if r == want || r == RoleAll {
			return true
		}
	}
	return false
}

// Config is the typed surface over the process-environment variables
// (spec §6). It is loaded from the environment only (no flags, no file
// parsing); every subsystem's durations and sizes nest into one struct
// with a Validate().
type Config struct {
	NodeRoles []Role

	Cluster  ClusterConf
	Catalog  CatalogConf
	Mover    MoverConf
	Session  SessionConf
}

type ClusterConf struct {
	HeartbeatTTL time.Duration // node_heartbeat_ttl
	KVPrefix     string
}

type CatalogConf struct {
	TransactionLockTimeout time.Duration // meta_transaction_lock_timeout
	IDBatchSize            int           // file_list_id_batch_size
	MultiThread            bool          // file_list_multi_thread
	DumpEnabled            bool          // file_list_dump_enabled
}

type MoverConf struct {
	PushInterval       time.Duration // file_push_interval
	PushLimit          int           // file_push_limit
	MoveThreadNum       int           // file_move_thread_num
	MaxFileSizeOnDisk   int64         // max_file_size_on_disk
	CompactMaxFileSize  int64         // compact.max_file_size
	FieldsLimit         int           // file_move_fields_limit
	MaxRetention        time.Duration // max_file_retention_time
	InvertedIndexEnable bool          // inverted_index_enabled
	CacheLatestFiles    bool          // cache_latest_files.enabled
}

type SessionConf struct {
	IdleTimeout       time.Duration // session_idle_timeout_secs
	MaxLifetime       time.Duration // session_max_lifetime_secs
	PingInterval      time.Duration // ping_interval_secs
	MaxFrameSize      int64         // max_frame_size
	MaxContinuation   int64         // max_continuation_size
	MaxChannelBuffer  int           // max_channel_buffer_size
}

// DefaultConfig mirrors the reference defaults called out across spec §4-6.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConf{
			HeartbeatTTL: 30 * time.Second,
			KVPrefix:     "/clustercore/",
		},
		Catalog: CatalogConf{
			TransactionLockTimeout: 5 * time.Second,
			IDBatchSize:            1000,
			MultiThread:            true,
			DumpEnabled:            false,
		},
		Mover: MoverConf{
			PushInterval:       10 * time.Second,
			PushLimit:          10000,
			MoveThreadNum:      8,
			MaxFileSizeOnDisk:  256 << 20,
			CompactMaxFileSize: 128 << 20,
			FieldsLimit:        200,
			MaxRetention:       10 * time.Minute,
		},
		Session: SessionConf{
			IdleTimeout:      15 * time.Minute,
			MaxLifetime:      6 * time.Hour,
			PingInterval:     30 * time.Second,
			MaxFrameSize:     16 << 20,
			MaxContinuation:  64 << 20,
			MaxChannelBuffer: 128,
		},
	}
}

// LoadConfigFromEnv overlays DefaultConfig with any process environment
// variables named in spec §6.
func LoadConfigFromEnv() (*Config, error) {
	c := DefaultConfig()
	if v := os.Getenv("node_role"); v != "" {
		c.NodeRoles = ParseRoles(v)
	}
	if err := durationEnv("node_heartbeat_ttl", &c.Cluster.HeartbeatTTL); err != nil {
		return nil, err
	}
	if err := durationEnv("meta_transaction_lock_timeout", &c.Catalog.TransactionLockTimeout); err != nil {
		return nil, err
	}
	if err := intEnv("file_list_id_batch_size", &c.Catalog.IDBatchSize); err != nil {
		return nil, err
	}
	if err := boolEnv("file_list_multi_thread", &c.Catalog.MultiThread); err != nil {
		return nil, err
	}
	if err := boolEnv("file_list_dump_enabled", &c.Catalog.DumpEnabled); err != nil {
		return nil, err
	}
	if err := durationEnv("file_push_interval", &c.Mover.PushInterval); err != nil {
		return nil, err
	}
	if err := intEnv("file_push_limit", &c.Mover.PushLimit); err != nil {
		return nil, err
	}
	if err := intEnv("file_move_thread_num", &c.Mover.MoveThreadNum); err != nil {
		return nil, err
	}
	if err := int64Env("max_file_size_on_disk", &c.Mover.MaxFileSizeOnDisk); err != nil {
		return nil, err
	}
	if err := int64Env("compact.max_file_size", &c.Mover.CompactMaxFileSize); err != nil {
		return nil, err
	}
	if err := intEnv("file_move_fields_limit", &c.Mover.FieldsLimit); err != nil {
		return nil, err
	}
	if err := durationEnv("max_file_retention_time", &c.Mover.MaxRetention); err != nil {
		return nil, err
	}
	if err := boolEnv("inverted_index_enabled", &c.Mover.InvertedIndexEnable); err != nil {
		return nil, err
	}
	if err := boolEnv("cache_latest_files.enabled", &c.Mover.CacheLatestFiles); err != nil {
		return nil, err
	}
	if err := durationEnv("session_idle_timeout_secs", &c.Session.IdleTimeout); err != nil {
		return nil, err
	}
	if err := durationEnv("session_max_lifetime_secs", &c.Session.MaxLifetime); err != nil {
		return nil, err
	}
	if err := durationEnv("ping_interval_secs", &c.Session.PingInterval); err != nil {
		return nil, err
	}
	if err := int64Env("max_frame_size", &c.Session.MaxFrameSize); err != nil {
		return nil, err
	}
	if err := int64Env("max_continuation_size", &c.Session.MaxContinuation); err != nil {
		return nil, err
	}
	if err := intEnv("max_channel_buffer_size", &c.Session.MaxChannelBuffer); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func (c *Config) Validate() error {
	if c.Cluster.HeartbeatTTL <= 0 {
		return fmt.Errorf("node_heartbeat_ttl must be positive")
	}
	if c.Mover.MoveThreadNum <= 0 {
		return fmt.Errorf("file_move_thread_num must be positive")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.MaxLifetime <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	return nil
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = time.Duration(secs) * time.Second
	return nil
}

func intEnv(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func int64Env(key string, dst *int64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func boolEnv(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
