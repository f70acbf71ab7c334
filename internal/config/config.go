package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"kvdb/pkg/cluster"
	"kvdb/pkg/index"
)

// Config is the root configuration shared by kvnode and kvrouter. Each
// binary reads the sections it needs.
type Config struct {
	Logger      LoggerConfig      `yaml:"logger"`
	Server      ServerConfig      `yaml:"http-server"`
	ZooKeeper   ZooKeeperConfig   `yaml:"zookeeper"`
	Storage     StorageConfig     `yaml:"storage"`
	Replication ReplicationConfig `yaml:"replication"`
	Router      RouterConfig      `yaml:"router"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type ServerConfig struct {
	// Address is the listen address, e.g. ":8080".
	Address string `yaml:"address"`
	// URL is how other nodes reach this one; it is published in the registry.
	URL               string        `yaml:"url"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RegistryPath   string        `yaml:"registry_path"`
	ElectionPath   string        `yaml:"election_path"`
}

type StorageConfig struct {
	FileName    string `yaml:"file_name"`
	SyncWrites  bool   `yaml:"sync_writes"`
	IndexEngine string `yaml:"index_engine"`
}

type ReplicationConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RouterConfig struct {
	Partitions    []cluster.Paths `yaml:"partitions"`
	ClientTimeout time.Duration   `yaml:"client_timeout"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Server: ServerConfig{
			Address:           ":8080",
			URL:               "http://localhost:8080",
			ReadHeaderTimeout: time.Second,
			RequestTimeout:    30 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		ZooKeeper: ZooKeeperConfig{
			Servers:        []string{"localhost:2181"},
			SessionTimeout: 5 * time.Second,
			ConnectTimeout: 10 * time.Second,
			RegistryPath:   "/kvdb/partition-0/registry",
			ElectionPath:   "/kvdb/partition-0/election",
		},
		Storage: StorageConfig{
			FileName:    "./data/kvdb.db",
			IndexEngine: string(index.Ordered),
		},
		Replication: ReplicationConfig{
			QueueSize: 1024,
			Timeout:   5 * time.Second,
		},
		Router: RouterConfig{
			Partitions: []cluster.Paths{
				{Registry: "/kvdb/partition-0/registry", Election: "/kvdb/partition-0/election"},
			},
			ClientTimeout: 5 * time.Second,
		},
	}
}

// Load reads the YAML file at path on top of Default and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, bool, error) {
	cfg := Default()
	found := true

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		found = false
	case err != nil:
		return cfg, false, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, true, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, found, err
	}
	return cfg, found, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SERVER_ADDRESS"); ok {
		c.Server.Address = v
	}
	if v, ok := lookup("SERVER_URL"); ok {
		c.Server.URL = v
	}
	if v, ok := lookup("ZOOKEEPER_SERVERS"); ok {
		c.ZooKeeper.Servers = splitList(v)
	}
	if v, ok := lookup("LEADER_ELECTION_PATH"); ok {
		c.ZooKeeper.ElectionPath = v
	}
	if v, ok := lookup("SERVICE_REGISTRY_PATH"); ok {
		c.ZooKeeper.RegistryPath = v
	}
	if v, ok := lookup("STORAGE_FILE_NAME"); ok {
		c.Storage.FileName = v
	}
	if v, ok := lookup("INDEX_ENGINE"); ok {
		c.Storage.IndexEngine = v
	}

	registries, hasRegistries := lookup("SERVICE_REGISTRY_PATHS")
	elections, hasElections := lookup("LEADER_ELECTION_PATHS")
	if hasRegistries || hasElections {
		r, e := splitList(registries), splitList(elections)
		if len(r) != len(e) {
			return fmt.Errorf("SERVICE_REGISTRY_PATHS has %d entries, LEADER_ELECTION_PATHS has %d", len(r), len(e))
		}
		c.Router.Partitions = make([]cluster.Paths, len(r))
		for i := range r {
			c.Router.Partitions[i] = cluster.Paths{Registry: r[i], Election: e[i]}
		}
	}
	return nil
}

// NodePaths returns the coordination paths of the node's partition.
func (c Config) NodePaths() cluster.Paths {
	return cluster.Paths{Registry: c.ZooKeeper.RegistryPath, Election: c.ZooKeeper.ElectionPath}
}

// ValidateNode checks the settings kvnode depends on.
func (c Config) ValidateNode() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("http-server.address is empty"))
	}
	if !strings.HasPrefix(c.Server.URL, "http://") && !strings.HasPrefix(c.Server.URL, "https://") {
		errs = append(errs, fmt.Errorf("http-server.url must be an http(s) URL, got %q", c.Server.URL))
	}
	if len(c.ZooKeeper.Servers) == 0 {
		errs = append(errs, errors.New("zookeeper.servers is empty"))
	}
	if err := c.NodePaths().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.FileName == "" {
		errs = append(errs, errors.New("storage.file_name is empty"))
	}
	if _, err := index.ParseKind(c.Storage.IndexEngine); err != nil {
		errs = append(errs, fmt.Errorf("storage.index_engine: %w", err))
	}
	return errors.Join(errs...)
}

// ValidateRouter checks the settings kvrouter depends on.
func (c Config) ValidateRouter() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("http-server.address is empty"))
	}
	if len(c.ZooKeeper.Servers) == 0 {
		errs = append(errs, errors.New("zookeeper.servers is empty"))
	}
	if len(c.Router.Partitions) == 0 {
		errs = append(errs, errors.New("router.partitions is empty"))
	}
	for i, p := range c.Router.Partitions {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("router.partitions[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
