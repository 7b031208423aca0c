// Package config reads the coordinator's TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/celo-org/snark-setup-coordinator/auth"
	"github.com/celo-org/snark-setup-coordinator/store"
)

// Storage backends.
const (
	StorageDisk = "disk"
	StorageS3   = "s3"
)

const (
	DefaultListen    = "127.0.0.1:8080"
	DefaultStorePath = "coordinator.json"
	DefaultDiskPath  = "chunks"
	DefaultCacheSize = 1024
)

// Config is the coordinator configuration.
type Config struct {
	Server  Server  `toml:"server"`
	Store   Store   `toml:"store"`
	Storage Storage `toml:"storage"`
	Auth    Auth    `toml:"auth"`
	Metrics Metrics `toml:"metrics"`
}

// Server is the public HTTP listener.
type Server struct {
	Listen string `toml:"listen"`
	// PublicURL is the address participants reach the coordinator at.
	PublicURL string `toml:"public_url"`
	// AccessLog is a file path, "-" for stdout, empty for none.
	AccessLog     string `toml:"access_log"`
	TLSCert       string `toml:"tls_cert"`
	TLSKey        string `toml:"tls_key"`
	TLSSelfSigned bool   `toml:"tls_self_signed"`
}

// Store selects the ceremony document backend.
type Store struct {
	Backend string `toml:"backend"`
	// Path is the file of the file backend, the folder of the bolt one and
	// the url of the redis one.
	Path string `toml:"path"`
	Key  string `toml:"key"`
}

// Storage selects where artifacts live.
type Storage struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	S3      S3     `toml:"s3"`
}

// S3 locates the artifact bucket.
type S3 struct {
	Bucket   string `toml:"bucket"`
	Region   string `toml:"region"`
	Prefix   string `toml:"prefix"`
	Endpoint string `toml:"endpoint"`
	// PathStyle is needed by most S3 compatible servers.
	PathStyle bool `toml:"path_style"`
}

// Auth selects the authentication strategy.
type Auth struct {
	Strategy  string `toml:"strategy"`
	CacheSize int    `toml:"cache_size"`
}

// Metrics is the private metrics listener. Disabled when Bind is empty.
type Metrics struct {
	Bind  string `toml:"bind"`
	Pprof bool   `toml:"pprof"`
}

// Default returns a development configuration: file store, disk storage and
// dummy authentication.
func Default() *Config {
	return &Config{
		Server: Server{Listen: DefaultListen},
		Store: Store{
			Backend: store.BackendFile,
			Path:    DefaultStorePath,
		},
		Storage: Storage{
			Backend: StorageDisk,
			Path:    DefaultDiskPath,
		},
		Auth: Auth{
			Strategy:  auth.StrategyDummy,
			CacheSize: DefaultCacheSize,
		},
	}
}

// Read decodes a configuration over the defaults and validates it.
func Read(r io.Reader) (*Config, error) {
	c := Default()
	md, err := toml.NewDecoder(r).Decode(c)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return Read(fd)
}

func (c *Config) normalize() {
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	c.Auth.Strategy = strings.ToLower(c.Auth.Strategy)
	c.Server.PublicURL = strings.TrimSuffix(c.Server.PublicURL, "/")
}

// PublicURL is the configured public url, derived from the listen address
// when unset.
func (c *Config) PublicURL() string {
	if c.Server.PublicURL != "" {
		return c.Server.PublicURL
	}
	scheme := "http"
	if c.TLS() {
		scheme = "https"
	}
	return scheme + "://" + c.Server.Listen
}

// TLS reports whether the public listener serves TLS.
func (c *Config) TLS() bool {
	return c.Server.TLSSelfSigned || c.Server.TLSCert != ""
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Server.Listen == "" {
		result = multierror.Append(result, fmt.Errorf("server.listen is required"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		result = multierror.Append(result, fmt.Errorf("server.tls_cert and server.tls_key go together"))
	}
	switch c.Store.Backend {
	case store.BackendMemory:
	case store.BackendFile, store.BackendBolt, store.BackendRedis:
		if c.Store.Path == "" {
			result = multierror.Append(result, fmt.Errorf("store.path is required for the %s backend", c.Store.Backend))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Storage.Backend {
	case StorageDisk:
		if c.Storage.Path == "" {
			result = multierror.Append(result, fmt.Errorf("storage.path is required for disk storage"))
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("storage.s3.bucket is required"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}
	switch c.Auth.Strategy {
	case auth.StrategyDummy, auth.StrategyEthereum, auth.StrategySchnorr:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown auth strategy %q", c.Auth.Strategy))
	}
	if c.Auth.CacheSize < 0 {
		result = multierror.Append(result, fmt.Errorf("auth.cache_size must not be negative"))
	}
	return result.ErrorOrNil()
}
