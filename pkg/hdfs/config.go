package hdfs

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/colinmarc/hdfs/v2/hadoopconf"
)

// Hadoop configuration keys understood by Set and HadoopConfDir.
const (
	KeyDefaultFS     = "fs.defaultFS"
	KeyReplication   = "dfs.replication"
	KeyBlockSize     = "dfs.blocksize"
	KeySocketTimeout = "dfs.client.socket-timeout"
	KeyUmask         = "fs.permissions.umask-mode"
	KeyUserName      = "hadoop.user.name"
)

// Environment variables read by FromEnv.
const (
	EnvNamenodeURI = "HDFS_NAMENODE_URI"
	EnvUser        = "HADOOP_USER_NAME"
	EnvReplication = "HDFS_REPLICATION"
	EnvBlockSize   = "HDFS_BLOCK_SIZE"
	EnvTimeout     = "HDFS_TIMEOUT"
)

const (
	defaultReplication = 3
	defaultBlockSize   = int64(128 * datasize.MB)
	defaultTimeout     = 60 * time.Second
	defaultUmask       = os.FileMode(0o022)
	defaultWebHDFSPort = "9870"
	defaultRPCPort     = "8020"
)

// Config holds the connection parameters of a Session. A Session keeps its
// own copy, so changing a Config after Open has no effect on it.
type Config struct {
	URI         string
	User        string
	Replication int
	BlockSize   int64
	Timeout     time.Duration
	Umask       os.FileMode
	// Extra holds every Hadoop key merged into the config, recognised or not.
	Extra map[string]string
}

// DefaultConfig returns the built-in defaults. The URI is left empty.
func DefaultConfig() Config {
	return Config{
		User:        currentUser(),
		Replication: defaultReplication,
		BlockSize:   defaultBlockSize,
		Timeout:     defaultTimeout,
		Umask:       defaultUmask,
		Extra:       map[string]string{},
	}
}

// FilePerm is the permission given to files created by the session.
func (c Config) FilePerm() os.FileMode {
	return 0o666 &^ c.Umask
}

// DirPerm is the permission given to directories created by the session.
func (c Config) DirPerm() os.FileMode {
	return 0o777 &^ c.Umask
}

// Scheme returns the lower-cased URI scheme, or "" when the URI does not parse.
func (c Config) Scheme() string {
	u, err := url.Parse(c.URI)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (c Config) clone() Config {
	cp := c
	cp.Extra = make(map[string]string, len(c.Extra))
	for k, v := range c.Extra {
		cp.Extra[k] = v
	}
	return cp
}

// Validate checks the merged configuration. URI problems are reported as
// connection errors.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URI) == "" {
		return newError(KindConnection, SourceRemote, errors.New("name-node URI is required"))
	}
	u, err := url.Parse(c.URI)
	if err != nil {
		return newError(KindConnection, SourceRemote, fmt.Errorf("invalid URI: %w", err))
	}
	switch strings.ToLower(u.Scheme) {
	case "webhdfs", "swebhdfs", "http", "https", "hdfs":
		if u.Host == "" {
			return newError(KindConnection, SourceRemote, fmt.Errorf("URI %q has no host", c.URI))
		}
	case "mock":
	default:
		return newError(KindConnection, SourceRemote, fmt.Errorf("unsupported URI scheme %q", u.Scheme))
	}
	if c.User == "" {
		return errors.New("hdfs: user is required")
	}
	if c.Replication < 1 {
		return fmt.Errorf("hdfs: replication must be positive, got %d", c.Replication)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("hdfs: block size must be positive, got %d", c.BlockSize)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("hdfs: timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// ConfigLayer mutates a config under construction.
type ConfigLayer func(*Config) error

// LoadConfig starts from DefaultConfig, applies the layers in order and
// validates the result. Later layers win.
func LoadConfig(layers ...ConfigLayer) (Config, error) {
	cfg := DefaultConfig()
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if err := layer(&cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg.clone(), nil
}

// HadoopConfDir merges core-site.xml and hdfs-site.xml from dir. An empty
// dir falls back to HADOOP_CONF_DIR, then HADOOP_HOME. A missing directory
// contributes nothing.
func HadoopConfDir(dir string) ConfigLayer {
	return func(c *Config) error {
		var (
			conf hadoopconf.HadoopConf
			err  error
		)
		if dir == "" {
			conf, err = hadoopconf.LoadFromEnvironment()
		} else {
			conf, err = hadoopconf.Load(dir)
		}
		if err != nil {
			return fmt.Errorf("hdfs: load hadoop config: %w", err)
		}
		if _, ok := conf[KeyDefaultFS]; !ok {
			if nns := conf.Namenodes(); len(nns) > 0 {
				c.URI = "hdfs://" + nns[0]
			}
		}
		for k, v := range conf {
			if err := c.set(k, v); err != nil {
				return err
			}
		}
		return nil
	}
}

// FromEnv applies the HDFS_* and HADOOP_USER_NAME environment variables.
func FromEnv() ConfigLayer {
	return func(c *Config) error {
		if v := strings.TrimSpace(os.Getenv(EnvNamenodeURI)); v != "" {
			c.URI = v
		}
		if v := strings.TrimSpace(os.Getenv(EnvUser)); v != "" {
			c.User = v
		}
		if v := strings.TrimSpace(os.Getenv(EnvReplication)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("hdfs: %s: %w", EnvReplication, err)
			}
			c.Replication = n
		}
		if v := strings.TrimSpace(os.Getenv(EnvBlockSize)); v != "" {
			n, err := ParseSize(v)
			if err != nil {
				return fmt.Errorf("hdfs: %s: %w", EnvBlockSize, err)
			}
			c.BlockSize = n
		}
		if v := strings.TrimSpace(os.Getenv(EnvTimeout)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("hdfs: %s: %w", EnvTimeout, err)
			}
			c.Timeout = d
		}
		return nil
	}
}

// Set applies a single Hadoop configuration key, e.g.
// Set("fs.defaultFS", "webhdfs://namenode:9870").
func Set(key, value string) ConfigLayer {
	return func(c *Config) error {
		return c.set(key, value)
	}
}

// WithURI sets the name-node URI.
func WithURI(uri string) ConfigLayer {
	return func(c *Config) error {
		c.URI = uri
		return nil
	}
}

// WithUser sets the identity operations are performed as.
func WithUser(name string) ConfigLayer {
	return func(c *Config) error {
		c.User = name
		return nil
	}
}

// WithReplication sets the replication factor for new files.
func WithReplication(n int) ConfigLayer {
	return func(c *Config) error {
		c.Replication = n
		return nil
	}
}

// WithBlockSize sets the block size for new files.
func WithBlockSize(n int64) ConfigLayer {
	return func(c *Config) error {
		c.BlockSize = n
		return nil
	}
}

// WithTimeout bounds every metadata round trip.
func WithTimeout(d time.Duration) ConfigLayer {
	return func(c *Config) error {
		c.Timeout = d
		return nil
	}
}

func (c *Config) set(key, value string) error {
	value = strings.TrimSpace(value)
	if c.Extra == nil {
		c.Extra = map[string]string{}
	}
	c.Extra[key] = value
	switch key {
	case KeyDefaultFS:
		c.URI = value
	case KeyUserName:
		c.User = value
	case KeyReplication:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("hdfs: %s: %w", key, err)
		}
		c.Replication = n
	case KeyBlockSize:
		n, err := ParseSize(value)
		if err != nil {
			return fmt.Errorf("hdfs: %s: %w", key, err)
		}
		c.BlockSize = n
	case KeySocketTimeout:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("hdfs: %s: %w", key, err)
		}
		c.Timeout = time.Duration(ms) * time.Millisecond
	case KeyUmask:
		v, err := strconv.ParseUint(value, 8, 32)
		if err != nil {
			return fmt.Errorf("hdfs: %s: %w", key, err)
		}
		c.Umask = os.FileMode(v) & os.ModePerm
	}
	return nil
}

// ParseSize parses byte sizes such as "134217728", "128m" or "128MB".
// Units are binary (1 KB = 1024 bytes).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(size.Bytes()), nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "hdfs"
}

// resolveURI converts a configured URI into the base address a backend dials.
// webhdfs and swebhdfs map to http and https and get the default HTTP port.
func resolveURI(raw string) (scheme, hostport string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	scheme = strings.ToLower(u.Scheme)
	hostport = u.Host
	port := u.Port()
	switch scheme {
	case "webhdfs":
		scheme = "http"
		if port == "" {
			hostport += ":" + defaultWebHDFSPort
		}
	case "swebhdfs":
		scheme = "https"
		if port == "" {
			hostport += ":" + defaultWebHDFSPort
		}
	case "hdfs":
		if port == "" {
			hostport += ":" + defaultRPCPort
		}
	}
	return scheme, hostport, nil
}
