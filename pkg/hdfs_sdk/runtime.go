package hdfs_sdk

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hsdata/hdfs_sdk_go/internal/devseed"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs/mock"
)

const (
	envMode     = "HDFS_RUNTIME_MODE"
	envMockSeed = "HDFS_MOCK_SEED"
	modeAuto    = "auto"
	modeHTTP    = "http"
	modeNative  = "native"
	modeMock    = "mock"

	mockURI = "mock://local"
)

// NewFromEnv opens a session according to HDFS_RUNTIME_MODE and returns the
// resolved mode ("http", "native" or "mock").
//
//   - http and native require HDFS_NAMENODE_URI (or fs.defaultFS in
//     HADOOP_CONF_DIR) with a matching scheme.
//   - mock serves an in-memory namespace, optionally seeded from the JSON
//     file named by HDFS_MOCK_SEED.
//   - auto (the default) picks the mode from the configured URI and falls
//     back to mock when none is set.
func NewFromEnv(ctx context.Context, opts ...hdfs.Option) (*hdfs.Session, string, error) {
	mode := strings.ToLower(strings.TrimSpace(os.Getenv(envMode)))
	if mode == "" {
		mode = modeAuto
	}

	cfg := hdfs.DefaultConfig()
	layers := []hdfs.ConfigLayer{hdfs.HadoopConfDir(""), hdfs.FromEnv()}
	for _, layer := range layers {
		if err := layer(&cfg); err != nil {
			return nil, "", fmt.Errorf("hdfs_sdk: %w", err)
		}
	}
	resolved := modeFor(cfg.Scheme())

	switch mode {
	case modeAuto:
		if cfg.URI == "" || resolved == modeMock {
			return newMockSession(ctx, cfg, opts)
		}
		return newRemoteSession(ctx, cfg, resolved, opts)
	case modeHTTP, modeNative:
		if cfg.URI == "" {
			return nil, "", fmt.Errorf("hdfs_sdk: %s mode requires %s", mode, hdfs.EnvNamenodeURI)
		}
		if resolved != mode {
			return nil, "", fmt.Errorf("hdfs_sdk: %s mode does not accept URI %q", mode, cfg.URI)
		}
		return newRemoteSession(ctx, cfg, mode, opts)
	case modeMock:
		return newMockSession(ctx, cfg, opts)
	default:
		return nil, "", fmt.Errorf("hdfs_sdk: unsupported %s value %q", envMode, mode)
	}
}

func modeFor(scheme string) string {
	switch scheme {
	case "webhdfs", "swebhdfs", "http", "https":
		return modeHTTP
	case "hdfs":
		return modeNative
	case "mock":
		return modeMock
	}
	return ""
}

func newRemoteSession(ctx context.Context, cfg hdfs.Config, mode string, opts []hdfs.Option) (*hdfs.Session, string, error) {
	if mode == "" {
		return nil, "", fmt.Errorf("hdfs_sdk: unsupported URI %q", cfg.URI)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	s, err := hdfs.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, "", err
	}
	return s, mode, nil
}

func newMockSession(ctx context.Context, cfg hdfs.Config, opts []hdfs.Option) (*hdfs.Session, string, error) {
	m := mock.New()
	if path := strings.TrimSpace(os.Getenv(envMockSeed)); path != "" {
		entries, err := devseed.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("hdfs_sdk: load mock seed: %w", err)
		}
		if err := m.Seed(entries); err != nil {
			return nil, "", fmt.Errorf("hdfs_sdk: apply mock seed: %w", err)
		}
	}
	cfg.URI = mockURI
	s, err := hdfs.OpenWithBackend(ctx, cfg, m.Connect(cfg.User), opts...)
	if err != nil {
		return nil, "", err
	}
	return s, modeMock, nil
}
