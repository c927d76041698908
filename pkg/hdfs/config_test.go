package hdfs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs"
)

const coreSite = `<?xml version="1.0"?>
<configuration>
  <property><name>fs.defaultFS</name><value>webhdfs://namenode:9870</value></property>
  <property><name>fs.permissions.umask-mode</name><value>027</value></property>
</configuration>`

const hdfsSite = `<?xml version="1.0"?>
<configuration>
  <property><name>dfs.replication</name><value>2</value></property>
  <property><name>dfs.blocksize</name><value>64m</value></property>
  <property><name>dfs.client.socket-timeout</name><value>15000</value></property>
</configuration>`

func writeSiteFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "core-site.xml"), []byte(coreSite), 0o644); err != nil {
		t.Fatalf("write core-site: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "hdfs-site.xml"), []byte(hdfsSite), 0o644); err != nil {
		t.Fatalf("write hdfs-site: %v", err)
	}
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := hdfs.DefaultConfig()
	if cfg.Replication != 3 || cfg.BlockSize != 128<<20 || cfg.Timeout != time.Minute {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if cfg.FilePerm() != 0o644 || cfg.DirPerm() != 0o755 {
		t.Fatalf("unexpected default permissions: %v %v", cfg.FilePerm(), cfg.DirPerm())
	}
	if _, err := hdfs.LoadConfig(); !errors.Is(err, hdfs.ErrConnection) {
		t.Fatalf("expected missing URI to fail as a connection error, got %v", err)
	}
}

func TestLoadConfigLayers(t *testing.T) {
	dir := writeSiteFiles(t)
	t.Setenv("HDFS_REPLICATION", "")
	t.Setenv("HDFS_BLOCK_SIZE", "")
	t.Setenv("HDFS_TIMEOUT", "")
	t.Setenv("HDFS_NAMENODE_URI", "")
	t.Setenv("HADOOP_USER_NAME", "tangseng")

	cfg, err := hdfs.LoadConfig(hdfs.HadoopConfDir(dir), hdfs.FromEnv())
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.URI != "webhdfs://namenode:9870" || cfg.User != "tangseng" {
		t.Fatalf("unexpected identity: %q %q", cfg.URI, cfg.User)
	}
	if cfg.Replication != 2 || cfg.BlockSize != 64<<20 || cfg.Timeout != 15*time.Second {
		t.Fatalf("site files not applied: %#v", cfg)
	}
	if cfg.FilePerm() != 0o640 || cfg.DirPerm() != 0o750 {
		t.Fatalf("umask not applied: %v %v", cfg.FilePerm(), cfg.DirPerm())
	}
	if cfg.Extra["dfs.blocksize"] != "64m" {
		t.Fatalf("raw keys should be kept: %#v", cfg.Extra)
	}

	t.Setenv("HDFS_REPLICATION", "1")
	t.Setenv("HDFS_BLOCK_SIZE", "1MB")
	t.Setenv("HDFS_TIMEOUT", "5s")
	cfg, err = hdfs.LoadConfig(
		hdfs.HadoopConfDir(dir),
		hdfs.FromEnv(),
		hdfs.Set("fs.defaultFS", "hdfs://override:8020"),
		hdfs.WithReplication(4),
	)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.URI != "hdfs://override:8020" || cfg.Replication != 4 || cfg.BlockSize != 1<<20 || cfg.Timeout != 5*time.Second {
		t.Fatalf("later layers should win: %#v", cfg)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		layers []hdfs.ConfigLayer
	}{
		{"zero replication", []hdfs.ConfigLayer{hdfs.WithURI("webhdfs://nn:9870"), hdfs.WithReplication(0)}},
		{"negative block size", []hdfs.ConfigLayer{hdfs.WithURI("webhdfs://nn:9870"), hdfs.WithBlockSize(-1)}},
		{"zero timeout", []hdfs.ConfigLayer{hdfs.WithURI("webhdfs://nn:9870"), hdfs.WithTimeout(0)}},
		{"bad replication key", []hdfs.ConfigLayer{hdfs.WithURI("webhdfs://nn:9870"), hdfs.Set("dfs.replication", "three")}},
		{"bad size", []hdfs.ConfigLayer{hdfs.WithURI("webhdfs://nn:9870"), hdfs.Set("dfs.blocksize", "lots")}},
		{"unsupported scheme", []hdfs.ConfigLayer{hdfs.WithURI("ftp://nn:21")}},
		{"missing host", []hdfs.ConfigLayer{hdfs.WithURI("webhdfs://")}},
		{"empty user", []hdfs.ConfigLayer{hdfs.WithURI("webhdfs://nn:9870"), hdfs.WithUser("")}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if _, err := hdfs.LoadConfig(tc.layers...); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestSessionKeepsItsOwnConfig(t *testing.T) {
	cfg := testConfig(t, "mock://local", "wukong")
	s := openDirectWithConfig(t, cfg)
	cfg.Extra["dfs.replication"] = "9"
	cfg.Replication = 9

	got := s.Config()
	if got.Replication == 9 || got.Extra["dfs.replication"] == "9" {
		t.Fatalf("session config must not change after Open: %#v", got)
	}
	got.Replication = 7
	if s.Config().Replication == 7 {
		t.Fatalf("Config must return a copy")
	}
	if s.User() != "wukong" {
		t.Fatalf("unexpected user %q", s.User())
	}
}

func TestParseSize(t *testing.T) {
	tests := map[string]int64{
		"134217728": 134217728,
		"128m":      128 << 20,
		"128MB":     128 << 20,
		"1g":        1 << 30,
		"4k":        4096,
	}
	for in, want := range tests {
		got, err := hdfs.ParseSize(in)
		if err != nil || got != want {
			t.Fatalf("ParseSize(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := hdfs.ParseSize("many"); err == nil {
		t.Fatalf("expected error")
	}
}
