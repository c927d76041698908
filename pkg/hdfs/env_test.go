package hdfs_test

import (
	"context"
	"strings"
	"testing"

	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs/mock"
)

func TestNewFromEnv(t *testing.T) {
	srv := newLocalHTTPServer(t, mock.NewWebHDFSHandler(mock.New()))
	defer srv.Close()

	t.Setenv("HADOOP_CONF_DIR", t.TempDir())
	t.Setenv("HADOOP_HOME", "")
	t.Setenv("HDFS_NAMENODE_URI", strings.Replace(srv.URL, "http://", "webhdfs://", 1))
	t.Setenv("HADOOP_USER_NAME", "shaseng")
	t.Setenv("HDFS_REPLICATION", "2")
	t.Setenv("HDFS_BLOCK_SIZE", "")
	t.Setenv("HDFS_TIMEOUT", "10s")

	s, err := hdfs.NewFromEnv(context.Background())
	if err != nil {
		t.Fatalf("NewFromEnv: %v", err)
	}
	defer s.Close()
	if s.User() != "shaseng" || s.Config().Replication != 2 {
		t.Fatalf("environment not applied: %#v", s.Config())
	}
	ok, err := s.Mkdirs(context.Background(), "/liushahe")
	if err != nil || !ok {
		t.Fatalf("Mkdirs: ok=%v err=%v", ok, err)
	}
}

func TestNewFromEnvRequiresURI(t *testing.T) {
	t.Setenv("HADOOP_CONF_DIR", "")
	t.Setenv("HDFS_NAMENODE_URI", "")
	if _, err := hdfs.NewFromEnv(context.Background()); err == nil {
		t.Fatalf("expected error without a name-node URI")
	}
}
