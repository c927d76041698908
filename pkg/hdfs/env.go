package hdfs

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// NewFromEnv opens a session configured from HADOOP_CONF_DIR and the HDFS_*
// environment variables. HDFS_NAMENODE_URI (or fs.defaultFS in the site
// files) must name the service.
func NewFromEnv(ctx context.Context, opts ...Option) (*Session, error) {
	if strings.TrimSpace(os.Getenv(EnvNamenodeURI)) == "" && os.Getenv("HADOOP_CONF_DIR") == "" {
		return nil, fmt.Errorf("hdfs: %s or HADOOP_CONF_DIR is required", EnvNamenodeURI)
	}
	cfg, err := LoadConfig(HadoopConfDir(""), FromEnv())
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg, opts...)
}
