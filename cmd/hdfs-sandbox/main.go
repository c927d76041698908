package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"

	"github.com/hsdata/hdfs_sdk_go/internal/devseed"
	"github.com/hsdata/hdfs_sdk_go/internal/webhdfsapi"
	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs/mock"
)

type failConfig struct {
	rate float64
	code int
}

func main() {
	addr := flag.String("addr", ":9870", "listen address")
	seed := flag.String("seed", "", "path to JSON seed for the in-memory namespace")
	latency := flag.Duration("latency", 0, "artificial latency to inject per request")
	fail := flag.String("fail", "", "failure injection (rate=<float>,code=<httpStatus>)")
	dataNodes := flag.Int("datanodes", mock.DefaultDataNodes, "number of fake data-nodes blocks are placed on")
	pageSize := flag.Int("page-size", mock.DefaultPageSize, "entries per LISTSTATUS_BATCH page")
	maxUpload := flag.String("max-upload", "1GB", "largest accepted CREATE body")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var uploadLimit datasize.ByteSize
	if err := uploadLimit.UnmarshalText([]byte(*maxUpload)); err != nil {
		log.WithError(err).Fatal("parse max-upload flag")
	}

	m := mock.New(mock.WithDataNodes(*dataNodes), mock.WithPageSize(*pageSize))
	if *seed != "" {
		entries, err := devseed.Load(*seed)
		if err != nil {
			log.WithError(err).Fatal("load seed")
		}
		if err := m.Seed(entries); err != nil {
			log.WithError(err).Fatal("apply seed")
		}
		log.WithField("entries", len(entries)).Info("namespace seeded")
	}

	failCfg, err := parseFailConfig(*fail)
	if err != nil {
		log.WithError(err).Fatal("parse fail flag")
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           withMiddleware(log, *latency, failCfg, int64(uploadLimit.Bytes()), mock.NewWebHDFSHandler(m)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"addr":      *addr,
		"datanodes": m.DataNodes(),
		"prefix":    webhdfsapi.PathPrefix,
	}).Info("hdfs-sandbox listening")
	host := *addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	fmt.Println()
	fmt.Println("export HDFS_RUNTIME_MODE=http")
	fmt.Printf("export HDFS_NAMENODE_URI=webhdfs://%s\n", host)
	fmt.Println()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func withMiddleware(log logrus.FieldLogger, delay time.Duration, failCfg failConfig, maxBody int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if delay > 0 {
			time.Sleep(delay)
		}
		entry := log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"op":     r.URL.Query().Get("op"),
			"user":   r.URL.Query().Get("user.name"),
		})
		if failCfg.rate > 0 && rand.Float64() < failCfg.rate {
			status := failCfg.code
			if status == 0 {
				status = http.StatusInternalServerError
			}
			entry.WithField("status", status).Warn("failure injected")
			http.Error(w, "failure injected", status)
			return
		}
		if maxBody > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		entry.WithFields(logrus.Fields{
			"status":   rec.status,
			"duration": time.Since(start),
		}).Info("request served")
	})
}

func parseFailConfig(raw string) (failConfig, error) {
	var cfg failConfig
	if strings.TrimSpace(raw) == "" {
		return cfg, nil
	}
	for _, part := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			return cfg, fmt.Errorf("invalid fail option %q", part)
		}
		switch strings.ToLower(kv[0]) {
		case "rate":
			rate, err := strconv.ParseFloat(kv[1], 64)
			if err != nil {
				return cfg, fmt.Errorf("invalid rate: %w", err)
			}
			if rate < 0 || rate > 1 {
				return cfg, fmt.Errorf("rate must be within [0,1]")
			}
			cfg.rate = rate
		case "code":
			code, err := strconv.Atoi(kv[1])
			if err != nil {
				return cfg, fmt.Errorf("invalid code: %w", err)
			}
			cfg.code = code
		default:
			return cfg, fmt.Errorf("unknown fail option %q", kv[0])
		}
	}
	return cfg, nil
}
