package hdfs_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/hsdata/hdfs_sdk_go/pkg/hdfs"
)

func TestWebHDFSRemoteExceptionMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", 404, `{"RemoteException":{"exception":"FileNotFoundException","javaClassName":"java.io.FileNotFoundException","message":"File does not exist: /x"}}`, hdfs.ErrNotFound},
		{"access control", 403, `{"RemoteException":{"exception":"AccessControlException","javaClassName":"org.apache.hadoop.security.AccessControlException","message":"Permission denied"}}`, hdfs.ErrPermission},
		{"security", 401, `{"RemoteException":{"exception":"SecurityException","javaClassName":"java.lang.SecurityException","message":"no token"}}`, hdfs.ErrPermission},
		{"exists", 403, `{"RemoteException":{"exception":"FileAlreadyExistsException","javaClassName":"org.apache.hadoop.fs.FileAlreadyExistsException","message":"/x exists"}}`, hdfs.ErrAlreadyExists},
		{"parent not dir", 403, `{"RemoteException":{"javaClassName":"org.apache.hadoop.fs.ParentNotDirectoryException","message":"/x"}}`, hdfs.ErrAlreadyExists},
		{"not empty", 403, `{"RemoteException":{"exception":"PathIsNotEmptyDirectoryException","javaClassName":"org.apache.hadoop.fs.PathIsNotEmptyDirectoryException","message":"/x is non empty"}}`, hdfs.ErrNotEmpty},
		{"standby", 403, `{"RemoteException":{"exception":"StandbyException","javaClassName":"org.apache.hadoop.ipc.StandbyException","message":"read not supported in standby"}}`, hdfs.ErrConnection},
		{"plain 404", 404, `gone`, hdfs.ErrNotFound},
		{"plain 500", 500, `boom`, hdfs.ErrConnection},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			srv := newLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			b, err := hdfs.NewWebHDFSBackend(srv.URL, "wukong")
			if err != nil {
				t.Fatalf("NewWebHDFSBackend: %v", err)
			}
			_, err = b.Stat(context.Background(), "/x")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestWebHDFSCreateFollowsDataNodeRedirect(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
		body  string
	)
	srv := newLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" data="+q.Get("data")+" user="+q.Get("user.name"))
		mu.Unlock()
		if q.Get("data") != "true" {
			if r.ContentLength > 0 {
				http.Error(w, "name-node must not receive data", http.StatusBadRequest)
				return
			}
			if q.Get("overwrite") != "false" || q.Get("replication") != "2" || q.Get("blocksize") != "1024" || q.Get("permission") != "640" {
				http.Error(w, "unexpected create params "+r.URL.RawQuery, http.StatusBadRequest)
				return
			}
			w.Header().Set("Location", "/webhdfs/v1/xiyou/huaguoshan/a.txt?op=CREATE&data=true&user.name=wukong")
			w.WriteHeader(http.StatusTemporaryRedirect)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(raw)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	b, err := hdfs.NewWebHDFSBackend(srv.URL, "wukong")
	if err != nil {
		t.Fatalf("NewWebHDFSBackend: %v", err)
	}
	err = b.Create(context.Background(), "/xiyou/huaguoshan/a.txt", strings.NewReader("stone monkey"), hdfs.CreateOptions{
		Replication: 2,
		BlockSize:   1024,
		Perm:        0o640,
		Size:        12,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected two hops, got %v", calls)
	}
	if calls[0] != "PUT /webhdfs/v1/xiyou/huaguoshan/a.txt data= user=wukong" {
		t.Fatalf("unexpected first hop %q", calls[0])
	}
	if calls[1] != "PUT /webhdfs/v1/xiyou/huaguoshan/a.txt data=true user=wukong" {
		t.Fatalf("unexpected second hop %q", calls[1])
	}
	if body != "stone monkey" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestWebHDFSDoesNotRetry(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := newLocalHTTPServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	b, err := hdfs.NewWebHDFSBackend(srv.URL, "wukong")
	if err != nil {
		t.Fatalf("NewWebHDFSBackend: %v", err)
	}
	if _, err := b.Delete(context.Background(), "/x", true); !errors.Is(err, hdfs.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}
