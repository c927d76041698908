package webhdfsapi

import (
	"os"
	"testing"
)

func TestExtractRemoteException(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		ok        bool
		exception string
	}{
		{
			name:      "hadoop error body",
			body:      `{"RemoteException":{"exception":"FileNotFoundException","javaClassName":"java.io.FileNotFoundException","message":"File does not exist: /foo"}}`,
			ok:        true,
			exception: "FileNotFoundException",
		},
		{
			name:      "class name only",
			body:      `{"RemoteException":{"javaClassName":"org.apache.hadoop.fs.PathIsNotEmptyDirectoryException","message":"/a is non empty"}}`,
			ok:        true,
			exception: "PathIsNotEmptyDirectoryException",
		},
		{
			name: "plain text",
			body: `not found`,
		},
		{
			name: "unrelated json",
			body: `{"boolean":true}`,
		},
		{
			name: "empty body",
			body: ``,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ex, ok := ExtractRemoteException([]byte(tc.body))
			if ok != tc.ok {
				t.Fatalf("ExtractRemoteException ok mismatch: expected %v, got %v", tc.ok, ok)
			}
			if ok && ex.Exception != tc.exception {
				t.Fatalf("exception mismatch: expected %q, got %q", tc.exception, ex.Exception)
			}
		})
	}
}

func TestDecodeDirectoryListing(t *testing.T) {
	body := []byte(`{"DirectoryListing":{"partialListing":{"FileStatuses":{"FileStatus":[
		{"pathSuffix":"a.txt","type":"FILE","length":24930,"blockSize":134217728,"permission":"644","replication":3},
		{"pathSuffix":"sub","type":"DIRECTORY","length":0,"permission":"755"}
	]}},"remainingEntries":2}}`)
	var listing DirectoryListingResponse
	if err := Decode(body, &listing); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	entries := listing.DirectoryListing.PartialListing.FileStatuses.FileStatus
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].PathSuffix != "a.txt" || entries[0].Length != 24930 || entries[0].Type != TypeFile {
		t.Fatalf("unexpected first entry: %#v", entries[0])
	}
	if listing.DirectoryListing.RemainingEntries != 2 {
		t.Fatalf("unexpected remaining entries: %d", listing.DirectoryListing.RemainingEntries)
	}

	var empty BooleanResponse
	if err := Decode(nil, &empty); err != nil {
		t.Fatalf("Decode nil body: %v", err)
	}
	if err := Decode([]byte(`{"boolean":`), &empty); err == nil {
		t.Fatalf("expected error for truncated body")
	}
}

func TestPermissionRoundTrip(t *testing.T) {
	tests := []struct {
		raw  string
		mode os.FileMode
	}{
		{"755", 0o755},
		{"644", 0o644},
		{"1777", 0o777 | os.ModeSticky},
		{"0", 0},
	}
	for _, tc := range tests {
		mode, err := ParsePermission(tc.raw)
		if err != nil {
			t.Fatalf("ParsePermission(%q): %v", tc.raw, err)
		}
		if mode != tc.mode {
			t.Fatalf("ParsePermission(%q): expected %v, got %v", tc.raw, tc.mode, mode)
		}
		if got := FormatPermission(mode); got != tc.raw {
			t.Fatalf("FormatPermission(%v): expected %q, got %q", mode, tc.raw, got)
		}
	}
	if _, err := ParsePermission("9z"); err == nil {
		t.Fatalf("expected error for invalid permission")
	}
}
