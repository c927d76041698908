package devseed

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	seed := `[
		{"path":"/xiyou","type":"dir","permission":"755"},
		{"path":"/xiyou/huaguoshan/test.txt","text":"monkey king","block_size":"4KB"},
		{"path":"/bin.dat","base64":"AAEC"}
	]`
	file := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(file, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	entries, err := Load(file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if !entries[0].IsDir() || entries[1].IsDir() {
		t.Fatalf("unexpected entry kinds: %#v", entries[:2])
	}
	text, err := entries[1].Data()
	if err != nil || string(text) != "monkey king" {
		t.Fatalf("unexpected text data %q err=%v", text, err)
	}
	bs, err := entries[1].BlockSizeBytes()
	if err != nil || bs != 4096 {
		t.Fatalf("unexpected block size %d err=%v", bs, err)
	}
	bin, err := entries[2].Data()
	if err != nil || len(bin) != 3 || bin[2] != 2 {
		t.Fatalf("unexpected binary data %v err=%v", bin, err)
	}
}

func TestLoadRejectsMissingPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(file, []byte(`[{"text":"orphan"}]`), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected error for entry without path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
