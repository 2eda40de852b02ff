package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/geoforge/chunkplane/internal/model"
	"github.com/geoforge/chunkplane/internal/work"
)

func TestFileProcessor(t *testing.T) {
	root := t.TempDir()
	p, err := NewFileProcessor(filepath.Join(root, "out"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	bb, _ := model.NewBBox(40.0, -74.0, 40.01, -73.99)
	unit := work.Unit{ChunkID: "chunk_0_0", BBox: bb, Settings: work.DefaultSettings()}
	payload := []byte(`{"elements":[{"type":"node"}]}`)

	loc, err := p.Process(context.Background(), unit, payload)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(loc, "geodata.json"))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatal("payload mismatch")
	}

	raw, err := os.ReadFile(filepath.Join(loc, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.ChunkID != "chunk_0_0" || m.PayloadSize != len(payload) {
		t.Fatalf("manifest = %+v", m)
	}
	if m.BBox != bb.String() {
		t.Fatalf("manifest bbox = %q", m.BBox)
	}
}

func TestFileProcessor_RejectsEmptyPayload(t *testing.T) {
	p, err := NewFileProcessor(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	bb, _ := model.NewBBox(40.0, -74.0, 40.01, -73.99)
	if _, err := p.Process(context.Background(), work.Unit{ChunkID: "chunk_0_0", BBox: bb}, nil); err == nil {
		t.Fatal("empty payload must be rejected")
	}
}
