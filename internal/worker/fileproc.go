package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/geoforge/chunkplane/internal/work"
)

// FileProcessor writes each chunk's geodata plus a manifest under its own
// directory. It is the default processor; heavier pipelines plug in their
// own Processor.
type FileProcessor struct {
	root string
}

func NewFileProcessor(root string) (*FileProcessor, error) {
	if root == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileProcessor{root: root}, nil
}

type manifest struct {
	ChunkID     string        `json:"chunk_id"`
	BBox        string        `json:"bbox"`
	Settings    work.Settings `json:"settings"`
	PayloadFile string        `json:"payload_file"`
	PayloadSize int           `json:"payload_size"`
	WrittenAt   time.Time     `json:"written_at"`
}

func (p *FileProcessor) Process(ctx context.Context, unit work.Unit, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("empty payload for %s", unit.ChunkID)
	}

	dir := filepath.Join(p.root, unit.ChunkID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "geodata.json"), payload, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}

	m := manifest{
		ChunkID:     unit.ChunkID,
		BBox:        unit.BBox.String(),
		Settings:    unit.Settings,
		PayloadFile: "geodata.json",
		PayloadSize: len(payload),
		WrittenAt:   time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return dir, nil
}
