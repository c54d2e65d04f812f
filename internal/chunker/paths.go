package chunker

import (
	"fmt"
	"path/filepath"

	"github.com/rajeshgoli/engram/internal/config"
)

func queuePath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "queue.jsonl")
}

func inventoryPath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "inventory.jsonl")
}

func chunksDir(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "chunks")
}

func inputPath(cfg *config.Config, chunkID int) string {
	return filepath.Join(chunksDir(cfg), fmt.Sprintf("chunk_%03d_input.md", chunkID))
}

func promptPath(cfg *config.Config, chunkID int) string {
	return filepath.Join(chunksDir(cfg), fmt.Sprintf("chunk_%03d_prompt.txt", chunkID))
}

func manifestFilePath(cfg *config.Config) string {
	return filepath.Join(cfg.EngramDir(), "chunks_manifest.yaml")
}
