// Package chunker implements the scheduler: the algorithm that decides
// whether the next chunk is a drift-priority triage chunk or a
// chronological fold, assembles its content within budget, pre-assigns
// identifiers, and writes the chunk artifacts plus the active-chunk
// lock.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rajeshgoli/engram/internal/atomicio"
	"github.com/rajeshgoli/engram/internal/config"
	"github.com/rajeshgoli/engram/internal/drift"
	"github.com/rajeshgoli/engram/internal/gitutil"
	"github.com/rajeshgoli/engram/internal/ids"
	"github.com/rajeshgoli/engram/internal/queue"
	"github.com/rajeshgoli/engram/internal/store"
)

// ChunkType identifies either a drift triage type or the fold fallback.
type ChunkType string

const TypeFold ChunkType = "fold"

// Plan is the result of a successful BuildChunk call: the artifacts
// written to disk and the lock now held.
type Plan struct {
	ChunkID        int
	ChunkType      string
	InputPath      string
	PromptPath     string
	ConsumedItems  []queue.Item
	Assignment     ids.Assignment
}

// Scheduler assembles chunks. It holds no mutable state of its own;
// everything persisted lives in the store or on disk via the lock file.
type Scheduler struct {
	Store    *store.Store
	Scanner  *drift.Scanner
	Alloc    *ids.Allocator
	Repo     *gitutil.Repository
	Config   *config.Config
}

func New(s *store.Store, scanner *drift.Scanner, alloc *ids.Allocator, repo *gitutil.Repository, cfg *config.Config) *Scheduler {
	return &Scheduler{Store: s, Scanner: scanner, Alloc: alloc, Repo: repo, Config: cfg}
}

// BuildChunk runs the full scheduling algorithm for chunkID (already
// reserved by the dispatcher's BeginDispatch call) and foldFrom (empty
// for steady-state scheduling).
func (s *Scheduler) BuildChunk(ctx context.Context, chunkID int, foldFrom string) (*Plan, error) {
	if err := checkActiveLock(ctx, s.Config, s.Repo); err != nil {
		return nil, err
	}

	budget := s.computeBudget()

	report, err := s.Scanner.Scan(ctx, s.Config, foldFrom)
	if err != nil {
		return nil, fmt.Errorf("chunker: drift scan: %w", err)
	}

	chunkType, registryHash, onCooldown := s.selectChunkType(ctx, report)
	_ = onCooldown

	plan := &Plan{ChunkID: chunkID, ChunkType: string(chunkType)}

	if chunkType == TypeFold {
		items, content, err := s.assembleFoldContent(budget, foldFrom)
		if err != nil {
			return nil, err
		}
		plan.ConsumedItems = items

		assignment, err := s.preAssignForFold(ctx, items)
		if err != nil {
			return nil, err
		}
		plan.Assignment = assignment

		content = foldContentHeader(assignment, foldFrom) + content
		if err := s.writeArtifacts(chunkID, string(chunkType), content, foldPromptInstructions(assignment)); err != nil {
			return nil, err
		}

		dateRange := ""
		if len(items) > 0 {
			dateRange = fmt.Sprintf("%s to %s", items[0].Date, items[len(items)-1].Date)
		}
		if err := appendManifestFile(s.Config, foldManifestEntry(chunkID, dateRange, len(items), len(content))); err != nil {
			return nil, err
		}
	} else {
		content := s.assembleTriageContent(chunkType, report, foldFrom)
		if err := s.writeArtifacts(chunkID, string(chunkType), content, triagePromptInstructions(chunkType)); err != nil {
			return nil, err
		}
		if err := appendManifestFile(s.Config, triageManifestEntry(chunkID, chunkType, report)); err != nil {
			return nil, err
		}
		if chunkType == ChunkType(drift.TypeWorkflowRepeat) {
			if err := s.Store.AppendManifestEntry(ctx, store.ManifestEntry{
				ChunkID:              int64(chunkID),
				ChunkType:            string(chunkType),
				WorkflowRegistryHash: registryHash,
			}); err != nil {
				return nil, fmt.Errorf("chunker: append manifest entry: %w", err)
			}
		}
	}

	plan.InputPath = inputPath(s.Config, chunkID)
	plan.PromptPath = promptPath(s.Config, chunkID)

	if err := writeLock(s.Config, ActiveLock{
		ChunkID:    chunkID,
		ChunkType:  string(chunkType),
		InputPath:  plan.InputPath,
		PromptPath: plan.PromptPath,
		CreatedAt:  nowRFC3339(),
	}); err != nil {
		return nil, fmt.Errorf("chunker: write active lock: %w", err)
	}

	return plan, nil
}

// computeBudget applies spec.md §4.6 step 2's formula, capped by
// max_chunk_chars.
func (s *Scheduler) computeBudget() int {
	livingSize := 0
	for _, p := range s.Config.Docs.Living {
		full := filepath.Join(s.Config.ProjectRoot, p)
		if info, err := os.Stat(full); err == nil {
			livingSize += int(info.Size())
		}
	}
	budget := s.Config.Budget.ContextLimitChars - livingSize - s.Config.Budget.InstructionsOverhead
	if budget > s.Config.Budget.MaxChunkChars {
		budget = s.Config.Budget.MaxChunkChars
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

// selectChunkType runs drift types in priority order, applying the
// workflow_synthesis cooldown filter, and falls through to chronological
// fold if every triggered type is filtered (or nothing triggered).
func (s *Scheduler) selectChunkType(ctx context.Context, report drift.Report) (ChunkType, string, bool) {
	registryHash := s.currentWorkflowRegistryHash()

	for _, t := range drift.PriorityOrder {
		if !report.Triggered(t) {
			continue
		}
		if t == drift.TypeWorkflowRepeat {
			if s.onCooldown(ctx, registryHash) {
				continue
			}
		}
		return ChunkType(t), registryHash, false
	}
	return TypeFold, registryHash, false
}

func (s *Scheduler) currentWorkflowRegistryHash() string {
	path := livingDocPathFor(s.Config, "workflows")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func livingDocPathFor(cfg *config.Config, stem string) string {
	for _, p := range cfg.Docs.Living {
		if filepath.Base(p) == stem+".md" {
			return filepath.Join(cfg.ProjectRoot, p)
		}
	}
	return filepath.Join(cfg.ProjectRoot, "docs", stem+".md")
}

// onCooldown implements the cooldown filter: skip workflow_synthesis if
// the most recent manifest entry of that type used an identical
// registry hash and the chunk-id distance is within the configured
// cooldown window.
func (s *Scheduler) onCooldown(ctx context.Context, registryHash string) bool {
	latest, err := s.Store.LatestManifestEntry(ctx, string(drift.TypeWorkflowRepeat))
	if err != nil || latest == nil {
		return false
	}
	if latest.WorkflowRegistryHash != registryHash {
		return false
	}
	nextChunkID, err := s.Store.PeekCounter(ctx, "CHUNK")
	if err != nil {
		return false
	}
	distance := nextChunkID - int(latest.ChunkID)
	return distance >= 0 && distance < s.Config.Dispatch.WorkflowCooldownChunks
}

func (s *Scheduler) writeArtifacts(chunkID int, chunkType, content, prompt string) error {
	if err := atomicio.WriteFile(inputPath(s.Config, chunkID), []byte(content), 0o644); err != nil {
		return fmt.Errorf("chunker: write chunk input: %w", err)
	}
	if err := atomicio.WriteFile(promptPath(s.Config, chunkID), []byte(prompt), 0o644); err != nil {
		return fmt.Errorf("chunker: write chunk prompt: %w", err)
	}
	return nil
}
