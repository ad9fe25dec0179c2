// Package fingerprint implements the File Fingerprinter and the bounded
// Fingerprint Cache.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PaulM5406/pytest-difftest/internal/block"
	"github.com/PaulM5406/pytest-difftest/internal/logging"
)

// maxBatchConcurrency bounds the work-stealing pool used by Batch.
const maxBatchConcurrency = 8

// Fingerprint is the per-file record used for change detection.
type Fingerprint struct {
	// Filename is project-root-relative, forward-slash normalized.
	Filename string
	// ContentHash is the SHA-256 hex digest of the file bytes.
	ContentHash string
	// MTime is seconds since epoch, sub-millisecond precision preserved.
	MTime float64
	// MethodChecksums is one checksum per block in source order, including
	// "<module>".
	MethodChecksums []int32
	// Blocks is the full block list this fingerprint was derived from. Kept
	// alongside MethodChecksums so the runner-plugin surface can map a
	// covered line number back to a block name without re-parsing.
	Blocks []block.Block
}

// ChecksumSet returns MethodChecksums collapsed to a set, matching the
// "multiset-collapsed set" comparison the Change Detector performs.
func (f Fingerprint) ChecksumSet() map[int32]struct{} {
	set := make(map[int32]struct{}, len(f.MethodChecksums))
	for _, c := range f.MethodChecksums {
		set[c] = struct{}{}
	}

	return set
}

// Fingerprinter reads files from disk and produces Fingerprints.
type Fingerprinter struct {
	projectRoot string
	cache       *Cache
}

// New creates a Fingerprinter rooted at projectRoot, consulting cache before
// any parse.
func New(projectRoot string, cache *Cache) *Fingerprinter {
	return &Fingerprinter{projectRoot: projectRoot, cache: cache}
}

// One computes the Fingerprint for a single file, using a fresh Extractor.
// Prefer Batch for multiple files - it parallelizes I/O and parsing across
// files (it still builds one Extractor per file).
func (fp *Fingerprinter) One(absPath string) (Fingerprint, error) {
	extractor := block.NewExtractor()
	defer extractor.Close()

	return fp.compute(absPath, extractor)
}

// Batch fingerprints paths in parallel, preserving input order in the
// output slice. Concurrency is bounded by an errgroup-backed semaphore, the
// same fan-out idiom used for parallel gathering elsewhere in this stack.
func (fp *Fingerprinter) Batch(ctx context.Context, absPaths []string) ([]Fingerprint, error) {
	results := make([]Fingerprint, len(absPaths))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxBatchConcurrency)

	for i, p := range absPaths {
		i, p := i, p

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			extractor := block.NewExtractor()
			defer extractor.Close()

			f, err := fp.compute(p, extractor)
			if err != nil {
				return fmt.Errorf("fingerprint %s: %w", p, err)
			}

			results[i] = f

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (fp *Fingerprinter) compute(absPath string, extractor *block.Extractor) (Fingerprint, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("stat: %w", err)
	}

	source, err := os.ReadFile(absPath)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("read: %w", err)
	}

	contentHash := sha256Hex(source)

	if fp.cache != nil {
		if cached, ok := fp.cache.Get(absPath, contentHash); ok {
			logging.Get(logging.CategoryFingerprint).Debug("cache hit for %s", absPath)

			cached.MTime = mtimeSeconds(info.ModTime())

			return cached, nil
		}
	}

	blocks := extractor.Extract(absPath, source)

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].StartLine < blocks[j].StartLine })

	checksums := make([]int32, len(blocks))
	for i, b := range blocks {
		checksums[i] = b.Checksum
	}

	relPath, err := filepath.Rel(fp.projectRoot, absPath)
	if err != nil {
		relPath = absPath
	}

	result := Fingerprint{
		Filename:        filepath.ToSlash(relPath),
		ContentHash:     contentHash,
		MTime:           mtimeSeconds(info.ModTime()),
		MethodChecksums: checksums,
		Blocks:          blocks,
	}

	if fp.cache != nil {
		fp.cache.Put(absPath, contentHash, result)
	}

	logging.Get(logging.CategoryFingerprint).Debug(
		"fingerprinted %s: %d blocks, hash=%s", result.Filename, len(blocks), contentHash[:12])

	return result, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}

func mtimeSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
