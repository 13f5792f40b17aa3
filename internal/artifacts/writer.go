// Package artifacts implements the deterministic, hash-stable artifact
// emission required of every backtest run: append-only per-stream records
// plus a manifest of running SHA-256 hashes over each stream's canonical
// serialization.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/atlas-desktop/trading-runtime/internal/core"
	"go.uber.org/zap"
)

// canonicalTs truncates to microsecond precision and formats RFC-3339 UTC,
// matching §4.7's "no environment-dependent fields" requirement.
func canonicalTs(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format("2006-01-02T15:04:05.000000Z")
}

// record is the stable-field-order envelope written per stream entry.
type record struct {
	Ts      string `json:"ts"`
	Payload any    `json:"payload"`
}

// canonicalize serializes a record with sorted map keys and stable field
// order; json.Marshal already sorts map[string]any keys, which is sufficient
// here because every payload uses either structs (fixed field order) or
// map[string]string/any built from a fixed key set.
func canonicalize(ts time.Time, payload any) ([]byte, error) {
	return json.Marshal(record{Ts: canonicalTs(ts), Payload: payload})
}

// Writer maintains one append-only stream per artifact kind and a running
// SHA-256 digest per stream.
type Writer struct {
	logger  *zap.Logger
	runDir  string
	streams map[core.ArtifactStream][][]byte
	order   []core.ArtifactStream
}

// New builds a Writer that will materialize its streams under runDir when
// Flush is called. runDir is created by Flush, not at construction time, so
// a Writer that is never flushed never touches the filesystem; Flush writes
// the manifest even when no event was appended.
func New(logger *zap.Logger, runDir string) *Writer {
	return &Writer{
		logger:  logger,
		runDir:  runDir,
		streams: make(map[core.ArtifactStream][][]byte),
	}
}

// Append records one event onto its stream's in-memory buffer.
func (w *Writer) Append(event core.ArtifactEvent) error {
	buf, err := canonicalize(event.Ts, event.Payload)
	if err != nil {
		return err
	}
	if _, seen := w.streams[event.Stream]; !seen {
		w.order = append(w.order, event.Stream)
	}
	w.streams[event.Stream] = append(w.streams[event.Stream], buf)
	return nil
}

// Manifest is the per-stream SHA-256 hash set emitted alongside the run.
type Manifest struct {
	StreamHashes map[core.ArtifactStream]string `json:"stream_hashes"`
}

// BuildManifest computes the running SHA-256 over the concatenation of each
// stream's serialized events, in append order. Two runs over identical
// inputs, strategy bundle, and policy merge output must yield identical
// manifests — there is no wall-clock, random, or host-dependent input here.
func (w *Writer) BuildManifest() Manifest {
	m := Manifest{StreamHashes: make(map[core.ArtifactStream]string)}
	streams := make([]core.ArtifactStream, 0, len(w.streams))
	for s := range w.streams {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i] < streams[j] })

	for _, s := range streams {
		h := sha256.New()
		for _, entry := range w.streams[s] {
			h.Write(entry)
		}
		m.StreamHashes[s] = hex.EncodeToString(h.Sum(nil))
	}
	return m
}

// Flush materializes every stream and the manifest to files under runDir.
func (w *Writer) Flush() error {
	if err := os.MkdirAll(w.runDir, 0o755); err != nil {
		return err
	}
	for stream, entries := range w.streams {
		path := filepath.Join(w.runDir, string(stream)+".jsonl")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if _, err := f.Write(append(entry, '\n')); err != nil {
				f.Close()
				return err
			}
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	manifest := w.BuildManifest()
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(w.runDir, "manifest.json"), manifestBytes, 0o644); err != nil {
		return err
	}
	w.logger.Info("flushed artifacts", zap.String("run_dir", w.runDir), zap.Int("streams", len(w.streams)))
	return nil
}

// Entries returns the raw serialized entries for a stream, for tests that
// want to inspect what was written without reading it back off disk.
func (w *Writer) Entries(stream core.ArtifactStream) [][]byte {
	return w.streams[stream]
}
