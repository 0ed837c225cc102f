package store

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
)

// ManifestFile names the committed generation. Writing it is the commit point:
// artifacts of any other generation are garbage.
const ManifestFile = "MANIFEST"

type ivfManifest struct {
	Generation uint64    `json:"generation"`
	Dimension  int       `json:"dimension"`
	State      string    `json:"state"`
	Count      int       `json:"count"`
	Index      string    `json:"index"`
	Slots      string    `json:"slots"`
	Metadata   string    `json:"metadata"`
	WrittenAt  time.Time `json:"written_at"`
}

// ivfIndexFile is the index structure: vectors, centroids, partition lists.
type ivfIndexFile struct {
	Generation uint64
	Dimension  int
	State      IndexState
	NextSlot   uint64
	Centroids  [][]float32
	Vectors    map[uint64][]float32
	Assign     map[uint64]int
}

// ivfSlotsFile maps slots to passage ids.
type ivfSlotsFile struct {
	Generation uint64
	Slots      map[uint64]int64
}

// ivfMetadataFile maps passage ids to metadata. JSON keeps Fields readable.
type ivfMetadataFile struct {
	Generation uint64                   `json:"generation"`
	Entries    map[int64]VectorMetadata `json:"entries"`
}

type artifactNames struct {
	index, slots, metadata string
}

func namesFor(gen uint64) artifactNames {
	return artifactNames{
		index:    fmt.Sprintf("index-%d.gob", gen),
		slots:    fmt.Sprintf("slots-%d.gob", gen),
		metadata: fmt.Sprintf("metadata-%d.json", gen),
	}
}

// persistIVF writes all three artifacts for gen, then the manifest, then
// removes artifacts older than the previous generation. The previous one is
// kept for read-only openers still loading it.
func persistIVF(dir string, d *ivfData, gen uint64, dimension int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	names := namesFor(gen)

	err := writeAtomic(filepath.Join(dir, names.index), func(w io.Writer) error {
		return gob.NewEncoder(w).Encode(ivfIndexFile{
			Generation: gen,
			Dimension:  dimension,
			State:      d.state,
			NextSlot:   d.nextSlot,
			Centroids:  d.centroids,
			Vectors:    d.vectors,
			Assign:     d.assign,
		})
	})
	if err == nil {
		err = writeAtomic(filepath.Join(dir, names.slots), func(w io.Writer) error {
			return gob.NewEncoder(w).Encode(ivfSlotsFile{Generation: gen, Slots: d.slots})
		})
	}
	if err == nil {
		err = writeAtomic(filepath.Join(dir, names.metadata), func(w io.Writer) error {
			return json.NewEncoder(w).Encode(ivfMetadataFile{Generation: gen, Entries: d.meta})
		})
	}
	if err == nil {
		err = writeAtomic(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(ivfManifest{
				Generation: gen,
				Dimension:  dimension,
				State:      d.state.String(),
				Count:      len(d.vectors),
				Index:      names.index,
				Slots:      names.slots,
				Metadata:   names.metadata,
				WrittenAt:  time.Now().UTC(),
			})
		})
	}
	if err != nil {
		for _, name := range []string{names.index, names.slots, names.metadata} {
			_ = os.Remove(filepath.Join(dir, name))
		}
		return err
	}

	keep := []artifactNames{names}
	if gen > 1 {
		keep = append(keep, namesFor(gen-1))
	}
	removeStaleArtifacts(dir, keep)
	return nil
}

// removeStaleArtifacts deletes artifacts of every generation not in live.
func removeStaleArtifacts(dir string, live []artifactNames) {
	var keep []string
	for _, n := range live {
		keep = append(keep, n.index, n.slots, n.metadata)
	}
	for _, pattern := range []string{"index-*.gob", "slots-*.gob", "metadata-*.json", "*.tmp"} {
		matches, _ := filepath.Glob(filepath.Join(dir, pattern))
		for _, path := range matches {
			if slices.Contains(keep, filepath.Base(path)) {
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("failed to remove stale index artifact",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		}
	}
}

// writeAtomic encodes into a temp file, syncs it, and renames it over path.
func writeAtomic(path string, encode func(w io.Writer) error) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(tmpPath), err)
	}

	bw := bufio.NewWriter(file)
	if err := encode(bw); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmpPath, path)
}

// snapshotAttempts bounds how often a read-only open chases a moving manifest.
const snapshotAttempts = 5

// loadIVF reads the committed generation. No manifest means a fresh index;
// anything else that cannot be read is ERR_205_CORRUPT_INDEX.
//
// A read-only open takes no lock, so a writer may commit while it reads. When
// loading fails and the manifest has moved on since, the new generation is
// loaded instead.
func loadIVF(cfg IVFConfig) (*ivfData, uint64, error) {
	for attempt := 1; ; attempt++ {
		m, err := readManifest(cfg.Dir)
		if err != nil {
			return nil, 0, err
		}
		if m == nil {
			return newIVFData(), 0, nil
		}
		d, err := loadGeneration(cfg, m)
		if err == nil {
			return d, m.Generation, nil
		}
		if !cfg.ReadOnly || attempt == snapshotAttempts {
			return nil, 0, err
		}
		current, mErr := readManifest(cfg.Dir)
		if mErr != nil || current == nil || current.Generation == m.Generation {
			return nil, 0, err
		}
		slog.Debug("index_generation_moved",
			slog.Uint64("from", m.Generation),
			slog.Uint64("to", current.Generation))
	}
}

// readManifest returns nil without error when no manifest exists.
func readManifest(dir string) (*ivfManifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, docqaerrors.CorruptIndexError("cannot read index manifest", err)
	}

	var m ivfManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, docqaerrors.CorruptIndexError("index manifest is not valid JSON", err)
	}
	return &m, nil
}

func loadGeneration(cfg IVFConfig, m *ivfManifest) (*ivfData, error) {
	if m.Dimension != cfg.Dimensions {
		return nil, docqaerrors.New(docqaerrors.ErrCodeDimensionMismatch,
			"persisted index dimension differs from configuration",
			ErrDimensionMismatch{Expected: cfg.Dimensions, Got: m.Dimension}).
			WithSuggestion("set vector.dimensions to match the embedding model or re-ingest into a new directory")
	}

	var idx ivfIndexFile
	if err := decodeFile(filepath.Join(cfg.Dir, m.Index), func(r io.Reader) error {
		return gob.NewDecoder(r).Decode(&idx)
	}); err != nil {
		return nil, err
	}
	var sl ivfSlotsFile
	if err := decodeFile(filepath.Join(cfg.Dir, m.Slots), func(r io.Reader) error {
		return gob.NewDecoder(r).Decode(&sl)
	}); err != nil {
		return nil, err
	}
	var md ivfMetadataFile
	if err := decodeFile(filepath.Join(cfg.Dir, m.Metadata), func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&md)
	}); err != nil {
		return nil, err
	}

	if idx.Generation != m.Generation || sl.Generation != m.Generation || md.Generation != m.Generation {
		return nil, docqaerrors.CorruptIndexError(
			fmt.Sprintf("index artifacts disagree on generation: manifest=%d index=%d slots=%d metadata=%d",
				m.Generation, idx.Generation, sl.Generation, md.Generation), nil)
	}

	return rebuildIVFData(idx, sl, md)
}

func decodeFile(path string, decode func(r io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return docqaerrors.CorruptIndexError(fmt.Sprintf("cannot open %s", filepath.Base(path)), err)
	}
	defer file.Close()

	if err := decode(bufio.NewReader(file)); err != nil {
		return docqaerrors.CorruptIndexError(fmt.Sprintf("cannot decode %s", filepath.Base(path)), err)
	}
	return nil
}

// rebuildIVFData checks that every slot has exactly one mapping and metadata
// entry and derives the reverse maps and partition lists.
func rebuildIVFData(idx ivfIndexFile, sl ivfSlotsFile, md ivfMetadataFile) (*ivfData, error) {
	d := newIVFData()
	d.state = idx.State
	d.nextSlot = idx.NextSlot
	d.centroids = idx.Centroids

	if d.state != StateUntrained && d.state != StateTrained {
		return nil, docqaerrors.CorruptIndexError(fmt.Sprintf("unknown index state %d", idx.State), nil)
	}
	if len(idx.Vectors) != len(sl.Slots) || len(sl.Slots) != len(md.Entries) {
		return nil, docqaerrors.CorruptIndexError(
			fmt.Sprintf("index has %d vectors, %d slot mappings, %d metadata entries",
				len(idx.Vectors), len(sl.Slots), len(md.Entries)), nil)
	}

	for slot, vec := range idx.Vectors {
		pid, ok := sl.Slots[slot]
		if !ok {
			return nil, docqaerrors.CorruptIndexError(fmt.Sprintf("slot %d has no passage mapping", slot), nil)
		}
		m, ok := md.Entries[pid]
		if !ok {
			return nil, docqaerrors.CorruptIndexError(fmt.Sprintf("passage %d has no metadata", pid), nil)
		}
		if len(vec) != idx.Dimension || slot >= idx.NextSlot {
			return nil, docqaerrors.CorruptIndexError(fmt.Sprintf("slot %d is malformed", slot), nil)
		}
		d.vectors[slot] = vec
		d.slots[slot] = pid
		d.passages[pid] = slot
		d.meta[pid] = m
	}
	if len(d.passages) != len(d.slots) {
		return nil, docqaerrors.CorruptIndexError("a passage is mapped to more than one slot", nil)
	}

	if d.state == StateTrained {
		if len(d.centroids) == 0 {
			return nil, docqaerrors.CorruptIndexError("trained index has no centroids", nil)
		}
		d.lists = make([][]uint64, len(d.centroids))
		for _, slot := range d.sortedSlots() {
			p, ok := idx.Assign[slot]
			if !ok || p < 0 || p >= len(d.centroids) {
				return nil, docqaerrors.CorruptIndexError(fmt.Sprintf("slot %d has no partition", slot), nil)
			}
			d.assign[slot] = p
			d.lists[p] = append(d.lists[p], slot)
		}
	}
	return d, nil
}
