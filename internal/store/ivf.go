package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	docqaerrors "github.com/Aman-CERP/docqa/internal/errors"
)

var (
	// ErrIndexClosed is returned by operations on a closed index.
	ErrIndexClosed = errors.New("vector index is closed")

	// ErrIndexNotOpen is returned before Open has loaded the index.
	ErrIndexNotOpen = errors.New("vector index is not open")

	// ErrReadOnly is returned by mutations on a read-only index.
	ErrReadOnly = errors.New("vector index is read-only")
)

// IVFIndex is an inverted-file index with flat (exact) scoring inside each
// partition. Until NList vectors exist it scans every vector; once that many
// have been added it trains NList partitions with k-means and never retrains.
//
// Each mutation builds a new ivfData, persists it, and only then swaps it in,
// so readers never see a slot without its mapping or metadata.
type IVFIndex struct {
	mu         sync.RWMutex
	cfg        IVFConfig
	data       *ivfData
	generation uint64
	lock       *DirLock
	closed     bool

	// coder/hnsw graphs are not safe for concurrent search.
	quantizerMu sync.Mutex
}

// ivfData is one immutable version of the index contents.
type ivfData struct {
	state    IndexState
	nextSlot uint64
	vectors  map[uint64][]float32
	slots    map[uint64]int64 // slot -> passage id
	passages map[int64]uint64 // passage id -> slot
	meta     map[int64]VectorMetadata

	centroids [][]float32
	lists     [][]uint64     // partition -> slots
	assign    map[uint64]int // slot -> partition
	quantizer *hnsw.Graph[int]
}

var _ VectorIndex = (*IVFIndex)(nil)

// NewIVFIndex creates an index in the Uninitialized state. Call Open before use.
func NewIVFIndex(cfg IVFConfig) (*IVFIndex, error) {
	def := DefaultIVFConfig(cfg.Dir, cfg.Dimensions)
	if cfg.Dimensions <= 0 {
		return nil, docqaerrors.ConfigError(fmt.Sprintf("vector dimensions must be positive, got %d", cfg.Dimensions), nil)
	}
	if cfg.NList == 0 {
		cfg.NList = def.NList
	}
	if cfg.NProbe == 0 {
		cfg.NProbe = def.NProbe
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.NList < 1 || cfg.NProbe < 1 || cfg.NProbe > cfg.NList {
		return nil, docqaerrors.ConfigError(
			fmt.Sprintf("invalid partitioning: nlist=%d nprobe=%d (need 1 <= nprobe <= nlist)", cfg.NList, cfg.NProbe), nil)
	}

	return &IVFIndex{cfg: cfg}, nil
}

// OpenIVFIndex creates an index and loads any persisted state from cfg.Dir.
func OpenIVFIndex(cfg IVFConfig) (*IVFIndex, error) {
	x, err := NewIVFIndex(cfg)
	if err != nil {
		return nil, err
	}
	if err := x.Open(); err != nil {
		return nil, err
	}
	return x, nil
}

// Open loads the last committed generation. A directory without a manifest
// starts empty and untrained.
//
// A writer holds the directory lock until Close. A read-only open takes no
// lock and works on the generation committed when it opened, so it can run
// while a writer is ingesting.
func (x *IVFIndex) Open() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return ErrIndexClosed
	}
	if x.data != nil {
		return nil
	}

	if x.cfg.Dir == "" {
		x.data = newIVFData()
		return nil
	}

	var lock *DirLock
	if !x.cfg.ReadOnly {
		lock = NewDirLock(x.cfg.Dir)
		if err := lock.TryAcquire(); err != nil {
			return err
		}
	}

	data, gen, err := loadIVF(x.cfg)
	if err != nil {
		if lock != nil {
			_ = lock.Release()
		}
		return err
	}

	x.lock = lock
	x.data = data
	x.generation = gen
	if data.state == StateTrained {
		data.quantizer = buildQuantizer(data.centroids, x.cfg.NProbe)
	}

	slog.Info("vector_index_opened",
		slog.String("dir", x.cfg.Dir),
		slog.Int("vectors", len(data.vectors)),
		slog.String("state", data.state.String()),
		slog.Uint64("generation", gen),
		slog.Bool("read_only", x.cfg.ReadOnly))
	return nil
}

// Add inserts vectors under fresh slots. A passage id already indexed has its
// old slot dropped first. Crossing the NList threshold trains the partitions
// on every live vector plus this batch before the batch is inserted.
// Returns only after the new state is on disk.
func (x *IVFIndex) Add(ctx context.Context, vectors [][]float32, passageIDs []int64, metas []VectorMetadata) error {
	if len(vectors) != len(passageIDs) || len(vectors) != len(metas) {
		return docqaerrors.New(docqaerrors.ErrCodeLengthMismatch,
			fmt.Sprintf("vectors, passage ids and metadata differ in length: %d, %d, %d",
				len(vectors), len(passageIDs), len(metas)), nil)
	}
	if len(vectors) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != x.cfg.Dimensions {
			return ErrDimensionMismatch{Expected: x.cfg.Dimensions, Got: len(v)}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.writable(); err != nil {
		return err
	}

	next := x.data.clone()
	batch := make([][]float32, len(vectors))
	for i, v := range vectors {
		batch[i] = cloneVector(v)
		next.remove(passageIDs[i])
	}

	if next.state == StateUntrained && len(next.vectors)+len(batch) >= x.cfg.NList {
		next.train(batch, x.cfg)
		slog.Info("vector_index_trained",
			slog.Int("vectors", len(next.vectors)+len(batch)),
			slog.Int("nlist", len(next.centroids)))
	}

	for i, v := range batch {
		next.remove(passageIDs[i])
		m := metas[i]
		m.PassageID = passageIDs[i]
		next.insert(next.nextSlot, v, m)
		next.nextSlot++
	}

	return x.commit(next)
}

// Search returns up to k passages ranked by ascending L2 distance, ties by slot.
// When k covers the whole index every partition is scanned.
func (x *IVFIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if err := x.readable(); err != nil {
		return nil, err
	}
	if len(query) != x.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: x.cfg.Dimensions, Got: len(query)}
	}

	d := x.data
	if k <= 0 || len(d.vectors) == 0 {
		return []*VectorResult{}, nil
	}

	var candidates []uint64
	if d.state == StateTrained && k < len(d.vectors) {
		for _, p := range x.probe(d, query) {
			candidates = append(candidates, d.lists[p]...)
		}
	} else {
		candidates = make([]uint64, 0, len(d.vectors))
		for slot := range d.vectors {
			candidates = append(candidates, slot)
		}
	}

	type hit struct {
		slot     uint64
		distance float32
	}
	hits := make([]hit, 0, len(candidates))
	for _, slot := range candidates {
		if _, ok := d.slots[slot]; !ok {
			continue
		}
		vec, ok := d.vectors[slot]
		if !ok {
			continue
		}
		hits = append(hits, hit{slot: slot, distance: hnsw.EuclideanDistance(query, vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].slot < hits[j].slot
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]*VectorResult, 0, len(hits))
	for _, h := range hits {
		pid := d.slots[h.slot]
		m := d.meta[pid]
		m.Fields = maps.Clone(m.Fields)
		results = append(results, &VectorResult{
			PassageID: pid,
			Distance:  h.distance,
			Score:     1 / (1 + h.distance),
			Metadata:  m,
		})
	}
	return results, nil
}

// probe picks the NProbe partitions nearest to q. The HNSW graph over the
// centroids answers first; an exact scan covers a short answer.
func (x *IVFIndex) probe(d *ivfData, q []float32) []int {
	nprobe := min(x.cfg.NProbe, len(d.centroids))

	if d.quantizer != nil {
		x.quantizerMu.Lock()
		nodes := d.quantizer.Search(q, nprobe)
		x.quantizerMu.Unlock()

		if len(nodes) >= nprobe {
			out := make([]int, nprobe)
			for i := range out {
				out[i] = nodes[i].Key
			}
			return out
		}
	}

	order := make([]int, len(d.centroids))
	dist := make([]float64, len(d.centroids))
	for i, c := range d.centroids {
		order[i] = i
		dist[i] = squaredL2(q, c)
	}
	sort.SliceStable(order, func(i, j int) bool {
		return dist[order[i]] < dist[order[j]]
	})
	return order[:nprobe]
}

// DeleteByDocument drops every vector whose metadata names documentID.
// No matching vectors is a no-op.
func (x *IVFIndex) DeleteByDocument(ctx context.Context, documentID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.writable(); err != nil {
		return 0, err
	}

	var victims []int64
	for pid, m := range x.data.meta {
		if m.DocumentID == documentID {
			victims = append(victims, pid)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	next := x.data.clone()
	for _, pid := range victims {
		next.remove(pid)
	}
	if err := x.commit(next); err != nil {
		return 0, err
	}

	slog.Debug("vector_document_deleted",
		slog.Int64("document_id", documentID),
		slog.Int("vectors", len(victims)))
	return len(victims), nil
}

// DeletePassages drops the vectors of the given passages and returns how
// many existed.
func (x *IVFIndex) DeletePassages(ctx context.Context, passageIDs []int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.writable(); err != nil {
		return 0, err
	}

	next := x.data.clone()
	removed := 0
	for _, pid := range passageIDs {
		if next.remove(pid) {
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := x.commit(next); err != nil {
		return 0, err
	}
	return removed, nil
}

// PassageIDs returns every indexed passage id in ascending order.
func (x *IVFIndex) PassageIDs() []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.readable() != nil {
		return nil
	}
	ids := slices.Collect(maps.Keys(x.data.passages))
	slices.Sort(ids)
	return ids
}

// Stats reports size and partitioning.
func (x *IVFIndex) Stats() VectorStats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	stats := VectorStats{
		Dimension:  x.cfg.Dimensions,
		NList:      x.cfg.NList,
		NProbe:     x.cfg.NProbe,
		State:      StateUninitialized.String(),
		Generation: x.generation,
	}
	if x.data == nil || x.closed {
		return stats
	}
	stats.TotalVectors = len(x.data.vectors)
	stats.Trained = x.data.state == StateTrained
	stats.State = x.data.state.String()
	return stats
}

// Flush writes the current state as a new generation.
func (x *IVFIndex) Flush() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed || x.data == nil || x.cfg.ReadOnly || x.cfg.Dir == "" {
		return nil
	}
	return x.commit(x.data)
}

// Close releases the directory lock. Further calls return ErrIndexClosed.
func (x *IVFIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	x.data = nil

	if x.lock != nil {
		return x.lock.Release()
	}
	return nil
}

// commit persists next and swaps it in. On failure the previous state stays live.
func (x *IVFIndex) commit(next *ivfData) error {
	if x.cfg.Dir != "" {
		gen := x.generation + 1
		if err := persistIVF(x.cfg.Dir, next, gen, x.cfg.Dimensions); err != nil {
			return docqaerrors.New(docqaerrors.ErrCodeStoreFailed, "failed to persist vector index", err)
		}
		x.generation = gen
	}
	x.data = next
	return nil
}

func (x *IVFIndex) readable() error {
	if x.closed {
		return ErrIndexClosed
	}
	if x.data == nil {
		return ErrIndexNotOpen
	}
	return nil
}

func (x *IVFIndex) writable() error {
	if err := x.readable(); err != nil {
		return err
	}
	if x.cfg.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

func newIVFData() *ivfData {
	return &ivfData{
		state:    StateUntrained,
		vectors:  make(map[uint64][]float32),
		slots:    make(map[uint64]int64),
		passages: make(map[int64]uint64),
		meta:     make(map[int64]VectorMetadata),
		assign:   make(map[uint64]int),
	}
}

// clone copies the mutable maps and lists. Vectors, centroids and the
// quantizer are never modified in place and are shared.
func (d *ivfData) clone() *ivfData {
	out := &ivfData{
		state:     d.state,
		nextSlot:  d.nextSlot,
		vectors:   maps.Clone(d.vectors),
		slots:     maps.Clone(d.slots),
		passages:  maps.Clone(d.passages),
		meta:      maps.Clone(d.meta),
		centroids: d.centroids,
		assign:    maps.Clone(d.assign),
		quantizer: d.quantizer,
	}
	if d.lists != nil {
		out.lists = make([][]uint64, len(d.lists))
		for i, l := range d.lists {
			out.lists[i] = slices.Clone(l)
		}
	}
	return out
}

func (d *ivfData) insert(slot uint64, vec []float32, m VectorMetadata) {
	d.vectors[slot] = vec
	d.slots[slot] = m.PassageID
	d.passages[m.PassageID] = slot
	d.meta[m.PassageID] = m

	if d.state == StateTrained {
		p := nearestCentroid(d.centroids, vec)
		d.assign[slot] = p
		d.lists[p] = append(d.lists[p], slot)
	}
}

func (d *ivfData) remove(passageID int64) bool {
	slot, ok := d.passages[passageID]
	if !ok {
		return false
	}
	delete(d.vectors, slot)
	delete(d.slots, slot)
	delete(d.passages, passageID)
	delete(d.meta, passageID)

	if p, ok := d.assign[slot]; ok {
		if i := slices.Index(d.lists[p], slot); i >= 0 {
			d.lists[p] = slices.Delete(d.lists[p], i, i+1)
		}
		delete(d.assign, slot)
	}
	return true
}

// train clusters the live vectors (in slot order) plus batch and files every
// live vector under its nearest centroid.
func (d *ivfData) train(batch [][]float32, cfg IVFConfig) {
	live := d.sortedSlots()
	data := make([][]float32, 0, len(live)+len(batch))
	for _, slot := range live {
		data = append(data, d.vectors[slot])
	}
	data = append(data, batch...)

	d.centroids = trainKMeans(data, cfg.NList, cfg.MaxIterations, cfg.Seed)
	d.lists = make([][]uint64, len(d.centroids))
	d.assign = make(map[uint64]int, len(live))
	for _, slot := range live {
		p := nearestCentroid(d.centroids, d.vectors[slot])
		d.assign[slot] = p
		d.lists[p] = append(d.lists[p], slot)
	}
	d.quantizer = buildQuantizer(d.centroids, cfg.NProbe)
	d.state = StateTrained
}

func (d *ivfData) sortedSlots() []uint64 {
	out := make([]uint64, 0, len(d.vectors))
	for slot := range d.vectors {
		out = append(out, slot)
	}
	slices.Sort(out)
	return out
}

// buildQuantizer indexes the centroids in an HNSW graph keyed by partition.
func buildQuantizer(centroids [][]float32, nprobe int) *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.Distance = hnsw.EuclideanDistance
	g.M = 16
	g.EfSearch = max(2*nprobe, 20)
	g.Ml = 0.25
	for i, c := range centroids {
		g.Add(hnsw.MakeNode(i, c))
	}
	return g
}
