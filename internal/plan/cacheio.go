package plan

import (
	"somas/internal/diag"
	"somas/internal/plancache"
)

// tryCachedLayout loads and validates a cached layout. Every structural
// count and every tensor's recorded shape must match the freshly built
// model before the offsets are trusted; any mismatch falls back to full
// recomputation with a warning. Returns the cached footprint on success.
func (p *Planner) tryCachedLayout(hashID string, bag *diag.Bag) (uint64, bool) {
	m := p.model
	layout, err := plancache.Load(p.opts.CacheDir, uint32(m.GraphID), hashID)
	if err != nil {
		bag.Add(diag.Warnf(diag.CacheOpenFailed, "layout cache read: %v", err))
		return 0, false
	}
	if layout == nil {
		return 0, false
	}

	if layout.GraphID != uint32(m.GraphID) || layout.HashID != hashID {
		bag.Add(diag.Warnf(diag.CacheVerifyMismatch,
			"cached layout keyed (%d, %s), wanted (%d, %s)", layout.GraphID, layout.HashID, m.GraphID, hashID))
		return 0, false
	}
	if layout.NodeCount != len(m.Nodes) ||
		layout.TensorCount != len(m.Tensors) ||
		layout.ContiguousCount != len(m.Contiguous) ||
		layout.RefNodeCount != len(m.RefGroups) ||
		layout.StreamCount != len(m.Streams) ||
		layout.StreamGroupCount != len(m.StreamGroups) {
		bag.Add(diag.Warnf(diag.CacheVerifyMismatch,
			"cached layout structure differs from graph %d, recomputing", m.GraphID))
		return 0, false
	}
	if len(layout.Tensors) != len(m.Tensors) {
		bag.Add(diag.Warnf(diag.CacheVerifyMismatch,
			"cached layout has %d tensor records, model has %d", len(layout.Tensors), len(m.Tensors)))
		return 0, false
	}
	for i, rec := range layout.Tensors {
		t := m.Tensors[i]
		if rec.TensorID != int(t.ID) ||
			rec.Size != t.AlignedSize ||
			rec.OriSize != t.OriginalSize ||
			rec.LifelongValue != int(t.Lifelong) ||
			rec.LifeStart != int(t.Life.Start) ||
			rec.LifeEnd != int(t.Life.End) {
			bag.Add(diag.Warnf(diag.CacheTensorMismatch,
				"cached tensor %d does not match model, recomputing", rec.TensorID).WithTensor(rec.TensorID))
			return 0, false
		}
	}

	for i, rec := range layout.Tensors {
		m.Tensors[i].Offset = rec.Offset
	}
	// Стата и дампы должны совпадать с пересчётом, поэтому алиасы
	// обнуляются и на кешированном пути.
	m.zeroRefAliasSizes()
	return layout.MemOffset, true
}

// saveCachedLayout persists the solved plan under (graph id, hash).
func (p *Planner) saveCachedLayout(hashID string, footprint uint64) error {
	m := p.model
	layout := &plancache.Layout{
		GraphID:          uint32(m.GraphID),
		HashID:           hashID,
		MemOffset:        footprint,
		NodeCount:        len(m.Nodes),
		TensorCount:      len(m.Tensors),
		ContiguousCount:  len(m.Contiguous),
		RefNodeCount:     len(m.RefGroups),
		StreamCount:      len(m.Streams),
		StreamGroupCount: len(m.StreamGroups),
	}
	for i, t := range m.Tensors {
		size := t.AlignedSize
		if i < len(p.baseSizes) {
			size = p.baseSizes[i]
		}
		layout.Tensors = append(layout.Tensors, plancache.TensorLayout{
			TensorID:      int(t.ID),
			Size:          size,
			OriSize:       t.OriginalSize,
			LifelongValue: int(t.Lifelong),
			LifeStart:     int(t.Life.Start),
			LifeEnd:       int(t.Life.End),
			Offset:        t.Offset,
		})
	}
	return plancache.Save(p.opts.CacheDir, layout, m.InfoText(true))
}
