// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package dccstats decides when shared displayable surfaces get separate
// DCC.
//
// Shared surfaces start without DCC. While a surface is fast cleared its
// pixel shader invocations are sampled with pipeline statistics queries. A
// surface drawn often enough, or cleared the slow way often enough, gets a
// separate DCC buffer; when usage drops the buffer moves to a one-slot
// cache on the texture so a quick re-enable does not allocate.
package dccstats

import (
	"github.com/gogpu/texmeta/config"
	"github.com/gogpu/texmeta/device"
	"github.com/gogpu/texmeta/internal/cache"
	"github.com/gogpu/texmeta/layout"
	"github.com/gogpu/texmeta/resource"
)

// ShouldEnable reports whether the usage score reaches threshold.
func ShouldEnable(drawRatio, slowClears, threshold uint32) bool {
	return drawRatio+slowClears >= threshold
}

// Queries of a slot, oldest last. The active query samples the current
// frame, the pending one waits for the GPU and the retired one is read.
const (
	queryActive = iota
	queryPending
	queryRetired
)

type slot struct {
	tex     *resource.Texture
	active  bool
	queries [3]device.Query
}

// Tracker owns the statistics table of one context. It is not safe for
// concurrent use.
type Tracker struct {
	alloc     device.Allocator
	queries   device.QueryService
	threshold uint32
	table     *cache.LRU[uint64, *slot]
}

// NewTracker returns a tracker with the table size and threshold of p.
func NewTracker(alloc device.Allocator, queries device.QueryService, p config.DCC) *Tracker {
	slots := p.StatsSlots
	if slots <= 0 {
		slots = config.Default().DCC.StatsSlots
	}
	return &Tracker{
		alloc:     alloc,
		queries:   queries,
		threshold: p.SeparateThreshold,
		table:     cache.NewLRU[uint64, *slot](slots),
	}
}

// Len returns the number of textures in the table.
func (t *Tracker) Len() int { return t.table.Len() }

// Tracks reports whether tex has a slot.
func (t *Tracker) Tracks(tex *resource.Texture) bool {
	_, ok := t.table.Peek(tex.ID())
	return ok
}

// Eligible reports whether tex may ever use separate DCC.
func Eligible(tex *resource.Texture) bool {
	l := tex.Layout()
	return tex.Shared && tex.ExternalUsage&resource.UsageExplicitFlush != 0 &&
		l.Target == layout.Target2D && l.LastLevel == 0 && l.DCC.Size != 0
}

// TryEnable starts gathering statistics for an eligible texture and
// attaches separate DCC once the usage score is high enough. It reports
// whether separate DCC is attached on return.
func (t *Tracker) TryEnable(tex *resource.Texture) bool {
	if !Eligible(tex) {
		return false
	}
	if tex.Aux(resource.AuxSeparateDCC).Present() {
		return true
	}

	if !tex.DCCGatherStatistics {
		tex.DCCGatherStatistics = true
		t.StartQuery(tex)
	}
	if !ShouldEnable(tex.DrawRatio, tex.SlowClears, t.threshold) {
		return false
	}

	tex.DiscardCMASK()

	buf, ok := tex.TakeLastSeparateDCC()
	if !ok {
		l := tex.Layout()
		var err error
		buf, err = t.alloc.Allocate(device.Desc{
			Size:      l.DCC.Size,
			Alignment: l.DCC.Alignment,
			Domain:    device.DomainVRAM,
			Label:     "separate-dcc",
		})
		if err != nil {
			slogger().Warn("dccstats: separate DCC allocation failed", "texture", tex.ID(), "err", err)
			return false
		}
	}
	tex.AttachSeparateDCC(buf)
	slogger().Debug("dccstats: separate DCC enabled",
		"texture", tex.ID(), "drawRatio", tex.DrawRatio, "slowClears", tex.SlowClears, "reused", ok)
	return true
}

// NoteSlowClear counts a clear that missed the fast path.
func (t *Tracker) NoteSlowClear(tex *resource.Texture) {
	if tex.DCCGatherStatistics {
		tex.SlowClears++
	}
}

// ProcessAndResetStats reads the retired query of tex, refreshes its draw
// ratio, resets the slow clear count and rotates the queries. Separate DCC
// is detached into the texture's cache when the score fell below the
// threshold. It reports whether DCC was detached.
func (t *Tracker) ProcessAndResetStats(tex *resource.Texture) bool {
	s := t.slot(tex)
	wasActive := s.active
	disable := false

	if q := s.queries[queryRetired]; q != nil {
		// An unavailable result keeps the previous ratio and decision.
		if stats, ok := t.queries.Result(q, true); ok {
			l := tex.Layout()
			tex.DrawRatio = uint32(stats.PSInvocations / (uint64(l.Width) * uint64(l.Height)))
			disable = tex.Aux(resource.AuxSeparateDCC).Present() &&
				!ShouldEnable(tex.DrawRatio, tex.SlowClears, t.threshold)
		} else {
			slogger().Debug("dccstats: statistics not ready", "texture", tex.ID())
		}
	}
	tex.SlowClears = 0

	if wasActive {
		t.stop(s)
	}
	s.queries[queryActive], s.queries[queryPending], s.queries[queryRetired] =
		s.queries[queryRetired], s.queries[queryActive], s.queries[queryPending]
	if wasActive {
		t.start(s)
	}

	if disable {
		tex.DetachSeparateDCC()
		slogger().Debug("dccstats: separate DCC disabled", "texture", tex.ID(), "drawRatio", tex.DrawRatio)
	}
	return disable
}

// StartQuery begins sampling tex if no query is active.
func (t *Tracker) StartQuery(tex *resource.Texture) {
	t.start(t.slot(tex))
}

// StopQuery ends the active query of tex.
func (t *Tracker) StopQuery(tex *resource.Texture) {
	if s, ok := t.table.Peek(tex.ID()); ok && s.active {
		t.stop(s)
	}
}

func (t *Tracker) start(s *slot) {
	if s.active {
		return
	}
	if s.queries[queryActive] == nil {
		q, err := t.queries.NewPipelineStatsQuery()
		if err != nil {
			slogger().Warn("dccstats: no statistics query", "texture", s.tex.ID(), "err", err)
			return
		}
		s.queries[queryActive] = q
	}
	t.queries.Begin(s.queries[queryActive])
	s.active = true
}

func (t *Tracker) stop(s *slot) {
	t.queries.End(s.queries[queryActive])
	s.active = false
}

// slot returns the table entry of tex, creating it and evicting the least
// recently used one when the table is full.
func (t *Tracker) slot(tex *resource.Texture) *slot {
	t.evictZombies()
	if s, ok := t.table.Get(tex.ID()); ok {
		return s
	}
	s := &slot{tex: tex.Retain()}
	if ev, ok := t.table.Put(tex.ID(), s); ok {
		t.cleanUp(ev.Value)
	}
	return s
}

// evictZombies drops textures kept alive only by the table.
func (t *Tracker) evictZombies() {
	for _, e := range t.table.Entries() {
		if e.Value.tex.Refs() == 1 {
			t.table.Remove(e.Key)
			t.cleanUp(e.Value)
		}
	}
}

func (t *Tracker) cleanUp(s *slot) {
	if s.active {
		t.stop(s)
	}
	for i, q := range s.queries {
		if q != nil {
			t.queries.Destroy(q)
			s.queries[i] = nil
		}
	}
	s.tex.Release()
	s.tex = nil
}

// Close releases every slot.
func (t *Tracker) Close() {
	for _, e := range t.table.Clear() {
		t.cleanUp(e.Value)
	}
}
