// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package docview

import (
	"sync"

	"github.com/gogpu/docview/gpuctx"
)

// Decision is the rendering path chosen after the capability probe.
type Decision uint8

const (
	// DecisionUnknown means the probe has not run yet.
	DecisionUnknown Decision = iota
	// DecisionGPU means page textures live on a hardware device.
	DecisionGPU
	// DecisionFallback means the pipeline runs on the software device.
	DecisionFallback
)

func (d Decision) String() string {
	switch d {
	case DecisionGPU:
		return "gpu"
	case DecisionFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Memory budget bounds for the texture cache. The budget is a quarter
// of available host memory, clamped to this range; when the host never
// reports memory statistics the default applies.
const (
	minCacheBytes     = 64 << 20
	maxCacheBytes     = 1 << 30
	defaultCacheBytes = 256 << 20
)

// MemoryStats is a snapshot of host memory, as reported by whatever
// facility the embedding application has. Zero fields mean unknown.
type MemoryStats struct {
	// TotalBytes is installed physical memory.
	TotalBytes uint64
	// AvailableBytes is memory available for new allocations.
	AvailableBytes uint64
}

// cacheBudget derives the texture cache limit from a memory snapshot.
func cacheBudget(ms MemoryStats) int64 {
	avail := ms.AvailableBytes
	if avail == 0 {
		avail = ms.TotalBytes / 2
	}
	if avail == 0 {
		return defaultCacheBytes
	}
	budget := int64(avail / 4)
	if budget < minCacheBytes {
		return minCacheBytes
	}
	if budget > maxCacheBytes {
		return maxCacheBytes
	}
	return budget
}

// Capabilities records the outcome of the one-time GPU probe and the
// derived cache budget. A zero Capabilities reports DecisionUnknown
// until resolve is called; afterwards the decision moves at most once,
// from DecisionGPU to DecisionFallback when the device is lost for
// good, and never back.
type Capabilities struct {
	mu       sync.Mutex
	resolved bool

	decision Decision
	report   gpuctx.CapabilityState
	budget   int64

	// pinned means an explicit limit was supplied; memory snapshots
	// no longer move the budget.
	pinned bool
}

// resolve records the probe outcome. Only the first call takes effect.
func (c *Capabilities) resolve(decision Decision, report gpuctx.CapabilityState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return
	}
	c.resolved = true
	c.decision = decision
	c.report = report
	if c.budget == 0 {
		c.budget = defaultCacheBytes
	}
}

// Decision reports the chosen rendering path.
func (c *Capabilities) Decision() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decision
}

// ShouldUseGPU reports whether page textures go to a hardware device.
func (c *Capabilities) ShouldUseGPU() bool {
	return c.Decision() == DecisionGPU
}

// Report returns the probe details: adapter availability, device name,
// and the reason for a fallback decision.
func (c *Capabilities) Report() gpuctx.CapabilityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.report
}

// CacheMemoryLimitBytes returns the texture cache budget.
func (c *Capabilities) CacheMemoryLimitBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budget == 0 {
		return defaultCacheBytes
	}
	return c.budget
}

// demote moves a GPU decision to the fallback path, keeping the probe
// detail but marking the device unavailable. Demotion is one-way.
func (c *Capabilities) demote(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		return
	}
	c.decision = DecisionFallback
	c.report.Available = false
	c.report.Reason = reason
}

// refreshReport replaces the probe detail after a successful context
// restoration. The decision itself never changes.
func (c *Capabilities) refreshReport(report gpuctx.CapabilityState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		c.report = report
	}
}

// setBudget pins the budget to a caller-supplied value. Memory snapshots
// no longer move it afterwards.
func (c *Capabilities) setBudget(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = limit
	c.pinned = true
}

// updateMemory recomputes the budget from a fresh memory snapshot
// and reports whether the budget changed. Pinned budgets stay put.
func (c *Capabilities) updateMemory(ms MemoryStats) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned {
		return c.budget, false
	}
	next := cacheBudget(ms)
	changed := next != c.budget
	c.budget = next
	return next, changed
}
