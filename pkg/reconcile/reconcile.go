// Package reconcile compares the snapshot series at the source and the
// destination and derives the ordered steps that bring the destination up to
// date: stale clone cleanup, snapshot creation, incremental transfers and
// source reference pruning.
//
// Scheduling is pure. Nothing here touches the filesystem; the caller applies
// the steps in order and stops at the first failure.
package reconcile

import (
	"fmt"
	"slices"
	"time"

	"github.com/paulschiretz/pgl-snap/pkg/inventory"
	"github.com/paulschiretz/pgl-snap/pkg/plog"
)

// Op is the kind of a scheduled step.
type Op string

const (
	OpDelete   Op = "delete"
	OpCreate   Op = "create"
	OpTransfer Op = "transfer"
)

// Side tells which location a step acts on.
type Side string

const (
	Source      Side = "source"
	Destination Side = "destination"
)

// Reason explains why a delete step was scheduled.
type Reason string

const (
	ReasonStale     Reason = "stale"
	ReasonReference Reason = "reference"
	ReasonRetention Reason = "retention"
)

// Step is one filesystem mutation.
type Step struct {
	Op        Op        `json:"op"`
	Side      Side      `json:"side"`
	Timestamp time.Time `json:"timestamp"`
	// Path is the snapshot to delete, the snapshot to create, or for a
	// transfer the source snapshot to send.
	Path   string `json:"path"`
	Reason Reason `json:"reason,omitempty"`
	// Refs and RefPaths list the snapshots present on both sides that a
	// transfer may share blocks with.
	Refs     []time.Time `json:"refs,omitempty"`
	RefPaths []string    `json:"refPaths,omitempty"`
}

func (s Step) String() string {
	switch s.Op {
	case OpTransfer:
		return fmt.Sprintf("transfer %s (%d refs)", s.Path, len(s.Refs))
	case OpDelete:
		return fmt.Sprintf("delete %s %s (%s)", s.Side, s.Path, s.Reason)
	default:
		return fmt.Sprintf("%s %s %s", s.Op, s.Side, s.Path)
	}
}

// Schedule is the result of reconciling two inventories.
type Schedule struct {
	Steps []Step
	// Created is set when a new snapshot at Now is part of the schedule.
	Created bool
	// Source and Destination are the inventories as they will look once
	// every step has been applied.
	Source      *inventory.Inventory
	Destination *inventory.Inventory
}

// Reconcile schedules the steps for one run at now. src may be empty when the
// snapshots are taken directly at the destination.
func Reconcile(src, dst *inventory.Inventory, now time.Time, sameFS bool) *Schedule {
	sched := &Schedule{
		Source:      src.Clone(),
		Destination: dst.Clone(),
	}

	sched.removeStale()
	sched.create(now, sameFS)
	if !sameFS {
		sched.transfer()
		sched.pruneReferences()
	}
	return sched
}

// removeStale deletes writable snapshots on both sides. They are leftovers of
// an interrupted receive and must never be kept or used as a reference.
func (s *Schedule) removeStale() {
	for _, side := range []struct {
		side Side
		inv  *inventory.Inventory
	}{{Destination, s.Destination}, {Source, s.Source}} {
		for _, e := range side.inv.Writable() {
			s.Steps = append(s.Steps, Step{Op: OpDelete, Side: side.side, Timestamp: e.Timestamp, Path: e.Path, Reason: ReasonStale})
			side.inv.Remove(e.Timestamp)
		}
	}
}

// create schedules a snapshot at now unless the destination already has one
// for this instant.
func (s *Schedule) create(now time.Time, sameFS bool) {
	for _, ts := range s.Destination.Timestamps() {
		if ts.After(now) {
			plog.Warn("Destination holds a snapshot dated in the future", "timestamp", ts.Format(inventory.TimestampLayout), "now", now.Format(inventory.TimestampLayout))
		}
	}
	if s.Destination.Has(now) {
		return
	}

	target, side := s.Source, Source
	if sameFS {
		target, side = s.Destination, Destination
	}
	if target.Has(now) {
		return
	}
	e := target.Put(now)
	s.Steps = append(s.Steps, Step{Op: OpCreate, Side: side, Timestamp: now, Path: e.Path})
	s.Created = true
}

// transfer replicates every source snapshot missing at the destination,
// oldest first. Each transfer may reference all snapshots already on both
// sides, including those transferred earlier in the same run.
func (s *Schedule) transfer() {
	refs := s.Source.Intersection(s.Destination)
	for _, ts := range s.Source.Difference(s.Destination) {
		e, _ := s.Source.Get(ts)
		s.Steps = append(s.Steps, Step{
			Op:        OpTransfer,
			Side:      Destination,
			Timestamp: ts,
			Path:      e.Path,
			Refs:      slices.Clone(refs),
			RefPaths:  s.refPaths(refs),
		})
		s.Destination.Put(ts)
		refs = append(refs, ts)
	}
}

func (s *Schedule) refPaths(refs []time.Time) []string {
	paths := make([]string, 0, len(refs))
	for _, ts := range refs {
		if e, ok := s.Source.Get(ts); ok {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

// pruneReferences keeps only the most recent source snapshot. Source
// snapshots exist to seed incremental transfers, not for retention.
func (s *Schedule) pruneReferences() {
	entries := s.Source.Entries()
	if len(entries) < 2 {
		return
	}
	for _, e := range entries[:len(entries)-1] {
		s.Steps = append(s.Steps, Step{Op: OpDelete, Side: Source, Timestamp: e.Timestamp, Path: e.Path, Reason: ReasonReference})
		s.Source.Remove(e.Timestamp)
	}
}

// AddRetention appends destination deletions chosen by the retention pruner.
func (s *Schedule) AddRetention(timestamps []time.Time) {
	for _, ts := range timestamps {
		e, ok := s.Destination.Get(ts)
		if !ok {
			continue
		}
		s.Steps = append(s.Steps, Step{Op: OpDelete, Side: Destination, Timestamp: ts, Path: e.Path, Reason: ReasonRetention})
		s.Destination.Remove(ts)
	}
}
