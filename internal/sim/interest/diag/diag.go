// Package diag records engine diagnostics. Nothing here is ever surfaced to
// clients: every anomaly is logged, counted, and buffered for the tick log.
package diag

import (
	"github.com/sirupsen/logrus"

	"regionsync.io/internal/logging"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

type Kind string

const (
	// Registry state disagrees with itself (unsorted observer list,
	// occupant recorded in the wrong partition).
	KindInconsistency Kind = "INCONSISTENCY"
	// A partition or entity that no longer exists was referenced.
	KindMissingRef Kind = "MISSING_REFERENCE"
	// Input whose sequence number did not advance.
	KindStaleInput Kind = "STALE_INPUT"
	// A message that must never reach a client was suppressed
	// (self-observation, duplicate spawn, despawn without spawn).
	KindProtocolViolation Kind = "PROTOCOL_VIOLATION"
)

type Diagnostic struct {
	Tick      uint64       `json:"tick"`
	Kind      Kind         `json:"kind"`
	Partition partition.ID `json:"partition,omitempty"`
	Entity    ids.Entity   `json:"entity,omitempty"`
	Observer  ids.Observer `json:"observer,omitempty"`
	Detail    string       `json:"detail"`
}

// Recorder is owned by the world loop. A nil *Recorder is valid and drops
// everything, so registries can be used standalone.
type Recorder struct {
	log    logrus.FieldLogger
	tick   uint64
	buf    []Diagnostic
	counts map[Kind]uint64
}

func NewRecorder(log logrus.FieldLogger) *Recorder {
	return &Recorder{
		log:    logging.OrDiscard(log),
		counts: map[Kind]uint64{},
	}
}

// SetTick stamps subsequent reports.
func (r *Recorder) SetTick(tick uint64) {
	if r == nil {
		return
	}
	r.tick = tick
}

func (r *Recorder) Report(d Diagnostic) {
	if r == nil {
		return
	}
	d.Tick = r.tick
	r.buf = append(r.buf, d)
	r.counts[d.Kind]++

	fields := logrus.Fields{"kind": string(d.Kind), "tick": d.Tick}
	if d.Partition != partition.None {
		fields["partition"] = uint32(d.Partition)
	}
	if d.Entity != ids.NoEntity {
		fields["entity"] = d.Entity.String()
	}
	if d.Observer != 0 {
		fields["observer"] = d.Observer.String()
	}
	entry := r.log.WithFields(fields)
	switch d.Kind {
	case KindInconsistency, KindProtocolViolation:
		entry.Warn(d.Detail)
	case KindMissingRef:
		entry.Info(d.Detail)
	default:
		entry.Debug(d.Detail)
	}
}

// Drain returns and clears the diagnostics buffered since the last call.
func (r *Recorder) Drain() []Diagnostic {
	if r == nil || len(r.buf) == 0 {
		return nil
	}
	out := r.buf
	r.buf = nil
	return out
}

// Count is the lifetime number of reports of kind k.
func (r *Recorder) Count(k Kind) uint64 {
	if r == nil {
		return 0
	}
	return r.counts[k]
}
