package world

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"regionsync.io/internal/logging"
	"regionsync.io/internal/persistence/snapshot"
	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest"
	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/interest/ids"
)

// Outbound is a session's pair of queues. The world is the only writer and
// closes both when the session ends.
type Outbound struct {
	Reliable   chan any
	Unreliable chan any
}

func NewOutbound(reliable, unreliable int) Outbound {
	return Outbound{
		Reliable:   make(chan any, reliable),
		Unreliable: make(chan any, unreliable),
	}
}

type JoinRequest struct {
	Name        string
	ViewSide    int
	ResumeToken string
	Out         Outbound
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome  protocol.WelcomeMsg
	Observer ids.Observer
	// Err is set when the join was refused; no session exists then.
	Err *protocol.ErrorMsg
}

type SpectateRequest struct {
	Center   [2]int
	ViewSide int
	Out      Outbound
	Resp     chan JoinResponse
}

type SubscribeRequest struct {
	Observer ids.Observer
	Center   [2]int
	ViewSide int
}

// InputEnvelope carries exactly one of Input or SetName.
type InputEnvelope struct {
	Observer ids.Observer
	Input    *protocol.InputMsg
	SetName  *protocol.SetNameMsg
}

type RecordedJoin struct {
	Observer string `json:"observer"`
	Entity   string `json:"entity,omitempty"`
	Name     string `json:"name,omitempty"`
	Resumed  bool   `json:"resumed,omitempty"`
}

// World is a single-threaded authoritative simulation.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg     WorldConfig
	classes *catalogs.Catalogs
	log     logrus.FieldLogger

	tick atomic.Uint64

	diag   *diag.Recorder
	engine *interest.Engine
	rng    *rand.Rand

	entities map[ids.Entity]*Entity
	tiles    map[[2]int]ids.Entity
	sessions map[ids.Observer]*session
	seq      *SeqGuard

	nextEntity   uint64
	timeOfDay    float64
	nextObserver uint64

	join      chan JoinRequest
	spectate  chan SpectateRequest
	subscribe chan SubscribeRequest
	leave     chan ids.Observer
	inbox     chan InputEnvelope
	regionReq chan regionReq
	statsReq  chan statsReq
	admin     chan adminSnapshotReq
	stop      chan struct{}
	done      chan struct{}

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger
	diagLogger DiagnosticLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1

	cur      tickCounters
	lifetime Counters
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type DiagnosticLogger interface {
	WriteDiagnostic(d diag.Diagnostic) error
}

type TickLogEntry struct {
	Tick          uint64         `json:"tick"`
	Joins         []RecordedJoin `json:"joins,omitempty"`
	Leaves        []string       `json:"leaves,omitempty"`
	Inputs        int            `json:"inputs,omitempty"`
	DroppedInputs int            `json:"dropped_inputs,omitempty"`
	Spawns        uint64         `json:"spawns,omitempty"`
	Despawns      uint64         `json:"despawns,omitempty"`
	Updates       uint64         `json:"updates,omitempty"`
	Loads         uint64         `json:"loads,omitempty"`
	Unloads       uint64         `json:"unloads,omitempty"`
	Diagnostics   int            `json:"diagnostics,omitempty"`
	Entities      int            `json:"entities"`
	// Digest is set on invariant-check ticks.
	Digest string `json:"digest,omitempty"`
}

func New(cfg WorldConfig, classes *catalogs.Catalogs, log logrus.FieldLogger) (*World, error) {
	if classes == nil {
		return nil, fmt.Errorf("world: nil class catalog")
	}
	if _, ok := classes.Get(playerClass); !ok {
		return nil, fmt.Errorf("world: class catalog has no %q class", playerClass)
	}
	cfg = cfg.withDefaults()
	log = logging.OrDiscard(log).WithField("world", cfg.ID)

	w := &World{
		cfg:       cfg,
		classes:   classes,
		log:       log,
		diag:      diag.NewRecorder(log),
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		entities:  map[ids.Entity]*Entity{},
		tiles:     map[[2]int]ids.Entity{},
		sessions:  map[ids.Observer]*session{},
		seq:       NewSeqGuard(),
		join:      make(chan JoinRequest, 64),
		spectate:  make(chan SpectateRequest, 64),
		subscribe: make(chan SubscribeRequest, 64),
		leave:     make(chan ids.Observer, 64),
		inbox:     make(chan InputEnvelope, 1024),
		regionReq: make(chan regionReq, 16),
		statsReq:  make(chan statsReq, 16),
		admin:     make(chan adminSnapshotReq, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.timeOfDay = wrapHour(cfg.StartHour)
	w.engine = interest.New(interest.Config{ViewSide: cfg.ViewSide}, worldOutbox{w}, w, w.diag)
	w.engine.OnVisible(w.onVisible)
	w.bootstrapGrid()
	return w, nil
}

// Populate seeds fauna and crops. Skip it when restoring a snapshot.
func (w *World) Populate() {
	w.spawnFauna()
	w.seedCrops()
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetDiagnosticLogger(l DiagnosticLogger)        { w.diagLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Join() chan<- JoinRequest           { return w.join }
func (w *World) Spectate() chan<- SpectateRequest   { return w.spectate }
func (w *World) Subscribe() chan<- SubscribeRequest { return w.subscribe }
func (w *World) Inbox() chan<- InputEnvelope        { return w.inbox }

// Done is closed once Run has returned.
func (w *World) Done() <-chan struct{} { return w.done }

// Detach queues o's leave. It blocks until the loop takes it and reports
// false only when the loop has already exited.
func (w *World) Detach(o ids.Observer) bool {
	select {
	case <-w.done:
		return false
	default:
	}
	select {
	case w.leave <- o:
		return true
	case <-w.done:
		return false
	}
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) ClassesDigest() string { return w.classes.Digest }

func (w *World) worldParams() protocol.WorldParams {
	return protocol.WorldParams{
		WorldID:        w.cfg.ID,
		TickRateHz:     w.cfg.TickRateHz,
		RegionSize:     w.cfg.RegionSize,
		GridHalfExtent: w.cfg.GridHalfExtent,
		ViewSide:       w.cfg.ViewSide,
		TimeOfDay:      w.timeOfDay,
		DaySpeed:       w.cfg.DaySpeed,
	}
}

func (w *World) newEntityID() ids.Entity {
	w.nextEntity++
	return ids.Entity(w.nextEntity)
}

func (w *World) newObserverID() ids.Observer {
	w.nextObserver++
	return ids.Observer(w.nextObserver)
}
