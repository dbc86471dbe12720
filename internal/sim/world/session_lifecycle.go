package world

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/catalogs"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/interest/partition"
)

const maxNameLen = 32

type session struct {
	observer ids.Observer
	avatar   ids.Entity
	out      Outbound
	// classes already described to this client with CLASS_DEF.
	classes map[string]bool
	// overflowed is set when a reliable message could not be queued; the
	// session is dropped at the end of the tick.
	overflowed bool
}

// worldOutbox routes engine output to session queues.
type worldOutbox struct{ w *World }

func (o worldOutbox) Send(obs ids.Observer, d protocol.Delivery, msg any) {
	o.w.send(obs, d, msg)
}

func (w *World) send(obs ids.Observer, d protocol.Delivery, msg any) {
	s := w.sessions[obs]
	if s == nil || s.overflowed {
		return
	}
	switch d {
	case protocol.Unreliable:
		if !sendLatest(s.out.Unreliable, msg) {
			w.cur.droppedUnreliable++
		}
	default:
		select {
		case s.out.Reliable <- msg:
		default:
			s.overflowed = true
		}
	}
}

// sendLatest enqueues m, dropping the oldest queued message if the channel is
// full. It reports false when something was dropped.
func sendLatest(ch chan any, m any) bool {
	select {
	case ch <- m:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- m:
	default:
	}
	return false
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if !utf8.ValidString(name) {
		name = strings.ToValidUTF8(name, "")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		name = string([]rune(name)[:maxNameLen])
	}
	return name
}

func newResumeToken() string { return uuid.NewString() }

// spawnPoint spreads players over the spawn region. It fails when no region
// is registered.
func (w *World) spawnPoint(n uint64) ([2]float64, bool) {
	c, ok := w.spawnRegion()
	if !ok {
		return [2]float64{}, false
	}
	s := float64(w.cfg.RegionSize)
	k := int(n % 16)
	return [2]float64{
		float64(c.X)*s + 0.5 + float64(k%4)*s/4,
		float64(c.Y)*s + 0.5 + float64(k/4)*s/4,
	}, true
}

func (w *World) handleJoin(req JoinRequest) {
	resp := w.joinPlayer(req)
	if req.Resp != nil {
		req.Resp <- resp
	}
}

func (w *World) joinPlayer(req JoinRequest) JoinResponse {
	var avatar *Entity
	resumed := false
	if tok := strings.TrimSpace(req.ResumeToken); tok != "" {
		avatar = w.findByResumeToken(tok)
		if avatar == nil || avatar.Observer != 0 {
			e := protocol.NewError(protocol.ErrBadRequest, "unknown or active resume token")
			return JoinResponse{Err: &e}
		}
		resumed = true
	}

	var spawn [2]float64
	if avatar == nil {
		var ok bool
		if spawn, ok = w.spawnPoint(w.nextEntity); !ok {
			e := protocol.NewError(protocol.ErrNoRegion, "no region to spawn in")
			return JoinResponse{Err: &e}
		}
	}

	o := w.newObserverID()
	w.sessions[o] = &session{observer: o, out: req.Out, classes: map[string]bool{}}

	if avatar == nil {
		class, _ := w.classes.Get(playerClass)
		avatar = w.newEntity(class, spawn)
		avatar.Name = normalizeName(req.Name)
		if avatar.Speed <= 0 {
			avatar.Speed = w.cfg.PlayerSpeed
		}
		w.place(avatar)
	}
	avatar.Observer = o
	avatar.DetachedAt = 0
	avatar.ResumeToken = newResumeToken()
	w.sessions[o].avatar = avatar.ID

	w.engine.AttachObserver(o, avatar.ID, req.ViewSide)

	w.cur.joins = append(w.cur.joins, RecordedJoin{
		Observer: o.String(),
		Entity:   avatar.ID.String(),
		Name:     avatar.Name,
		Resumed:  resumed,
	})
	w.log.WithFields(logrus.Fields{
		"observer": o.String(),
		"entity":   avatar.ID.String(),
		"resumed":  resumed,
	}).Info("player joined")

	return JoinResponse{
		Observer: o,
		Welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			ObserverID:      o.String(),
			EntityID:        avatar.ID.String(),
			ResumeToken:     avatar.ResumeToken,
			WorldParams:     w.worldParams(),
			ClassesDigest:   w.classes.Digest,
		},
	}
}

func (w *World) findByResumeToken(tok string) *Entity {
	// Deterministic: iterate sorted ids.
	idsSorted := make([]ids.Entity, 0, len(w.entities))
	for id := range w.entities {
		idsSorted = append(idsSorted, id)
	}
	sort.Slice(idsSorted, func(i, j int) bool { return idsSorted[i] < idsSorted[j] })
	for _, id := range idsSorted {
		if e := w.entities[id]; e.ResumeToken == tok {
			return e
		}
	}
	return nil
}

func (w *World) handleSpectate(req SpectateRequest) {
	o := w.newObserverID()
	w.sessions[o] = &session{observer: o, out: req.Out, classes: map[string]bool{}}
	w.engine.AttachObserver(o, ids.NoEntity, req.ViewSide)
	w.engine.RecenterObserver(o, partition.Coord{X: req.Center[0], Y: req.Center[1]})
	w.cur.joins = append(w.cur.joins, RecordedJoin{Observer: o.String()})
	w.log.WithField("observer", o.String()).Info("spectator joined")
	if req.Resp != nil {
		req.Resp <- JoinResponse{
			Observer: o,
			Welcome: protocol.WelcomeMsg{
				Type:            protocol.TypeWelcome,
				ProtocolVersion: protocol.Version,
				ObserverID:      o.String(),
				WorldParams:     w.worldParams(),
				ClassesDigest:   w.classes.Digest,
			},
		}
	}
}

// handleSubscribe moves a spectator's window. Player windows follow their
// avatar and ignore this.
func (w *World) handleSubscribe(req SubscribeRequest) {
	s := w.sessions[req.Observer]
	if s == nil || s.avatar != ids.NoEntity {
		return
	}
	if req.ViewSide > 0 {
		w.engine.AttachObserver(req.Observer, ids.NoEntity, req.ViewSide)
	}
	w.engine.RecenterObserver(req.Observer, partition.Coord{X: req.Center[0], Y: req.Center[1]})
}

// handleLeave ends o's session: its whole window is unloaded and its queues
// closed. A player's avatar stays for the resume grace period.
func (w *World) handleLeave(o ids.Observer) {
	s := w.sessions[o]
	if s == nil {
		return
	}
	w.engine.DisconnectObserver(o)
	w.seq.Forget(o)
	delete(w.sessions, o)
	close(s.out.Reliable)
	close(s.out.Unreliable)
	w.cur.leaves = append(w.cur.leaves, o.String())

	if e := w.entities[s.avatar]; e != nil {
		e.Observer = 0
		e.Dir = [2]float64{}
		e.DetachedAt = w.tick.Load()
		if w.cfg.ResumeGraceTicks == 0 {
			w.removeEntity(e.ID)
		}
	}
	w.log.WithFields(logrus.Fields{
		"observer":   o.String(),
		"overflowed": s.overflowed,
	}).Info("session left")
}

// reapDetached removes avatars whose grace period ran out.
func (w *World) reapDetached(now uint64) {
	var expired []ids.Entity
	for id, e := range w.entities {
		if e.Kind != catalogs.KindPlayer || e.Observer != 0 {
			continue
		}
		if now-e.DetachedAt >= uint64(w.cfg.ResumeGraceTicks) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	for _, id := range expired {
		w.removeEntity(id)
	}
}

// dropOverflowed ends sessions that could not keep up with reliable traffic.
func (w *World) dropOverflowed() {
	var drop []ids.Observer
	for o, s := range w.sessions {
		if s.overflowed {
			drop = append(drop, o)
		}
	}
	sort.Slice(drop, func(i, j int) bool { return drop[i] < drop[j] })
	for _, o := range drop {
		w.lifetime.Kicked++
		w.handleLeave(o)
	}
}

// onVisible describes an entity's class the first time a client sees one.
func (w *World) onVisible(o ids.Observer, id ids.Entity) {
	s := w.sessions[o]
	e := w.entities[id]
	if s == nil || e == nil || s.classes[e.Class] {
		return
	}
	def, ok := w.classes.Get(e.Class)
	if !ok {
		return
	}
	s.classes[e.Class] = true
	w.send(o, protocol.Reliable, protocol.ClassDefMsg{
		Type:  protocol.TypeClassDef,
		Class: def.ID,
		Kind:  string(def.Kind),
		Name:  def.Name,
		Model: def.Model,
	})
}
