// Package observer serves spectators: connections that watch a window of
// regions without an avatar. The first message must be SUBSCRIBE; later
// SUBSCRIBE messages move the window.
package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"regionsync.io/internal/logging"
	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/world"
	"regionsync.io/internal/transport/ws"
)

const spectatorQueue = 256

type Server struct {
	world *world.World
	log   logrus.FieldLogger

	// AllowRemote lets non-loopback clients spectate.
	AllowRemote bool

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, log logrus.FieldLogger) *Server {
	return &Server{
		world:    w,
		log:      logging.OrDiscard(log).WithField("transport", "spectator"),
		upgrader: ws.NewUpgrader(),
	}
}

// BootstrapHandler describes the world so a spectator can pick a center
// before subscribing.
func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		cfg := s.world.Config()
		resp := struct {
			ProtocolVersion string               `json:"protocol_version"`
			Tick            uint64               `json:"tick"`
			WorldParams     protocol.WorldParams `json:"world_params"`
			ClassesDigest   string               `json:"classes_digest"`
		}{
			ProtocolVersion: protocol.Version,
			Tick:            s.world.CurrentTick(),
			WorldParams: protocol.WorldParams{
				WorldID:        cfg.ID,
				TickRateHz:     cfg.TickRateHz,
				RegionSize:     cfg.RegionSize,
				GridHalfExtent: cfg.GridHalfExtent,
				ViewSide:       cfg.ViewSide,
				DaySpeed:       cfg.DaySpeed,
			},
			ClassesDigest: s.world.ClassesDigest(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(mt, msg)
		if !ok {
			ws.Reject(conn, protocol.JSONCodec{}, protocol.ErrProtoBadRequest, "expected SUBSCRIBE")
			return
		}
		if sub.ProtocolVersion != protocol.Version {
			ws.Reject(conn, protocol.JSONCodec{}, protocol.ErrProtoVersion, "bad protocol_version")
			return
		}
		codec := protocol.Codec(protocol.JSONCodec{})
		if mt == websocket.BinaryMessage {
			codec = protocol.MsgpackCodec{}
		}

		out := world.NewOutbound(spectatorQueue*4, spectatorQueue)
		req := world.SpectateRequest{
			Center:   sub.Center,
			ViewSide: sub.ViewSide,
			Out:      out,
			Resp:     make(chan world.JoinResponse, 1),
		}
		resp, ok := ws.AwaitJoin(ctx, s.world, s.world.Spectate(), req, req.Resp)
		if !ok {
			ws.Reject(conn, codec, protocol.ErrWorldBusy, "world busy")
			return
		}
		if err := ws.WriteMessage(conn, codec, resp.Welcome); err != nil {
			s.leave(resp.Observer)
			return
		}
		log := s.log.WithField("observer", resp.Observer.String())
		log.Debug("spectator subscribed")

		done := make(chan error, 1)
		go func() {
			err := ws.Pump(ctx, conn, codec, out, nil)
			cancel()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), time.Now().Add(time.Second))
			_ = conn.Close()
			done <- err
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := decodeSubscribe(mt, msg)
			if !ok || sub.ProtocolVersion != protocol.Version {
				continue
			}
			select {
			case s.world.Subscribe() <- world.SubscribeRequest{Observer: resp.Observer, Center: sub.Center, ViewSide: sub.ViewSide}:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		s.leave(resp.Observer)
		<-done
		log.Debug("spectator left")
	}
}

func (s *Server) leave(o ids.Observer) {
	if !s.world.Detach(o) {
		s.log.WithField("observer", o.String()).Debug("world stopped before leave")
	}
}

func decodeSubscribe(mt int, msg []byte) (protocol.SubscribeMsg, bool) {
	var sub protocol.SubscribeMsg
	if err := ws.Decode(mt, msg, &sub); err != nil || sub.Type != protocol.TypeSubscribe {
		return sub, false
	}
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
