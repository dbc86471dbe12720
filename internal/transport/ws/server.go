// Package ws serves the player protocol over websockets: HELLO/WELCOME,
// then INPUT and SET_NAME in, replication messages out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"regionsync.io/internal/logging"
	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	readTimeout      = 60 * time.Second
	writeTimeout     = 5 * time.Second

	defaultUnreliableQueue = 64
	maxUnreliableQueue     = 1024
)

type Server struct {
	world *world.World
	log   logrus.FieldLogger

	upgrader websocket.Upgrader

	droppedInputs atomic.Uint64
}

func NewServer(w *world.World, log logrus.FieldLogger) *Server {
	return &Server{
		world:    w,
		log:      logging.OrDiscard(log).WithField("transport", "ws"),
		upgrader: NewUpgrader(),
	}
}

func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
	}
}

// DroppedInputs counts client messages discarded because the world inbox
// was full.
func (s *Server) DroppedInputs() uint64 { return s.droppedInputs.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess, ok := s.handshake(ctx, conn)
		if !ok {
			return
		}
		log := s.log.WithField("observer", sess.observer.String())
		log.Debug("session started")

		done := make(chan error, 1)
		go func() {
			err := Pump(ctx, conn, sess.codec, sess.out, sess.local)
			cancel()
			// Unblocks the reader when the world ended the session.
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), time.Now().Add(time.Second))
			_ = conn.Close()
			done <- err
		}()

		s.readLoop(ctx, conn, sess)
		cancel()
		s.leave(sess.observer)
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Debug("writer stopped")
		}
		log.Debug("session ended")
	}
}

type session struct {
	observer ids.Observer
	codec    protocol.Codec
	out      world.Outbound
	// local carries transport-originated messages such as ERROR.
	local chan any
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	mt, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}

	var hello protocol.HelloMsg
	if err := Decode(mt, msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		Reject(conn, protocol.JSONCodec{}, protocol.ErrProtoBadRequest, "expected HELLO")
		return nil, false
	}
	codec, err := protocol.CodecFor(hello.Encoding)
	if err != nil {
		Reject(conn, protocol.JSONCodec{}, protocol.ErrProtoBadRequest, err.Error())
		return nil, false
	}
	if hello.ProtocolVersion != protocol.Version {
		Reject(conn, codec, protocol.ErrProtoVersion, "bad protocol_version")
		return nil, false
	}

	out := world.NewOutbound(s.world.Config().SessionQueue, UnreliableQueue(hello.MaxQueue))
	req := world.JoinRequest{
		Name:     strings.TrimSpace(hello.Name),
		ViewSide: hello.ViewSide,
		Out:      out,
		Resp:     make(chan world.JoinResponse, 1),
	}
	if hello.Auth != nil {
		req.ResumeToken = strings.TrimSpace(hello.Auth.Token)
	}

	resp, ok := AwaitJoin(ctx, s.world, s.world.Join(), req, req.Resp)
	if !ok {
		Reject(conn, codec, protocol.ErrWorldBusy, "world busy")
		return nil, false
	}
	if resp.Err != nil {
		Reject(conn, codec, resp.Err.Code, resp.Err.Message)
		return nil, false
	}
	if err := WriteMessage(conn, codec, resp.Welcome); err != nil {
		s.leave(resp.Observer)
		return nil, false
	}
	return &session{
		observer: resp.Observer,
		codec:    codec,
		out:      out,
		local:    make(chan any, 8),
	}, true
}

// AwaitJoin hands req to the world loop over ch and waits for its answer. It
// gives up when the world does not take the request within the handshake
// timeout. Giving up after the hand-off leaves the session to be released
// once the world answers.
func AwaitJoin[R any](ctx context.Context, w *world.World, ch chan<- R, req R, resp <-chan world.JoinResponse) (world.JoinResponse, bool) {
	select {
	case ch <- req:
	case <-ctx.Done():
		return world.JoinResponse{}, false
	case <-time.After(handshakeTimeout):
		return world.JoinResponse{}, false
	}
	select {
	case r := <-resp:
		return r, true
	case <-ctx.Done():
		go func() {
			select {
			case r := <-resp:
				if r.Err == nil {
					w.Detach(r.Observer)
				}
			case <-w.Done():
			}
		}()
		return world.JoinResponse{}, false
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var base protocol.BaseMessage
		if err := Decode(mt, msg, &base); err != nil {
			s.sendLocal(sess, protocol.NewError(protocol.ErrProtoBadRequest, "undecodable message"))
			continue
		}

		env := world.InputEnvelope{Observer: sess.observer}
		switch base.Type {
		case protocol.TypeInput:
			var in protocol.InputMsg
			if err := Decode(mt, msg, &in); err != nil {
				s.sendLocal(sess, protocol.NewError(protocol.ErrBadRequest, "bad INPUT"))
				continue
			}
			env.Input = &in
		case protocol.TypeSetName:
			var sn protocol.SetNameMsg
			if err := Decode(mt, msg, &sn); err != nil {
				s.sendLocal(sess, protocol.NewError(protocol.ErrBadRequest, "bad SET_NAME"))
				continue
			}
			env.SetName = &sn
		default:
			s.sendLocal(sess, protocol.NewError(protocol.ErrProtoBadRequest, "unexpected message type "+base.Type))
			continue
		}

		select {
		case s.world.Inbox() <- env:
		case <-ctx.Done():
			return
		default:
			s.droppedInputs.Add(1)
		}
	}
}

func (s *Server) leave(o ids.Observer) {
	if !s.world.Detach(o) {
		s.log.WithField("observer", o.String()).Debug("world stopped before leave")
	}
}

func (s *Server) sendLocal(sess *session, m any) {
	select {
	case sess.local <- m:
	default:
	}
}

// UnreliableQueue clamps a client's requested queue depth.
func UnreliableQueue(requested int) int {
	switch {
	case requested <= 0:
		return defaultUnreliableQueue
	case requested > maxUnreliableQueue:
		return maxUnreliableQueue
	default:
		return requested
	}
}

// Pump writes a session's queues to conn until the world closes them, ctx
// ends or a write fails. Reliable and local messages always go out before
// any pending unreliable one.
func Pump(ctx context.Context, conn *websocket.Conn, codec protocol.Codec, out world.Outbound, local <-chan any) error {
	reliable, unreliable := out.Reliable, out.Unreliable
	for {
		var (
			m  any
			ok bool
		)
		select {
		case m = <-local:
			ok = true
		case m, ok = <-reliable:
			if !ok {
				return nil
			}
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case m = <-local:
				ok = true
			case m, ok = <-reliable:
				if !ok {
					return nil
				}
			case m, ok = <-unreliable:
				if !ok {
					unreliable = nil
					continue
				}
			}
		}
		if err := WriteMessage(conn, codec, m); err != nil {
			return err
		}
	}
}

// WriteMessage encodes v with codec and sends it as a single frame.
func WriteMessage(conn *websocket.Conn, codec protocol.Codec, v any) error {
	b, err := codec.Encode(v)
	if err != nil {
		return err
	}
	mt := websocket.TextMessage
	if codec.Binary() {
		mt = websocket.BinaryMessage
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(mt, b)
}

// Decode reads a client frame: text frames are JSON, binary frames msgpack.
func Decode(mt int, b []byte, v any) error {
	if mt == websocket.BinaryMessage {
		return protocol.DecodeMsgpack(b, v)
	}
	return json.Unmarshal(b, v)
}

// Reject sends ERROR and closes with a policy violation.
func Reject(conn *websocket.Conn, codec protocol.Codec, code, msg string) {
	_ = WriteMessage(conn, codec, protocol.NewError(code, msg))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg), time.Now().Add(time.Second))
}
