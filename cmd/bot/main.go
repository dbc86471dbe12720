package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"regionsync.io/internal/logging"
	"regionsync.io/internal/protocol"
	"regionsync.io/internal/sim/interest/ids"
	"regionsync.io/internal/transport/ws"
)

type botConfig struct {
	URL      string
	Name     string
	Encoding string
	ViewSide int
	InputHz  int
	// TurnEvery is how many inputs a bot keeps its heading for.
	TurnEvery int
	Seed      int64
}

func main() {
	var (
		cfg      botConfig
		count    = flag.Int("n", 1, "number of bots")
		duration = flag.Duration("duration", 0, "stop after this long (0 = until interrupted)")
		level    = flag.String("log_level", "info", "log level")
	)
	flag.StringVar(&cfg.URL, "url", "ws://localhost:8080/v1/ws", "ws url")
	flag.StringVar(&cfg.Name, "name", "bot", "name prefix")
	flag.StringVar(&cfg.Encoding, "encoding", protocol.EncodingJSON, "server frame encoding: json or msgpack")
	flag.IntVar(&cfg.ViewSide, "view_side", 0, "requested window side (0 = server default)")
	flag.IntVar(&cfg.InputHz, "input_hz", 10, "inputs per second per bot")
	flag.IntVar(&cfg.TurnEvery, "turn_every", 20, "inputs between heading changes")
	flag.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "rng seed")
	flag.Parse()

	logger := logging.New(*level, "text", os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		total botStats
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *count; i++ {
		c := cfg
		c.Name = fmt.Sprintf("%s-%d", cfg.Name, i)
		c.Seed = cfg.Seed + int64(i)
		g.Go(func() error {
			st, err := runBot(gctx, c, logger.WithField("bot", c.Name))
			mu.Lock()
			total.add(st)
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	logger.WithFields(total.fields()).Info("bots finished")
	if err != nil {
		logger.WithError(err).Fatal("bot failed")
	}
}

type botStats struct {
	Inputs   int
	Messages map[string]int
}

func (s *botStats) count(typ string) {
	if s.Messages == nil {
		s.Messages = map[string]int{}
	}
	s.Messages[typ]++
}

func (s *botStats) add(o botStats) {
	s.Inputs += o.Inputs
	if s.Messages == nil {
		s.Messages = map[string]int{}
	}
	for k, v := range o.Messages {
		s.Messages[k] += v
	}
}

func (s botStats) fields() logrus.Fields {
	f := logrus.Fields{"inputs": s.Inputs}
	for k, v := range s.Messages {
		f[k] = v
	}
	return f
}

// runBot joins as one player and walks around until ctx ends. A server
// ERROR or a dropped connection ends the bot with an error.
func runBot(ctx context.Context, cfg botConfig, log logrus.FieldLogger) (botStats, error) {
	var st botStats
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return st, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            cfg.Name,
		Encoding:        cfg.Encoding,
		ViewSide:        cfg.ViewSide,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return st, fmt.Errorf("send HELLO: %w", err)
	}

	mt, msg, err := conn.ReadMessage()
	if err != nil {
		return st, fmt.Errorf("read WELCOME: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := ws.Decode(mt, msg, &welcome); err != nil {
		return st, fmt.Errorf("decode WELCOME: %w", err)
	}
	if welcome.Type != protocol.TypeWelcome {
		return st, fmt.Errorf("expected WELCOME, got %s", welcome.Type)
	}
	self, ok := ids.ParseEntity(welcome.EntityID)
	if !ok {
		return st, fmt.Errorf("WELCOME has no avatar: %q", welcome.EntityID)
	}
	if _, ok := ids.ParseObserver(welcome.ObserverID); !ok {
		return st, fmt.Errorf("WELCOME has a bad observer id: %q", welcome.ObserverID)
	}
	st.count(welcome.Type)
	log.WithFields(logrus.Fields{
		"entity":      welcome.EntityID,
		"region_size": welcome.WorldParams.RegionSize,
		"view_side":   welcome.WorldParams.ViewSide,
	}).Info("joined")

	var mu sync.Mutex
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var base protocol.BaseMessage
			if err := ws.Decode(mt, msg, &base); err != nil {
				continue
			}
			mu.Lock()
			st.count(base.Type)
			mu.Unlock()
			switch base.Type {
			case protocol.TypeError:
				var e protocol.ErrorMsg
				_ = ws.Decode(mt, msg, &e)
				readErr <- fmt.Errorf("server error %s: %s", e.Code, e.Message)
				return
			case protocol.TypeSpawn:
				var sp protocol.SpawnEntityMsg
				if ws.Decode(mt, msg, &sp) == nil {
					if e, ok := ids.ParseEntity(sp.Entity); ok && e == self {
						readErr <- fmt.Errorf("spawned own avatar %s", self)
						return
					}
				}
			}
		}
	}()
	// The reader must be gone before st is handed back.
	finish := func(err error) (botStats, error) {
		_ = conn.Close()
		<-readDone
		if ctx.Err() != nil {
			err = nil
		}
		return st, err
	}

	ticker := time.NewTicker(time.Second / time.Duration(max(cfg.InputHz, 1)))
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(cfg.Seed))
	turnEvery := uint64(max(cfg.TurnEvery, 1))
	var (
		seq     uint64
		heading float64
	)
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return finish(nil)
		case err := <-readErr:
			return finish(err)
		case <-ticker.C:
		}

		seq++
		if seq%turnEvery == 1 || turnEvery == 1 {
			heading = rng.Float64() * 2 * math.Pi
		}
		var msg any = protocol.InputMsg{
			Type:      protocol.TypeInput,
			Seq:       seq,
			Direction: [2]float64{math.Cos(heading), math.Sin(heading)},
			Yaw:       heading,
		}
		if seq%500 == 0 {
			msg = protocol.SetNameMsg{Type: protocol.TypeSetName, Seq: seq, Name: fmt.Sprintf("%s#%d", cfg.Name, seq)}
		}
		if err := conn.WriteJSON(msg); err != nil {
			return finish(fmt.Errorf("send: %w", err))
		}
		mu.Lock()
		st.Inputs++
		mu.Unlock()
	}
}
