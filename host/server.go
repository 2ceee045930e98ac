// Package host serves a screen to viewers over secure channels.
package host

import (
	"errors"
	"fmt"
	"image"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"tarun-kavipurapu/desk-viewer/pkg/config"
	"tarun-kavipurapu/desk-viewer/pkg/discovery"
	"tarun-kavipurapu/desk-viewer/pkg/logger"
	"tarun-kavipurapu/desk-viewer/pkg/monitor"
	"tarun-kavipurapu/desk-viewer/pkg/protocol"
	"tarun-kavipurapu/desk-viewer/pkg/transport/secure"
)

const (
	idleSleep = 5 * time.Millisecond
	// byeGrace bounds the goodbye sent to each viewer on Stop.
	byeGrace = 250 * time.Millisecond
)

type Server struct {
	cfg    config.HostConfig
	key    []byte
	opts   []secure.Option
	source FrameSource

	listener   *secure.Listener
	advertiser *discovery.Advertiser
	collector  *monitor.Collector

	mu       sync.Mutex
	sessions map[string]*session

	// frameMu orders source snapshots against session registration, so a
	// new viewer sees every change made after its full frame.
	frameMu sync.Mutex

	quitOnce sync.Once
	quitCh   chan struct{}
	wg       sync.WaitGroup
}

type session struct {
	ch    *secure.Channel
	since time.Time

	// pushMu keeps the initial frame ahead of any tile on the wire.
	pushMu sync.Mutex

	mu       sync.Mutex
	pointers uint64
	keys     uint64
	lastPos  image.Point
}

// SessionInfo is a point-in-time view of one connected viewer.
type SessionInfo struct {
	Addr          string
	Since         time.Time
	SentRate      float64
	ReceivedRate  float64
	BytesSent     int64
	BytesReceived int64
	Pointers      uint64
	Keys          uint64
	LastPointer   image.Point
}

func NewServer(cfg config.HostConfig, key []byte, source FrameSource, opts ...secure.Option) *Server {
	return &Server{
		cfg:        cfg,
		key:        append([]byte(nil), key...),
		opts:       opts,
		source:     source,
		advertiser: discovery.NewAdvertiser(),
		collector:  monitor.NewCollector(),
		sessions:   make(map[string]*session),
		quitCh:     make(chan struct{}),
	}
}

// Collector exposes per-session channel metrics.
func (s *Server) Collector() *monitor.Collector { return s.collector }

// Start listens and serves in the background.
func (s *Server) Start() error {
	l, err := secure.Listen(s.cfg.Listen, s.key, s.opts...)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}
	s.listener = l
	logger.Sugar.Infof("[Host] listening: addr=%s", l.Addr())

	if s.cfg.Advertise {
		s.advertise()
	}

	s.wg.Add(2)
	go s.acceptLoop()
	go s.broadcastLoop()
	return nil
}

func (s *Server) advertise() {
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		logger.Sugar.Errorf("[Host] Failed to parse address: %v", err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return
	}
	size := s.source.Size()
	meta := map[string]string{
		discovery.MetaWidth:  strconv.Itoa(size.X),
		discovery.MetaHeight: strconv.Itoa(size.Y),
	}
	if err := s.advertiser.Start(s.cfg.Instance, port, meta); err != nil {
		logger.Sugar.Errorf("[Host] Failed to start mDNS advertisement: %v", err)
	}
}

// Addr returns the listening address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		ch, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Sugar.Warnf("[Host] accept failed: err=%v", err)
			select {
			case <-s.quitCh:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		s.addSession(ch)
	}
}

func (s *Server) addSession(ch *secure.Channel) {
	sess := &session{ch: ch, since: time.Now()}
	sess.pushMu.Lock()
	defer sess.pushMu.Unlock()

	s.frameMu.Lock()
	full, err := s.source.Full()
	if err != nil {
		s.frameMu.Unlock()
		logger.Sugar.Errorf("[Host] frame source failed: err=%v", err)
		_ = ch.Close()
		return
	}
	s.mu.Lock()
	select {
	case <-s.quitCh:
		s.mu.Unlock()
		s.frameMu.Unlock()
		_ = ch.Close()
		return
	default:
	}
	s.sessions[ch.Addr()] = sess
	s.mu.Unlock()
	s.frameMu.Unlock()
	s.collector.Track(ch)

	if err := ch.Send(protocol.NewImage(full)); err != nil {
		logger.Sugar.Warnf("[Host] initial frame failed: remote=%s err=%v", ch.Addr(), err)
		s.dropSession(sess, err)
		return
	}

	logger.Sugar.Infof("[Host] viewer connected: remote=%s", ch.Addr())
	s.wg.Add(1)
	go s.serveSession(sess)
}

// serveSession reads viewer input until the session ends.
func (s *Server) serveSession(sess *session) {
	defer s.wg.Done()
	for {
		m, err := sess.ch.Receive()
		if err != nil {
			s.dropSession(sess, err)
			return
		}
		if m == nil {
			select {
			case <-s.quitCh:
				return
			case <-sess.ch.Done():
				s.dropSession(sess, secure.ErrClosed)
				return
			case <-time.After(idleSleep):
			}
			continue
		}
		if done := s.handleMessage(sess, m); done {
			s.dropSession(sess, nil)
			return
		}
	}
}

func (s *Server) handleMessage(sess *session, m *protocol.Message) bool {
	switch m.Type {
	case protocol.MsgPointer:
		e, err := m.Pointer()
		if err != nil {
			logger.Sugar.Warnf("[Host] bad pointer event: remote=%s err=%v", sess.ch.Addr(), err)
			return false
		}
		sess.mu.Lock()
		sess.pointers++
		sess.lastPos = image.Pt(int(e.X), int(e.Y))
		sess.mu.Unlock()
		logger.Sugar.Debugf("[Host] pointer: remote=%s x=%d y=%d buttons=%d wheel=%d", sess.ch.Addr(), e.X, e.Y, e.Buttons, e.Wheel)
	case protocol.MsgKey:
		e, err := m.Key()
		if err != nil {
			logger.Sugar.Warnf("[Host] bad key event: remote=%s err=%v", sess.ch.Addr(), err)
			return false
		}
		sess.mu.Lock()
		sess.keys++
		sess.mu.Unlock()
		logger.Sugar.Debugf("[Host] key: remote=%s code=%d down=%t", sess.ch.Addr(), e.Code, e.Down)
	case protocol.MsgBye:
		return true
	default:
		logger.Sugar.Debugf("[Host] ignoring message: remote=%s type=%s len=%d", sess.ch.Addr(), m.Type, m.Length())
	}
	return false
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()
	interval := s.cfg.TileInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quitCh:
			return
		case <-ticker.C:
			s.frameMu.Lock()
			tiles, err := s.source.Next()
			sessions := s.activeSessions()
			s.frameMu.Unlock()
			if err != nil {
				logger.Sugar.Errorf("[Host] frame source failed: err=%v", err)
				continue
			}
			for _, sess := range sessions {
				s.pushTiles(sess, tiles)
			}
		}
	}
}

func (s *Server) pushTiles(sess *session, tiles []Tile) {
	sess.pushMu.Lock()
	defer sess.pushMu.Unlock()
	for _, t := range tiles {
		m, err := protocol.NewImageUpdate(protocol.ImageUpdate{X: int32(t.At.X), Y: int32(t.At.Y), Image: t.Image})
		if err != nil {
			logger.Sugar.Warnf("[Host] encode tile: err=%v", err)
			continue
		}
		if err := sess.ch.Send(m); err != nil {
			if secure.IsFatal(err) {
				s.dropSession(sess, err)
				return
			}
			logger.Sugar.Warnf("[Host] tile dropped: remote=%s err=%v", sess.ch.Addr(), err)
		}
	}
}

func (s *Server) activeSessions() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	return list
}

// dropSession removes sess once. A nil reason means the viewer said goodbye.
func (s *Server) dropSession(sess *session, reason error) {
	addr := sess.ch.Addr()
	s.mu.Lock()
	cur, ok := s.sessions[addr]
	if ok && cur == sess {
		delete(s.sessions, addr)
	}
	s.mu.Unlock()
	if !ok || cur != sess {
		return
	}

	s.collector.Untrack(sess.ch)
	_ = sess.ch.Close()
	if reason != nil {
		logger.Sugar.Warnf("[Host] viewer dropped: remote=%s err=%v", addr, reason)
	} else {
		logger.Sugar.Infof("[Host] viewer left: remote=%s", addr)
	}
}

// Sessions lists connected viewers ordered by address.
func (s *Server) Sessions() []SessionInfo {
	list := s.activeSessions()
	infos := make([]SessionInfo, 0, len(list))
	for _, sess := range list {
		sess.mu.Lock()
		info := SessionInfo{
			Addr:          sess.ch.Addr(),
			Since:         sess.since,
			SentRate:      sess.ch.SentRate(),
			ReceivedRate:  sess.ch.ReceivedRate(),
			BytesSent:     sess.ch.BytesSent(),
			BytesReceived: sess.ch.BytesReceived(),
			Pointers:      sess.pointers,
			Keys:          sess.keys,
			LastPointer:   sess.lastPos,
		}
		sess.mu.Unlock()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Addr < infos[j].Addr })
	return infos
}

func (s *Server) Status() string {
	size := s.source.Size()
	sessions := s.Sessions()

	status := fmt.Sprintf("Screen Host Running on: %s\n", s.Addr())
	status += fmt.Sprintf("Screen: %dx%d\n", size.X, size.Y)
	status += fmt.Sprintf("Connected Viewers: %d\n", len(sessions))
	for _, info := range sessions {
		status += fmt.Sprintf(" - %s up %s | sent %s (%s) | recv %s | %d pointer, %d key events\n",
			info.Addr,
			time.Since(info.Since).Truncate(time.Second),
			monitor.SizeSuffix(info.BytesSent), monitor.RateString(info.SentRate),
			monitor.SizeSuffix(info.BytesReceived),
			info.Pointers, info.Keys)
	}
	return status
}

// Stop says goodbye to every viewer, closes everything and waits for the
// background goroutines. Goodbyes that cannot be written within byeGrace,
// for instance to a viewer that stopped reading, are abandoned.
func (s *Server) Stop() error {
	var err error
	s.quitOnce.Do(func() {
		close(s.quitCh)
		s.advertiser.Stop()
		if s.listener != nil {
			err = multierr.Append(err, s.listener.Close())
		}

		s.mu.Lock()
		sessions := s.sessions
		s.sessions = make(map[string]*session)
		s.mu.Unlock()

		var byes sync.WaitGroup
		for _, sess := range sessions {
			s.collector.Untrack(sess.ch)
			byes.Add(1)
			go func(ch *secure.Channel) {
				defer byes.Done()
				if sendErr := ch.Send(protocol.NewBye()); sendErr != nil {
					logger.Sugar.Debugf("[Host] bye not sent: remote=%s err=%v", ch.Addr(), sendErr)
				}
			}(sess.ch)
		}
		byesDone := make(chan struct{})
		go func() {
			byes.Wait()
			close(byesDone)
		}()
		select {
		case <-byesDone:
		case <-time.After(byeGrace):
			logger.Sugar.Warnf("[Host] goodbyes still pending after %s, closing anyway", byeGrace)
		}

		// closing unblocks any reader or writer still stuck on a session
		for _, sess := range sessions {
			err = multierr.Append(err, sess.ch.Close())
		}
		<-byesDone
		s.wg.Wait()
		logger.Sugar.Info("[Host] stopped")
	})
	return err
}
