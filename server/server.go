package server

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"sort"
	"sync"

	"github.com/framegrace/turbosheet/grid"
)

var (
	ErrAlreadyRunning = errors.New("server: already running")
	ErrUnknownSheet   = errors.New("server: unknown sheet")
)

// Server listens on a Unix domain socket and serves registered sheets to
// remote viewports.
type Server struct {
	addr     string
	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup

	manager *Manager
	stats   StatsObserver

	mu          sync.RWMutex
	sheets      map[string]grid.Source
	defaultName string
	running     bool
}

func New(addr string) *Server {
	return &Server{
		addr:    addr,
		quit:    make(chan struct{}),
		manager: NewManager(),
		sheets:  make(map[string]grid.Source),
	}
}

// AddSheet registers src under name. The first sheet registered also
// serves opens that carry an empty sheet name.
func (s *Server) AddSheet(name string, src grid.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sheets) == 0 {
		s.defaultName = name
	}
	s.sheets[name] = src
}

// Sheets returns the registered sheet names, sorted.
func (s *Server) Sheets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sheets))
	for name := range s.sheets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Server) lookupSheet(name string) (grid.Source, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if name == "" {
		name = s.defaultName
	}
	src, ok := s.sheets[name]
	if !ok {
		return nil, name, ErrUnknownSheet
	}
	return src, name, nil
}

// SetStatsObserver installs an observer that receives per-connection
// traffic stats at teardown. Must be called before Start.
func (s *Server) SetStatsObserver(obs StatsObserver) {
	s.stats = obs
}

// Manager exposes the session registry, mainly to count active sessions.
func (s *Server) Manager() *Manager {
	return s.manager
}

func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	if err := os.RemoveAll(s.addr); err != nil {
		return err
	}
	l, err := net.Listen("unix", s.addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer c.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				select {
				case <-s.quit:
					cancel()
				case <-ctx.Done():
				}
			}()

			session, err := handleOpen(ctx, c, s)
			if err != nil {
				return
			}
			defer s.manager.Close(session.ID())

			sc := newConnection(c, session)
			if err := sc.serve(ctx, s.quit); err != nil {
				id := session.ID()
				log.Printf("server: connection %x: %v", id[:4], err)
			}
			if s.stats != nil {
				s.stats.ObserveConnStats(sc.statsSnapshot())
			}
		}(conn)
	}
}

func (s *Server) Stop(ctx context.Context) error {
	close(s.quit)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
