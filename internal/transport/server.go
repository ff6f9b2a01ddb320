// Package transport implements the TCP accept loop, per-connection line
// framing, and the operator console. It owns sockets and nothing else: all
// protocol and game state lives behind the Handler it drives.
package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"sedmaserver/internal/safe"
)

// ConnID identifies one accepted connection for the lifetime of the socket.
// It is never reused while the process runs.
type ConnID uint64

// TickInterval drives the coordinator's periodic timeout checks.
const TickInterval = 250 * time.Millisecond

// Handler is the boundary the transport depends on. The coordinator
// implements it; the transport never reaches into coordinator state
// directly, matching the SendLineFn/SendErrFn callback boundary generalized
// into an interface.
type Handler interface {
	OnConnect(id ConnID)
	OnLine(id ConnID, line string)
	OnFramingError(id ConnID, reason string)
	OnDisconnect(id ConnID)
	OnTick(now time.Time)
	OnOperatorShutdown()
}

// Server accepts TCP connections, frames lines off each one, and drives a
// Handler. Its SendLine and Close methods let the coordinator write back to
// or close any connection by ID.
type Server struct {
	addr       string
	maxClients int
	handler    Handler

	listener net.Listener
	sem      *semaphore.Weighted

	mu    sync.Mutex
	conns map[ConnID]net.Conn
	nextID uint64
}

// NewServer builds a Server bound to addr, admitting at most maxClients
// concurrent connections.
func NewServer(addr string, maxClients int, handler Handler) *Server {
	return &Server{
		addr:       addr,
		maxClients: maxClients,
		handler:    handler,
		sem:        semaphore.NewWeighted(int64(maxClients)),
		conns:      make(map[ConnID]net.Conn),
	}
}

// SendLine writes line, newline-terminated, to the connection identified by
// id. Unknown or closed IDs are silently ignored: the coordinator may race
// a disconnect notification against an in-flight broadcast.
func (s *Server) SendLine(id ConnID, line string) {
	s.mu.Lock()
	conn := s.conns[id]
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.writeAll(conn, append([]byte(line), '\n'))
}

// Close closes the connection identified by id, if still open.
func (s *Server) Close(id ConnID) {
	s.mu.Lock()
	conn := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// writeAll sends every byte of data with a bounded deadline, tolerating the
// transient short-write retries a non-blocking socket would need; Go's
// blocking writes already loop internally, so this mainly protects against
// a stalled peer by enforcing a deadline rather than a literal EAGAIN loop.
func (s *Server) writeAll(conn net.Conn, data []byte) {
	conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	_, err := conn.Write(data)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		log.WithError(err).Warn("transport: write failed, dropping connection")
		conn.Close()
	}
}

// Run starts the accept loop, the tick loop, and the operator console, and
// blocks until ctx is canceled or a fatal listen error occurs. All three
// loops, plus one reader per accepted connection, are supervised by an
// errgroup so a single context cancellation (SIGINT/SIGTERM, or the
// operator typing "quit") tears every one of them down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	log.Infof("transport: listening on %s", s.addr)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.listener.Close()
		s.closeAll()
		return nil
	})

	g.Go(func() error {
		return s.acceptLoop(ctx, g)
	})

	g.Go(func() error {
		return s.tickLoop(ctx)
	})

	g.Go(func() error {
		return s.consoleLoop(ctx)
	})

	if err := g.Wait(); err != nil && err != errOperatorShutdown {
		return err
	}
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, g *errgroup.Group) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("transport: accept failed")
			continue
		}

		if !s.sem.TryAcquire(1) {
			log.Warn("transport: max clients reached, rejecting connection")
			conn.Close()
			continue
		}

		id := s.register(conn)
		g.Go(func() error {
			defer s.sem.Release(1)
			defer safe.Recover("transport.serve")
			s.serve(ctx, id, conn)
			return nil
		})
	}
}

func (s *Server) register(conn net.Conn) ConnID {
	s.mu.Lock()
	s.nextID++
	id := ConnID(s.nextID)
	s.conns[id] = conn
	s.mu.Unlock()
	return id
}

func (s *Server) serve(ctx context.Context, id ConnID, conn net.Conn) {
	s.handler.OnConnect(id)
	defer func() {
		s.Close(id)
		s.handler.OnDisconnect(id)
	}()

	var framer Framer
	reader := bufio.NewReaderSize(conn, 4096)
	buf := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			return
		}
		// No read deadline here: idle detection is the coordinator's job,
		// driven by last_seen and the periodic tick, not the socket layer.
		n, err := reader.Read(buf)
		if n > 0 {
			lines, ferr := framer.Feed(buf[:n])
			for _, line := range lines {
				s.handler.OnLine(id, line)
			}
			if ferr != nil {
				s.handler.OnFramingError(id, ferr.Error())
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.handler.OnTick(now)
		}
	}
}

// errOperatorShutdown is returned by consoleLoop to cancel the errgroup's
// shared context when the operator asks to quit; Run treats it as a clean
// exit rather than a failure.
var errOperatorShutdown = errors.New("operator requested shutdown")

func (s *Server) consoleLoop(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				s.handler.OnOperatorShutdown()
				return errOperatorShutdown
			}
			switch line {
			case "quit", "exit", "q":
				s.handler.OnOperatorShutdown()
				return errOperatorShutdown
			}
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[ConnID]net.Conn)
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
