package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dnsforge/dnsforged/internal/rules"
	"github.com/dnsforge/dnsforged/internal/upstream"
)

// tcpRequestTimeout bounds reading one framed request from an accepted
// connection, so half-open clients cannot pin handler goroutines.
const tcpRequestTimeout = 5 * time.Second

// maxMessageSize is the largest DNS message either transport can carry.
const maxMessageSize = 65535

// Exchanger forwards raw request bytes to an upstream resolver. Satisfied
// by *upstream.Pool.
type Exchanger interface {
	Exchange(ctx context.Context, req []byte) ([]byte, upstream.Resolver, error)
}

// Config holds the listener configuration.
type Config struct {
	Interface string
	Port      int
	TCP       bool
	IPv6      bool

	// MaxQPS enables per-client rate limiting when positive.
	MaxQPS float64
}

// Server runs one DNS listener (UDP or TCP, per configuration) and
// dispatches every query on its own goroutine, so a slow upstream exchange
// never blocks other clients.
type Server struct {
	cfg      Config
	table    *rules.Table
	exchange Exchanger
	log      *logrus.Logger
	limiter  *rateLimiter

	udpConn net.PacketConn
	tcpLn   net.Listener

	g        *errgroup.Group
	handlers sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a server over an immutable rule table and upstream exchanger.
func New(cfg Config, table *rules.Table, exchange Exchanger, log *logrus.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		table:    table,
		exchange: exchange,
		log:      log,
		done:     make(chan struct{}),
	}
	if cfg.MaxQPS > 0 {
		s.limiter = newRateLimiter(cfg.MaxQPS)
	}
	return s
}

// Start binds the configured listener and launches its accept loop. Bind
// failures are returned synchronously so main can exit non-zero.
func (s *Server) Start() error {
	s.g = new(errgroup.Group)

	if s.cfg.TCP {
		ln, err := net.Listen(s.network("tcp"), s.listenAddr())
		if err != nil {
			return fmt.Errorf("bind TCP listener: %w", err)
		}
		s.tcpLn = ln
		s.g.Go(s.serveTCP)
		return nil
	}

	conn, err := net.ListenPacket(s.network("udp"), s.listenAddr())
	if err != nil {
		return fmt.Errorf("bind UDP listener: %w", err)
	}
	s.udpConn = conn
	s.g.Go(s.serveUDP)
	return nil
}

// Stop closes the listener, waits for the accept loop and lets in-flight
// handlers finish under their own upstream deadlines.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.udpConn != nil {
			s.udpConn.Close()
		}
		if s.tcpLn != nil {
			s.tcpLn.Close()
		}
	})
	err := s.g.Wait()
	s.handlers.Wait()
	return err
}

// LocalAddr returns the bound listener address.
func (s *Server) LocalAddr() net.Addr {
	if s.cfg.TCP {
		return s.tcpLn.Addr()
	}
	return s.udpConn.LocalAddr()
}

func (s *Server) serveUDP() error {
	buf := make([]byte, maxMessageSize)
	for {
		n, addr, err := s.udpConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.log.Errorf("UDP read: %v", err)
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			if resp := s.dispatch(context.Background(), packet, addr, "udp"); resp != nil {
				s.udpConn.WriteTo(resp, addr)
			}
		}()
	}
}

func (s *Server) serveTCP() error {
	for {
		conn, err := s.tcpLn.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			s.log.Errorf("TCP accept: %v", err)
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			defer conn.Close()
			s.handleTCPConn(conn)
		}()
	}
}

// handleTCPConn serves one framed request per connection, per RFC 1035
// §4.2.2 two-byte length framing.
func (s *Server) handleTCPConn(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(tcpRequestTimeout))

	var lenBuf [2]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return
	}
	packet := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(conn, packet); err != nil {
		return
	}

	resp := s.dispatch(context.Background(), packet, conn.RemoteAddr(), "tcp")
	if resp == nil {
		return
	}

	framed := make([]byte, 2+len(resp))
	binary.BigEndian.PutUint16(framed, uint16(len(resp)))
	copy(framed[2:], resp)
	conn.Write(framed)
}

func (s *Server) listenAddr() string {
	return net.JoinHostPort(s.cfg.Interface, strconv.Itoa(s.cfg.Port))
}

func (s *Server) network(proto string) string {
	if s.cfg.IPv6 {
		return proto + "6"
	}
	return proto + "4"
}
