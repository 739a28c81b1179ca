// Package http serves the signaling endpoints. Without a certificate the
// server speaks plain HTTP/1.1, with a certificate it serves HTTP/2 over TLS
// and HTTP/3 over QUIC on the same port.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = time.Second

type Option func(*Server) error

func Address(address string) Option {
	return func(s *Server) error {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return fmt.Errorf("invalid address %q: %w", address, err)
		}
		s.addr = address
		return nil
	}
}

func Handle(handler http.Handler) Option {
	return func(s *Server) error {
		s.handler = handler
		return nil
	}
}

func Logger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

func RequestLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.requestLogger = logger
		return nil
	}
}

func Certificate(cert tls.Certificate) Option {
	return func(s *Server) error {
		s.tlsConfig.Certificates = []tls.Certificate{cert}
		return nil
	}
}

func CertificateFile(file string) Option {
	return func(s *Server) error {
		s.certFile = file
		return nil
	}
}

func CertificateKeyFile(file string) Option {
	return func(s *Server) error {
		s.keyFile = file
		return nil
	}
}

type Server struct {
	addr     string
	certFile string
	keyFile  string

	logger        *slog.Logger
	requestLogger *slog.Logger

	handler http.Handler

	tlsConfig  *tls.Config
	quicConfig *quic.Config
	secure     bool

	h1 *http.Server
	h3 *http3.Server

	tcpListener net.Listener
	udpConn     *net.UDPConn
}

func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		addr:          "localhost:8080",
		certFile:      "",
		keyFile:       "",
		logger:        slog.Default(),
		requestLogger: nil,
		handler:       http.DefaultServeMux,
		tlsConfig:     &tls.Config{NextProtos: []string{http3.NextProtoH3, "h2", "http/1.1"}},
		quicConfig:    &quic.Config{},
		h1:            &http.Server{},
		h3:            &http3.Server{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.tlsConfig.Certificates == nil && (s.certFile != "" || s.keyFile != "") {
		cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read TLS certificate or key: %v", err)
		}
		s.tlsConfig.Certificates = []tls.Certificate{cert}
	}
	s.secure = s.tlsConfig.Certificates != nil

	handler := s.handler
	if s.requestLogger != nil {
		handler = s.logRequest(handler)
	}
	s.h1.Addr = s.addr
	s.h1.Handler = handler
	if s.secure {
		s.h1.Handler = s.setAltSvcHeader(handler)
		s.h1.TLSConfig = s.tlsConfig
		s.h3.Addr = s.addr
		s.h3.TLSConfig = s.tlsConfig
		s.h3.Handler = handler
	}
	return s, nil
}

// Listen binds the TCP listener, and the UDP socket for HTTP/3 if the
// server has a certificate.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.tcpListener = ln
	if !s.secure {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", ln.Addr().String())
	if err != nil {
		return errors.Join(err, ln.Close())
	}
	s.udpConn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Join(err, ln.Close())
	}
	return nil
}

// Addr returns the address of the TCP listener, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.tcpListener == nil {
		return nil
	}
	return s.tcpListener.Addr()
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve serves requests until ctx is done or serving fails.
func (s *Server) Serve(ctx context.Context) error {
	if s.tcpListener == nil {
		return errors.New("server is not listening")
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if !s.secure {
			s.logger.Info("serving HTTP/1.1", "address", s.Addr())
			return ignoreClosed(s.h1.Serve(s.tcpListener))
		}
		s.logger.Info("serving HTTP/2", "address", s.Addr())
		return ignoreClosed(s.h1.ServeTLS(s.tcpListener, "", ""))
	})
	if s.secure {
		eg.Go(func() error {
			s.logger.Info("serving HTTP/3", "address", s.udpConn.LocalAddr())
			return ignoreClosed(s.serveQUIC(ctx))
		})
	}
	eg.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.h1.Shutdown(sctx)
		if s.secure {
			err = errors.Join(err, s.h3.Shutdown(sctx))
		}
		return err
	})
	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) serveQUIC(ctx context.Context) error {
	tr := quic.Transport{
		Conn: s.udpConn,
	}
	defer tr.Close()
	ln, err := tr.Listen(s.tlsConfig, s.quicConfig)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept(ctx)
		if errors.Is(err, quic.ErrServerClosed) || ctx.Err() != nil {
			return http.ErrServerClosed
		}
		if err != nil {
			return err
		}
		if conn.ConnectionState().TLS.NegotiatedProtocol != http3.NextProtoH3 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.h3.ServeQUICConn(conn); err != nil {
				s.logger.Error("error on serving QUICConn", "error", err)
			}
			if err := conn.CloseWithError(0, "bye"); err != nil {
				s.logger.Error("error on closing QUIC conn", "error", err)
			}
		}()
	}
}

// Middleware

func (s *Server) setAltSvcHeader(next http.Handler) http.Handler {
	_, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		s.logger.Error("failed to set Alt-Svc header", "error", err)
		return next
	}
	portInt, err := net.LookupPort("tcp", portStr)
	if err != nil {
		s.logger.Error("failed to set Alt-Svc header", "error", err)
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			altSvc := fmt.Sprintf(`%s=":%d"; ma=2592000`, http3.NextProtoH3, portInt)
			w.Header()["Alt-Svc"] = []string{altSvc}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestLogger.Info("got request", "method", r.Method, "path", r.URL.Path, "proto", r.Proto, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
