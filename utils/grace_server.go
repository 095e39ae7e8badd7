package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	DEFAULT_READ_TIMEOUT     = 60 * time.Second
	DEFAULT_WRITE_TIMEOUT    = DEFAULT_READ_TIMEOUT
	DEFAULT_SHUTDOWN_TIMEOUT = 30 * time.Second
)

// Server wraps http.Server to support graceful shutdown with ordered hooks.
type Server struct {
	*http.Server

	listener   net.Listener
	signalChan chan os.Signal
	onShutdown []func(context.Context)
}

// NewServer creates a Server with timeouts and handler.
func NewServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *Server {
	return &Server{
		Server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		signalChan: make(chan os.Signal, 1),
	}
}

// OnShutdown registers fn to run after the HTTP server stopped accepting requests.
// Hooks run in registration order with the shutdown deadline.
func (srv *Server) OnShutdown(fn func(context.Context)) {
	srv.onShutdown = append(srv.onShutdown, fn)
}

// ListenAndServe serves until SIGTERM or SIGINT, then drains in-flight requests and runs the hooks.
func (srv *Server) ListenAndServe() error {
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("net.Listen error: %w", err)
	}
	srv.listener = ln

	signal.Notify(srv.signalChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(srv.signalChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Server.Serve(ln)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-srv.signalChan:
		L().Sugar().Infof("received %s, graceful shutting down HTTP server", sig)
	}
	return srv.shutdown()
}

func (srv *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), DEFAULT_SHUTDOWN_TIMEOUT)
	defer cancel()
	err := srv.Shutdown(ctx)
	if err != nil {
		L().Sugar().Errorf("HTTP server shutdown error: %v", err)
	} else {
		L().Sugar().Info("HTTP server shutdown success")
	}
	for _, fn := range srv.onShutdown {
		fn(ctx)
	}
	return err
}
