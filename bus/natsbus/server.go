package natsbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// Server is an in-process NATS server for single-host deployments and
// tests.
type Server struct {
	ns     *server.Server
	logger *zap.Logger
}

// StartServer starts an embedded server on host:port. Port -1 picks a
// random free port.
func StartServer(host string, port int, timeout time.Duration, logger *zap.Logger) (*Server, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: new server: %w", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(timeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("natsbus: server not ready after %s", timeout)
	}
	logger.Info("embedded nats listening", zap.String("url", ns.ClientURL()))
	return &Server{ns: ns, logger: logger}, nil
}

// ClientURL is the URL clients connect to.
func (s *Server) ClientURL() string { return s.ns.ClientURL() }

// Shutdown stops the server and waits for it.
func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
