/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/time/rate"

	"github.com/Juice-Labs/annserver/cmd/annserver/prometheus"
	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/device"
	pkgerrors "github.com/Juice-Labs/annserver/pkg/errors"
	"github.com/Juice-Labs/annserver/pkg/infcom"
	"github.com/Juice-Labs/annserver/pkg/logger"
	"github.com/Juice-Labs/annserver/pkg/registry"
	"github.com/Juice-Labs/annserver/pkg/restapi"
	"github.com/Juice-Labs/annserver/pkg/server"
	"github.com/Juice-Labs/annserver/pkg/task"
)

var (
	address     = flag.String("address", "0.0.0.0:28282", "The IP address and port to use for listening for inference clients")
	httpAddress = flag.String("http-address", "0.0.0.0:28283", "The IP address and port of the status endpoints, empty disables them")

	batchSize         = flag.Int("batch-size", 64, "Images computed together on a device")
	poolDepth         = flag.Int("pool-depth", 2, "Tensor buffers per pool and device")
	decodeWorkers     = flag.Int("decode-workers", 0, "Image decoders per device, 0 uses one per CPU")
	idlePoll          = flag.Duration("idle-poll", 2*time.Millisecond, "Sleep of an idle session between polls")
	connectionTimeout = flag.Duration("connection-timeout", infcom.DefaultTimeout, "Deadline of every socket operation")
	maxInFlight       = flag.Int("max-in-flight", 1024, "Images a session accepts before waiting on results")
	maxSessions       = flag.Int("max-sessions", 16, "Maximum number of simultaneous sessions")
	acceptRate        = flag.Float64("accept-rate", 0, "Connections accepted per second, 0 is unlimited")
	maxArtifactSize   = flag.Int("max-artifact-size", 512*1024*1024, "Largest uploaded model artifact in bytes")

	ErrServerBusy    = pkgerrors.NewKind("resources", "server: too many sessions")
	ErrInvalidConfig = pkgerrors.NewKind("config", "server: invalid configuration")
)

type Config struct {
	Address     string
	HttpAddress string

	// Serves the HTTP endpoints over https when set.
	HttpTLS *tls.Config

	BatchSize     int
	PoolDepth     int
	DecodeWorkers int

	IdlePoll          time.Duration
	ConnectionTimeout time.Duration

	MaxInFlight     int
	MaxSessions     int
	AcceptRate      float64
	MaxArtifactSize int
}

func ConfigFromFlags() Config {
	return Config{
		Address:           *address,
		HttpAddress:       *httpAddress,
		BatchSize:         *batchSize,
		PoolDepth:         *poolDepth,
		DecodeWorkers:     *decodeWorkers,
		IdlePoll:          *idlePoll,
		ConnectionTimeout: *connectionTimeout,
		MaxInFlight:       *maxInFlight,
		MaxSessions:       *maxSessions,
		AcceptRate:        *acceptRate,
		MaxArtifactSize:   *maxArtifactSize,
	}
}

// Server accepts inference clients and runs a Session for each of them.
type Server struct {
	Hostname string
	Version  string

	config Config

	leases   *device.Leases
	registry *registry.Registry
	backend  compute.Backend

	metrics *prometheus.Collector
	Http    *server.Server

	limiter *rate.Limiter

	sessionsMutex sync.Mutex
	sessions      *orderedmap.OrderedMap[string, *Session]

	listenerMutex sync.Mutex
	listener      net.Listener
}

// validate rejects configurations a session could stall on. A device only
// computes full batches until the end of input, so a session must be able to
// keep a whole batch in flight.
func (config *Config) validate() error {
	if config.BatchSize <= 0 || config.PoolDepth <= 0 {
		return ErrInvalidConfig.Wrapf("batch size %d, pool depth %d", config.BatchSize, config.PoolDepth)
	}
	if config.MaxInFlight < config.BatchSize {
		return ErrInvalidConfig.Wrapf("max in flight %d is below the batch size %d", config.MaxInFlight, config.BatchSize)
	}
	return nil
}

func NewServer(config Config, version string, leases *device.Leases, registry *registry.Registry, backend compute.Backend) (*Server, error) {
	err := config.validate()
	if err != nil {
		return nil, err
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if config.AcceptRate > 0 {
		limit = rate.Limit(config.AcceptRate)
	}

	server := &Server{
		Hostname: hostname,
		Version:  version,
		config:   config,
		leases:   leases,
		registry: registry,
		backend:  backend,
		metrics:  prometheus.NewCollector(),
		limiter:  rate.NewLimiter(limit, 1),
		sessions: orderedmap.New[string, *Session](),
	}

	if config.HttpAddress != "" {
		server.Http = newHttpServer(config.HttpAddress, config.HttpTLS)
		server.initializeEndpoints()
	}

	logger.Info("Devices")
	for _, device := range leases.Devices() {
		logger.Infof("  %s", device)
	}

	return server, nil
}

// Addr returns the address inference clients connect to once Run has been called.
func (server *Server) Addr() string {
	server.listenerMutex.Lock()
	defer server.listenerMutex.Unlock()

	if server.listener == nil {
		return server.config.Address
	}
	return server.listener.Addr().String()
}

// Run starts the inference listener and the HTTP endpoints in group.
func (server *Server) Run(group task.Group) error {
	listener, err := net.Listen("tcp", server.config.Address)
	if err != nil {
		return err
	}

	server.listenerMutex.Lock()
	server.listener = listener
	server.listenerMutex.Unlock()

	logger.Infof("listening for inference clients on %s", listener.Addr())

	group.GoFn("Server Accept", func(group task.Group) error {
		return server.accept(group, listener)
	})

	group.GoFn("Server Close", func(group task.Group) error {
		<-group.Ctx().Done()
		return listener.Close()
	})

	if server.Http != nil {
		return server.Http.Run(group)
	}

	return nil
}

func (server *Server) accept(group task.Group, listener net.Listener) error {
	for {
		err := server.limiter.Wait(group.Ctx())
		if err != nil {
			return nil
		}

		conn, err := listener.Accept()
		if err != nil {
			if group.Ctx().Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			logger.Warningf("accept failed, %v", err)
			continue
		}

		server.Serve(group, conn)
	}
}

// Serve runs a session for conn in group. Session failures are reported to
// the client and logged, they never fail group.
func (server *Server) Serve(group task.Group, conn net.Conn) {
	session, err := server.addSession(group.Ctx(), conn)
	if err != nil {
		logger.Warningf("refusing %s, %v", conn.RemoteAddr(), err)

		group.GoFn("Server Refuse", func(group task.Group) error {
			infcom.NewConn(conn, server.config.ConnectionTimeout).Abort(err)
			return nil
		})
		return
	}

	group.GoFn(fmt.Sprintf("Session %s", session.Id), func(group task.Group) error {
		defer server.removeSession(session.Id)

		session.Run()
		return nil
	})
}

func (server *Server) addSession(ctx context.Context, conn net.Conn) (*Session, error) {
	server.sessionsMutex.Lock()
	defer server.sessionsMutex.Unlock()

	if server.config.MaxSessions > 0 && server.sessions.Len() >= server.config.MaxSessions {
		return nil, ErrServerBusy.Wrapf("%d sessions", server.sessions.Len())
	}

	session := newSession(ctx, uuid.NewString(), server, infcom.NewConn(conn, server.config.ConnectionTimeout))
	server.sessions.Set(session.Id, session)

	return session, nil
}

func (server *Server) removeSession(id string) {
	server.sessionsMutex.Lock()
	defer server.sessionsMutex.Unlock()

	server.sessions.Delete(id)
}

func (server *Server) getSession(id string) (*Session, error) {
	server.sessionsMutex.Lock()
	defer server.sessionsMutex.Unlock()

	session, found := server.sessions.Get(id)
	if found {
		return session, nil
	}

	return nil, fmt.Errorf("no session found with id %s", id)
}

func (server *Server) getSessions() []restapi.Session {
	server.sessionsMutex.Lock()
	defer server.sessionsMutex.Unlock()

	sessions := make([]restapi.Session, 0, server.sessions.Len())
	for pair := server.sessions.Oldest(); pair != nil; pair = pair.Next() {
		sessions = append(sessions, pair.Value.Session())
	}

	return sessions
}

func (server *Server) cancelSession(id string) error {
	session, err := server.getSession(id)
	if err != nil {
		return err
	}

	session.Cancel()
	return nil
}

func (server *Server) sessionCount() int {
	server.sessionsMutex.Lock()
	defer server.sessionsMutex.Unlock()

	return server.sessions.Len()
}
