/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/Juice-Labs/annserver/pkg/logger"
	"github.com/Juice-Labs/annserver/pkg/task"
)

var (
	corsOrigins = flag.String("cors-origins", "http://localhost:3000", "Comma separated origins allowed to read the HTTP endpoints")
)

const shutdownTimeout = 5 * time.Second

type Endpoint struct {
	Name    string
	Methods []string
	Path    string
	Handler http.Handler
}

// Server is an HTTP server whose endpoints are registered before Run.
type Server struct {
	address   string
	tlsConfig *tls.Config

	root    *mux.Router
	handler http.Handler

	endpoints []Endpoint

	listenerMutex sync.Mutex
	listener      net.Listener
}

func NewServer(address string, tlsConfig *tls.Config) *Server {
	cors := cors.New(cors.Options{
		AllowedOrigins: strings.Split(*corsOrigins, ","),
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodDelete,
			http.MethodOptions,
			http.MethodHead,
		},

		AllowedHeaders: []string{
			"*",
		},
	})

	root := mux.NewRouter().StrictSlash(true)
	root.Use(logger.Middleware)

	server := &Server{
		address:   address,
		tlsConfig: tlsConfig,
		root:      root,
		handler:   cors.Handler(root),
	}

	server.AddEndpointFunc("GET", "/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return server
}

func (server *Server) AddEndpointFunc(method string, path string, fn http.HandlerFunc) {
	server.AddEndpoint(Endpoint{
		Methods: []string{method},
		Path:    path,
		Handler: fn,
	})
}

func (server *Server) AddNamedEndpointFunc(name string, method string, path string, fn http.HandlerFunc) {
	server.AddEndpoint(Endpoint{
		Name:    name,
		Methods: []string{method},
		Path:    path,
		Handler: fn,
	})
}

func (server *Server) AddEndpointHandler(method string, path string, handler http.Handler) {
	server.AddEndpoint(Endpoint{
		Methods: []string{method},
		Path:    path,
		Handler: handler,
	})
}

func (server *Server) AddEndpoint(endpoint Endpoint) {
	server.endpoints = append(server.endpoints, endpoint)
}

func (server *Server) RemoveEndpointByName(name string) {
	if name != "" {
		for index, endpoint := range server.endpoints {
			if endpoint.Name == name {
				server.endpoints = append(server.endpoints[0:index], server.endpoints[index+1:]...)
				break
			}
		}
	}
}

// Addr returns the address being listened on once Run has been called.
func (server *Server) Addr() string {
	server.listenerMutex.Lock()
	defer server.listenerMutex.Unlock()

	if server.listener == nil {
		return server.address
	}
	return server.listener.Addr().String()
}

// Handler returns the routed handler, for serving without a listener.
func (server *Server) Handler() http.Handler {
	for _, endpoint := range server.endpoints {
		server.root.Methods(endpoint.Methods...).Path(endpoint.Path).Handler(endpoint.Handler)
	}
	server.endpoints = nil

	return server.handler
}

// Run listens and serves in group until it is cancelled.
func (server *Server) Run(group task.Group) error {
	listener, err := net.Listen("tcp", server.address)
	if err != nil {
		return err
	}

	server.listenerMutex.Lock()
	server.listener = listener
	server.listenerMutex.Unlock()

	logger.Infof("HTTP listening on %s", listener.Addr())

	httpServer := http.Server{
		BaseContext: func(_ net.Listener) context.Context {
			return group.Ctx()
		},
		Handler:   server.Handler(),
		TLSConfig: server.tlsConfig,
	}

	group.GoFn("HTTP Listen", func(group task.Group) error {
		var err error
		if server.tlsConfig != nil {
			err = httpServer.ServeTLS(listener, "", "")
		} else {
			err = httpServer.Serve(listener)
		}

		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	group.GoFn("HTTP Shutdown", func(group task.Group) error {
		<-group.Ctx().Done()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(ctx)
	})

	return nil
}
