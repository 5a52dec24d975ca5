/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Juice-Labs/annserver/cmd/annserver/prometheus"
	"github.com/Juice-Labs/annserver/pkg/logger"
	pkgnet "github.com/Juice-Labs/annserver/pkg/net"
	"github.com/Juice-Labs/annserver/pkg/restapi"
	"github.com/Juice-Labs/annserver/pkg/server"
)

func newHttpServer(address string, tlsConfig *tls.Config) *server.Server {
	return server.NewServer(address, tlsConfig)
}

func (server *Server) initializeEndpoints() {
	server.Http.AddEndpointFunc("GET", "/v1/status", server.getStatusEp)
	server.Http.AddEndpointFunc("GET", "/v1/sessions", server.getSessionsEp)
	server.Http.AddEndpointFunc("DELETE", "/v1/sessions/{id}", server.cancelSessionEp)
	server.Http.AddEndpointFunc("GET", "/v1/models", server.getModelsEp)

	prometheus.InitializeEndpoints(server.Http, prometheus.NewRegistry(server.metrics))
}

func (server *Server) Status() restapi.Status {
	leased := map[int]bool{}
	for _, id := range server.leases.Leased() {
		leased[id] = true
	}

	devices := make([]restapi.Device, 0, server.leases.Total())
	for id, device := range server.leases.Devices() {
		devices = append(devices, restapi.Device{
			Index:  device.Index,
			Name:   device.Name,
			Memory: device.Memory,
			Leased: leased[id],
		})
	}

	return restapi.Status{
		State:       "Active",
		Version:     server.Version,
		Hostname:    server.Hostname,
		Address:     server.Addr(),
		Backend:     server.backend.Name(),
		Devices:     devices,
		FreeDevices: server.leases.Free(),
		Sessions:    server.sessionCount(),
		MaxSessions: server.config.MaxSessions,
	}
}

func (server *Server) getStatusEp(w http.ResponseWriter, r *http.Request) {
	err := pkgnet.Respond(w, http.StatusOK, server.Status())
	if err != nil {
		logger.Error(err)
	}
}

func (server *Server) getSessionsEp(w http.ResponseWriter, r *http.Request) {
	err := pkgnet.Respond(w, http.StatusOK, server.getSessions())
	if err != nil {
		logger.Error(err)
	}
}

func (server *Server) cancelSessionEp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := server.cancelSession(id)
	if err != nil {
		pkgnet.RespondWithError(w, http.StatusNotFound, err)
		return
	}

	err = pkgnet.RespondWithString(w, http.StatusOK, fmt.Sprintf("Session %s cancelled", id))
	if err != nil {
		logger.Error(err)
	}
}

func (server *Server) getModelsEp(w http.ResponseWriter, r *http.Request) {
	models := server.registry.Models()

	response := make([]restapi.Model, 0, len(models))
	for _, model := range models {
		response = append(response, restapi.Model{
			Name:     model.Name,
			Input:    restapi.Dims{W: model.Input.W, H: model.Input.H, C: model.Input.C},
			Output:   restapi.Dims{W: model.Output.W, H: model.Output.H, C: model.Output.C},
			Source:   string(model.Source),
			Artifact: model.Artifact,
			Digest:   model.Digest,
		})
	}

	err := pkgnet.Respond(w, http.StatusOK, response)
	if err != nil {
		logger.Error(err)
	}
}
