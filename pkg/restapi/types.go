/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package restapi

import (
	"time"
)

const (
	SessionHandshake = "handshake"
	SessionRunning   = "running"
	SessionDraining  = "draining"
	SessionClosing   = "closing"
)

const (
	ModeConfigure = "configure"
	ModeUpload    = "upload"
	ModeInference = "inference"
)

type Dims struct {
	W int32 `json:"w"`
	H int32 `json:"h"`
	C int32 `json:"c"`
}

type Device struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Memory uint64 `json:"memory,omitempty"`
	Leased bool   `json:"leased"`
}

type Session struct {
	Id      string    `json:"id"`
	Address string    `json:"address"`
	Mode    string    `json:"mode"`
	State   string    `json:"state"`
	Model   string    `json:"model,omitempty"`
	TopK    int       `json:"topK,omitempty"`
	Devices []int     `json:"devices"`
	Started time.Time `json:"started"`

	ImagesReceived uint64 `json:"imagesReceived"`
	ResultsSent    uint64 `json:"resultsSent"`
	InFlight       int    `json:"inFlight"`
}

type Model struct {
	Name     string `json:"name"`
	Input    Dims   `json:"input"`
	Output   Dims   `json:"output"`
	Source   string `json:"source"`
	Artifact string `json:"artifact"`
	Digest   string `json:"digest,omitempty"`
}

type Status struct {
	State    string `json:"state"`
	Version  string `json:"version"`
	Hostname string `json:"hostname"`
	Address  string `json:"address"`
	Backend  string `json:"backend"`

	Devices     []Device `json:"devices"`
	FreeDevices int      `json:"freeDevices"`
	Sessions    int      `json:"sessions"`
	MaxSessions int      `json:"maxSessions"`
}
