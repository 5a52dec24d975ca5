/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"bytes"
	"strings"

	"github.com/Juice-Labs/annserver/pkg/infcom"
)

// upload receives a graph artifact and registers it as an uploaded model.
func (session *Session) upload(request infcom.Command) error {
	name := strings.TrimSpace(request.Text())
	input, output := dims(request.Data[2:5]), dims(request.Data[5:8])

	session.mutex.Lock()
	session.model = name
	session.mutex.Unlock()

	reply, err := session.conn.Exchange(infcom.NewCommand(infcom.SendModelFile1))
	if err != nil {
		return err
	}

	size := reply.Data[0]
	if size <= 0 || int(size) > session.server.config.MaxArtifactSize {
		return infcom.ErrProtocol.Wrapf("artifact size %d out of (0, %d]", size, session.server.config.MaxArtifactSize)
	}

	payload, err := session.conn.RecvPayload(int(size))
	if err != nil {
		return err
	}

	model, err := session.server.registry.Store(name, input, output, reply.Text(), bytes.NewReader(payload))
	if err != nil {
		return err
	}

	session.logger.Infof("stored %s, %d bytes, blake3 %s", model.Artifact, size, model.Digest)

	err = session.conn.Send(infcom.NewCommand(infcom.CompilerStatus, 1, 100,
		output.W, output.H, output.C).WithMessage(name))
	if err != nil {
		return err
	}

	return session.finish()
}
