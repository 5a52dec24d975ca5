/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package app

import (
	"github.com/Juice-Labs/annserver/pkg/infcom"
	"github.com/Juice-Labs/annserver/pkg/registry"
)

func modelDesc(model registry.Model) infcom.ModelDesc {
	return infcom.ModelDesc{
		Name:            model.Name,
		Input:           [3]int32{model.Input.W, model.Input.H, model.Input.C},
		Output:          [3]int32{model.Output.W, model.Output.H, model.Output.C},
		ReverseChannels: model.ReverseChannels,
		Multiply:        model.Multiply,
		Add:             model.Add,
	}
}

// configure lists every registered model along with the device count.
func (session *Session) configure() error {
	models := session.server.registry.Models()

	_, err := session.conn.Exchange(infcom.NewCommand(infcom.ConfigInfo,
		int32(len(models)), int32(session.server.leases.Total())))
	if err != nil {
		return err
	}

	for _, model := range models {
		_, err = session.conn.Exchange(modelDesc(model).Command())
		if err != nil {
			return err
		}
	}

	_, err = session.conn.Recv(infcom.Done)
	if err != nil {
		return err
	}

	// The listing is complete, the closing DONE is a courtesy.
	session.conn.Send(infcom.NewCommand(infcom.Done))
	return nil
}
