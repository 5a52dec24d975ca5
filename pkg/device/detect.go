/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package device

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/Juice-Labs/annserver/pkg/logger"
)

// Detect enumerates the devices through NVML. When NVML is unavailable it
// falls back to --devices anonymous devices. --max-devices caps the result.
func Detect() ([]Device, error) {
	devices, err := detectNvml()
	if err != nil {
		logger.Infof("NVML unavailable, exposing %d device(s): %v", *devicesArg, err)
		devices = Anonymous(*devicesArg)
	}

	if *maxDevicesArg > 0 && len(devices) > *maxDevicesArg {
		devices = devices[:*maxDevicesArg]
	}

	if len(devices) == 0 {
		return nil, ErrInsufficientDevices.Wrapf("no devices detected")
	}

	return devices, nil
}

func Anonymous(count int) []Device {
	devices := make([]Device, count)
	for index := range devices {
		devices[index] = Device{
			Index: index,
			Name:  fmt.Sprintf("device%d", index),
		}
	}
	return devices
}

func nvmlError(ret nvml.Return) error {
	return fmt.Errorf("nvml: %s", nvml.ErrorString(ret))
}

func detectNvml() ([]Device, error) {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return nil, nvmlError(ret)
	}
	defer nvml.Shutdown()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, nvmlError(ret)
	}

	devices := make([]Device, 0, count)
	for index := 0; index < count; index++ {
		handle, ret := nvml.DeviceGetHandleByIndex(index)
		if ret != nvml.SUCCESS {
			return nil, nvmlError(ret)
		}

		name, ret := handle.GetName()
		if ret != nvml.SUCCESS {
			return nil, nvmlError(ret)
		}

		device := Device{
			Index: index,
			Name:  name,
		}

		memory, ret := handle.GetMemoryInfo()
		if ret == nvml.SUCCESS {
			device.Memory = memory.Total
		}

		devices = append(devices, device)
	}

	return devices, nil
}
