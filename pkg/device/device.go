/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package device

import (
	"flag"
	"fmt"
	"sort"
	"sync"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

var (
	devicesArg    = flag.Int("devices", 1, "Number of compute devices to expose when none can be enumerated")
	maxDevicesArg = flag.Int("max-devices", 0, "Caps the number of devices exposed, 0 exposes all")

	ErrInsufficientDevices = errors.NewKind("resources", "device: not enough idle devices")
	ErrInvalidCount        = errors.NewKind("protocol", "device: device count must be positive")
)

type Device struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Memory uint64 `json:"memory,omitempty"`
}

func (device Device) String() string {
	if device.Memory > 0 {
		return fmt.Sprintf("%d: %s %dMB", device.Index, device.Name, device.Memory/(1024*1024))
	}
	return fmt.Sprintf("%d: %s", device.Index, device.Name)
}

// Leases hands out exclusive use of devices. A lease is all or nothing.
type Leases struct {
	mutex sync.Mutex

	devices []Device
	leased  []bool
	free    int
}

func NewLeases(devices []Device) *Leases {
	return &Leases{
		devices: devices,
		leased:  make([]bool, len(devices)),
		free:    len(devices),
	}
}

// Lease reserves count idle devices, lowest indices first, or none at all.
func (leases *Leases) Lease(count int) ([]int, error) {
	if count <= 0 {
		return nil, ErrInvalidCount.Wrapf("requested %d", count)
	}

	leases.mutex.Lock()
	defer leases.mutex.Unlock()

	if count > leases.free {
		return nil, ErrInsufficientDevices.Wrapf("requested %d, %d of %d idle", count, leases.free, len(leases.devices))
	}

	ids := make([]int, 0, count)
	for id := 0; id < len(leases.leased) && len(ids) < count; id++ {
		if !leases.leased[id] {
			leases.leased[id] = true
			ids = append(ids, id)
		}
	}
	leases.free -= count

	return ids, nil
}

// Release returns devices to the idle set. Ids that are not leased are ignored.
func (leases *Leases) Release(ids []int) {
	leases.mutex.Lock()
	defer leases.mutex.Unlock()

	for _, id := range ids {
		if id >= 0 && id < len(leases.leased) && leases.leased[id] {
			leases.leased[id] = false
			leases.free++
		}
	}
}

func (leases *Leases) Free() int {
	leases.mutex.Lock()
	defer leases.mutex.Unlock()

	return leases.free
}

func (leases *Leases) Total() int {
	return len(leases.devices)
}

func (leases *Leases) Devices() []Device {
	devices := make([]Device, len(leases.devices))
	copy(devices, leases.devices)
	return devices
}

func (leases *Leases) Device(id int) Device {
	return leases.devices[id]
}

// Leased reports the ids currently leased, in order.
func (leases *Leases) Leased() []int {
	leases.mutex.Lock()
	defer leases.mutex.Unlock()

	ids := make([]int, 0, len(leases.devices)-leases.free)
	for id, leased := range leases.leased {
		if leased {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}
