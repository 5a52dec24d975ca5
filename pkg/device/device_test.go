/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package device

import (
	"sync"
	"testing"

	"github.com/Juice-Labs/annserver/pkg/errors"
)

func TestLeaseIsAllOrNothing(t *testing.T) {
	leases := NewLeases(Anonymous(2))

	first, err := leases.Lease(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0] != 0 {
		t.Errorf("expected device 0, got %v", first)
	}

	_, err = leases.Lease(2)
	if !errors.Is(err, ErrInsufficientDevices) {
		t.Errorf("expected %v, got %v", ErrInsufficientDevices, err)
	}
	if leases.Free() != 1 {
		t.Errorf("a failed lease must not take devices, %d free", leases.Free())
	}

	leases.Release(first)
	if leases.Free() != 2 {
		t.Errorf("expected 2 free, got %d", leases.Free())
	}
}

func TestLeaseInvalidCount(t *testing.T) {
	leases := NewLeases(Anonymous(1))

	_, err := leases.Lease(0)
	if !errors.Is(err, ErrInvalidCount) {
		t.Errorf("expected %v, got %v", ErrInvalidCount, err)
	}
}

func TestReleaseIgnoresUnleased(t *testing.T) {
	leases := NewLeases(Anonymous(2))

	ids, _ := leases.Lease(1)
	leases.Release([]int{1, 7, -1})
	if leases.Free() != 1 {
		t.Errorf("expected 1 free, got %d", leases.Free())
	}

	leases.Release(ids)
	leases.Release(ids)
	if leases.Free() != 2 {
		t.Errorf("expected 2 free, got %d", leases.Free())
	}
}

func TestConcurrentLeases(t *testing.T) {
	const devices = 4

	leases := NewLeases(Anonymous(devices))

	var mutex sync.Mutex
	owners := make([]int, devices)

	var waitGroup sync.WaitGroup
	for worker := 0; worker < 16; worker++ {
		waitGroup.Add(1)
		go func(count int) {
			defer waitGroup.Done()

			for i := 0; i < 200; i++ {
				ids, err := leases.Lease(count)
				if err != nil {
					continue
				}

				mutex.Lock()
				for _, id := range ids {
					owners[id]++
					if owners[id] != 1 {
						t.Errorf("device %d leased twice", id)
					}
				}
				mutex.Unlock()

				mutex.Lock()
				for _, id := range ids {
					owners[id]--
				}
				mutex.Unlock()

				leases.Release(ids)
			}
		}(1 + worker%3)
	}
	waitGroup.Wait()

	if leases.Free() != devices {
		t.Errorf("expected %d free after balanced leases, got %d", devices, leases.Free())
	}
	if len(leases.Leased()) != 0 {
		t.Errorf("expected nothing leased, got %v", leases.Leased())
	}
}
