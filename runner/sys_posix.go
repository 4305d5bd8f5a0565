// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build darwin || linux || freebsd || dragonfly || openbsd || netbsd

package runner

import (
	"fmt"
	"os"
	"syscall"
)

// mapping is the engine side of the shared comm file.
type mapping struct {
	f   *os.File
	mem []byte
}

func createMapping(size int) (*mapping, error) {
	f, err := os.CreateTemp("", "persist-comm")
	if err != nil {
		return nil, fmt.Errorf("create comm file: %w", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("truncate comm file: %w", err)
	}
	mem, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("mmap comm file: %w", err)
	}
	return &mapping{f: f, mem: mem}, nil
}

func (m *mapping) destroy() {
	syscall.Munmap(m.mem)
	m.f.Close()
	os.Remove(m.f.Name())
}

// LowerProcessPrio deprioritizes the driver so harness processes get
// the CPU.
func LowerProcessPrio() {
	syscall.Setpriority(syscall.PRIO_PROCESS, 0, 19)
}
