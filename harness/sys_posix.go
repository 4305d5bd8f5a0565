// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build darwin || linux || freebsd || dragonfly || openbsd || netbsd

package harness

import "syscall"

// FD is a raw inherited file descriptor. Raw syscalls instead of
// *os.File keep the runtime's poller out of the loop path.
type FD int

// readFull reads exactly len(buf) bytes. It returns (0, nil, false)
// only when the descriptor is cleanly closed before the first byte,
// which is how the engine says "no more input". EOF mid-record and
// read errors come back as the errno-ish error.
func (fd FD) readFull(buf []byte) (eof bool, err error) {
	rd := 0
	for rd != len(buf) {
		n, err := syscall.Read(int(fd), buf[rd:])
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			if rd == 0 {
				return true, nil
			}
			return false, errShortRead
		}
		rd += n
	}
	return false, nil
}

// writeFull writes all of buf, retrying on EINTR and short writes.
func (fd FD) writeFull(buf []byte) error {
	wr := 0
	for wr != len(buf) {
		n, err := syscall.Write(int(fd), buf[wr:])
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		wr += n
	}
	return nil
}

// readUint64 reads one little-endian length/reply word.
func (fd FD) readUint64() (v uint64, eof bool, err error) {
	var buf [8]byte
	eof, err = fd.readFull(buf[:])
	if eof || err != nil {
		return 0, eof, err
	}
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, false, nil
}

// writeUint64 writes one little-endian word.
func (fd FD) writeUint64(v uint64) error {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
	return fd.writeFull(buf[:])
}

// mmapComm maps size bytes of the engine-created comm file.
func mmapComm(fd, size int) ([]byte, error) {
	return syscall.Mmap(fd, 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
}
