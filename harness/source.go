// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import "errors"

// ErrClosed reports that the engine closed the input channel: a normal
// termination condition, distinct from an empty test case and from any
// channel fault.
var ErrClosed = errors.New("harness: input channel closed")

var (
	errShortRead = errors.New("harness: channel closed mid-record")
	errOversize  = errors.New("harness: input length exceeds maximum")
)

// InputSource yields one fuzz candidate per iteration. Implementations
// block until the engine delivers a test case or closes the channel,
// and must not buffer or cache across calls.
type InputSource interface {
	// Next returns the next candidate. The slice is valid only until
	// the following call to Next. A zero-length slice is a legitimate
	// test case; end of input is ErrClosed.
	Next() ([]byte, error)

	// Reset clears any transient state the source owns, returning it
	// to the equivalent of a fresh start. The controller calls it
	// between iterations.
	Reset()
}

// StreamSource reads length-prefixed test cases from a descriptor:
// an 8-byte little-endian length word followed by that many payload
// bytes. A case exactly at the maximum length passes through
// unmodified; anything longer is a channel fault, since the engine
// agreed to the cap at spawn time.
type StreamSource struct {
	fd  FD
	buf []byte
}

func NewStreamSource(fd, maxLen int) *StreamSource {
	return &StreamSource{fd: FD(fd), buf: make([]byte, maxLen)}
}

func (s *StreamSource) Next() ([]byte, error) {
	n, eof, err := s.fd.readUint64()
	if eof {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	if n > uint64(len(s.buf)) {
		return nil, errOversize
	}
	if n == 0 {
		return s.buf[:0], nil
	}
	if eof, err := s.fd.readFull(s.buf[:n]); eof || err != nil {
		// Payload cut short: the engine died mid-write. That is a
		// fault, not clean exhaustion.
		if err == nil {
			err = errShortRead
		}
		return nil, err
	}
	return s.buf[:n], nil
}

// Reset zeroes the reused buffer so no bytes of the previous case can
// leak into an iteration that under-reads.
func (s *StreamSource) Reset() {
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// SharedMemSource reads test cases the engine has already written into
// a shared comm mapping; the control descriptor only carries the
// length word. This is the zero-copy transport: the returned slice
// aliases the mapping, which the engine owns and rewrites before each
// length word.
type SharedMemSource struct {
	ctrl   FD
	region []byte
}

func NewSharedMemSource(commFD, ctrlFD, maxLen int) (*SharedMemSource, error) {
	region, err := mmapComm(commFD, maxLen)
	if err != nil {
		return nil, errors.New("harness: mmap of comm fd failed: " + err.Error())
	}
	return &SharedMemSource{ctrl: FD(ctrlFD), region: region}, nil
}

func (s *SharedMemSource) Next() ([]byte, error) {
	n, eof, err := s.ctrl.readUint64()
	if eof {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	if n > uint64(len(s.region)) {
		return nil, errOversize
	}
	return s.region[:n], nil
}

// Reset is a no-op: the mapping belongs to the engine, which replaces
// its contents before signaling the next iteration.
func (s *SharedMemSource) Reset() {}
