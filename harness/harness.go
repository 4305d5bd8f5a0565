// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package harness implements a persistent-mode fuzzing loop.
//
// A target binary embeds the loop by calling Main with the function
// under test. The external fuzzing engine starts the binary once and
// feeds it one test case per iteration over inherited file
// descriptors; the process stays alive across iterations and exits
// voluntarily when the engine closes the channel or the iteration
// budget runs out. Target defects (panics, sanitizer traps, signals)
// are never caught here: abnormal process death is the only crash
// signal the engine gets, and masking it would make discovered
// defects invisible.
//
// The package is linked into instrumented target binaries, so it keeps
// its import graph to the bare runtime: anything heavier could perturb
// the coverage the engine observes.
package harness

import (
	"runtime"
	"strconv"
	"syscall"
)

// Inherited file descriptors, assigned by the engine at spawn time.
const (
	commFD = 3 // shared-memory comm file (shm transport only)
	inFD   = 4 // control stream: length words, and payload in stream transport
	outFD  = 5 // reply stream: one value per completed iteration
)

// Process exit codes. Chosen from the sysexits range so they can never
// collide with status 2, which the Go runtime uses for unrecovered
// panics in the target.
const (
	ExitOK     = 0  // input exhausted or iteration budget reached
	ExitIO     = 74 // channel fault mid-loop (EX_IOERR)
	ExitConfig = 78 // setup failure before the loop started (EX_CONFIG)
)

// Transport names accepted in PERSIST_TRANSPORT.
const (
	TransportStream = "stream"
	TransportShm    = "shm"
)

const (
	DefaultMaxLen   = 1024
	DefaultMaxIters = 10000
)

// Options describe one harness run. They are fixed at process start;
// nothing renegotiates them mid-loop.
type Options struct {
	Transport string // TransportStream or TransportShm
	MaxLen    int    // cap on a single test case, bytes
	MaxIters  int    // iteration budget before voluntary exit
}

// OptionsFromEnv reads the engine-supplied run parameters.
// Malformed values are a configuration error: the engine set them,
// so limping on with defaults would hide an engine bug.
func OptionsFromEnv() (Options, bool) {
	opts := Options{
		Transport: TransportStream,
		MaxLen:    DefaultMaxLen,
		MaxIters:  DefaultMaxIters,
	}
	if v, _ := syscall.Getenv("PERSIST_TRANSPORT"); v != "" {
		opts.Transport = v
	}
	if v, _ := syscall.Getenv("PERSIST_MAX_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			println("harness: bad PERSIST_MAX_LEN:", v)
			return opts, false
		}
		opts.MaxLen = n
	}
	if v, _ := syscall.Getenv("PERSIST_MAX_ITERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			println("harness: bad PERSIST_MAX_ITERS:", v)
			return opts, false
		}
		opts.MaxIters = n
	}
	return opts, true
}

// Main runs the persistent loop with parameters taken from the
// environment and never returns.
func Main(t Target) {
	opts, ok := OptionsFromEnv()
	if !ok {
		syscall.Exit(ExitConfig)
	}
	MainOpts(t, opts)
}

// MainOpts runs the persistent loop with explicit parameters and never
// returns. The process exit code is ExitOK on graceful termination,
// ExitConfig/ExitIO on harness-side failures, and whatever the crash
// produced if the target died.
func MainOpts(t Target, opts Options) {
	if t == nil {
		println("harness: nil target")
		syscall.Exit(ExitConfig)
	}
	if opts.MaxLen <= 0 || opts.MaxIters < 0 {
		println("harness: bad options")
		syscall.Exit(ExitConfig)
	}

	var src InputSource
	switch opts.Transport {
	case TransportStream:
		src = NewStreamSource(inFD, opts.MaxLen)
	case TransportShm:
		s, err := NewSharedMemSource(commFD, inFD, opts.MaxLen)
		if err != nil {
			println("harness: " + err.Error())
			syscall.Exit(ExitConfig)
		}
		src = s
	default:
		println("harness: unknown transport:", opts.Transport)
		syscall.Exit(ExitConfig)
	}

	// Coverage is more deterministic on a single P; the engine
	// parallelizes by running many harness processes.
	runtime.GOMAXPROCS(1)

	c := newController(src, t, opts.MaxIters)
	c.replyFD = outFD
	syscall.Exit(c.run())
}
