// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package runner drives persistent-mode harness binaries from the
// engine side: it spawns them, feeds test cases over the inherited
// descriptors, watches for hangs, and classifies how each process
// died. It deliberately contains no mutation or scheduling logic; a
// coverage-guided engine sits above it.
package runner

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fuzzbed/go-persist/harness"
)

// Options configure how harness processes are spawned and driven.
type Options struct {
	Bin       string        // harness binary path
	Transport string        // harness.TransportStream or harness.TransportShm
	MaxLen    int           // per-case byte cap, negotiated with the harness
	Budget    int           // iterations per process before recycling
	Timeout   time.Duration // per-iteration hang deadline
	ExtraEnv  []string      // appended to the child environment
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.Transport == "" {
		opts.Transport = harness.TransportStream
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = harness.DefaultMaxLen
	}
	if opts.Budget <= 0 {
		opts.Budget = harness.DefaultMaxIters
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return opts
}

// Result is the outcome of one driven iteration.
type Result struct {
	Crashed bool   // the process died instead of replying
	Hanged  bool   // the hang watcher had to kill it
	Retry   bool   // transient condition, respawn and resend
	NS      uint64 // execution time reported by the harness
}

// Binary wraps one live harness process. It is not safe for concurrent
// use; the engine runs one goroutine per process.
type Binary struct {
	logger *zap.Logger
	opts   Options

	comm       *mapping // nil in stream transport
	cmd        *exec.Cmd
	inPipe     *os.File // replies from the harness (its fd 5)
	outPipe    *os.File // control stream to the harness (its fd 4)
	stdoutPipe *os.File

	startTime int64
	execs     int
	outputC   chan []byte
	downC     chan bool
	down      bool
}

// NewBinary spawns one harness process. Transient spawn failures
// ("cannot allocate memory", "text file busy") are retried with a
// pause, matching how long fuzzing sessions ride out load spikes.
func NewBinary(opts Options, logger *zap.Logger) (*Binary, error) {
	opts = opts.withDefaults()
	if opts.Bin == "" {
		return nil, fmt.Errorf("runner: no harness binary configured")
	}

	var comm *mapping
	var fd3 *os.File
	if opts.Transport == harness.TransportShm {
		m, err := createMapping(opts.MaxLen)
		if err != nil {
			return nil, fmt.Errorf("runner: %w", err)
		}
		comm = m
		fd3 = m.f
	} else {
		devNull, err := os.Open(os.DevNull)
		if err != nil {
			return nil, fmt.Errorf("runner: open %v: %w", os.DevNull, err)
		}
		fd3 = devNull
		defer devNull.Close()
	}

	var cmd *exec.Cmd
	var rIn, wIn, rOut, wOut, rStdout, wStdout *os.File
	for attempt := 0; ; attempt++ {
		var err error
		rIn, wIn, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("runner: pipe: %w", err)
		}
		rOut, wOut, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("runner: pipe: %w", err)
		}
		rStdout, wStdout, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("runner: pipe: %w", err)
		}

		cmd = exec.Command(opts.Bin)
		cmd.Stdout = wStdout
		cmd.Stderr = wStdout
		cmd.Env = append(os.Environ(),
			"PERSIST_TRANSPORT="+opts.Transport,
			"PERSIST_MAX_LEN="+strconv.Itoa(opts.MaxLen),
			"PERSIST_MAX_ITERS="+strconv.Itoa(opts.Budget),
		)
		cmd.Env = append(cmd.Env, opts.ExtraEnv...)
		// fd 3: comm file, fd 4: control stream, fd 5: reply stream.
		cmd.ExtraFiles = []*os.File{fd3, rIn, wOut}

		err = cmd.Start()
		if err == nil {
			break
		}
		rIn.Close()
		wIn.Close()
		rOut.Close()
		wOut.Close()
		rStdout.Close()
		wStdout.Close()
		if attempt >= 10 {
			if comm != nil {
				comm.destroy()
			}
			return nil, fmt.Errorf("runner: start harness binary: %w", err)
		}
		logger.Warn("failed to start harness binary, retrying", zap.Error(err))
		time.Sleep(time.Second)
	}
	rIn.Close()
	wOut.Close()
	wStdout.Close()

	b := &Binary{
		logger:     logger,
		opts:       opts,
		comm:       comm,
		cmd:        cmd,
		inPipe:     rOut,
		outPipe:    wIn,
		stdoutPipe: rStdout,
		outputC:    make(chan []byte),
		downC:      make(chan bool),
	}
	go b.collectOutput()
	go b.watchHangs()
	return b, nil
}

// collectOutput drains the harness's combined stdout/stderr. The
// harness should stay quiet unless it crashes, but if it does talk it
// must not fill the pipe and deadlock the loop; the tail is kept for
// crash attribution.
func (b *Binary) collectOutput() {
	ticker := time.NewTicker(time.Second)
	const n = 1 << 20
	data := make([]byte, n)
	filled := 0
	for {
		select {
		case <-ticker.C:
		case <-b.downC:
		}
		nr, err := b.stdoutPipe.Read(data[filled:])
		if err != nil {
			break
		}
		b.logger.Debug("harness output", zap.ByteString("chunk", data[filled:filled+nr]))
		filled += nr
		if filled > n/4*3 {
			copy(data, data[n/2:filled])
			filled -= n / 2
		}
	}
	ticker.Stop()
	trimmed := make([]byte, filled)
	copy(trimmed, data)
	b.outputC <- trimmed
}

// watchHangs kills the harness if an iteration overruns the deadline.
// Hang detection lives here, never inside the harness: a wedged target
// cannot be trusted to time itself out.
func (b *Binary) watchHangs() {
	ticker := time.NewTicker(b.opts.Timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			start := atomic.LoadInt64(&b.startTime)
			if start != 0 && time.Now().UnixNano()-start > int64(b.opts.Timeout) {
				atomic.StoreInt64(&b.startTime, -1)
				b.cmd.Process.Signal(syscall.SIGABRT)
				time.Sleep(time.Second)
				b.cmd.Process.Signal(syscall.SIGKILL)
				return
			}
		case <-b.downC:
			return
		}
	}
}

// Exec drives one iteration: deliver data, await the reply. A missing
// reply means the process died on this input.
func (b *Binary) Exec(data []byte) Result {
	if b.down {
		b.logger.Fatal("exec on a shutdown harness process")
	}
	if len(data) > b.opts.MaxLen {
		b.logger.Fatal("input exceeds negotiated maximum",
			zap.Int("len", len(data)), zap.Int("max", b.opts.MaxLen))
	}

	// Long-running instrumented code accumulates memory; recycle the
	// process once it has served its budget.
	b.execs++
	if b.execs > b.opts.Budget {
		b.cmd.Process.Signal(syscall.SIGKILL)
		return Result{Retry: true}
	}

	if b.comm != nil {
		copy(b.comm.mem[:len(data)], data)
	}

	atomic.StoreInt64(&b.startTime, time.Now().UnixNano())
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(data)))
	if _, err := b.outPipe.Write(hdr[:]); err != nil {
		b.logger.Debug("control write failed", zap.Error(err))
		return Result{Retry: true}
	}
	if b.comm == nil && len(data) > 0 {
		if _, err := b.outPipe.Write(data); err != nil {
			b.logger.Debug("payload write failed", zap.Error(err))
			return Result{Retry: true}
		}
	}

	// The iteration is running once the write lands; it is done once
	// the reply arrives. No reply means the process is dead.
	var reply [8]byte
	_, err := io.ReadFull(b.inPipe, reply[:])
	hanged := atomic.LoadInt64(&b.startTime) == -1
	atomic.StoreInt64(&b.startTime, 0)
	if err != nil || hanged {
		return Result{Crashed: true, Hanged: hanged}
	}
	return Result{NS: binary.LittleEndian.Uint64(reply[:])}
}

// Shutdown kills the process if it is still alive, reaps it, and
// returns the collected output together with the final process state
// for classification. The state is the genuine crash status when the
// process died on its own before Shutdown was called.
func (b *Binary) Shutdown() (output []byte, state *os.ProcessState) {
	if b.down {
		b.logger.Fatal("double shutdown of a harness process")
	}
	b.down = true
	b.cmd.Process.Kill() // usually already dead on the crash path
	close(b.downC)
	output = <-b.outputC
	b.cmd.Wait()
	b.inPipe.Close()
	b.outPipe.Close()
	b.stdoutPipe.Close()
	if b.comm != nil {
		b.comm.destroy()
	}
	return output, b.cmd.ProcessState
}
