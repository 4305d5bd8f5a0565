// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"testing"
)

// e2eTarget is the illustrative defective target: any input of at
// least 4 bytes beginning with "ABCD" corrupts its state; everything
// else returns normally.
func e2eTarget(data []byte) {
	if len(data) >= 4 && string(data[:4]) == "ABCD" {
		panic("decoder state corrupted")
	}
}

// TestMain doubles as the harness process for the end-to-end tests:
// when re-executed with HARNESS_E2E set, the test binary runs the
// persistent loop instead of the test suite and never returns.
func TestMain(m *testing.M) {
	switch os.Getenv("HARNESS_E2E") {
	case "stream":
		MainOpts(TargetFunc(e2eTarget), Options{Transport: TransportStream, MaxLen: 1024, MaxIters: 2})
	case "shm":
		MainOpts(TargetFunc(e2eTarget), Options{Transport: TransportShm, MaxLen: 64, MaxIters: 8})
	}
	os.Exit(m.Run())
}

func TestDefectMarkerAndPrefixes(t *testing.T) {
	for _, benign := range []string{"", "A", "AB", "ABC", "1234", "ABCX"} {
		e2eTarget([]byte(benign)) // must return normally
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("exact defect marker did not crash the target")
		}
	}()
	e2eTarget([]byte("ABCD"))
}

type loopProc struct {
	cmd    *exec.Cmd
	in     *os.File // control stream (harness fd 4)
	out    *os.File // reply stream (harness fd 5)
	stderr bytes.Buffer
}

// startLoop re-executes the test binary as a persistent-mode harness
// process, wiring fds 3/4/5 the way an engine would.
func startLoop(t *testing.T, mode string, comm *os.File) *loopProc {
	t.Helper()
	rIn, wIn, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	rOut, wOut, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	fd3 := comm
	if fd3 == nil {
		fd3, err = os.Open(os.DevNull)
		if err != nil {
			t.Fatalf("open devnull: %v", err)
		}
	}

	p := &loopProc{in: wIn, out: rOut}
	p.cmd = exec.Command(os.Args[0], "-test.run=TestMain")
	p.cmd.Env = append(os.Environ(), "HARNESS_E2E="+mode)
	p.cmd.ExtraFiles = []*os.File{fd3, rIn, wOut}
	p.cmd.Stderr = &p.stderr
	if err := p.cmd.Start(); err != nil {
		t.Fatalf("start harness process: %v", err)
	}
	rIn.Close()
	wOut.Close()
	if comm == nil {
		fd3.Close()
	}
	return p
}

func (p *loopProc) send(t *testing.T, data []byte) {
	t.Helper()
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(data)))
	if _, err := p.in.Write(hdr[:]); err != nil {
		t.Fatalf("send length: %v", err)
	}
	if _, err := p.in.Write(data); err != nil {
		t.Fatalf("send payload: %v", err)
	}
}

func (p *loopProc) reply() error {
	var buf [8]byte
	_, err := io.ReadFull(p.out, buf[:])
	return err
}

func waitStatus(t *testing.T, err error) syscall.WaitStatus {
	t.Helper()
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("Wait() = %v, want *exec.ExitError", err)
	}
	return ee.Sys().(syscall.WaitStatus)
}

func TestCrashPropagatesToProcessDeath(t *testing.T) {
	// Seed scenario: inputs ["1234", "ABCD"], budget 2. Iteration 1
	// completes; the process must die during iteration 2.
	p := startLoop(t, "stream", nil)

	p.send(t, []byte("1234"))
	if err := p.reply(); err != nil {
		t.Fatalf("benign iteration did not complete: %v", err)
	}
	p.send(t, []byte("ABCD"))
	if err := p.reply(); err == nil {
		t.Fatalf("defect input produced a reply; crash was swallowed")
	}

	ws := waitStatus(t, p.cmd.Wait())
	if ws.Exited() && ws.ExitStatus() == ExitOK {
		t.Fatalf("harness exited cleanly on a crashing input")
	}
	if ws.Exited() && (ws.ExitStatus() == ExitIO || ws.ExitStatus() == ExitConfig) {
		t.Fatalf("target defect reported through a harness error code %v", ws.ExitStatus())
	}
	if !bytes.Contains(p.stderr.Bytes(), []byte("panic:")) {
		t.Fatalf("crash output not propagated, stderr: %q", p.stderr.String())
	}
}

func TestGracefulExitOnChannelClose(t *testing.T) {
	p := startLoop(t, "stream", nil)

	p.send(t, []byte("1234"))
	if err := p.reply(); err != nil {
		t.Fatalf("benign iteration did not complete: %v", err)
	}
	p.in.Close() // engine is done

	if err := p.cmd.Wait(); err != nil {
		t.Fatalf("exit on channel close = %v, want success (code %v)", err, ExitOK)
	}
}

func TestVoluntaryExitOnBudget(t *testing.T) {
	// Budget is 2 in stream mode; after two iterations the process
	// must exit cleanly on its own even though the channel stays open.
	p := startLoop(t, "stream", nil)
	defer p.in.Close()

	p.send(t, []byte("1234"))
	if err := p.reply(); err != nil {
		t.Fatalf("iteration 1: %v", err)
	}
	p.send(t, []byte("5678"))
	if err := p.reply(); err != nil {
		t.Fatalf("iteration 2: %v", err)
	}

	if err := p.cmd.Wait(); err != nil {
		t.Fatalf("exit on budget = %v, want success (code %v)", err, ExitOK)
	}
}

func TestSharedMemTransportEndToEnd(t *testing.T) {
	comm, err := os.CreateTemp(t.TempDir(), "persist-comm")
	if err != nil {
		t.Fatalf("temp comm file: %v", err)
	}
	defer comm.Close()
	const maxLen = 64
	if err := comm.Truncate(maxLen); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	mem, err := syscall.Mmap(int(comm.Fd()), 0, maxLen, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		t.Fatalf("mmap: %v", err)
	}
	defer syscall.Munmap(mem)

	p := startLoop(t, "shm", comm)

	sendShm := func(data []byte) {
		copy(mem, data)
		var hdr [8]byte
		binary.LittleEndian.PutUint64(hdr[:], uint64(len(data)))
		if _, err := p.in.Write(hdr[:]); err != nil {
			t.Fatalf("send length: %v", err)
		}
	}

	sendShm([]byte("1234"))
	if err := p.reply(); err != nil {
		t.Fatalf("benign shm iteration: %v", err)
	}
	sendShm([]byte("ABCD"))
	if err := p.reply(); err == nil {
		t.Fatalf("defect input over shm produced a reply")
	}
	ws := waitStatus(t, p.cmd.Wait())
	if ws.Exited() && ws.ExitStatus() == ExitOK {
		t.Fatalf("harness exited cleanly on a crashing input")
	}
}
