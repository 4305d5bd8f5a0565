// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import "time"

type loopState int

const (
	stateAwaitingInput loopState = iota
	stateInvoking
	stateBudgetExhausted
	stateChannelClosed
)

// controller drives the persistent loop: announce the marker once,
// then pull a case from the source, hand it to the target, ack the
// iteration, until the budget runs out or the channel closes. It owns
// the only mutable state the harness adds to the process - the
// iteration counter and the source handle - and resets the source's
// transient buffers between iterations so every iteration starts from
// the equivalent of a fresh process.
//
// Nothing here recovers, retries, or logs a target defect. If Invoke
// does not return, the process dies and the engine attributes the
// crash to the input it just sent.
type controller struct {
	src     InputSource
	target  Target
	budget  int
	replyFD FD // -1: no replies (in-process use)
	state   loopState
}

func newController(src InputSource, t Target, budget int) *controller {
	return &controller{
		src:     src,
		target:  t,
		budget:  budget,
		replyFD: -1,
	}
}

// run executes up to budget iterations and returns the process exit
// code. Factored out of MainOpts so the loop is testable without
// exiting the test process.
func (c *controller) run() int {
	signalPersistentMode()
	for iter := 0; iter < c.budget; iter++ {
		c.state = stateAwaitingInput
		data, err := c.src.Next()
		if err == ErrClosed {
			c.state = stateChannelClosed
			return ExitOK
		}
		if err != nil {
			// A broken channel is a harness-side fault. Exit through
			// a code the engine can tell apart from a target defect.
			println("harness: " + err.Error())
			return ExitIO
		}

		c.state = stateInvoking
		t0 := time.Now()
		c.target.Invoke(data)
		ns := time.Since(t0)

		c.src.Reset()
		if c.replyFD >= 0 {
			if err := c.replyFD.writeUint64(uint64(ns)); err != nil {
				println("harness: reply write failed: " + err.Error())
				return ExitIO
			}
		}
	}
	c.state = stateBudgetExhausted
	return ExitOK
}
