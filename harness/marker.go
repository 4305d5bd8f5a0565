// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import "sync/atomic"

// persistentSig is the marker an AFL-style engine scans the binary for
// to decide that the target supports persistent mode. It must survive
// to the final executable, so the loop touches it once at startup; the
// literal itself is never mutated.
var persistentSig = []byte("##SIG_AFL_PERSISTENT##")

var sigEmitted uint32

// signalPersistentMode pins persistentSig into the binary and records
// that the loop announced itself. Idempotent; called once before the
// first iteration.
func signalPersistentMode() {
	atomic.StoreUint32(&sigEmitted, uint32(persistentSig[0]))
}
