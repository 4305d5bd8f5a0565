// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package harness

import (
	"bytes"
	"io"
)

// Target is the function under test behind whatever calling convention
// it wants its input in. Invoke delivers the bytes unmodified and
// without truncation; it performs no validation, inspects no result,
// and makes no guarantee of returning. An invocation that does not
// return kills the process, and that death, observed by the engine, is
// the positive test result.
type Target interface {
	Invoke(data []byte)
}

// TargetFunc adapts a plain byte-slice function. The slice must not be
// retained past the call.
type TargetFunc func(data []byte)

func (f TargetFunc) Invoke(data []byte) { f(data) }

// StringTarget adapts a function that takes its input as a string, the
// usual convention at string-based foreign boundaries. The conversion
// copies; the copy is the representation change the boundary demands,
// not a truncation.
func StringTarget(f func(string)) Target {
	return TargetFunc(func(data []byte) {
		f(string(data))
	})
}

// ReaderTarget adapts a function that consumes its input as a stream.
func ReaderTarget(f func(io.Reader)) Target {
	return TargetFunc(func(data []byte) {
		f(bytes.NewReader(data))
	})
}
