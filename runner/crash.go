// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Reporter persists defect findings: the triggering input goes into
// workdir/crashers under its content hash, with the crash output and a
// deduplication key as sidecars. Crashes with a previously seen
// suppression key are dropped as duplicates.
type Reporter struct {
	crashers     *ArtifactSet
	suppressions *ArtifactSet
	logger       *zap.Logger
}

func NewReporter(workdir string, logger *zap.Logger) *Reporter {
	return &Reporter{
		crashers:     NewArtifactSet(filepath.Join(workdir, "crashers"), logger),
		suppressions: NewArtifactSet(filepath.Join(workdir, "suppressions"), logger),
		logger:       logger,
	}
}

// Report records one defect. meta is the signal number or exit code
// from Classify. It returns false for duplicates.
func (r *Reporter) Report(data, output []byte, meta int) bool {
	supp := extractSuppression(output)
	if !r.suppressions.Add(Artifact{Data: supp}) {
		r.logger.Debug("duplicate crasher suppressed", zap.Int("len", len(data)))
		return false
	}
	r.crashers.Add(Artifact{Data: data, Meta: uint64(meta)})
	r.crashers.AddSidecar(data, output, "output")
	r.crashers.AddSidecar(data, supp, "suppression")
	r.logger.Info("new crasher",
		zap.Int("len", len(data)),
		zap.Int("status", meta),
		zap.String("dir", r.crashers.Dir()),
	)
	return true
}

// Crashers exposes the stored findings.
func (r *Reporter) Crashers() *ArtifactSet { return r.crashers }

// extractSuppression reduces crash output to a stable deduplication
// key: the first panic/fatal/signal line plus the function names of
// the first goroutine stack.
func extractSuppression(out []byte) []byte {
	var supp []byte
	seenPanic := false
	collect := false
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		line := s.Text()
		if !seenPanic && (strings.HasPrefix(line, "panic: ") ||
			strings.HasPrefix(line, "fatal error: ") ||
			strings.HasPrefix(line, "SIG") && strings.Index(line, ": ") != 0) {
			seenPanic = true
			supp = append(supp, line...)
			supp = append(supp, '\n')
			if line == "SIGABRT: abort" || line == "signal: killed" {
				return supp // timeout stacks are flaky
			}
		}
		if collect && line == "runtime stack:" {
			// Skip runtime stack; the user stack is more descriptive.
			collect = false
		}
		if collect && len(line) > 0 && (line[0] >= 'a' && line[0] <= 'z' ||
			line[0] >= 'A' && line[0] <= 'Z') {
			// Function name line.
			idx := strings.LastIndex(line, "(")
			if idx != -1 {
				supp = append(supp, line[:idx]...)
				supp = append(supp, '\n')
			}
		}
		if collect && line == "" {
			// End of first goroutine stack.
			break
		}
		if seenPanic && !collect && line == "" {
			// Start of first goroutine stack.
			collect = true
		}
	}
	if len(supp) == 0 {
		supp = out
	}
	return supp
}
