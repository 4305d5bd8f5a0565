// Copyright 2026 go-persist project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package runner

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Sig is the content address of an artifact.
type Sig [sha1.Size]byte

func hash(data []byte) Sig {
	return Sig(sha1.Sum(data))
}

// Artifact is one stored byte sequence: a seed, a crasher, or a
// suppression key, with a small numeric annotation (a signal number
// for crashers).
type Artifact struct {
	Data []byte
	Meta uint64
}

// ArtifactSet is a content-addressed directory of artifacts. Files are
// named by the hex sha1 of their contents, with an optional "-meta"
// suffix; "<sha1>.<type>" sidecar files carry human-facing context and
// are skipped on load. The layout is shared with the external engine:
// it deposits seeds here and picks crashers up from here.
type ArtifactSet struct {
	dir    string
	logger *zap.Logger
	m      map[Sig]Artifact
}

func NewArtifactSet(dir string, logger *zap.Logger) *ArtifactSet {
	s := &ArtifactSet{
		dir:    dir,
		logger: logger,
		m:      make(map[Sig]Artifact),
	}
	os.MkdirAll(dir, 0770)
	s.loadDir(dir)
	return s
}

func (s *ArtifactSet) loadDir(dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("artifact dir walk", zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if len(name) > 2*sha1.Size && name[2*sha1.Size] == '.' {
			return nil // sidecar file
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("artifact read", zap.String("path", path), zap.Error(err))
			return nil
		}
		sig := hash(data)
		if _, ok := s.m[sig]; ok {
			return nil
		}
		var meta uint64
		if len(name) > 2*sha1.Size && name[2*sha1.Size] == '-' {
			meta, _ = strconv.ParseUint(name[2*sha1.Size+1:], 10, 64)
		}
		s.m[sig] = Artifact{data, meta}
		return nil
	})
}

// Add stores the artifact if its content is new and reports whether it
// was added.
func (s *ArtifactSet) Add(a Artifact) bool {
	sig := hash(a.Data)
	if _, ok := s.m[sig]; ok {
		return false
	}
	s.m[sig] = a
	fname := filepath.Join(s.dir, hex.EncodeToString(sig[:]))
	if a.Meta != 0 {
		fname += fmt.Sprintf("-%v", a.Meta)
	}
	if err := os.WriteFile(fname, a.Data, 0660); err != nil {
		s.logger.Error("artifact write", zap.String("path", fname), zap.Error(err))
	}
	return true
}

// AddSidecar writes a description file next to the artifact that owns
// data, named "<sha1>.<typ>".
func (s *ArtifactSet) AddSidecar(data, desc []byte, typ string) {
	sig := hash(data)
	fname := filepath.Join(s.dir, fmt.Sprintf("%v.%v", hex.EncodeToString(sig[:]), typ))
	if err := os.WriteFile(fname, desc, 0660); err != nil {
		s.logger.Error("sidecar write", zap.String("path", fname), zap.Error(err))
	}
}

// Has reports whether content-equal data is already stored.
func (s *ArtifactSet) Has(data []byte) bool {
	_, ok := s.m[hash(data)]
	return ok
}

func (s *ArtifactSet) Len() int { return len(s.m) }

// Artifacts returns the stored artifacts in unspecified order.
func (s *ArtifactSet) Artifacts() []Artifact {
	out := make([]Artifact, 0, len(s.m))
	for _, a := range s.m {
		out = append(out, a)
	}
	return out
}

// Dir returns the backing directory.
func (s *ArtifactSet) Dir() string { return s.dir }
