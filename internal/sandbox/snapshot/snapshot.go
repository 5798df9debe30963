// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package snapshot implements the Snapshot Codec (Component F): the
// WSNP binary wire format capturing an instance's linear memory and
// determinism-kernel state, and its strict-order validating decoder.
// Grounded on the teacher's own bundle/policy wire formats
// (internal/bundle/*, which stamp a fixed magic-ish manifest shape
// ahead of a length-prefixed payload and validate top-to-bottom before
// touching any shared state) — this codec does the same for memory
// bytes and PRNG/gas/timestamp metadata instead of bundle files.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/json"

	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/model"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/registry"
	"github.com/Robust-infrastructure/ri-sandbox/internal/sandbox/resources"
)

var magic = [4]byte{'W', 'S', 'N', 'P'}

const version byte = 0x01

// headerSize is magic(4) + version(1) + memory_len(4), the bytes that
// must be present before the memory payload itself can be located.
const headerSize = 4 + 1 + 4

// stateJSON is the UTF-8 JSON body following the memory payload.
type stateJSON struct {
	PRNGState resources.PRNGState `json:"prngState"`
	Timestamp int64               `json:"timestamp"`
	GasUsed   uint64               `json:"gasUsed"`
}

// Snapshot serializes s's current linear memory and determinism-kernel
// state into the WSNP wire format. s must not be destroyed.
func Snapshot(s *registry.State) ([]byte, *model.Error) {
	s.Lock()
	defer s.Unlock()

	if s.Status == model.StatusDestroyed {
		return nil, snapErr("cannot snapshot a destroyed instance")
	}
	if s.Status != model.StatusLoaded {
		return nil, snapErr("cannot snapshot an instance that is not loaded")
	}

	memBytes := readAllMemory(s)

	st := stateJSON{
		PRNGState: s.PRNG.GetState(),
		Timestamp: s.Config.EventTimestamp,
		GasUsed:   s.GasUsed,
	}
	stateBytes, err := json.Marshal(st)
	if err != nil {
		return nil, snapErr("failed to encode state: " + err.Error())
	}

	out := make([]byte, 0, headerSize+len(memBytes)+4+len(stateBytes))
	out = append(out, magic[:]...)
	out = append(out, version)
	out = appendUint32(out, uint32(len(memBytes)))
	out = append(out, memBytes...)
	out = appendUint32(out, uint32(len(stateBytes)))
	out = append(out, stateBytes...)

	return out, nil
}

// Restore validates data as a WSNP snapshot and, only if every check
// passes, overwrites s's linear memory and determinism-kernel state in
// place. Validation runs in a fixed order so the first defect found is
// always the one reported: total length, magic, version, the memory-
// length field fitting, the state-length field fitting, JSON parsing,
// and finally that the encoded memory size matches the instance's
// current memory buffer exactly (this codec never resizes memory; a
// mismatch means the snapshot was taken against a differently-shaped
// instance).
func Restore(s *registry.State, data []byte) *model.Error {
	s.Lock()
	defer s.Unlock()

	if s.Status == model.StatusDestroyed {
		return snapErr("cannot restore a destroyed instance")
	}
	if s.Status != model.StatusLoaded && s.Status != model.StatusSuspended {
		return snapErr("cannot restore an instance that is not loaded or suspended")
	}

	if len(data) < headerSize {
		return snapErr("truncated snapshot: shorter than the fixed header")
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return snapErr("corrupted snapshot: magic bytes do not match")
	}
	if data[4] != version {
		return snapErr("unsupported snapshot version")
	}

	memLen := binary.LittleEndian.Uint32(data[5:9])
	memEnd := headerSize + int(memLen)
	if memEnd+4 > len(data) || memEnd < headerSize {
		return snapErr("truncated snapshot: memory payload exceeds snapshot length")
	}
	memBytes := data[headerSize:memEnd]

	stateLen := binary.LittleEndian.Uint32(data[memEnd : memEnd+4])
	stateStart := memEnd + 4
	stateEnd := stateStart + int(stateLen)
	if stateEnd > len(data) || stateEnd < stateStart {
		return snapErr("truncated snapshot: state payload exceeds snapshot length")
	}
	stateBytes := data[stateStart:stateEnd]

	var st stateJSON
	if err := json.Unmarshal(stateBytes, &st); err != nil {
		return snapErr("corrupted snapshot: state JSON does not parse: " + err.Error())
	}

	currentSize := resources.UsageBytes(s.Memory)
	if uint32(len(memBytes)) != currentSize {
		return snapErr("snapshot memory size does not match the instance's current memory size")
	}

	if s.Memory != nil && len(memBytes) > 0 {
		if !writeAllMemory(s, memBytes) {
			return snapErr("corrupted snapshot: failed to write memory payload")
		}
	}
	s.PRNG.SetState(st.PRNGState)
	s.GasUsed = st.GasUsed
	s.Status = model.StatusLoaded

	return nil
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

// readAllMemory dumps the instance's entire linear-memory buffer, or
// an empty slice if it has none.
func readAllMemory(s *registry.State) []byte {
	if s.Memory == nil {
		return nil
	}
	size := s.Memory.Size()
	if size == 0 {
		return nil
	}
	data, ok := s.Memory.Read(0, size)
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func writeAllMemory(s *registry.State, data []byte) bool {
	return s.Memory.Write(0, data)
}

func snapErr(reason string) *model.Error {
	return &model.Error{Code: model.ErrSnapshotError, Reason: reason}
}
