/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package dircd

import (
	"sync"

	uuid "github.com/hashicorp/go-uuid"
)

// BatchType names the semantic kind of a BATCH frame (§4.7, GLOSSARY
// "Batch"). netjoin/netsplit are the two the federation layer opens;
// others (chathistory, …) are left as free-form strings for future use.
type BatchType string

const (
	BatchNetjoin  BatchType = "netjoin"
	BatchNetsplit BatchType = "netsplit"
)

// openBatch tracks one destination's currently-open BATCH label.
type openBatch struct {
	label     string
	batchType BatchType
	startedBy *Entity
	target    string
}

// BatchEngine tracks open BATCH labels per destination connection so
// intermediate lines can be tagged and the closing frame matched to its
// opener (§4.7, testable property #6: every BATCH+L is matched by
// exactly one BATCH-L to the same destination).
//
// Grounded on router.go's MessageContext bookkeeping idiom (small
// per-request state threaded alongside dispatch); labels are generated
// with a UUID rather than the teacher's own scheme since the teacher has
// no batching code to draw from — this is a new subsystem for the
// federated-burst requirements in SPEC_FULL.md.
type BatchEngine struct {
	mu   sync.Mutex
	open map[*Conn]*openBatch
}

// NewBatchEngine returns an empty batch engine.
func NewBatchEngine() *BatchEngine {
	return &BatchEngine{open: make(map[*Conn]*openBatch)}
}

// Open starts a new batch toward a destination connection, emitting the
// `BATCH +<label> <type> [args…]` opening frame and returning the label
// so callers can tag subsequent lines.
func (be *BatchEngine) Open(dest *Conn, batchType BatchType, startedBy *Entity, args ...string) (string, error) {
	label, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	label = label[:8] // short label; wire format has no length requirement

	be.mu.Lock()
	be.open[dest] = &openBatch{label: label, batchType: batchType, startedBy: startedBy}
	be.mu.Unlock()

	params := append([]string{"+" + label, string(batchType)}, args...)
	frame := &Message{Command: CmdBatch, Params: params}
	if dest != nil {
		dest.Write(frame.RenderBuffer())
	}
	return label, nil
}

// Tag returns the message-tag map a caller should attach to a line sent
// as part of dest's currently open batch, or nil if none is open.
func (be *BatchEngine) Tag(dest *Conn) map[string]string {
	be.mu.Lock()
	defer be.mu.Unlock()

	b, ok := be.open[dest]
	if !ok {
		return nil
	}
	return map[string]string{"batch": b.label}
}

// Close ends the currently open batch toward dest, emitting
// `BATCH -<label>`. Returns ErrBatchNotOpen if none is open.
func (be *BatchEngine) Close(dest *Conn) error {
	be.mu.Lock()
	b, ok := be.open[dest]
	if ok {
		delete(be.open, dest)
	}
	be.mu.Unlock()

	if !ok {
		return ErrBatchNotOpen
	}

	frame := &Message{Command: CmdBatch, Params: []string{"-" + b.label}}
	if dest != nil {
		dest.Write(frame.RenderBuffer())
	}
	return nil
}

// CloseAllFor force-closes any batch left open toward dest, used when an
// entity exits mid-burst so property #6 still holds.
func (be *BatchEngine) CloseAllFor(dest *Conn) {
	_ = be.Close(dest)
}
