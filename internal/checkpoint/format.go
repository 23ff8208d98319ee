// Package checkpoint persists and restores training snapshots.
//
// A checkpoint is a single self-describing binary file:
//
//	magic "WTCP" | format version (uint32 LE) | header size (uint64 LE) |
//	JSON header | zero padding to 64-byte alignment | float32 payload
//
// The JSON header lists every tensor (name, shape, byte offset, size)
// together with training metadata and a SHA-256 checksum of the payload, so
// a loader can validate the file and reject mismatched model shapes with a
// clear error instead of silently corrupting a resume.
//
// Files are never mutated after write: Save writes to a temporary path and
// atomically renames into place, so a crash mid-write can never leave a
// partial file that passes for a checkpoint.
package checkpoint

import (
	"errors"
	"time"
)

const (
	// MagicBytes identifies a webtrain checkpoint file.
	MagicBytes = "WTCP"

	// FormatVersion is the current file format version.
	FormatVersion = 1

	// payloadAlignment aligns the tensor payload for efficient reads.
	payloadAlignment = 64

	// optimizerPrefix namespaces optimizer state inside the combined
	// state dictionary.
	optimizerPrefix = "optimizer."
)

// Sentinel errors returned by Load.
var (
	ErrBadMagic           = errors.New("not a checkpoint file (bad magic bytes)")
	ErrUnsupportedVersion = errors.New("unsupported checkpoint format version")
	ErrChecksumMismatch   = errors.New("checkpoint payload checksum mismatch")
)

// Header is the JSON header of a checkpoint file.
type Header struct {
	FormatVersion int          `json:"format_version"`
	Model         string       `json:"model"`          // architecture identifier
	Optimizer     string       `json:"optimizer"`      // optimizer identifier
	LabelSource   string       `json:"label_source"`   // training label variant
	Epoch         int          `json:"epoch"`          // last completed epoch
	Step          int64        `json:"step"`           // global optimizer step count
	BestAcc1      float64      `json:"best_acc1"`      // best validation top-1 seen
	LR            float32      `json:"lr"`             // learning rate at save time
	CreatedAt     time.Time    `json:"created_at"`     // save timestamp (UTC)
	Checksum      string       `json:"checksum"`       // hex SHA-256 of the payload
	Tensors       []TensorMeta `json:"tensors"`        // payload layout
}

// TensorMeta describes one tensor in the payload.
type TensorMeta struct {
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // bytes from start of payload
	Size   int64  `json:"size"`   // bytes
}

// Meta is the training metadata carried by a checkpoint, the part callers
// provide to Save and get back from Load.
type Meta struct {
	Model       string
	Optimizer   string
	LabelSource string
	Epoch       int
	Step        int64
	BestAcc1    float64
	LR          float32
	CreatedAt   time.Time
}
