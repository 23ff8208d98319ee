package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/webtrain-ml/webtrain/internal/nn"
	"github.com/webtrain-ml/webtrain/internal/optim"
	"github.com/webtrain-ml/webtrain/internal/tensor"
)

// Save writes a checkpoint for the model and optimizer to path.
//
// Model parameters and optimizer state share one state dictionary, with
// optimizer entries under the "optimizer." prefix (so the layout section of
// the header fully describes the file). The write goes to path + ".tmp" and
// is renamed into place only after a successful flush, making the visible
// file all-or-nothing.
func Save(path string, model nn.Classifier, optimizer optim.Optimizer, meta Meta) error {
	stateDict := make(map[string]*tensor.Tensor)
	for name, t := range model.StateDict() {
		stateDict[name] = t
	}
	for name, t := range optimizer.StateDict() {
		stateDict[optimizerPrefix+name] = t
	}

	// Deterministic tensor order keeps byte-identical re-saves comparable.
	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	var payload []byte
	tensors := make([]TensorMeta, 0, len(names))
	for _, name := range names {
		t := stateDict[name]
		size := int64(t.NumElements() * 4)
		tensors = append(tensors, TensorMeta{
			Name:   name,
			Shape:  t.Shape(),
			Offset: int64(len(payload)),
			Size:   size,
		})
		for _, v := range t.Data() {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(v))
		}
	}

	sum := sha256.Sum256(payload)
	header := Header{
		FormatVersion: FormatVersion,
		Model:         meta.Model,
		Optimizer:     meta.Optimizer,
		LabelSource:   meta.LabelSource,
		Epoch:         meta.Epoch,
		Step:          meta.Step,
		BestAcc1:      meta.BestAcc1,
		LR:            meta.LR,
		CreatedAt:     time.Now().UTC(),
		Checksum:      hex.EncodeToString(sum[:]),
		Tensors:       tensors,
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint header: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}

	if err := writeFile(f, headerJSON, payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move checkpoint into place: %w", err)
	}
	return nil
}

func writeFile(w io.Writer, headerJSON, payload []byte) error {
	if _, err := w.Write([]byte(MagicBytes)); err != nil {
		return fmt.Errorf("failed to write magic bytes: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(FormatVersion)); err != nil {
		return fmt.Errorf("failed to write format version: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	pos := int64(len(MagicBytes)+4+8) + int64(len(headerJSON))
	if pad := (payloadAlignment - pos%payloadAlignment) % payloadAlignment; pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// Load reads a checkpoint from path and restores model parameters and
// optimizer state in place.
//
// The file is validated before anything is mutated: magic, format version,
// payload checksum, then every tensor shape against the live model and
// optimizer. Shape mismatches report expected versus found.
func Load(path string, model nn.Classifier, optimizer optim.Optimizer) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}

	header, payload, err := parseFile(path, data)
	if err != nil {
		return nil, err
	}

	if header.Model != model.Name() {
		return nil, fmt.Errorf("checkpoint %s: model mismatch: checkpoint holds %q, run uses %q",
			path, header.Model, model.Name())
	}
	// Optimizer state namespaces do not overlap across algorithms, so a
	// mismatched load would silently restore nothing; reject it instead.
	if header.Optimizer != optimizer.Name() {
		return nil, fmt.Errorf("checkpoint %s: optimizer mismatch: checkpoint holds %q, run uses %q",
			path, header.Optimizer, optimizer.Name())
	}

	stateDict := make(map[string]*tensor.Tensor, len(header.Tensors))
	for _, tm := range header.Tensors {
		if tm.Offset < 0 || tm.Offset+tm.Size > int64(len(payload)) {
			return nil, fmt.Errorf("checkpoint %s: tensor %q extends past payload (offset %d, size %d, payload %d)",
				path, tm.Name, tm.Offset, tm.Size, len(payload))
		}
		shape := tensor.Shape(tm.Shape)
		if int64(shape.NumElements()*4) != tm.Size {
			return nil, fmt.Errorf("checkpoint %s: tensor %q: size %d does not match shape %v",
				path, tm.Name, tm.Size, shape)
		}
		t := tensor.New(shape)
		raw := payload[tm.Offset : tm.Offset+tm.Size]
		dst := t.Data()
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		stateDict[tm.Name] = t
	}

	modelState := make(map[string]*tensor.Tensor)
	optimizerState := make(map[string]*tensor.Tensor)
	for name, t := range stateDict {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			optimizerState[rest] = t
		} else {
			modelState[name] = t
		}
	}

	if err := model.LoadStateDict(modelState); err != nil {
		return nil, fmt.Errorf("checkpoint %s: failed to load model state: %w", path, err)
	}
	if err := optimizer.LoadStateDict(optimizerState); err != nil {
		return nil, fmt.Errorf("checkpoint %s: failed to load optimizer state: %w", path, err)
	}

	return &Meta{
		Model:       header.Model,
		Optimizer:   header.Optimizer,
		LabelSource: header.LabelSource,
		Epoch:       header.Epoch,
		Step:        header.Step,
		BestAcc1:    header.BestAcc1,
		LR:          header.LR,
		CreatedAt:   header.CreatedAt,
	}, nil
}

// ReadMeta reads only the metadata of a checkpoint without touching any
// model. Used for inspection and for validating a resume target early.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", path, err)
	}
	header, _, err := parseFile(path, data)
	if err != nil {
		return nil, err
	}
	return &Meta{
		Model:       header.Model,
		Optimizer:   header.Optimizer,
		LabelSource: header.LabelSource,
		Epoch:       header.Epoch,
		Step:        header.Step,
		BestAcc1:    header.BestAcc1,
		LR:          header.LR,
		CreatedAt:   header.CreatedAt,
	}, nil
}

// parseFile validates framing and checksum and returns header and payload.
func parseFile(path string, data []byte) (*Header, []byte, error) {
	fixed := len(MagicBytes) + 4 + 8
	if len(data) < fixed {
		return nil, nil, fmt.Errorf("checkpoint %s: file truncated (%d bytes): %w", path, len(data), ErrBadMagic)
	}
	if string(data[:len(MagicBytes)]) != MagicBytes {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", path, ErrBadMagic)
	}

	version := binary.LittleEndian.Uint32(data[len(MagicBytes):])
	if version != FormatVersion {
		return nil, nil, fmt.Errorf("checkpoint %s: version %d: %w", path, version, ErrUnsupportedVersion)
	}

	headerSize := binary.LittleEndian.Uint64(data[len(MagicBytes)+4:])
	headerEnd := uint64(fixed) + headerSize
	if headerEnd > uint64(len(data)) {
		return nil, nil, fmt.Errorf("checkpoint %s: header size %d exceeds file: %w", path, headerSize, ErrBadMagic)
	}

	var header Header
	if err := json.Unmarshal(data[fixed:headerEnd], &header); err != nil {
		return nil, nil, fmt.Errorf("checkpoint %s: failed to parse header: %w", path, err)
	}

	payloadStart := headerEnd + (payloadAlignment-headerEnd%payloadAlignment)%payloadAlignment
	if payloadStart > uint64(len(data)) {
		return nil, nil, fmt.Errorf("checkpoint %s: missing payload", path)
	}
	payload := data[payloadStart:]

	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != header.Checksum {
		return nil, nil, fmt.Errorf("checkpoint %s: %w", path, ErrChecksumMismatch)
	}

	return &header, payload, nil
}
