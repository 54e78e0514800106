// Package payload parses the framed tail appended to the host binary: a
// sequence of (size, compressed-filesystem-image) pairs starting at a
// caller-supplied offset.
package payload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// dwarfsMagic is the magic prefix identifying a DwarFS compressed-image
// frame body. Probed without consuming the stream.
var dwarfsMagic = []byte{'D', 'W', 'A', 'R', 'F', 'S'}

// ErrCorruptPayload marks a frame whose body does not begin with the
// expected magic prefix: the tail is corrupt.
var ErrCorruptPayload = errors.New("corrupt payload frame")

// Frame is one (offset, length) pair describing an embedded filesystem
// image: bytes [Offset, Offset+Length) of the host binary.
type Frame struct {
	Offset int64
	Length int64
}

// Read parses the framed tail of binaryPath starting at startOffset,
// returning the ordered sequence of Frames. Every frame body is validated
// against the DwarFS magic prefix.
//
// Position at startOffset; loop: read an 8-byte little-endian length; a
// short read terminates the loop cleanly (end of payload, not an error);
// advance the logical offset by 8; validate the next Length bytes begin
// with the magic prefix, probing without consuming; a failed check is
// fatal (ErrCorruptPayload); record the pair; advance the offset by
// Length.
func Read(binaryPath string, startOffset int64) ([]Frame, error) {
	return ReadFrames(binaryPath, startOffset, validateDwarfsMagic)
}

// ReadFrames is the same framed-tail algorithm as Read, generalized over
// the per-frame validator: Layers validate the DwarFS magic (Read), while
// the helper-executable frames extracted at bootstrap carry no magic
// prefix at all and pass a nil validator. One frame format, two regions
// of the same tail, two validation policies.
func ReadFrames(binaryPath string, startOffset int64, validate func(f *os.File, offset, length int64) error) ([]Frame, error) {
	f, err := os.Open(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", binaryPath, err)
	}
	defer f.Close()

	if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to offset %d: %w", startOffset, err)
	}

	var frames []Frame
	offset := startOffset

	for {
		var sizeBuf [8]byte
		n, err := io.ReadFull(f, sizeBuf[:])
		if err != nil {
			if n == 0 || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				// A truncated (or absent) size word terminates the
				// stream cleanly; it is not an error.
				break
			}
			return nil, fmt.Errorf("read frame size at offset %d: %w", offset, err)
		}
		length := int64(binary.LittleEndian.Uint64(sizeBuf[:]))
		offset += 8

		if validate != nil {
			if err := validate(f, offset, length); err != nil {
				return nil, err
			}
		}

		frames = append(frames, Frame{Offset: offset, Length: length})
		offset += length

		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek to offset %d: %w", offset, err)
		}
	}

	return frames, nil
}

// validateDwarfsMagic reads len(dwarfsMagic) bytes at offset and checks
// them against the expected magic, without disturbing the caller's read
// position for anything beyond this probe (the caller re-seeks to
// offset+length for the next iteration regardless).
func validateDwarfsMagic(f *os.File, offset, length int64) error {
	if length < int64(len(dwarfsMagic)) {
		return fmt.Errorf("%w: frame at offset %d shorter than magic prefix", ErrCorruptPayload, offset)
	}

	buf := make([]byte, len(dwarfsMagic))
	if _, err := f.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("%w: read magic at offset %d: %v", ErrCorruptPayload, offset, err)
	}
	for i, b := range dwarfsMagic {
		if buf[i] != b {
			return fmt.Errorf("%w: frame at offset %d missing dwarfs magic", ErrCorruptPayload, offset)
		}
	}
	return nil
}
