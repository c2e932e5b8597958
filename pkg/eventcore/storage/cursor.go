package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// DefaultPageSize is the initial read buffer of a Cursor.
const DefaultPageSize = 100 * 1024

// trailerSize is the width of the length trailer after every payload.
const trailerSize = 4

// appendFrame writes payload followed by its big-endian uint32 length.
func appendFrame(buf, payload []byte) []byte {
	buf = append(buf, payload...)
	return binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
}

// Cursor reads length-trailed frames from the end of a source towards its start.
//
// The source is read a page at a time. page[:pageOffset] always mirrors
// src[fileOffset : fileOffset+pageOffset], so everything before
// fileOffset+pageOffset is still unread. A frame larger than the page grows
// the page to exactly frame length + 4 bytes.
//
// A Cursor owns its buffer and offsets and must not be shared.
type Cursor struct {
	src      io.ReaderAt
	pageSize int

	fileOffset int64
	page       []byte
	pageOffset int

	payload []byte
	err     error
}

// NewCursor starts a cursor at the end of a source of the given size.
// pageSize <= 0 selects DefaultPageSize.
func NewCursor(src io.ReaderAt, size int64, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < trailerSize {
		pageSize = trailerSize
	}
	return &Cursor{src: src, pageSize: pageSize, fileOffset: size}
}

// Remaining returns the number of bytes not yet consumed.
func (c *Cursor) Remaining() int64 {
	return c.fileOffset + int64(c.pageOffset)
}

// PageSize returns the current page capacity.
func (c *Cursor) PageSize() int {
	if c.page == nil {
		return c.pageSize
	}
	return len(c.page)
}

// Next advances to the previous frame.
// It returns false at the start of the source or on error; check Err.
func (c *Cursor) Next() bool {
	c.payload = nil
	if c.err != nil {
		return false
	}

	unread := c.Remaining()
	if unread == 0 {
		return false
	}
	if unread < trailerSize {
		c.err = fmt.Errorf("%w: %d stray bytes at offset 0", ErrCorruptLog, unread)
		return false
	}

	if c.pageOffset < trailerSize {
		if err := c.fill(0); err != nil {
			c.err = err
			return false
		}
	}

	length := int64(binary.BigEndian.Uint32(c.page[c.pageOffset-trailerSize : c.pageOffset]))
	if length > math.MaxInt32 || length > unread-trailerSize {
		c.err = fmt.Errorf("%w: frame length %d exceeds %d remaining bytes at offset %d",
			ErrCorruptLog, length, unread-trailerSize, unread)
		return false
	}

	need := int(length) + trailerSize
	if c.pageOffset < need {
		if err := c.fill(need); err != nil {
			c.err = err
			return false
		}
	}

	start := c.pageOffset - need
	c.payload = make([]byte, length)
	copy(c.payload, c.page[start:start+int(length)])
	c.pageOffset = start
	return true
}

// Payload returns the frame read by the last successful Next.
func (c *Cursor) Payload() []byte {
	return c.payload
}

// Err returns the first error met by Next.
func (c *Cursor) Err() error {
	return c.err
}

// fill reloads the page so it ends at the last unread byte.
// The page is grown to size bytes first if it is smaller.
func (c *Cursor) fill(size int) error {
	if c.page == nil {
		c.page = make([]byte, c.pageSize)
	}
	if size > len(c.page) {
		c.page = make([]byte, size)
	}

	unread := c.Remaining()
	n := int64(len(c.page))
	if n > unread {
		n = unread
	}
	start := unread - n

	read, err := c.src.ReadAt(c.page[:n], start)
	if int64(read) < n {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read page at offset %d: %w", start, err)
	}

	c.fileOffset = start
	c.pageOffset = int(n)
	return nil
}
