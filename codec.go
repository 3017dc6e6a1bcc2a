package atmxgo

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	frameHeaderSize = 4

	// DefaultMaxFrameSize bounds a single message body.
	DefaultMaxFrameSize = 1 << 20
)

var (
	// ErrPeerClosed is returned by a read when the peer closed the stream
	// cleanly between two frames.
	ErrPeerClosed    = errors.New("peer closed connection")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// FrameError is a transport or deserialization failure. It is always fatal
// to the connection and never mapped to an application response.
type FrameError struct {
	Op  string
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %s: %v", e.Op, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// Codec reads and writes length-prefixed frames: a 4-byte big-endian body
// length followed by the JSON body. A Codec is not safe for concurrent use.
type Codec struct {
	r *bufio.Reader
	w io.Writer

	// MaxFrameSize is the largest body accepted on read. Zero disables the check.
	MaxFrameSize uint32
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{
		r:            bufio.NewReader(rw),
		w:            rw,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

func (c *Codec) WriteCommand(cmd Command) error {
	body, err := marshalCommand(cmd)
	if err != nil {
		return &FrameError{Op: "encode", Err: err}
	}
	return c.writeFrame(body)
}

func (c *Codec) WriteResponse(resp Response) error {
	body, err := marshalResponse(resp)
	if err != nil {
		return &FrameError{Op: "encode", Err: err}
	}
	return c.writeFrame(body)
}

func (c *Codec) ReadCommand() (Command, error) {
	body, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	cmd, err := unmarshalCommand(body)
	if err != nil {
		return nil, &FrameError{Op: "decode", Err: err}
	}
	return cmd, nil
}

func (c *Codec) ReadResponse() (Response, error) {
	body, err := c.readFrame()
	if err != nil {
		return nil, err
	}
	resp, err := unmarshalResponse(body)
	if err != nil {
		return nil, &FrameError{Op: "decode", Err: err}
	}
	return resp, nil
}

func (c *Codec) writeFrame(body []byte) error {
	if uint64(len(body)) > uint64(^uint32(0)) {
		return &FrameError{Op: "encode", Err: ErrFrameTooLarge}
	}
	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeaderSize:], body)
	if _, err := c.w.Write(frame); err != nil {
		return &FrameError{Op: "write", Err: err}
	}
	return nil
}

func (c *Codec) readFrame() ([]byte, error) {
	var hdr [frameHeaderSize]byte
	// io.ReadFull returns io.EOF only when nothing was read.
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrPeerClosed
		}
		return nil, &FrameError{Op: "read", Err: err}
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if c.MaxFrameSize > 0 && size > c.MaxFrameSize {
		return nil, &FrameError{Op: "read", Err: fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)}
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(c.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &FrameError{Op: "read", Err: err}
	}
	return body, nil
}
