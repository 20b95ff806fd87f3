// Package tunnel implements the Wisp-style multiplexed WebSocket-to-TCP
// relay: one session per accepted WebSocket, carrying any number of
// streamId-addressed TCP connections over a single connection.
package tunnel

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies a Wisp frame.
type FrameType uint8

const (
	FrameConnect  FrameType = 0x01
	FrameData     FrameType = 0x02
	FrameContinue FrameType = 0x03
	FrameClose    FrameType = 0x04
)

// Close reasons.
const (
	ReasonVoluntary   uint8 = 0x01
	ReasonNetworkErr  uint8 = 0x02
	ReasonInvalidInfo uint8 = 0x41
)

// StreamType is the CONNECT payload's requested transport.
const StreamTypeTCP uint8 = 1

// Frame is one decoded Wisp frame: type | streamId | payload.
type Frame struct {
	Type     FrameType
	StreamID uint32
	Payload  []byte
}

// ReadFrame decodes one frame from r. The wire format is:
// type: u8 | streamId: u32 (LE) | payload: remaining bytes.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return &Frame{
		Type:     FrameType(header[0]),
		StreamID: binary.LittleEndian.Uint32(header[1:5]),
		Payload:  payload,
	}, nil
}

// DecodeFrame decodes a frame from a single complete message (the shape
// a WebSocket delivers one binary message in).
func DecodeFrame(msg []byte) (*Frame, error) {
	if len(msg) < 5 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(msg))
	}
	return &Frame{
		Type:     FrameType(msg[0]),
		StreamID: binary.LittleEndian.Uint32(msg[1:5]),
		Payload:  msg[5:],
	}, nil
}

// Encode serializes f back to wire bytes.
func (f *Frame) Encode() []byte {
	out := make([]byte, 5+len(f.Payload))
	out[0] = byte(f.Type)
	binary.LittleEndian.PutUint32(out[1:5], f.StreamID)
	copy(out[5:], f.Payload)
	return out
}

// ConnectPayload is the CONNECT frame's payload:
// streamType: u8 | port: u16 | hostname: utf8.
type ConnectPayload struct {
	StreamType uint8
	Port       uint16
	Hostname   string
}

// DecodeConnectPayload parses a CONNECT frame's payload.
func DecodeConnectPayload(payload []byte) (*ConnectPayload, error) {
	if len(payload) < 3 {
		return nil, fmt.Errorf("connect payload too short: %d bytes", len(payload))
	}
	return &ConnectPayload{
		StreamType: payload[0],
		Port:       binary.LittleEndian.Uint16(payload[1:3]),
		Hostname:   string(payload[3:]),
	}, nil
}

// Encode serializes a CONNECT payload.
func (c *ConnectPayload) Encode() []byte {
	out := make([]byte, 3+len(c.Hostname))
	out[0] = c.StreamType
	binary.LittleEndian.PutUint16(out[1:3], c.Port)
	copy(out[3:], []byte(c.Hostname))
	return out
}

// ContinuePayload is the CONTINUE frame's payload: bufferRemaining: u32.
type ContinuePayload struct {
	BufferRemaining uint32
}

// Encode serializes a CONTINUE payload.
func (c *ContinuePayload) Encode() []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, c.BufferRemaining)
	return out
}

// ClosePayload is the CLOSE frame's payload: reason: u8.
type ClosePayload struct {
	Reason uint8
}

// Encode serializes a CLOSE payload.
func (c *ClosePayload) Encode() []byte {
	return []byte{c.Reason}
}

// FixedFlowCreditBytes is the flow-control credit the server issues on
// session open and on each successful CONNECT. The present core never
// meters inbound data further, so this value is never recomputed.
const FixedFlowCreditBytes = 128 * 1024

func NewConnectFrame(streamID uint32, p *ConnectPayload) *Frame {
	return &Frame{Type: FrameConnect, StreamID: streamID, Payload: p.Encode()}
}

func NewDataFrame(streamID uint32, data []byte) *Frame {
	return &Frame{Type: FrameData, StreamID: streamID, Payload: data}
}

func NewContinueFrame(streamID uint32, bufferRemaining uint32) *Frame {
	return &Frame{Type: FrameContinue, StreamID: streamID, Payload: (&ContinuePayload{BufferRemaining: bufferRemaining}).Encode()}
}

func NewCloseFrame(streamID uint32, reason uint8) *Frame {
	return &Frame{Type: FrameClose, StreamID: streamID, Payload: (&ClosePayload{Reason: reason}).Encode()}
}
