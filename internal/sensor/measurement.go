// Package sensor defines the plot report produced by the sensor feed and its
// fixed 32-byte datagram encoding.
package sensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WireSize is the exact size in bytes of one encoded Measurement.
const WireSize = 32

// ErrWireSize is returned by Unmarshal when the buffer is not exactly WireSize bytes.
var ErrWireSize = errors.New("sensor: datagram is not a 32-byte plot")

// byteOrder is fixed so that recorded captures replay identically on any host.
var byteOrder = binary.LittleEndian

// Measurement is a single detection ("plot") reported by the sensor.
//
// ID is a debug-only ground-truth hint assigned by the sender; it is never
// trusted for association. Heading is in degrees, 0 = +Y (north), 90 = +X (east).
type Measurement struct {
	ID        uint32  `json:"id"`
	X         float32 `json:"x"`
	Y         float32 `json:"y"`
	Z         float32 `json:"z"`
	Velocity  float32 `json:"velocity"`
	Heading   float32 `json:"heading"`
	Timestamp float64 `json:"timestamp"`
}

// Marshal encodes m into a new WireSize-byte slice.
func (m Measurement) Marshal() []byte {
	return m.AppendBinary(make([]byte, 0, WireSize))
}

// AppendBinary appends the wire encoding of m to dst.
func (m Measurement) AppendBinary(dst []byte) []byte {
	dst = byteOrder.AppendUint32(dst, m.ID)
	dst = byteOrder.AppendUint32(dst, math.Float32bits(m.X))
	dst = byteOrder.AppendUint32(dst, math.Float32bits(m.Y))
	dst = byteOrder.AppendUint32(dst, math.Float32bits(m.Z))
	dst = byteOrder.AppendUint32(dst, math.Float32bits(m.Velocity))
	dst = byteOrder.AppendUint32(dst, math.Float32bits(m.Heading))
	dst = byteOrder.AppendUint64(dst, math.Float64bits(m.Timestamp))
	return dst
}

// Unmarshal decodes a single datagram. Any length other than WireSize is rejected.
func Unmarshal(b []byte) (Measurement, error) {
	if len(b) != WireSize {
		return Measurement{}, fmt.Errorf("%w: got %d bytes", ErrWireSize, len(b))
	}
	return Measurement{
		ID:        byteOrder.Uint32(b[0:4]),
		X:         math.Float32frombits(byteOrder.Uint32(b[4:8])),
		Y:         math.Float32frombits(byteOrder.Uint32(b[8:12])),
		Z:         math.Float32frombits(byteOrder.Uint32(b[12:16])),
		Velocity:  math.Float32frombits(byteOrder.Uint32(b[16:20])),
		Heading:   math.Float32frombits(byteOrder.Uint32(b[20:24])),
		Timestamp: math.Float64frombits(byteOrder.Uint64(b[24:32])),
	}, nil
}

// String returns a compact human-readable form used in debug logs.
func (m Measurement) String() string {
	return fmt.Sprintf("plot id=%d pos=(%.1f, %.1f, %.1f) v=%.1f hdg=%.1f t=%.3f",
		m.ID, m.X, m.Y, m.Z, m.Velocity, m.Heading, m.Timestamp)
}
