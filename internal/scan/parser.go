package scan

import (
	"fmt"
	"time"

	"github.com/wyvern-data/surface.report/internal/units"
)

// Sensor wire protocol. Requests are two bytes (sync, command). The
// sensor answers a scan request with a 7-byte response descriptor and
// then an unbounded stream of 5-byte measurement nodes:
//
//	byte 0: quality<<2 | inverted new-revolution flag<<1 | new-revolution flag
//	byte 1: angle low 7 bits<<1 | check bit (always 1)
//	byte 2: angle high 8 bits
//	byte 3: distance low byte
//	byte 4: distance high byte
//
// Angle is in 1/64 degree units, distance in 1/4 millimeter units. A
// zero distance marks an invalid return and is never emitted as a
// sample. UDP and capture-replay payloads carry bare node sequences
// with the descriptor already stripped by the bridge.
const (
	syncByte     = 0xA5
	syncByteResp = 0x5A

	cmdStartScan = 0x20
	cmdStop      = 0x25
	cmdReset     = 0x40

	descriptorLen    = 7
	nodeLen          = 5
	responseTypeScan = 0x81

	// Keep at most this much unparsed data buffered while hunting for
	// alignment. Anything older is garbage from a torn stream.
	maxParserBuffer = 64 * 1024
)

// StartScanRequest returns the request bytes that begin a measurement stream.
func StartScanRequest() []byte { return []byte{syncByte, cmdStartScan} }

// StopRequest returns the request bytes that end a measurement stream.
func StopRequest() []byte { return []byte{syncByte, cmdStop} }

// ResetRequest returns the request bytes that reboot the sensor core.
func ResetRequest() []byte { return []byte{syncByte, cmdReset} }

// StreamParser consumes a raw serial byte stream: it locates the scan
// response descriptor, then decodes aligned measurement nodes,
// resynchronizing one byte at a time after corruption.
type StreamParser struct {
	buf           []byte
	sawDescriptor bool
	packetTime    time.Time
	revolutions   int64
}

// NewStreamParser creates a parser awaiting the scan response descriptor.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// SetPacketTime sets the timestamp applied to subsequently decoded
// samples. Capture replay uses this to preserve original packet times;
// a zero time leaves samples unstamped for the sink to stamp on ingest.
func (p *StreamParser) SetPacketTime(t time.Time) {
	p.packetTime = t
}

// Revolutions returns the number of new-revolution flags seen.
func (p *StreamParser) Revolutions() int64 {
	return p.revolutions
}

// Feed appends data to the stream and returns any samples decoded from
// complete, valid measurement nodes.
func (p *StreamParser) Feed(data []byte) []Sample {
	p.buf = append(p.buf, data...)
	if len(p.buf) > maxParserBuffer {
		p.buf = p.buf[len(p.buf)-maxParserBuffer:]
		p.sawDescriptor = false
	}

	if !p.sawDescriptor && !p.consumeDescriptor() {
		return nil
	}

	var samples []Sample
	for len(p.buf) >= nodeLen {
		node := p.buf[:nodeLen]
		if !validNode(node) {
			// Shift one byte and retry alignment.
			p.buf = p.buf[1:]
			continue
		}
		p.buf = p.buf[nodeLen:]

		if node[0]&0x1 != 0 {
			p.revolutions++
		}
		if s, ok := decodeNode(node, p.packetTime); ok {
			samples = append(samples, s)
		}
	}
	return samples
}

// consumeDescriptor scans the buffer for the scan response descriptor
// and consumes through it. Returns true once the descriptor is found.
func (p *StreamParser) consumeDescriptor() bool {
	for i := 0; i+descriptorLen <= len(p.buf); i++ {
		if p.buf[i] != syncByte || p.buf[i+1] != syncByteResp {
			continue
		}
		if p.buf[i+6] != responseTypeScan {
			continue
		}
		p.buf = p.buf[i+descriptorLen:]
		p.sawDescriptor = true
		return true
	}
	// Keep only the tail that could still start a descriptor.
	if len(p.buf) > descriptorLen {
		p.buf = p.buf[len(p.buf)-descriptorLen+1:]
	}
	return false
}

// ParseNodes decodes a payload of bare measurement nodes, as carried by
// UDP packets and capture replays. Nodes that fail validation are
// skipped; an error is returned only when the payload yields nothing.
func ParseNodes(payload []byte, ts time.Time) ([]Sample, error) {
	if len(payload) < nodeLen {
		return nil, fmt.Errorf("payload too short: %d bytes", len(payload))
	}

	var samples []Sample
	valid := 0
	for i := 0; i+nodeLen <= len(payload); i += nodeLen {
		node := payload[i : i+nodeLen]
		if !validNode(node) {
			continue
		}
		valid++
		if s, ok := decodeNode(node, ts); ok {
			samples = append(samples, s)
		}
	}
	if valid == 0 {
		return nil, fmt.Errorf("no valid measurement nodes in %d-byte payload", len(payload))
	}
	return samples, nil
}

// validNode checks the start-flag complement and the check bit.
func validNode(node []byte) bool {
	start := node[0] & 0x1
	notStart := (node[0] >> 1) & 0x1
	if start == notStart {
		return false
	}
	return node[1]&0x1 == 1
}

// decodeNode converts a validated node to a sample. Zero-distance
// returns are dropped.
func decodeNode(node []byte, ts time.Time) (Sample, bool) {
	distQ2 := uint16(node[3]) | uint16(node[4])<<8
	if distQ2 == 0 {
		return Sample{}, false
	}
	angleQ6 := uint16(node[2])<<7 | uint16(node[1])>>1
	return Sample{
		AngleDeg:  float64(angleQ6) / 64.0,
		DistanceM: float64(distQ2) / 4.0 / 1000.0,
		Quality:   int(node[0] >> 2),
		Timestamp: ts,
	}, true
}

// EncodeNode builds the wire form of a sample. The synthetic source,
// the replay tool, and tests use this to produce byte streams that
// round-trip through the parser. Angles are normalized into [0, 360)
// and distances clamp to the encodable range.
func EncodeNode(angleDeg, distanceM float64, quality int, newRevolution bool) []byte {
	angleQ6 := uint16(units.NormalizeDegrees(angleDeg)*64.0 + 0.5)
	distRaw := distanceM*1000.0*4.0 + 0.5
	if distRaw < 0 {
		distRaw = 0
	}
	if distRaw > 65535 {
		distRaw = 65535
	}
	distQ2 := uint16(distRaw)

	b0 := byte(quality) << 2
	if newRevolution {
		b0 |= 0x1
	} else {
		b0 |= 0x2
	}
	b1 := byte(angleQ6&0x7F)<<1 | 0x1
	b2 := byte(angleQ6 >> 7)
	return []byte{b0, b1, b2, byte(distQ2 & 0xFF), byte(distQ2 >> 8)}
}

// ScanDescriptor returns the 7-byte response descriptor that precedes a
// measurement stream.
func ScanDescriptor() []byte {
	return []byte{syncByte, syncByteResp, 0x05, 0x00, 0x00, 0x40, responseTypeScan}
}
