// Package content identifies tile payloads and fetches them from where a
// tileset lives (a directory, an HTTP origin, or the tile store).
package content

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrUnknownFormat is returned for payloads with an unrecognised header.
	ErrUnknownFormat = errors.New("unknown content format")
	// ErrTruncated is returned when the header claims more bytes than were
	// received.
	ErrTruncated = errors.New("truncated content")
)

// Format names a payload type.
type Format string

const (
	FormatB3DM    Format = "b3dm"
	FormatI3DM    Format = "i3dm"
	FormatPNTS    Format = "pnts"
	FormatCMPT    Format = "cmpt"
	FormatGLB     Format = "glb"
	FormatTileset Format = "json"
)

// headerLength is magic, version and byteLength: three little-endian
// 32-bit words shared by every binary tile format.
const headerLength = 12

var magics = map[string]Format{
	"b3dm": FormatB3DM,
	"i3dm": FormatI3DM,
	"pnts": FormatPNTS,
	"cmpt": FormatCMPT,
	"glTF": FormatGLB,
}

// Info describes a decoded payload.
type Info struct {
	Format     Format
	Version    uint32
	ByteLength int64
}

// IsTileset reports whether the payload is an external tileset document.
func (i Info) IsTileset() bool { return i.Format == FormatTileset }

// Decode inspects a payload header. Binary payloads must carry a complete
// header whose byteLength fits in data; JSON payloads are treated as
// external tilesets and validated by the tileset parser.
func Decode(data []byte) (Info, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return Info{Format: FormatTileset, ByteLength: int64(len(data))}, nil
	}
	if len(data) < headerLength {
		if len(data) >= 4 {
			if _, ok := magics[string(data[:4])]; ok {
				return Info{}, fmt.Errorf("%w: %d byte header", ErrTruncated, len(data))
			}
		}
		return Info{}, ErrUnknownFormat
	}

	format, ok := magics[string(data[:4])]
	if !ok {
		return Info{}, fmt.Errorf("%w: magic %q", ErrUnknownFormat, data[:4])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	byteLength := binary.LittleEndian.Uint32(data[8:12])
	if int64(byteLength) > int64(len(data)) {
		return Info{}, fmt.Errorf("%w: %s header says %d bytes, got %d", ErrTruncated, format, byteLength, len(data))
	}
	if byteLength < headerLength {
		return Info{}, fmt.Errorf("%w: %s byteLength %d shorter than header", ErrUnknownFormat, format, byteLength)
	}
	return Info{Format: format, Version: version, ByteLength: int64(byteLength)}, nil
}

// EncodeHeader writes a binary tile header; used by tests and importers
// that synthesise placeholder payloads.
func EncodeHeader(format Format, version uint32, body []byte) []byte {
	magic := string(format)
	if format == FormatGLB {
		magic = "glTF"
	}
	out := make([]byte, headerLength+len(body))
	copy(out[:4], magic)
	binary.LittleEndian.PutUint32(out[4:8], version)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(out)))
	copy(out[headerLength:], body)
	return out
}
