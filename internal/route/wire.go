package route

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultChunkSize is the number of payload characters carried by one radio write.
const DefaultChunkSize = 20

var ErrMalformedWire = errors.New("malformed wire payload")

// Serialize renders the canonical wire string:
//
//	WP1:<lat>,<lon>;WP2:<lat>,<lon>;...
//
// Coordinates use the shortest decimal form that round-trips, without exponent.
func Serialize(r Route) string {
	var b strings.Builder
	for i, p := range r.points {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString("WP")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteByte(':')
		b.WriteString(formatCoordinate(p.Lat))
		b.WriteByte(',')
		b.WriteString(formatCoordinate(p.Lon))
	}
	return b.String()
}

func formatCoordinate(v float64) string {
	if v == 0 {
		v = 0 // drops negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EncodePayload base64-encodes the wire string once, forming the logical payload.
func EncodePayload(wire string) string {
	return base64.StdEncoding.EncodeToString([]byte(wire))
}

// Split cuts the payload into consecutive pieces of at most size characters.
func Split(payload string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([]string, 0, (len(payload)+size-1)/size)
	for len(payload) > 0 {
		n := len(payload)
		if n > size {
			n = size
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}
	return chunks
}

// Frames returns the radio writes for a payload: each chunk is base64-encoded
// again before it goes on the air. The paired firmware expects this double
// encoding, so it must not be removed.
func Frames(payload string, size int) [][]byte {
	chunks := Split(payload, size)
	frames := make([][]byte, len(chunks))
	for i, c := range chunks {
		frames[i] = []byte(base64.StdEncoding.EncodeToString([]byte(c)))
	}
	return frames
}

// DecodeFrames is the receiver side: decode every frame, concatenate the
// chunks, and decode the result back to the wire string.
func DecodeFrames(frames [][]byte) (string, error) {
	var payload strings.Builder
	for i, f := range frames {
		chunk, err := base64.StdEncoding.DecodeString(string(f))
		if err != nil {
			return "", fmt.Errorf("%w: frame %d: %v", ErrMalformedWire, i, err)
		}
		payload.Write(chunk)
	}
	wire, err := base64.StdEncoding.DecodeString(payload.String())
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrMalformedWire, err)
	}
	return string(wire), nil
}

// Parse turns a wire string back into a route. Waypoint indices must run 1..N.
func Parse(wire string) (Route, error) {
	if wire == "" {
		return Route{}, nil
	}

	entries := strings.Split(wire, ";")
	points := make([]GeoPoint, 0, len(entries))
	for i, e := range entries {
		label, coords, ok := strings.Cut(e, ":")
		if !ok || label != "WP"+strconv.Itoa(i+1) {
			return Route{}, fmt.Errorf("%w: entry %d: %q", ErrMalformedWire, i+1, e)
		}
		latStr, lonStr, ok := strings.Cut(coords, ",")
		if !ok {
			return Route{}, fmt.Errorf("%w: entry %d: missing longitude", ErrMalformedWire, i+1)
		}
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return Route{}, fmt.Errorf("%w: entry %d latitude: %v", ErrMalformedWire, i+1, err)
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return Route{}, fmt.Errorf("%w: entry %d longitude: %v", ErrMalformedWire, i+1, err)
		}
		points = append(points, GeoPoint{Lat: lat, Lon: lon})
	}
	return Build(points)
}
