// Package pcdio reads and writes point cloud frames in the PCD format and
// enumerates frame directories for sequential playback.
//
// Supported input: DATA ascii and DATA binary, with F4 or F8 fields named
// x, y, z and optionally intensity (or i). Other fields, of any type and
// count, are skipped. Output is written with float64 coordinates so a
// save/load cycle reproduces every coordinate exactly.
package pcdio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
)

// maxPrealloc caps the capacity reserved from the header's point count.
// Larger clouds grow as their data is read, so a corrupt count cannot
// allocate more than the body actually holds.
const maxPrealloc = 1 << 20

// ErrMalformed reports a header or body that does not follow the PCD format.
var ErrMalformed = errors.New("malformed PCD")

// Format selects the DATA section encoding written by Write.
type Format string

const (
	FormatASCII  Format = "ascii"
	FormatBinary Format = "binary"
)

// field describes one FIELDS entry.
type field struct {
	name  string
	size  int
	typ   byte // 'F', 'I' or 'U'
	count int
}

// header is the parsed PCD preamble.
type header struct {
	fields []field
	width  int
	height int
	points int
	data   Format
}

// channel maps a recognised field to a WorldPoint channel.
type channel int

const (
	chSkip channel = iota
	chX
	chY
	chZ
	chIntensity
)

func channelOf(name string) channel {
	switch strings.ToLower(name) {
	case "x":
		return chX
	case "y":
		return chY
	case "z":
		return chZ
	case "intensity", "i":
		return chIntensity
	}
	return chSkip
}

// Read decodes one PCD frame from r.
func Read(r io.Reader) ([]l4perception.WorldPoint, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}
	switch h.data {
	case FormatASCII:
		return readASCII(br, h)
	case FormatBinary:
		return readBinary(br, h)
	}
	return nil, fmt.Errorf("%w: unsupported DATA %q", ErrMalformed, h.data)
}

func readHeader(br *bufio.Reader) (header, error) {
	var h header
	var sizes, counts []int
	var types []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return h, fmt.Errorf("%w: header ended before DATA: %v", ErrMalformed, err)
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		key, vals := strings.ToUpper(parts[0]), parts[1:]
		switch key {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			for _, v := range vals {
				h.fields = append(h.fields, field{name: v, size: 4, typ: 'F', count: 1})
			}
		case "SIZE":
			if sizes, err = atoiAll(vals); err != nil {
				return h, fmt.Errorf("%w: SIZE: %v", ErrMalformed, err)
			}
		case "TYPE":
			for _, v := range vals {
				if len(v) != 1 || !strings.Contains("FIU", strings.ToUpper(v)) {
					return h, fmt.Errorf("%w: unknown TYPE %q", ErrMalformed, v)
				}
				types = append(types, strings.ToUpper(v)[0])
			}
		case "COUNT":
			if counts, err = atoiAll(vals); err != nil {
				return h, fmt.Errorf("%w: COUNT: %v", ErrMalformed, err)
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(vals) != 1 {
				return h, fmt.Errorf("%w: %s expects one value", ErrMalformed, key)
			}
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return h, fmt.Errorf("%w: %s %q", ErrMalformed, key, vals[0])
			}
			switch key {
			case "WIDTH":
				h.width = n
			case "HEIGHT":
				h.height = n
			default:
				h.points = n
			}
		case "DATA":
			if len(vals) != 1 {
				return h, fmt.Errorf("%w: DATA expects one value", ErrMalformed)
			}
			h.data = Format(strings.ToLower(vals[0]))
			return h, h.finish(sizes, types, counts)
		default:
			return h, fmt.Errorf("%w: unknown header key %q", ErrMalformed, parts[0])
		}
	}
}

// finish merges the per-field header lines and checks consistency.
func (h *header) finish(sizes []int, types []byte, counts []int) error {
	n := len(h.fields)
	if n == 0 {
		return fmt.Errorf("%w: no FIELDS", ErrMalformed)
	}
	for _, list := range []int{len(sizes), len(types), len(counts)} {
		if list != 0 && list != n {
			return fmt.Errorf("%w: header lists %d entries for %d fields", ErrMalformed, list, n)
		}
	}
	seen := make(map[channel]bool)
	for i := range h.fields {
		f := &h.fields[i]
		if sizes != nil {
			f.size = sizes[i]
		}
		if types != nil {
			f.typ = types[i]
		}
		if counts != nil {
			f.count = counts[i]
		}
		if f.count < 1 {
			return fmt.Errorf("%w: field %s has count %d", ErrMalformed, f.name, f.count)
		}
		switch f.size {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("%w: field %s has size %d", ErrMalformed, f.name, f.size)
		}
		if ch := channelOf(f.name); ch != chSkip {
			if f.typ != 'F' || (f.size != 4 && f.size != 8) {
				return fmt.Errorf("%w: field %s must be F4 or F8, got %c%d", ErrMalformed, f.name, f.typ, f.size)
			}
			seen[ch] = true
		}
	}
	if !seen[chX] || !seen[chY] || !seen[chZ] {
		return fmt.Errorf("%w: FIELDS must include x, y and z", ErrMalformed)
	}
	if h.points == 0 && h.width > 0 {
		rows := max(h.height, 1)
		if h.width > math.MaxInt/rows {
			return fmt.Errorf("%w: WIDTH %d x HEIGHT %d overflows", ErrMalformed, h.width, h.height)
		}
		h.points = h.width * rows
	}
	return nil
}

func readASCII(br *bufio.Reader, h header) ([]l4perception.WorldPoint, error) {
	cloud := make([]l4perception.WorldPoint, 0, min(h.points, maxPrealloc))
	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() && len(cloud) < h.points {
		line++
		tokens := strings.Fields(sc.Text())
		if len(tokens) == 0 {
			continue
		}
		var p l4perception.WorldPoint
		col := 0
		for _, f := range h.fields {
			if col+f.count > len(tokens) {
				return nil, fmt.Errorf("%w: data line %d has %d values", ErrMalformed, line, len(tokens))
			}
			if ch := channelOf(f.name); ch != chSkip {
				v, err := strconv.ParseFloat(tokens[col], 64)
				if err != nil {
					return nil, fmt.Errorf("%w: data line %d: %v", ErrMalformed, line, err)
				}
				assign(&p, ch, v)
			}
			col += f.count
		}
		cloud = append(cloud, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(cloud) != h.points {
		return nil, fmt.Errorf("%w: header declares %d points, found %d", ErrMalformed, h.points, len(cloud))
	}
	return cloud, nil
}

func readBinary(br *bufio.Reader, h header) ([]l4perception.WorldPoint, error) {
	stride := 0
	for _, f := range h.fields {
		stride += f.size * f.count
	}
	buf := make([]byte, stride)
	cloud := make([]l4perception.WorldPoint, 0, min(h.points, maxPrealloc))
	for i := 0; i < h.points; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("%w: point %d of %d: %v", ErrMalformed, i, h.points, err)
		}
		var p l4perception.WorldPoint
		off := 0
		for _, f := range h.fields {
			if ch := channelOf(f.name); ch != chSkip {
				var v float64
				if f.size == 4 {
					v = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
				} else {
					v = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
				}
				assign(&p, ch, v)
			}
			off += f.size * f.count
		}
		cloud = append(cloud, p)
	}
	return cloud, nil
}

func assign(p *l4perception.WorldPoint, ch channel, v float64) {
	switch ch {
	case chX:
		p.X = v
	case chY:
		p.Y = v
	case chZ:
		p.Z = v
	case chIntensity:
		p.Intensity = float32(v)
	}
}

// Write encodes cloud as an unorganised PCD frame (HEIGHT 1) with fields
// x y z as F8 and intensity as F4.
func Write(w io.Writer, cloud []l4perception.WorldPoint, format Format) error {
	if format != FormatASCII && format != FormatBinary {
		return fmt.Errorf("unsupported PCD format %q", format)
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n"+
		"VERSION 0.7\n"+
		"FIELDS x y z intensity\n"+
		"SIZE 8 8 8 4\n"+
		"TYPE F F F F\n"+
		"COUNT 1 1 1 1\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA %s\n",
		len(cloud), len(cloud), format)

	if format == FormatBinary {
		var rec [28]byte
		for _, p := range cloud {
			binary.LittleEndian.PutUint64(rec[0:], math.Float64bits(p.X))
			binary.LittleEndian.PutUint64(rec[8:], math.Float64bits(p.Y))
			binary.LittleEndian.PutUint64(rec[16:], math.Float64bits(p.Z))
			binary.LittleEndian.PutUint32(rec[24:], math.Float32bits(p.Intensity))
			if _, err := bw.Write(rec[:]); err != nil {
				return err
			}
		}
		return bw.Flush()
	}

	line := make([]byte, 0, 96)
	for _, p := range cloud {
		line = line[:0]
		line = strconv.AppendFloat(line, p.X, 'g', -1, 64)
		line = append(line, ' ')
		line = strconv.AppendFloat(line, p.Y, 'g', -1, 64)
		line = append(line, ' ')
		line = strconv.AppendFloat(line, p.Z, 'g', -1, 64)
		line = append(line, ' ')
		line = strconv.AppendFloat(line, float64(p.Intensity), 'g', -1, 32)
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func atoiAll(vals []string) ([]int, error) {
	out := make([]int, len(vals))
	for i, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
