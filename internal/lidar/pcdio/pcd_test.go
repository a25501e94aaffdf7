package pcdio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/htaamneh29/sfnd-lidar-project/internal/fsutil"
	"github.com/htaamneh29/sfnd-lidar-project/internal/lidar/l4perception"
)

func sampleCloud() []l4perception.WorldPoint {
	return []l4perception.WorldPoint{
		{X: 0, Y: 0, Z: 0, Intensity: 0},
		{X: 1.0 / 3.0, Y: -2.5, Z: 1e-9, Intensity: 0.125},
		{X: -12.345678901234, Y: 6.02e23, Z: -0.1, Intensity: 255},
		{X: math.SmallestNonzeroFloat64, Y: math.MaxFloat64, Z: 7, Intensity: 1.0 / 3.0},
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatASCII, FormatBinary} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, sampleCloud(), format))

			got, err := Read(&buf)
			require.NoError(t, err)
			if diff := cmp.Diff(sampleCloud(), got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWrite_Header(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleCloud()[:2], FormatASCII))

	out := buf.String()
	for _, line := range []string{
		"VERSION 0.7\n",
		"FIELDS x y z intensity\n",
		"WIDTH 2\n",
		"HEIGHT 1\n",
		"POINTS 2\n",
		"DATA ascii\n",
	} {
		assert.Contains(t, out, line)
	}
	assert.Error(t, Write(&buf, nil, Format("binary_compressed")))
}

func TestWriteRead_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil, FormatASCII))
	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRead_ASCIISkipsUnknownFields(t *testing.T) {
	const doc = `# captured by a sensor driver
VERSION .7
FIELDS x y z rgb normal i
SIZE 4 4 4 4 4 4
TYPE F F F U F F
COUNT 1 1 1 1 3 1
WIDTH 2
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 2
DATA ascii
1.5 2.5 3.5 4278190080 0 0 1 42
-1 -2 -3 0 1 0 0 7
`
	got, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	want := []l4perception.WorldPoint{
		{X: 1.5, Y: 2.5, Z: 3.5, Intensity: 42},
		{X: -1, Y: -2, Z: -3, Intensity: 7},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_BinaryF4(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("VERSION .7\nFIELDS x y z ring\nSIZE 4 4 4 2\nTYPE F F F U\nCOUNT 1 1 1 1\n" +
		"WIDTH 2\nHEIGHT 1\nPOINTS 2\nDATA binary\n")
	for _, rec := range [][3]float32{{0.5, -0.25, 2}, {10, 20, 30}} {
		for _, v := range rec {
			require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
		}
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(9)))
	}

	got, err := Read(&buf)
	require.NoError(t, err)
	want := []l4perception.WorldPoint{{X: 0.5, Y: -0.25, Z: 2}, {X: 10, Y: 20, Z: 30}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_PointsFromWidth(t *testing.T) {
	const doc = "FIELDS x y z\nWIDTH 1\nHEIGHT 1\nDATA ascii\n1 2 3\n"
	got, err := Read(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []l4perception.WorldPoint{{X: 1, Y: 2, Z: 3}}, got)
}

func TestRead_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no data line", "FIELDS x y z\nPOINTS 1\n"},
		{"missing z", "FIELDS x y\nPOINTS 1\nDATA ascii\n1 2\n"},
		{"unknown key", "FIELDS x y z\nCOLOR red\nDATA ascii\n"},
		{"size count mismatch", "FIELDS x y z\nSIZE 4 4\nPOINTS 0\nDATA ascii\n"},
		{"integer coordinate", "FIELDS x y z\nTYPE F F I\nPOINTS 0\nDATA ascii\n"},
		{"bad type", "FIELDS x y z\nTYPE F F Q\nDATA ascii\n"},
		{"odd size", "FIELDS x y z\nSIZE 4 4 3\nDATA ascii\n"},
		{"negative points", "FIELDS x y z\nPOINTS -1\nDATA ascii\n"},
		{"compressed", "FIELDS x y z\nPOINTS 0\nDATA binary_compressed\n"},
		{"short ascii body", "FIELDS x y z\nPOINTS 2\nDATA ascii\n1 2 3\n"},
		{"short ascii row", "FIELDS x y z\nPOINTS 1\nDATA ascii\n1 2\n"},
		{"bad number", "FIELDS x y z\nPOINTS 1\nDATA ascii\n1 two 3\n"},
		{"short binary body", "FIELDS x y z\nPOINTS 1\nDATA binary\n\x00\x00\x00\x00"},
		{"huge binary count", "FIELDS x y z\nPOINTS 4000000000000\nDATA binary\n\x00\x00\x00\x00"},
		{"huge ascii count", "FIELDS x y z\nPOINTS 4000000000000\nDATA ascii\n1 2 3\n"},
		{"width overflow", "FIELDS x y z\nWIDTH 4611686018427387904\nHEIGHT 4\nDATA binary\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.doc))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

// A corrupt point count must fail the frame, not reserve memory for it.
func TestRead_DeclaredCountExceedsBody(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("VERSION .7\nFIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	buf.WriteString("WIDTH 4000000000000\nHEIGHT 1\nPOINTS 4000000000000\nDATA binary\n")
	for _, v := range []float32{1, 2, 3} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, v))
	}

	_, err := Read(&buf)
	require.ErrorIs(t, err, ErrMalformed)
	assert.Contains(t, err.Error(), "point 1 of 4000000000000")
}

func TestSaveLoadFile(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	cloud := sampleCloud()

	require.NoError(t, SaveFile(fsys, "/out/partition/obstacles.pcd", cloud, FormatBinary))
	assert.True(t, fsys.Exists("/out/partition"))

	got, err := LoadFile(fsys, "/out/partition/obstacles.pcd")
	require.NoError(t, err)
	if diff := cmp.Diff(cloud, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	_, err = LoadFile(fsys, "/out/missing.pcd")
	assert.Error(t, err)

	fsys.WriteFile("/out/broken.pcd", []byte("FIELDS x\n"))
	_, err = LoadFile(fsys, "/out/broken.pcd")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestListFramesAndFrames(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	for _, name := range []string{"0002.pcd", "0000.PCD", "0001.pcd", "notes.txt"} {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, sampleCloud()[:1], FormatASCII))
		fsys.WriteFile("/frames/"+name, buf.Bytes())
	}

	paths, err := ListFrames(fsys, "/frames")
	require.NoError(t, err)
	assert.Equal(t, []string{"/frames/0000.PCD", "/frames/0001.pcd", "/frames/0002.pcd"}, paths)

	frames := Frames(fsys, paths)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, i, f.Seq)
		cloud, err := f.Load()
		require.NoError(t, err)
		assert.Len(t, cloud, 1)
	}
	assert.Equal(t, "0001.pcd", frames[1].Name)

	_, err = ListFrames(fsys, "/nowhere")
	assert.Error(t, err)
}
