package amber

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mda "github.com/SampurnaM/mdanalysis"
	v3 "github.com/SampurnaM/mdanalysis/v3"
	"github.com/klauspost/compress/gzip"
)

//frameText formats a slice of coordinates the way Amber does, 10 fixed
//8-char fields per line.
func frameText(vals []float64) string {
	var b strings.Builder
	for i, v := range vals {
		fmt.Fprintf(&b, "%8.3f", v)
		if (i+1)%10 == 0 {
			b.WriteByte('\n')
		}
	}
	if len(vals)%10 != 0 {
		b.WriteByte('\n')
	}
	return b.String()
}

func boxText(a, b, c float64) string {
	return fmt.Sprintf("%8.3f%8.3f%8.3f\n", a, b, c)
}

//testFrame builds predictable coordinates for frame k of n atoms.
func testFrame(n, k int) []float64 {
	vals := make([]float64, 3*n)
	for i := range vals {
		vals[i] = float64(k*100) + float64(i)*0.25
	}
	return vals
}

func writeTrj(t *testing.T, path string, natoms, nframes int, box bool) {
	t.Helper()
	var b strings.Builder
	b.WriteString("test trajectory\n")
	for k := 0; k < nframes; k++ {
		b.WriteString(frameText(testFrame(natoms, k)))
		if box {
			b.WriteString(boxText(20+float64(k), 21+float64(k), 22+float64(k)))
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
}

func checkCoords(t *testing.T, m *v3.Matrix, natoms, k int) {
	t.Helper()
	want := testFrame(natoms, k)
	for i := 0; i < natoms; i++ {
		for j := 0; j < 3; j++ {
			if got := m.At(i, j); got != want[3*i+j] {
				t.Fatalf("frame %d atom %d coord %d: got %v, want %v", k, i, j, got, want[3*i+j])
			}
		}
	}
}

func TestReadNonPeriodic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.trj")
	writeTrj(t, path, 3, 2, false)
	T, err := New(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer T.Close()
	if T.Periodic() {
		t.Error("detected a box in a trajectory without one")
	}
	if T.Len() != 3 {
		t.Errorf("Len: got %d, want 3", T.Len())
	}
	m := v3.Zeros(3)
	for k := 0; k < 2; k++ {
		if err := T.Next(m); err != nil {
			t.Fatal(err)
		}
		checkCoords(t, m, 3, k)
	}
	err = T.Next(m)
	if err == nil {
		t.Fatal("expected an end-of-trajectory error")
	}
	if _, ok := err.(mda.LastFrameError); !ok {
		t.Fatalf("end of trajectory should be a LastFrameError, got %v", err)
	}
}

func TestDetectPeriodic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.trj")
	writeTrj(t, path, 2, 3, true)
	T, err := New(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer T.Close()
	if !T.Periodic() {
		t.Fatal("failed to detect the box")
	}
	m := v3.Zeros(2)
	box := make([]float64, 6)
	for k := 0; k < 3; k++ {
		if err := T.Next(m, box); err != nil {
			t.Fatal(err)
		}
		checkCoords(t, m, 2, k)
		if box[0] != 20+float64(k) || box[1] != 21+float64(k) || box[2] != 22+float64(k) {
			t.Errorf("frame %d: bad box lengths %v", k, box[:3])
		}
		if box[3] != 90 || box[4] != 90 || box[5] != 90 {
			t.Errorf("frame %d: box angles should be 90, got %v", k, box[3:])
		}
	}
	if T.NFrames() != 3 {
		t.Errorf("NFrames: got %d, want 3", T.NFrames())
	}
}

func TestSingleAtomNeverPeriodic(t *testing.T) {
	//with one atom a box line cannot be told apart from a coordinate
	//line, so the reader must take the file as non-periodic
	path := filepath.Join(t.TempDir(), "test.trj")
	writeTrj(t, path, 1, 4, false)
	T, err := New(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer T.Close()
	if T.Periodic() {
		t.Error("a single-atom trajectory can never be detected as periodic")
	}
	if T.NFrames() != 4 {
		t.Errorf("NFrames: got %d, want 4", T.NFrames())
	}
}

func TestNextFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.trj")
	writeTrj(t, path, 4, 2, true)
	T, err := New(path, 4, 0.002)
	if err != nil {
		t.Fatal(err)
	}
	defer T.Close()
	fr := mda.NewFrame(4, false, false)
	for k := 0; k < 2; k++ {
		if err := T.NextFrame(fr); err != nil {
			t.Fatal(err)
		}
		if fr.Idx != k {
			t.Errorf("Idx: got %d, want %d", fr.Idx, k)
		}
		if fr.Time != 0.002*float64(k) {
			t.Errorf("Time: got %v, want %v", fr.Time, 0.002*float64(k))
		}
		if !fr.HasBox() {
			t.Fatal("frame should carry a box")
		}
		checkCoords(t, fr.Pos, 4, k)
	}
}

func TestRandomAccess(t *testing.T) {
	//7 atoms: 21 values per frame, two full lines and a short one
	path := filepath.Join(t.TempDir(), "test.trj")
	writeTrj(t, path, 7, 5, true)
	T, err := New(path, 7)
	if err != nil {
		t.Fatal(err)
	}
	defer T.Close()
	fr := mda.NewFrame(7, false, false)
	for _, k := range []int{3, 0, 4, 2} {
		if err := T.ReadFrame(k, fr); err != nil {
			t.Fatalf("frame %d: %v", k, err)
		}
		checkCoords(t, fr.Pos, 7, k)
		if fr.Box[0] != 20+float64(k) {
			t.Errorf("frame %d: bad box %v", k, fr.Box[:3])
		}
	}
	//a random read repositions the sequential cursor
	if err := T.NextFrame(fr); err != nil {
		t.Fatal(err)
	}
	if fr.Idx != 3 {
		t.Errorf("after ReadFrame(2), NextFrame should yield 3, got %d", fr.Idx)
	}
	if err := T.ReadFrame(7, fr); err == nil {
		t.Error("expected an error reading past the last frame")
	}
}

func TestLongTitleRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.trj")
	content := strings.Repeat("x", 100) + "\n" + frameText(testFrame(3, 0))
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(path, 3); err == nil {
		t.Error("a file with a >80 char first line should be rejected")
	}
}

func TestTruncatedFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.trj")
	full := frameText(testFrame(8, 0)) //24 values: 3 lines
	lines := strings.SplitAfter(full, "\n")
	content := "truncated\n" + full + lines[0] + lines[1] //second frame cut short
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	T, err := New(path, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer T.Close()
	m := v3.Zeros(8)
	if err := T.Next(m); err != nil {
		t.Fatal(err)
	}
	err = T.Next(m)
	if err == nil {
		t.Fatal("expected an error on the truncated frame")
	}
	if _, ok := err.(mda.LastFrameError); ok {
		t.Error("a mid-frame truncation is a format error, not a normal end")
	}
}

func TestGzipped(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "test.trj")
	writeTrj(t, plain, 3, 4, true)
	data, err := os.ReadFile(plain)
	if err != nil {
		t.Fatal(err)
	}
	gzpath := filepath.Join(dir, "test.trj.gz")
	f, err := os.Create(gzpath)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	zw.Close()
	f.Close()
	T, err := New(gzpath, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer T.Close()
	if !T.Periodic() {
		t.Fatal("failed to detect the box through the decompressor")
	}
	if T.NFrames() != 4 {
		t.Errorf("NFrames: got %d, want 4", T.NFrames())
	}
	//random access on a compressed stream falls back to walking the file
	fr := mda.NewFrame(3, false, false)
	if err := T.ReadFrame(2, fr); err != nil {
		t.Fatal(err)
	}
	checkCoords(t, fr.Pos, 3, 2)
}

func TestClosedReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.trj")
	writeTrj(t, path, 3, 1, false)
	T, err := New(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	T.Close()
	T.Close() //idempotent
	if T.Readable() {
		t.Error("a closed reader should not be readable")
	}
	if err := T.Next(v3.Zeros(3)); err == nil {
		t.Error("reading a closed trajectory should fail")
	}
}

func TestBadAtomCount(t *testing.T) {
	if _, err := New("nonexistent.trj", 0); err == nil {
		t.Error("a non-positive atom count should be rejected")
	}
}
