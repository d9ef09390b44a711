package ncdf

import (
	"math"
	"path/filepath"
	"testing"

	mda "github.com/SampurnaM/mdanalysis"
	"github.com/SampurnaM/mdanalysis/cdf"
	v3 "github.com/SampurnaM/mdanalysis/v3"
)

//testFrames builds nframes frames of natoms atoms with exact float32
//values, so unquantized round trips can be compared bit for bit.
func testFrames(natoms, nframes int, box, vel, frc bool) []*mda.Frame {
	frames := make([]*mda.Frame, nframes)
	for k := range frames {
		fr := mda.NewFrame(natoms, vel, frc)
		fr.Idx = k
		fr.Time = 0.5 * float64(k)
		for i := 0; i < natoms; i++ {
			for j := 0; j < 3; j++ {
				fr.Pos.Set(i, j, float64(k*100)+float64(3*i+j)*0.25)
				if vel {
					fr.Vel.Set(i, j, float64(k)-float64(3*i+j)*0.5)
				}
				if frc {
					fr.Frc.Set(i, j, float64(3*i+j)*2.0)
				}
			}
		}
		if box {
			fr.SetBox(20+float64(k), 21, 22, 90, 90, 120)
		}
		frames[k] = fr
	}
	return frames
}

func writeTraj(t *testing.T, path string, frames []*mda.Frame, o *WriterOptions) {
	t.Helper()
	W, err := NewWriter(path, frames[0].Len(), o)
	if err != nil {
		t.Fatal(err)
	}
	for _, fr := range frames {
		if err := W.WFrame(fr); err != nil {
			t.Fatal(err)
		}
	}
	if err := W.Close(); err != nil {
		t.Fatal(err)
	}
}

func matApproxEqual(t *testing.T, what string, k int, got, want *v3.Matrix, tol float64) {
	t.Helper()
	n, _ := got.Dims()
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(got.At(i, j)-want.At(i, j)) > tol {
				t.Fatalf("frame %d %s (%d,%d): got %v, want %v", k, what, i, j, got.At(i, j), want.At(i, j))
			}
		}
	}
}

func TestRoundTripExact(t *testing.T) {
	//no quantization: float32 values written must read back bit-identical
	path := filepath.Join(t.TempDir(), "test.nc")
	frames := testFrames(3, 4, true, true, false)
	writeTraj(t, path, frames, &WriterOptions{Velocities: true})
	R, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	if R.Len() != 3 || R.NFrames() != 4 {
		t.Fatalf("got %d atoms, %d frames", R.Len(), R.NFrames())
	}
	if !R.Periodic() || !R.HasVelocities() || R.HasForces() {
		t.Fatal("wrong optional variable layout")
	}
	if R.Version() != cdf.Version64BitOffset {
		t.Errorf("default container version: got %d, want %d", R.Version(), cdf.Version64BitOffset)
	}
	fr := mda.NewFrame(3, true, false)
	for k := 0; k < 4; k++ {
		if err := R.NextFrame(fr); err != nil {
			t.Fatal(err)
		}
		matApproxEqual(t, "coordinates", k, fr.Pos, frames[k].Pos, 0)
		matApproxEqual(t, "velocities", k, fr.Vel, frames[k].Vel, 0)
		if fr.Time != 0.5*float64(k) {
			t.Errorf("frame %d: time %v, want %v", k, fr.Time, 0.5*float64(k))
		}
		if fr.Box[0] != 20+float64(k) || fr.Box[5] != 120 {
			t.Errorf("frame %d: box %v", k, fr.Box)
		}
	}
	err = R.NextFrame(fr)
	if _, ok := err.(mda.LastFrameError); !ok {
		t.Fatalf("end of trajectory should be a LastFrameError, got %v", err)
	}
}

func TestQuantizedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.nc")
	frames := testFrames(2, 3, false, true, true)
	o := &WriterOptions{
		Velocities:       true,
		Forces:           true,
		ScaleCoordinates: 0.5,
		ScaleVelocities:  AmberVelocityScale,
		ScaleForces:      2.0,
	}
	writeTraj(t, path, frames, o)
	//the scale factors must be visible in the raw container
	raw, err := cdf.Open(path, false, false)
	if err != nil {
		t.Fatal(err)
	}
	crd, _ := raw.Var("coordinates")
	if a, ok := crd.Attr("scale_factor"); !ok {
		t.Error("coordinates lost their scale_factor")
	} else if s, _ := cdf.AttrAsFloat(a); s != 0.5 {
		t.Errorf("coordinates scale: got %v, want 0.5", s)
	}
	//on disk the values are divided by the scale
	data, err := crd.ReadRecord(1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := data.([]float32)[0], float32(frames[1].Pos.At(0, 0)/0.5); got != want {
		t.Errorf("stored coordinate: got %v, want %v", got, want)
	}
	raw.Close()
	R, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	fr := mda.NewFrame(2, true, true)
	for k := 0; k < 3; k++ {
		if err := R.ReadFrame(k, fr); err != nil {
			t.Fatal(err)
		}
		matApproxEqual(t, "coordinates", k, fr.Pos, frames[k].Pos, 1e-4)
		matApproxEqual(t, "velocities", k, fr.Vel, frames[k].Vel, 1e-3)
		//forces go through kJ->kcal->kJ on top of the quantization
		matApproxEqual(t, "forces", k, fr.Frc, frames[k].Frc, 1e-4)
	}
}

func TestUnityScaleIgnored(t *testing.T) {
	//a scale_factor of exactly 1.0 must not degrade the data: values
	//read back bit-identical, as if the attribute were absent
	path := filepath.Join(t.TempDir(), "test.nc")
	w, err := cdf.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w.PutGlobalAttr("Conventions", "AMBER")
	w.PutGlobalAttr("ConventionVersion", "1.0")
	w.AddDim("frame", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 1)
	crd, err := w.AddVar("coordinates", cdf.Float, "frame", "atom", "spatial")
	if err != nil {
		t.Fatal(err)
	}
	crd.PutAttr("units", "angstrom")
	crd.PutAttr("scale_factor", []float64{1.0})
	if err := w.EndDef(); err != nil {
		t.Fatal(err)
	}
	want := []float32{1.1, -2.2, 3.3}
	if err := w.WriteRecord("coordinates", 0, want); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	R, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	fr := mda.NewFrame(1, false, false)
	if err := R.ReadFrame(0, fr); err != nil {
		t.Fatal(err)
	}
	for j := 0; j < 3; j++ {
		if float32(fr.Pos.At(0, j)) != want[j] {
			t.Errorf("coord %d: got %v, want %v", j, fr.Pos.At(0, j), want[j])
		}
	}
}

//minimalAmber builds a bare conforming file, with hooks to corrupt it.
func minimalAmber(t *testing.T, path string, mangle func(w *cdf.FileW, crd *cdf.VarW)) {
	t.Helper()
	w, err := cdf.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w.PutGlobalAttr("Conventions", "AMBER")
	w.PutGlobalAttr("ConventionVersion", "1.0")
	w.AddDim("frame", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 2)
	crd, err := w.AddVar("coordinates", cdf.Float, "frame", "atom", "spatial")
	if err != nil {
		t.Fatal(err)
	}
	crd.PutAttr("units", "angstrom")
	if mangle != nil {
		mangle(w, crd)
	}
	if err := w.EndDef(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord("coordinates", 0, make([]float32, 6)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestConventionChecks(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "noconv.nc")
	w, _ := cdf.Create(path)
	w.AddDim("frame", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 2)
	w.AddVar("coordinates", cdf.Float, "frame", "atom", "spatial")
	w.EndDef()
	w.Close()
	if _, err := New(path); err == nil {
		t.Error("a file without a Conventions attribute should be rejected")
	}

	path = filepath.Join(dir, "otherconv.nc")
	minimalAmber(t, path, func(w *cdf.FileW, crd *cdf.VarW) {})
	good, err := New(path)
	if err != nil {
		t.Fatalf("a minimal conforming file should open: %v", err)
	}
	good.Close()

	path = filepath.Join(dir, "badunits.nc")
	w, _ = cdf.Create(path)
	w.PutGlobalAttr("Conventions", "AMBER")
	w.PutGlobalAttr("ConventionVersion", "1.0")
	w.AddDim("frame", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 2)
	crd, _ := w.AddVar("coordinates", cdf.Float, "frame", "atom", "spatial")
	crd.PutAttr("units", "nanometer")
	w.EndDef()
	w.Close()
	if _, err := New(path); err == nil {
		t.Error("wrong coordinate units should be rejected")
	}

	path = filepath.Join(dir, "badscale.nc")
	minimalAmber(t, path, func(w *cdf.FileW, crd *cdf.VarW) {
		crd.PutAttr("scale_factor", []int32{2})
	})
	if _, err := New(path); err == nil {
		t.Error("a non-float scale_factor should be rejected")
	}

	path = filepath.Join(dir, "strayscale.nc")
	minimalAmber(t, path, func(w *cdf.FileW, crd *cdf.VarW) {
		v, _ := w.AddVar("extra", cdf.Float, "frame")
		v.PutAttr("scale_factor", []float64{2})
	})
	if _, err := New(path); err == nil {
		t.Error("a scale_factor on a non-quantizable variable should be rejected")
	}

	//the Conventions token list may be whitespace-separated too
	path = filepath.Join(dir, "multiconv.nc")
	w, _ = cdf.Create(path)
	w.PutGlobalAttr("Conventions", "AMBER AMBERENERGY")
	w.PutGlobalAttr("ConventionVersion", "1.0")
	w.AddDim("frame", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 2)
	crd, _ = w.AddVar("coordinates", cdf.Float, "frame", "atom", "spatial")
	crd.PutAttr("units", "angstrom")
	w.EndDef()
	w.Close()
	if r, err := New(path); err != nil {
		t.Errorf("a whitespace-separated token list containing AMBER should be accepted: %v", err)
	} else {
		r.Close()
	}

	path = filepath.Join(dir, "noversion.nc")
	w, _ = cdf.Create(path)
	w.PutGlobalAttr("Conventions", "AMBER")
	w.AddDim("frame", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 2)
	crd, _ = w.AddVar("coordinates", cdf.Float, "frame", "atom", "spatial")
	crd.PutAttr("units", "angstrom")
	w.EndDef()
	w.Close()
	if _, err := New(path); err == nil {
		t.Error("a file without a ConventionVersion attribute should be rejected")
	}

	//the record dimension must be named frame
	path = filepath.Join(dir, "norec.nc")
	w, _ = cdf.Create(path)
	w.PutGlobalAttr("Conventions", "AMBER")
	w.PutGlobalAttr("ConventionVersion", "1.0")
	w.AddDim("rec", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 2)
	crd, _ = w.AddVar("coordinates", cdf.Float, "rec", "atom", "spatial")
	crd.PutAttr("units", "angstrom")
	w.EndDef()
	w.Close()
	if _, err := New(path); err == nil {
		t.Error("a file without a frame record dimension should be rejected")
	}
}

func TestClassicContainerRejected(t *testing.T) {
	//the convention mandates the 64-bit-offset variant: a classic
	//(version byte 1) container is not an Amber trajectory, however
	//conforming the rest of it looks
	path := filepath.Join(t.TempDir(), "classic.nc")
	w, err := cdf.Create(path, cdf.VersionClassic)
	if err != nil {
		t.Fatal(err)
	}
	w.PutGlobalAttr("Conventions", "AMBER")
	w.PutGlobalAttr("ConventionVersion", "1.0")
	w.AddDim("frame", 0)
	w.AddDim("spatial", 3)
	w.AddDim("atom", 2)
	crd, err := w.AddVar("coordinates", cdf.Float, "frame", "atom", "spatial")
	if err != nil {
		t.Fatal(err)
	}
	crd.PutAttr("units", "angstrom")
	if err := w.EndDef(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord("coordinates", 0, make([]float32, 6)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	_, err = New(path)
	if err == nil {
		t.Fatal("a classic container should be rejected")
	}
	if te, ok := err.(mda.TrajError); !ok || !te.Critical() {
		t.Errorf("the rejection should be a critical TrajError, got %v", err)
	}
}

func TestAtomCountAssertion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.nc")
	writeTraj(t, path, testFrames(3, 2, false, false, false), nil)
	R, err := New(path, &Options{NAtoms: 3})
	if err != nil {
		t.Fatalf("a matching expected atom count should open: %v", err)
	}
	R.Close()
	if _, err := New(path, &Options{NAtoms: 5}); err == nil {
		t.Error("a mismatched expected atom count should be rejected")
	}
}

func TestZeroTimePreserved(t *testing.T) {
	//a legitimate time of 0.0 ps must be written as such, never
	//replaced with a synthesized dt*frame value
	path := filepath.Join(t.TempDir(), "test.nc")
	frames := testFrames(2, 3, false, false, false)
	for _, fr := range frames {
		fr.Time = 0
	}
	writeTraj(t, path, frames, &WriterOptions{DT: 2.0})
	R, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	fr := mda.NewFrame(2, false, false)
	for k := 0; k < 3; k++ {
		if err := R.ReadFrame(k, fr); err != nil {
			t.Fatal(err)
		}
		if fr.Time != 0 {
			t.Errorf("frame %d: time %v, want 0", k, fr.Time)
		}
	}
}

func TestDT(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.nc")
	writeTraj(t, path, testFrames(2, 3, false, false, false), nil)
	R, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	dt, err := R.DT()
	if err != nil {
		t.Fatalf("DT should be derivable from 3 timed frames: %v", err)
	}
	if dt != 0.5 {
		t.Errorf("dt: got %v, want 0.5", dt)
	}
	R.Close()

	//a single frame gives no interval: 1.0 with a recoverable error
	path = filepath.Join(dir, "single.nc")
	writeTraj(t, path, testFrames(2, 1, false, false, false), nil)
	R, err = New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	dt, err = R.DT()
	if err == nil {
		t.Fatal("a one-frame trajectory can't yield a dt")
	}
	te, ok := err.(mda.TrajError)
	if !ok || te.Critical() {
		t.Errorf("an underivable dt should be a non-critical TrajError, got %v", err)
	}
	if dt != 1.0 {
		t.Errorf("the fallback dt should be 1.0, got %v", dt)
	}
}

func TestWriterChecks(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewWriter(filepath.Join(dir, "x.nc"), 0, nil); err == nil {
		t.Error("a non-positive atom count should be rejected")
	}
	path := filepath.Join(dir, "test.nc")
	W, err := NewWriter(path, 2, &WriterOptions{Velocities: true})
	if err != nil {
		t.Fatal(err)
	}
	frames := testFrames(2, 2, true, true, false)
	if err := W.WFrame(mda.NewFrame(3, true, false)); err == nil {
		t.Error("an atom count mismatch should be rejected")
	}
	if err := W.WFrame(frames[0]); err != nil {
		t.Fatal(err)
	}
	//the first frame fixed the layout as periodic
	bare := mda.NewFrame(2, true, false)
	if err := W.WFrame(bare); err == nil {
		t.Error("a box-less frame in a periodic trajectory should be rejected")
	}
	noVel := testFrames(2, 1, true, false, false)[0]
	if err := W.WFrame(noVel); err == nil {
		t.Error("a frame without velocities should be rejected by a velocity-writing writer")
	}
	if err := W.Close(); err != nil {
		t.Fatal(err)
	}
	if err := W.Close(); err != nil { //idempotent
		t.Fatal(err)
	}
	err = W.WFrame(frames[1])
	if err == nil {
		t.Fatal("writing to a closed writer should fail")
	}
	if te, ok := err.(mda.TrajError); !ok || !te.Critical() {
		t.Errorf("a closed-writer write should be a critical TrajError, got %v", err)
	}
}

func TestWriterFactory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.nc")
	frames := testFrames(3, 3, true, true, false)
	writeTraj(t, src, frames, &WriterOptions{Velocities: true, ScaleCoordinates: 0.25})
	R, err := New(src)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	dst := filepath.Join(dir, "dst.nc")
	W, err := R.Writer(dst)
	if err != nil {
		t.Fatal(err)
	}
	fr := mda.NewFrame(3, true, false)
	for {
		if err := R.NextFrame(fr); err != nil {
			if _, ok := err.(mda.LastFrameError); ok {
				break
			}
			t.Fatal(err)
		}
		if err := W.WNext(fr); err != nil {
			t.Fatal(err)
		}
	}
	if err := W.Close(); err != nil {
		t.Fatal(err)
	}
	//the copy keeps the layout and quantization of the source
	R2, err := New(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer R2.Close()
	if !R2.HasVelocities() || !R2.Periodic() || R2.NFrames() != 3 {
		t.Fatal("the copy lost part of the source layout")
	}
	raw, err := cdf.Open(dst, false, false)
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	crd, _ := raw.Var("coordinates")
	if a, ok := crd.Attr("scale_factor"); !ok {
		t.Error("the copy lost the coordinate scale factor")
	} else if s, _ := cdf.AttrAsFloat(a); s != 0.25 {
		t.Errorf("copied scale: got %v, want 0.25", s)
	}
	for k := 0; k < 3; k++ {
		if err := R2.ReadFrame(k, fr); err != nil {
			t.Fatal(err)
		}
		matApproxEqual(t, "coordinates", k, fr.Pos, frames[k].Pos, 1e-3)
	}
}

func TestNextWithMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.nc")
	frames := testFrames(4, 2, true, false, false)
	writeTraj(t, path, frames, nil)
	R, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	m := v3.Zeros(4)
	box := make([]float64, 6)
	if err := R.Next(m, box); err != nil {
		t.Fatal(err)
	}
	matApproxEqual(t, "coordinates", 0, m, frames[0].Pos, 0)
	if box[0] != 20 || box[5] != 120 {
		t.Errorf("box: got %v", box)
	}
	if err := R.Next(nil); err != nil { //skip a frame
		t.Fatal(err)
	}
	err = R.Next(m)
	if _, ok := err.(mda.LastFrameError); !ok {
		t.Fatalf("expected a LastFrameError, got %v", err)
	}
}

func TestDescriptorReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.nc")
	frames := testFrames(2, 2, false, false, false)
	writeTraj(t, path, frames, nil)
	R, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	defer R.Close()
	d := R.Descriptor()
	if d.Path != path || d.Version != cdf.Version64BitOffset {
		t.Fatalf("descriptor: %+v", d)
	}
	f, err := d.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if f.NumRecs() != 2 {
		t.Errorf("reopened handle sees %d records, want 2", f.NumRecs())
	}
}
