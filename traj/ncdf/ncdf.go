/*
 * ncdf.go, part of mdanalysis
 *
 * Copyright 2024 Sampurna M.
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU Lesser General Public License as
 * published by the Free Software Foundation; either version 2.1 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU Lesser General
 * Public License along with this program.  If not, see
 * <http://www.gnu.org/licenses/>.
 *
 */

//Package ncdf reads and writes Amber binary (NetCDF) trajectories,
//following version 1.0 of the AMBER NetCDF convention. Coordinates,
//time, and the optional unit cell, velocities and forces are read with
//random access to any frame. Values quantized on disk with a
//scale_factor attribute are dequantized transparently. The working
//units are the library's: Angstrom, ps, A/ps and kJ/(mol*A); only
//forces need conversion, as the convention stores them in
//kcal/(mol*A).
package ncdf

import (
	"fmt"
	"log"
	"math"
	"strings"

	mda "github.com/SampurnaM/mdanalysis"
	"github.com/SampurnaM/mdanalysis/cdf"
	v3 "github.com/SampurnaM/mdanalysis/v3"
)

//The variables the convention allows a scale_factor on. A scale on any
//other variable is a hard error, as silently ignoring it would corrupt
//the data.
var quantizable = map[string]bool{
	"time":         true,
	"cell_lengths": true,
	"cell_angles":  true,
	"coordinates":  true,
	"velocities":   true,
	"forces":       true,
}

//unityScale reports whether a scale factor is close enough to 1.0 to be
//treated as absent, so unquantized data round-trips bit-identically.
//The tolerance is the |a-b| <= atol + rtol*|b| test with the customary
//atol=1e-8, rtol=1e-5.
func unityScale(s float64) bool {
	return math.Abs(s-1.0) <= 1e-8+1e-5
}

//NcdfR is a handle on an Amber NetCDF trajectory open for reading.
type NcdfR struct {
	filename string
	f        *cdf.File
	natoms   int
	nframes  int
	frame    int //index of the last frame read sequentially, -1 before the first
	readable bool

	periodic     bool
	hasTime      bool
	hasVel       bool
	hasFrc       bool
	convertUnits bool
	scales       map[string]float64 //only non-unity factors are stored

	dt      float64
	dtKnown bool
}

//Options configures the opening of a trajectory for reading. The zero
//value (or a nil pointer) reads through ordinary file I/O and takes
//the atom count from the file.
type Options struct {
	//Mmap memory-maps the file instead of reading it.
	Mmap bool

	//NAtoms, if positive, is the atom count the caller expects, e.g.
	//from the topology the trajectory belongs to. A file with a
	//different count fails to open.
	NAtoms int
}

//New opens the Amber NetCDF trajectory in filename for reading. The
//file's conformance to the AMBER convention is checked here: a classic
//(version byte 1) container, a wrong Conventions or missing
//ConventionVersion attribute, a missing frame/atom/spatial layout, bad
//units on a known variable, a scale factor where the convention allows
//none, or an atom count other than the one the caller expects, all
//fail the open. Merely unusual details (missing program attribution, a
//convention version other than 1.0) only log a warning.
func New(filename string, options ...*Options) (*NcdfR, error) {
	var o Options
	if len(options) > 0 && options[0] != nil {
		o = *options[0]
	}
	f, err := cdf.Open(filename, o.Mmap, false)
	if err != nil {
		return nil, Error{UnableToOpen + ": " + err.Error(), filename, []string{"cdf.Open", "New"}, true}
	}
	R := &NcdfR{filename: filename, f: f, convertUnits: true, scales: make(map[string]float64)}
	if err := R.validate(o.NAtoms); err != nil {
		f.Close()
		return nil, err
	}
	R.frame = -1
	R.readable = true
	return R, nil
}

func (R *NcdfR) validate(wantAtoms int) error {
	//the convention mandates the 64-bit-offset container variant
	if R.f.Version() != cdf.Version64BitOffset {
		return Error{fmt.Sprintf("%s: container version byte is %d, the convention requires the 64-bit-offset variant (%d)", NotAmber, R.f.Version(), cdf.Version64BitOffset), R.filename, []string{"validate"}, true}
	}
	conv, ok := R.f.GlobalAttr("Conventions")
	if !ok {
		return Error{NotAmber + ": no Conventions attribute", R.filename, []string{"validate"}, true}
	}
	cs, _ := cdf.AttrAsString(conv)
	//the attribute holds a comma- or whitespace-separated token list
	amber := false
	for _, tok := range strings.FieldsFunc(cs, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}) {
		if tok == "AMBER" {
			amber = true
			break
		}
	}
	if !amber {
		return Error{fmt.Sprintf("%s: Conventions is %q, want AMBER", NotAmber, cs), R.filename, []string{"validate"}, true}
	}
	cv, ok := R.f.GlobalAttr("ConventionVersion")
	if !ok {
		return Error{NotAmber + ": no ConventionVersion attribute", R.filename, []string{"validate"}, true}
	}
	if s, _ := cdf.AttrAsString(cv); s != "1.0" {
		log.Printf("NCDF trajectory %s has ConventionVersion %s, reading as 1.0", R.filename, s)
	}
	for _, name := range []string{"program", "programVersion"} {
		if _, ok := R.f.GlobalAttr(name); !ok {
			log.Printf("NCDF trajectory %s is missing the %s attribute required by the convention", R.filename, name)
		}
	}
	if frame, ok := R.f.Dim("frame"); !ok || !frame.Record {
		return Error{NotAmber + ": frame is missing or not the record dimension", R.filename, []string{"validate"}, true}
	}
	atom, ok := R.f.Dim("atom")
	if !ok {
		return Error{NotAmber + ": no atom dimension", R.filename, []string{"validate"}, true}
	}
	R.natoms = atom.Size
	if wantAtoms > 0 && wantAtoms != R.natoms {
		return Error{fmt.Sprintf("file has %d atoms, caller expected %d", R.natoms, wantAtoms), R.filename, []string{"validate"}, true}
	}
	if spatial, ok := R.f.Dim("spatial"); !ok || spatial.Size != 3 {
		return Error{NotAmber + ": spatial dimension missing or not 3", R.filename, []string{"validate"}, true}
	}
	R.nframes = R.f.NumRecs()
	if err := R.checkVar("coordinates", "angstrom", true); err != nil {
		return err
	}
	R.hasTime = R.varPresent("time")
	if R.hasTime {
		if err := R.checkVar("time", "picosecond", true); err != nil {
			return err
		}
	}
	R.periodic = R.varPresent("cell_lengths")
	if R.periodic {
		if !R.varPresent("cell_angles") {
			return Error{NotAmber + ": cell_lengths without cell_angles", R.filename, []string{"validate"}, true}
		}
		if err := R.checkVar("cell_lengths", "angstrom", true); err != nil {
			return err
		}
		if err := R.checkVar("cell_angles", "degree", true); err != nil {
			return err
		}
	}
	R.hasVel = R.varPresent("velocities")
	if R.hasVel {
		if err := R.checkVar("velocities", "angstrom/picosecond", true); err != nil {
			return err
		}
	}
	R.hasFrc = R.varPresent("forces")
	if R.hasFrc {
		if err := R.checkVar("forces", "kilocalorie/mole/angstrom", true); err != nil {
			return err
		}
	}
	return R.collectScales()
}

func (R *NcdfR) varPresent(name string) bool {
	_, ok := R.f.Var(name)
	return ok
}

//checkVar verifies a variable's units attribute against the convention.
//Wrong units are a hard error if hard is set; a missing units attribute
//only warns, as files in the wild frequently omit it.
func (R *NcdfR) checkVar(name, units string, hard bool) error {
	v, ok := R.f.Var(name)
	if !ok {
		return Error{NotAmber + ": no " + name + " variable", R.filename, []string{"checkVar"}, true}
	}
	u, ok := v.Attr("units")
	if !ok {
		log.Printf("NCDF trajectory %s: variable %s has no units attribute, assuming %s", R.filename, name, units)
		return nil
	}
	us, _ := cdf.AttrAsString(u)
	if us != units {
		return Error{fmt.Sprintf("variable %s has units %q, want %q", name, us, units), R.filename, []string{"checkVar"}, hard}
	}
	return nil
}

//collectScales gathers every scale_factor in the file, rejecting scales
//on variables the convention does not quantize and non-floating-point
//scale values. Factors indistinguishable from 1.0 are dropped so that
//data written without quantization reads back bit-identical.
func (R *NcdfR) collectScales() error {
	for _, name := range R.f.ListVariables() {
		v, _ := R.f.Var(name)
		a, ok := v.Attr("scale_factor")
		if !ok {
			continue
		}
		s, ok := cdf.AttrAsFloat(a)
		if !ok {
			return Error{fmt.Sprintf("scale_factor of variable %s is not a float", name), R.filename, []string{"collectScales"}, true}
		}
		if !quantizable[name] {
			return Error{fmt.Sprintf("variable %s carries a scale_factor, which the convention does not allow", name), R.filename, []string{"collectScales"}, true}
		}
		if !unityScale(s) {
			R.scales[name] = s
		}
	}
	return nil
}

//recordFloats reads one record of a variable as []float64, dequantized
//with the variable's scale factor if it has one.
func (R *NcdfR) recordFloats(name string, rec int) ([]float64, error) {
	v, ok := R.f.Var(name)
	if !ok {
		return nil, Error{"no " + name + " variable", R.filename, []string{"recordFloats"}, true}
	}
	data, err := v.ReadRecord(rec)
	if err != nil {
		return nil, Error{err.Error(), R.filename, []string{"cdf.Var.ReadRecord", "recordFloats"}, true}
	}
	var out []float64
	switch d := data.(type) {
	case []float32:
		out = make([]float64, len(d))
		for i, x := range d {
			out[i] = float64(x)
		}
	case []float64:
		out = d
	default:
		return nil, Error{fmt.Sprintf("variable %s holds %T data, want floating point", name, data), R.filename, []string{"recordFloats"}, true}
	}
	if s, ok := R.scales[name]; ok {
		for i := range out {
			out[i] *= s
		}
	}
	return out, nil
}

func fillMatrix(out *v3.Matrix, flat []float64) {
	n := len(flat) / 3
	for i := 0; i < n; i++ {
		out.Set(i, 0, flat[3*i])
		out.Set(i, 1, flat[3*i+1])
		out.Set(i, 2, flat[3*i+2])
	}
}

//Readable returns true if the object is ready to be read from. It doesn't
//guarantee that there is something left to read.
func (R *NcdfR) Readable() bool {
	return R.readable
}

//Len returns the number of atoms per frame.
func (R *NcdfR) Len() int {
	return R.natoms
}

//NFrames returns the number of frames in the trajectory.
func (R *NcdfR) NFrames() int {
	return R.nframes
}

//Periodic returns true if the trajectory carries a unit cell.
func (R *NcdfR) Periodic() bool { return R.periodic }

//HasVelocities returns true if the trajectory carries velocities.
func (R *NcdfR) HasVelocities() bool { return R.hasVel }

//HasForces returns true if the trajectory carries forces.
func (R *NcdfR) HasForces() bool { return R.hasFrc }

//Version returns the format version byte of the underlying container,
//1 for classic NetCDF and 2 for the 64-bit-offset variant.
func (R *NcdfR) Version() byte { return R.f.Version() }

//Descriptor returns the serializable identity of the open file, for
//re-opening an equivalent independent handle in a worker process.
func (R *NcdfR) Descriptor() cdf.Descriptor {
	return R.f.Descriptor()
}

//SetConvertUnits controls the conversion of forces from the on-disk
//kcal/(mol*A) to the working kJ/(mol*A) unit. It is on by default;
//turning it off hands out the raw stored values.
func (R *NcdfR) SetConvertUnits(b bool) {
	R.convertUnits = b
}

//DT returns the time step between frames in ps, derived from the first
//two time values of the file. When it can't be derived (no time
//variable, or fewer than two frames) the returned error is non-critical
//and the conventional default of 1.0 ps comes back with it.
func (R *NcdfR) DT() (float64, error) {
	if R.dtKnown {
		return R.dt, nil
	}
	if !R.hasTime || R.nframes < 2 {
		return 1.0, Error{"time step can't be derived, defaulting to 1.0 ps", R.filename, []string{"DT"}, false}
	}
	t0, err := R.recordFloats("time", 0)
	if err != nil {
		return 1.0, errDecorate(err, "DT")
	}
	t1, err := R.recordFloats("time", 1)
	if err != nil {
		return 1.0, errDecorate(err, "DT")
	}
	R.dt = t1[0] - t0[0]
	R.dtKnown = true
	return R.dt, nil
}

//ReadFrame reads the frame with 0-based index i into the given buffer,
//and moves the sequential cursor there. Velocities and forces are only
//read if the buffer has storage for them (see mda.NewFrame).
func (R *NcdfR) ReadFrame(i int, fr *mda.Frame) error {
	if !R.readable {
		return Error{TrajUnIni, R.filename, []string{"ReadFrame"}, true}
	}
	if fr == nil {
		return Error{"Given nil frame", R.filename, []string{"ReadFrame"}, true}
	}
	if i < 0 || i >= R.nframes {
		return Error{fmt.Sprintf("frame index %d out of range [0, %d)", i, R.nframes), R.filename, []string{"ReadFrame"}, true}
	}
	if fr.Pos.NVecs() < R.natoms {
		return Error{fmt.Sprintf("%s: %d vectors for %d atoms", NotEnoughVecs, fr.Pos.NVecs(), R.natoms), R.filename, []string{"ReadFrame"}, true}
	}
	coords, err := R.recordFloats("coordinates", i)
	if err != nil {
		return errDecorate(err, "ReadFrame")
	}
	fillMatrix(fr.Pos, coords)
	if R.hasVel && fr.Vel != nil {
		vel, err := R.recordFloats("velocities", i)
		if err != nil {
			return errDecorate(err, "ReadFrame")
		}
		fillMatrix(fr.Vel, vel)
	}
	if R.hasFrc && fr.Frc != nil {
		frc, err := R.recordFloats("forces", i)
		if err != nil {
			return errDecorate(err, "ReadFrame")
		}
		if R.convertUnits {
			for j := range frc {
				frc[j] *= mda.Kcal2KJ
			}
		}
		fillMatrix(fr.Frc, frc)
	}
	if R.periodic {
		cl, err := R.recordFloats("cell_lengths", i)
		if err != nil {
			return errDecorate(err, "ReadFrame")
		}
		ca, err := R.recordFloats("cell_angles", i)
		if err != nil {
			return errDecorate(err, "ReadFrame")
		}
		fr.SetBox(cl[0], cl[1], cl[2], ca[0], ca[1], ca[2])
	} else {
		fr.ClearBox()
	}
	fr.Idx = i
	if R.hasTime {
		t, err := R.recordFloats("time", i)
		if err != nil {
			return errDecorate(err, "ReadFrame")
		}
		fr.Time = t[0]
	} else {
		fr.Time = float64(i)
	}
	R.frame = i
	return nil
}

//NextFrame reads the next frame into the given Frame buffer. At the end
//of the trajectory the returned error implements mda.LastFrameError.
func (R *NcdfR) NextFrame(fr *mda.Frame) error {
	if !R.readable {
		return Error{TrajUnIni, R.filename, []string{"NextFrame"}, true}
	}
	i := R.frame + 1
	if i >= R.nframes {
		return newlastFrameError(R.filename, "NextFrame")
	}
	return R.ReadFrame(i, fr)
}

//Next reads the coordinates of the next frame into the given matrix, or
//discards them if the matrix is nil. The optional box slice receives the
//unit cell, lengths first, then, if it holds 6 elements, the angles. At
//the end of the trajectory the returned error implements
//mda.LastFrameError.
func (R *NcdfR) Next(out *v3.Matrix, box ...[]float64) error {
	if !R.readable {
		return Error{TrajUnIni, R.filename, []string{"Next"}, true}
	}
	i := R.frame + 1
	if i >= R.nframes {
		return newlastFrameError(R.filename, "Next")
	}
	if out != nil {
		if out.NVecs() < R.natoms {
			return Error{fmt.Sprintf("%s: %d vectors for %d atoms", NotEnoughVecs, out.NVecs(), R.natoms), R.filename, []string{"Next"}, true}
		}
		coords, err := R.recordFloats("coordinates", i)
		if err != nil {
			return errDecorate(err, "Next")
		}
		fillMatrix(out, coords)
	}
	if len(box) > 0 && box[0] != nil && R.periodic {
		cl, err := R.recordFloats("cell_lengths", i)
		if err != nil {
			return errDecorate(err, "Next")
		}
		b := box[0]
		for j := 0; j < len(b) && j < 3; j++ {
			b[j] = cl[j]
		}
		if len(b) >= 6 {
			ca, err := R.recordFloats("cell_angles", i)
			if err != nil {
				return errDecorate(err, "Next")
			}
			b[3], b[4], b[5] = ca[0], ca[1], ca[2]
		}
	}
	R.frame = i
	return nil
}

//Writer returns a writer to the given file configured after this
//trajectory: same atom count, same optional variables, same
//quantization factors and the same time step, so that copying frame by
//frame reproduces the layout of the source.
func (R *NcdfR) Writer(filename string) (*NcdfW, error) {
	o := &WriterOptions{
		Velocities:       R.hasVel,
		Forces:           R.hasFrc,
		NoUnitConversion: !R.convertUnits,
		ScaleTime:        R.scales["time"],
		ScaleCoordinates: R.scales["coordinates"],
		ScaleCellLengths: R.scales["cell_lengths"],
		ScaleCellAngles:  R.scales["cell_angles"],
		ScaleVelocities:  R.scales["velocities"],
		ScaleForces:      R.scales["forces"],
	}
	if dt, err := R.DT(); err == nil {
		o.DT = dt
	}
	return NewWriter(filename, R.natoms, o)
}

//Close closes the trajectory. It is idempotent.
func (R *NcdfR) Close() {
	if !R.readable {
		return
	}
	R.f.Close()
	R.readable = false
}
