/*
 * ncdf_write.go, part of mdanalysis
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

package ncdf

import (
	"fmt"

	mda "github.com/SampurnaM/mdanalysis"
	"github.com/SampurnaM/mdanalysis/cdf"
	v3 "github.com/SampurnaM/mdanalysis/v3"
)

//AmberVelocityScale is the scale factor sander and pmemd traditionally
//put on velocities, converting the AKMA internal velocity unit to A/ps.
//It is never applied by default: set WriterOptions.ScaleVelocities to it
//to write files with the conventional quantization.
const AmberVelocityScale = 20.455

//WriterOptions configures an NcdfW. The zero value writes a
//coordinates-and-time-only trajectory with no quantization, in the
//64-bit-offset container variant, with units converted. A Scale factor
//of zero means "no scale_factor attribute"; non-zero factors are
//written to the file and the stored values are divided by them.
type WriterOptions struct {
	Title          string
	Application    string
	Program        string
	ProgramVersion string

	//Time per frame in ps, used when the frames being written carry no
	//time of their own. 1.0 if unset.
	DT float64

	//Velocities and Forces declare the optional variables. Every frame
	//written must then provide them.
	Velocities bool
	Forces     bool

	//NoUnitConversion leaves forces in the working kJ/(mol*A) instead
	//of converting them to the kcal/(mol*A) the convention stores.
	NoUnitConversion bool

	ScaleTime        float64
	ScaleCoordinates float64
	ScaleCellLengths float64
	ScaleCellAngles  float64
	ScaleVelocities  float64
	ScaleForces      float64
}

//NcdfW is a handle on an Amber NetCDF trajectory open for writing.
//The file itself is only created on the first frame written, because
//the convention fixes the variable layout at creation and whether the
//trajectory is periodic is only known once a frame is seen.
type NcdfW struct {
	filename string
	natoms   int
	opt      WriterOptions
	scales   map[string]float64

	w        *cdf.FileW
	defined  bool
	periodic bool
	nframes  int
	closed   bool
}

//NewWriter prepares an Amber NetCDF trajectory writer to the given
//file. The number of atoms must be positive and every frame written
//must match it. options may be nil for the defaults.
func NewWriter(filename string, natoms int, options *WriterOptions) (*NcdfW, error) {
	if natoms <= 0 {
		return nil, Error{"The Amber NetCDF writer requires a positive number of atoms", filename, []string{"NewWriter"}, true}
	}
	W := &NcdfW{filename: filename, natoms: natoms}
	if options != nil {
		W.opt = *options
	}
	if W.opt.DT <= 0 {
		W.opt.DT = 1.0
	}
	if W.opt.Title == "" {
		W.opt.Title = "AMBER NetCDF format trajectory"
	}
	if W.opt.Application == "" {
		W.opt.Application = "AMBER"
	}
	if W.opt.Program == "" {
		W.opt.Program = "mdanalysis"
	}
	if W.opt.ProgramVersion == "" {
		W.opt.ProgramVersion = "0.1"
	}
	W.scales = make(map[string]float64)
	for name, s := range map[string]float64{
		"time":         W.opt.ScaleTime,
		"coordinates":  W.opt.ScaleCoordinates,
		"cell_lengths": W.opt.ScaleCellLengths,
		"cell_angles":  W.opt.ScaleCellAngles,
		"velocities":   W.opt.ScaleVelocities,
		"forces":       W.opt.ScaleForces,
	} {
		if s != 0 && !unityScale(s) {
			W.scales[name] = s
		}
	}
	return W, nil
}

//initSchema creates the file and lays its schema down, following the
//AMBER convention 1.0. Called once, on the first frame written, when
//the periodicity of the trajectory becomes known.
func (W *NcdfW) initSchema(periodic bool) error {
	//always the 64-bit-offset variant: the convention mandates it, and
	//the reader rejects classic containers
	w, err := cdf.Create(W.filename, cdf.Version64BitOffset)
	if err != nil {
		return Error{err.Error(), W.filename, []string{"cdf.Create", "initSchema"}, true}
	}
	W.w = w
	W.periodic = periodic
	for _, a := range []struct{ name, value string }{
		{"Conventions", "AMBER"},
		{"ConventionVersion", "1.0"},
		{"program", W.opt.Program},
		{"programVersion", W.opt.ProgramVersion},
		{"application", W.opt.Application},
		{"title", W.opt.Title},
	} {
		if err := w.PutGlobalAttr(a.name, a.value); err != nil {
			return W.werr(err, "initSchema")
		}
	}
	for _, d := range []struct {
		name string
		size int
	}{
		{"frame", 0},
		{"spatial", 3},
		{"atom", W.natoms},
		{"cell_spatial", 3},
		{"cell_angular", 3},
		{"label", 5},
	} {
		if err := w.AddDim(d.name, d.size); err != nil {
			return W.werr(err, "initSchema")
		}
	}
	spatial, err := w.AddVar("spatial", cdf.Char, "spatial")
	if err != nil {
		return W.werr(err, "initSchema")
	}
	spatial.SetFixed("xyz")
	if err := W.addRecVar("time", cdf.Float, "picosecond", "frame"); err != nil {
		return err
	}
	if err := W.addRecVar("coordinates", cdf.Float, "angstrom", "frame", "atom", "spatial"); err != nil {
		return err
	}
	if periodic {
		cs, err := w.AddVar("cell_spatial", cdf.Char, "cell_spatial")
		if err != nil {
			return W.werr(err, "initSchema")
		}
		cs.SetFixed("abc")
		ca, err := w.AddVar("cell_angular", cdf.Char, "cell_angular", "label")
		if err != nil {
			return W.werr(err, "initSchema")
		}
		ca.SetFixed("alphabeta gamma") //3 labels of 5 chars each
		if err := W.addRecVar("cell_lengths", cdf.Double, "angstrom", "frame", "cell_spatial"); err != nil {
			return err
		}
		if err := W.addRecVar("cell_angles", cdf.Double, "degree", "frame", "cell_angular"); err != nil {
			return err
		}
	}
	if W.opt.Velocities {
		if err := W.addRecVar("velocities", cdf.Float, "angstrom/picosecond", "frame", "atom", "spatial"); err != nil {
			return err
		}
	}
	if W.opt.Forces {
		if err := W.addRecVar("forces", cdf.Float, "kilocalorie/mole/angstrom", "frame", "atom", "spatial"); err != nil {
			return err
		}
	}
	if err := w.EndDef(); err != nil {
		return W.werr(err, "initSchema")
	}
	W.defined = true
	return nil
}

func (W *NcdfW) addRecVar(name string, typ cdf.Type, units string, dims ...string) error {
	v, err := W.w.AddVar(name, typ, dims...)
	if err != nil {
		return W.werr(err, "addRecVar")
	}
	if err := v.PutAttr("units", units); err != nil {
		return W.werr(err, "addRecVar")
	}
	if s, ok := W.scales[name]; ok {
		if err := v.PutAttr("scale_factor", []float64{s}); err != nil {
			return W.werr(err, "addRecVar")
		}
	}
	return nil
}

func (W *NcdfW) werr(err error, caller string) error {
	return Error{err.Error(), W.filename, []string{caller}, true}
}

//quantize divides the values by the variable's scale factor, if any.
//Stored values are true values divided by the scale; the reader
//multiplies back.
func (W *NcdfW) quantize(name string, vals []float64) []float64 {
	s, ok := W.scales[name]
	if !ok {
		return vals
	}
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v / s
	}
	return out
}

func flatten(m *v3.Matrix, n int) []float64 {
	out := make([]float64, 3*n)
	for i := 0; i < n; i++ {
		out[3*i] = m.At(i, 0)
		out[3*i+1] = m.At(i, 1)
		out[3*i+2] = m.At(i, 2)
	}
	return out
}

func toFloat32(vals []float64) []float32 {
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}
	return out
}

//WFrame appends one frame to the trajectory. The first frame fixes the
//layout: whether the file is periodic is taken from it, and every later
//frame must agree. The frame must carry velocities/forces if the writer
//was configured to write them. The file is synced after every frame, so
//a crash loses at most the frame being written.
func (W *NcdfW) WFrame(fr *mda.Frame) error {
	if W.closed {
		return Error{ClosedWriter, W.filename, []string{"WFrame"}, true}
	}
	if fr == nil {
		return Error{"Given nil frame", W.filename, []string{"WFrame"}, true}
	}
	if fr.Len() != W.natoms {
		return Error{fmt.Sprintf("writer set up for %d atoms, frame has %d", W.natoms, fr.Len()), W.filename, []string{"WFrame"}, true}
	}
	if !W.defined {
		if err := W.initSchema(fr.HasBox()); err != nil {
			return err
		}
	}
	if fr.HasBox() != W.periodic {
		return Error{fmt.Sprintf("frame periodicity (%v) does not match the trajectory's (%v)", fr.HasBox(), W.periodic), W.filename, []string{"WFrame"}, true}
	}
	if W.opt.Velocities && fr.Vel == nil {
		return Error{"writer set up for velocities, frame has none", W.filename, []string{"WFrame"}, true}
	}
	if W.opt.Forces && fr.Frc == nil {
		return Error{"writer set up for forces, frame has none", W.filename, []string{"WFrame"}, true}
	}
	n := W.nframes
	if err := W.w.WriteRecord("time", n, toFloat32(W.quantize("time", []float64{fr.Time}))); err != nil {
		return W.werr(err, "WFrame")
	}
	coords := W.quantize("coordinates", flatten(fr.Pos, W.natoms))
	if err := W.w.WriteRecord("coordinates", n, toFloat32(coords)); err != nil {
		return W.werr(err, "WFrame")
	}
	if W.periodic {
		if err := W.w.WriteRecord("cell_lengths", n, W.quantize("cell_lengths", fr.Box[:3])); err != nil {
			return W.werr(err, "WFrame")
		}
		if err := W.w.WriteRecord("cell_angles", n, W.quantize("cell_angles", fr.Box[3:6])); err != nil {
			return W.werr(err, "WFrame")
		}
	}
	if W.opt.Velocities {
		vel := W.quantize("velocities", flatten(fr.Vel, W.natoms))
		if err := W.w.WriteRecord("velocities", n, toFloat32(vel)); err != nil {
			return W.werr(err, "WFrame")
		}
	}
	if W.opt.Forces {
		frc := flatten(fr.Frc, W.natoms)
		if !W.opt.NoUnitConversion {
			for i := range frc {
				frc[i] *= mda.KJ2Kcal
			}
		}
		if err := W.w.WriteRecord("forces", n, toFloat32(W.quantize("forces", frc))); err != nil {
			return W.werr(err, "WFrame")
		}
	}
	if err := W.w.Sync(); err != nil {
		return W.werr(err, "WFrame")
	}
	W.nframes++
	return nil
}

//WNext appends the current frame of the given source to the trajectory.
//The source may be a *mda.Frame, anything holding a current frame
//(mda.CurrentFramer), a cursor over a trajectory (mda.TrajectoryCursor)
//or a bare coordinate matrix, in which case the frame time is derived
//from the writer's DT.
func (W *NcdfW) WNext(source interface{}) error {
	switch s := source.(type) {
	case *mda.Frame:
		return W.WFrame(s)
	case *v3.Matrix:
		fr := &mda.Frame{Pos: s, Idx: W.nframes, Time: W.opt.DT * float64(W.nframes)}
		return W.WFrame(fr)
	case mda.TrajectoryCursor:
		return W.WFrame(s.Trajectory().CurrentFrame())
	case mda.CurrentFramer:
		return W.WFrame(s.CurrentFrame())
	}
	return Error{fmt.Sprintf("can't write a frame from a %T source", source), W.filename, []string{"WNext"}, true}
}

//NFrames returns the number of frames written so far.
func (W *NcdfW) NFrames() int { return W.nframes }

//Len returns the number of atoms per frame.
func (W *NcdfW) Len() int { return W.natoms }

//Close syncs and closes the trajectory file. If no frame was ever
//written, no file exists and Close does nothing. Close is idempotent,
//and writing to a closed writer fails.
func (W *NcdfW) Close() error {
	if W.closed {
		return nil
	}
	W.closed = true
	if !W.defined {
		return nil
	}
	if err := W.w.Close(); err != nil {
		return W.werr(err, "Close")
	}
	return nil
}
