/*
 * amber.go, part of mdanalysis
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

//Package amber reads the Amber ASCII trajectory format (TRJ/MDCRD/CRDBOX).
//Coordinates come packed as 10 fixed 8-character columns per line, three
//values per atom, with nothing but a title line before the first frame.
//The format stores neither the number of atoms nor the time step, so the
//caller must supply the former and may supply the latter. Periodic box
//information (orthorhombic only, edge lengths on a 3-field line after each
//frame) is auto-detected. Files compressed with gzip, bzip2 or zstd are
//read transparently.
package amber

import (
	"bufio"
	"compress/bzip2"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	mda "github.com/SampurnaM/mdanalysis"
	v3 "github.com/SampurnaM/mdanalysis/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

//FORMAT(10F8.3)  (X(i), Y(i), Z(i), i=1,NATOM)
const (
	fieldsPerLine = 10
	fieldWidth    = 8
	maxTitle      = 80
)

//TrjObj is a handle on an Amber ASCII trajectory open for reading.
type TrjObj struct {
	natoms   int
	periodic bool
	dt       float64 //ps, not stored in the file
	filename string
	readable bool

	linesPerFrame  int
	lastLineFields int //fields on the short last line of a frame, 0 if none
	defparser      *FortranReader
	lastparser     *FortranReader
	boxparser      *FortranReader

	f          *os.File
	zc         io.Closer //decompressor, nil for plain files
	rd         *bufio.Reader
	compressed bool

	frame   int       //index of the last frame read, -1 before the first
	lastBox []float64 //edge lengths of the last frame read, if periodic
	offsets []int64   //byte offset of each frame's first line, built lazily
	nframes int       //cached frame count, -1 if not yet known
}

//Why couldn't *zstd.Decoder implement io.ReadCloser? :-(
type zstdql struct {
	closeql func()
	*zstd.Decoder
}

func (s zstdql) Close() error {
	s.closeql()
	return nil
}

//New opens the Amber ASCII trajectory in filename for reading. The number
//of atoms is required: the format has no header field for it and it cannot
//be inferred. The optional dt is the time per frame in ps, 1.0 by default
//(the format does not store time either). Whether the file carries a
//periodic box is detected here, once, by reading a trial frame and
//probing the line after it; the detection consumes nothing as the stream
//is rewound before New returns.
func New(filename string, natoms int, dt ...float64) (*TrjObj, error) {
	if natoms <= 0 {
		return nil, Error{"The Amber TRJ reader requires a positive number of atoms", filename, []string{"New"}, true}
	}
	T := new(TrjObj)
	T.filename = filename
	T.natoms = natoms
	T.dt = 1.0
	if len(dt) > 0 && dt[0] > 0 {
		T.dt = dt[0]
	}
	T.linesPerFrame = (3*natoms + fieldsPerLine - 1) / fieldsPerLine
	T.lastLineFields = (3 * natoms) % fieldsPerLine
	T.defparser, _ = NewFortranReader(fieldsPerLine, fieldWidth)
	if T.lastLineFields > 0 {
		T.lastparser, _ = NewFortranReader(T.lastLineFields, fieldWidth)
	} else {
		//every line of a frame is full, no retry parser needed
		T.lastparser = T.defparser
	}
	T.boxparser, _ = NewFortranReader(3, fieldWidth)
	T.nframes = -1
	if err := T.openStream(); err != nil {
		return nil, err
	}
	if err := T.detectBox(); err != nil {
		T.closeStream()
		return nil, err
	}
	T.readable = true
	return T, nil
}

//openReader wires the right decompressor for the file extension, or none.
func openReader(f *os.File, filename string) (io.Reader, io.Closer, bool, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		gz, err := gzip.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, nil, false, err
		}
		return gz, gz, true, nil
	case strings.HasSuffix(lower, ".bz2"):
		return bzip2.NewReader(bufio.NewReader(f)), nil, true, nil
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		d, err := zstd.NewReader(bufio.NewReader(f))
		if err != nil {
			return nil, nil, false, err
		}
		q := zstdql{d.Close, d}
		return q, q, true, nil
	}
	return f, nil, false, nil
}

func (T *TrjObj) openStream() error {
	var err error
	T.f, err = os.Open(T.filename)
	if err != nil {
		return Error{UnableToOpen + ": " + err.Error(), T.filename, []string{"os.Open", "openStream"}, true}
	}
	r, zc, compressed, err := openReader(T.f, T.filename)
	if err != nil {
		T.f.Close()
		T.f = nil
		return Error{UnableToOpen + ": " + err.Error(), T.filename, []string{"openReader", "openStream"}, true}
	}
	T.zc = zc
	T.compressed = compressed
	T.rd = bufio.NewReader(r)
	title, _ := T.rd.ReadString('\n')
	if title == "" {
		T.closeStream()
		return Error{WrongFormat + ": can't read the title line", T.filename, []string{"openStream"}, true}
	}
	//Chimera uses this check: real trajectories never have long titles,
	//so a longer first line means this isn't a TRJ file at all.
	if len(strings.TrimRight(title, " \t\r\n")) > maxTitle {
		T.closeStream()
		return Error{fmt.Sprintf("%s: title line has more than %d chars, this is probably not an Amber trajectory", WrongFormat, maxTitle), T.filename, []string{"openStream"}, true}
	}
	T.frame = -1
	return nil
}

func (T *TrjObj) closeStream() {
	if T.zc != nil {
		T.zc.Close()
		T.zc = nil
	}
	if T.f != nil {
		T.f.Close()
		T.f = nil
	}
	T.rd = nil
}

//rewind brings the stream back to the first frame, just after the title.
func (T *TrjObj) rewind() error {
	T.closeStream()
	return T.openStream()
}

//detectBox decides, once and for the lifetime of the handle, whether the
//file carries a periodic box: a frame of coordinates is read assuming no
//box, and the following line is probed with the 10-column parser. Exactly
//3 matching fields mean a box line. With a single atom a box line cannot
//be told apart from a coordinate line, so one-atom trajectories are
//always taken as non-periodic, with a warning.
func (T *TrjObj) detectBox() error {
	if T.natoms == 1 {
		T.periodic = false
		log.Printf("Trajectory %s contains a single atom: assuming periodic=false", T.filename)
		return nil
	}
	T.periodic = false
	if err := T.next(nil, nil); err != nil {
		if _, ok := err.(mda.LastFrameError); ok {
			//no frames at all: nothing to probe
			return T.rewind()
		}
		return errDecorate(err, "detectBox")
	}
	line, _ := T.rd.ReadString('\n')
	if line != "" && T.defparser.NumberOfMatches(line) == 3 {
		T.periodic = true
	}
	return T.rewind()
}

//Readable returns true if the object is ready to be read from. It doesn't
//guarantee that there is something left to read.
func (T *TrjObj) Readable() bool {
	return T.readable
}

//Len returns the number of atoms per frame.
func (T *TrjObj) Len() int {
	return T.natoms
}

//DT returns the time per frame in ps, as given to New (1.0 by default).
func (T *TrjObj) DT() float64 {
	return T.dt
}

//Periodic returns true if a periodic box was detected at open time.
func (T *TrjObj) Periodic() bool {
	return T.periodic
}

//next decodes one frame from the current stream position. out may be nil
//to read and discard. box, if non-nil, receives the edge lengths (and 90
//degree angles, if it has room for them).
func (T *TrjObj) next(out *v3.Matrix, box []float64) error {
	if out != nil && out.NVecs() < T.natoms {
		return Error{fmt.Sprintf("Not enough space in passed matrix: %d vectors for %d atoms", out.NVecs(), T.natoms), T.filename, []string{"next"}, true}
	}
	coords := make([]float64, 0, 3*T.natoms)
	for i := 0; i < T.linesPerFrame; i++ {
		line, _ := T.rd.ReadString('\n')
		if line == "" {
			if i == 0 {
				//clean end of the stream, not an error
				return newlastFrameError(T.filename, "next")
			}
			return Error{WrongFormat + ": trajectory ends mid-frame", T.filename, []string{"next"}, true}
		}
		vals, perr := T.defparser.Read(line)
		if perr != nil {
			//fewer than 10 entries on the line: the short last line
			vals, perr = T.lastparser.Read(line)
			if perr != nil {
				return Error{perr.Error(), T.filename, []string{"next"}, true}
			}
		}
		coords = append(coords, vals...)
	}
	if len(coords) != 3*T.natoms {
		return Error{fmt.Sprintf("%s: frame has %d values, want %d", WrongFormat, len(coords), 3*T.natoms), T.filename, []string{"next"}, true}
	}
	if T.periodic {
		line, _ := T.rd.ReadString('\n')
		if line == "" {
			return Error{WrongFormat + ": missing box line", T.filename, []string{"next"}, true}
		}
		b, perr := T.boxparser.Read(line)
		if perr != nil {
			return Error{perr.Error(), T.filename, []string{"boxparser.Read", "next"}, true}
		}
		T.lastBox = b
		if box != nil {
			for i := 0; i < len(box) && i < 3; i++ {
				box[i] = b[i]
			}
			if len(box) >= 6 {
				box[3], box[4], box[5] = 90, 90, 90 //assumed: the format only stores lengths
			}
		}
	}
	if out != nil {
		for i := 0; i < T.natoms; i++ {
			out.Set(i, 0, coords[3*i])
			out.Set(i, 1, coords[3*i+1])
			out.Set(i, 2, coords[3*i+2])
		}
	}
	T.frame++
	return nil
}

//Next reads the next frame into the given matrix, or discards it if the
//matrix is nil. The optional box slice receives the unit cell: the first
//3 elements get the edge lengths and, if it holds 6, the last 3 get the
//assumed 90-degree angles. At the end of the trajectory the returned
//error implements mda.LastFrameError.
func (T *TrjObj) Next(out *v3.Matrix, box ...[]float64) error {
	if !T.readable {
		return Error{TrajUnIni, T.filename, []string{"Next"}, true}
	}
	var b []float64
	if len(box) > 0 {
		b = box[0]
	}
	return T.next(out, b)
}

//NextFrame reads the next frame into the given Frame buffer, filling
//coordinates, frame index, time (dt*index) and, if the file is periodic,
//the box.
func (T *TrjObj) NextFrame(fr *mda.Frame) error {
	if !T.readable {
		return Error{TrajUnIni, T.filename, []string{"NextFrame"}, true}
	}
	if fr == nil {
		return Error{"Given nil frame", T.filename, []string{"NextFrame"}, true}
	}
	if err := T.next(fr.Pos, nil); err != nil {
		return err
	}
	if T.periodic {
		fr.SetBox(T.lastBox[0], T.lastBox[1], T.lastBox[2], 90, 90, 90)
	} else {
		fr.ClearBox()
	}
	fr.Idx = T.frame
	fr.Time = T.dt * float64(T.frame)
	return nil
}

//ReadFrame reads the frame with 0-based index i into the given buffer,
//regardless of the current position. The first call triggers a full scan
//of the file to index the frame offsets; the index is cached for the
//lifetime of the handle.
func (T *TrjObj) ReadFrame(i int, fr *mda.Frame) error {
	if !T.readable {
		return Error{TrajUnIni, T.filename, []string{"ReadFrame"}, true}
	}
	if T.offsets == nil {
		if err := T.buildOffsets(); err != nil {
			return errDecorate(err, "ReadFrame")
		}
	}
	if i < 0 || i >= len(T.offsets) {
		return Error{fmt.Sprintf("frame index %d out of range [0, %d)", i, len(T.offsets)), T.filename, []string{"ReadFrame"}, true}
	}
	if err := T.seekFrame(i); err != nil {
		return err
	}
	T.frame = i - 1 //the sequential read advances it to i
	return T.NextFrame(fr)
}

//seekFrame positions the stream at the first line of frame i. Plain files
//seek directly to the indexed byte offset; compressed streams can't, so
//they are walked from the start instead.
func (T *TrjObj) seekFrame(i int) error {
	if !T.compressed {
		if _, err := T.f.Seek(T.offsets[i], io.SeekStart); err != nil {
			return Error{err.Error(), T.filename, []string{"os.File.Seek", "seekFrame"}, true}
		}
		T.rd.Reset(T.f)
		return nil
	}
	if err := T.rewind(); err != nil {
		return err
	}
	lpf := T.linesPerFrame
	if T.periodic {
		lpf++
	}
	for n := 0; n < i*lpf; n++ {
		if _, err := T.rd.ReadString('\n'); err != nil {
			return Error{fmt.Sprintf("seek to frame %d past the end of the file", i), T.filename, []string{"seekFrame"}, true}
		}
	}
	return nil
}

//buildOffsets scans the whole file line by line on a separate handle,
//recording the byte offset of each frame's first line. The offset
//recorded at end-of-file is discarded.
func (T *TrjObj) buildOffsets() error {
	f, err := os.Open(T.filename)
	if err != nil {
		return Error{UnableToOpen + ": " + err.Error(), T.filename, []string{"os.Open", "buildOffsets"}, true}
	}
	defer f.Close()
	r, zc, _, err := openReader(f, T.filename)
	if err != nil {
		return Error{UnableToOpen + ": " + err.Error(), T.filename, []string{"openReader", "buildOffsets"}, true}
	}
	if zc != nil {
		defer zc.Close()
	}
	rd := bufio.NewReader(r)
	title, _ := rd.ReadString('\n')
	if title == "" {
		return Error{WrongFormat + ": empty file", T.filename, []string{"buildOffsets"}, true}
	}
	lpf := T.linesPerFrame
	if T.periodic {
		lpf++
	}
	offsets := make([]int64, 0, 128)
	pos := int64(len(title))
	counter := 0
	for {
		if counter%lpf == 0 {
			offsets = append(offsets, pos)
		}
		line, _ := rd.ReadString('\n')
		if line == "" {
			break
		}
		pos += int64(len(line))
		counter++
	}
	if len(offsets) > 0 {
		offsets = offsets[:len(offsets)-1]
	}
	T.offsets = offsets
	T.nframes = len(offsets)
	return nil
}

//NFrames returns the number of frames, scanning the whole file the first
//time it is called and caching the answer. A file that can't be opened
//counts as an empty trajectory: the query is meant to be side-effect
//free for callers probing before deciding to open.
func (T *TrjObj) NFrames() int {
	if T.nframes >= 0 {
		return T.nframes
	}
	if err := T.buildOffsets(); err != nil {
		return 0
	}
	return T.nframes
}

//Close closes the trajectory. It is idempotent: closing an already
//closed reader is a no-op.
func (T *TrjObj) Close() {
	if !T.readable && T.f == nil {
		return
	}
	T.closeStream()
	T.readable = false
}
