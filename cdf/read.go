/*
 * read.go, part of mdanalysis
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

package cdf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/exp/mmap"
)

//File is an open container, for reading. The handle exclusively owns the
//underlying file; it is not safe for concurrent use. Workers needing
//parallel access should each open their own File (see Descriptor).
type File struct {
	path         string
	r            io.ReaderAt
	closer       io.Closer
	mmapped      bool
	maskAndScale bool
	version      byte
	numrecs      int
	size         int64
	dims         []Dimension
	attrs        []Attr
	vars         []*Var
	recsize      int64
}

//Var is one variable of an open container.
type Var struct {
	Name  string
	Type  Type
	Dims  []string
	attrs []Attr

	record bool
	nelems int64 //elements in one record (record vars) or in total (fixed vars)
	dsize  int64 //unpadded byte size of the above
	vsize  int64 //dsize padded to 4 bytes
	begin  int64
	f      *File
}

//Open opens the container at path for reading. With mmapped true the file
//is memory-mapped instead of read through ordinary I/O; all slices handed
//out by ReadRecord are copies either way, so they stay valid after Close.
//With maskAndScale true, any variable carrying scale_factor/add_offset
//attributes is dequantized on read and returned as []float64; callers that
//do their own scaling must leave it off.
func Open(path string, mmapped, maskAndScale bool) (*File, error) {
	f := &File{path: path, mmapped: mmapped, maskAndScale: maskAndScale}
	if mmapped {
		r, err := mmap.Open(path)
		if err != nil {
			return nil, fmt.Errorf("cdf: %s: %w", path, err)
		}
		f.r = r
		f.closer = r
		f.size = int64(r.Len())
	} else {
		r, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("cdf: %s: %w", path, err)
		}
		st, err := r.Stat()
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("cdf: %s: %w", path, err)
		}
		f.r = r
		f.closer = r
		f.size = st.Size()
	}
	if err := f.readHeader(); err != nil {
		f.closer.Close()
		return nil, err
	}
	return f, nil
}

func (f *File) readHeader() error {
	h := bufio.NewReader(io.NewSectionReader(f.r, 0, f.size))
	var magic [4]byte
	if _, err := io.ReadFull(h, magic[:]); err != nil {
		return fmt.Errorf("cdf: %s: can't read magic number: %w", f.path, err)
	}
	if magic[0] != 'C' || magic[1] != 'D' || magic[2] != 'F' {
		return fmt.Errorf("cdf: %s: not a NetCDF classic container", f.path)
	}
	f.version = magic[3]
	if f.version != VersionClassic && f.version != Version64BitOffset {
		return fmt.Errorf("cdf: %s: unsupported version byte %d", f.path, f.version)
	}
	nr, err := readUint32(h)
	if err != nil {
		return fmt.Errorf("cdf: %s: can't read record count: %w", f.path, err)
	}
	streaming := nr == streamingRecs
	if !streaming {
		f.numrecs = int(nr)
	}
	if f.dims, err = readDimList(h); err != nil {
		return fmt.Errorf("cdf: %s: %w", f.path, err)
	}
	if f.attrs, err = readAttrList(h); err != nil {
		return fmt.Errorf("cdf: %s: %w", f.path, err)
	}
	if err = f.readVarList(h); err != nil {
		return fmt.Errorf("cdf: %s: %w", f.path, err)
	}
	f.computeRecsize()
	if streaming {
		f.numrecs = f.recsFromSize()
	}
	return nil
}

//The sum of the record variables' padded per-record sizes, except that
//a lone record variable packs its records with no padding at all.
func (f *File) computeRecsize() {
	var recvars []*Var
	for _, v := range f.vars {
		if v.record {
			recvars = append(recvars, v)
		}
	}
	if len(recvars) == 1 {
		f.recsize = recvars[0].dsize
		return
	}
	for _, v := range recvars {
		f.recsize += v.vsize
	}
}

//recsFromSize derives the record count of a file whose header carries the
//streaming sentinel instead of a count, from the bytes actually present.
func (f *File) recsFromSize() int {
	if f.recsize == 0 {
		return 0
	}
	first := int64(-1)
	for _, v := range f.vars {
		if v.record && (first < 0 || v.begin < first) {
			first = v.begin
		}
	}
	if first < 0 || f.size < first {
		return 0
	}
	return int((f.size - first) / f.recsize)
}

func readUint32(h io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(h, binary.BigEndian, &v)
	return v, err
}

func readInt32(h io.Reader) (int32, error) {
	var v int32
	err := binary.Read(h, binary.BigEndian, &v)
	return v, err
}

func readName(h io.Reader) (string, error) {
	n, err := readInt32(h)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", fmt.Errorf("negative name length %d", n)
	}
	buf := make([]byte, int64(n)+pad4(int64(n)))
	if _, err := io.ReadFull(h, buf); err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

//readList reads the (tag, nelems) pair heading each of the three header
//lists. An absent list is encoded as two zeroes.
func readList(h io.Reader, tag int32) (int, error) {
	t, err := readInt32(h)
	if err != nil {
		return 0, err
	}
	n, err := readInt32(h)
	if err != nil {
		return 0, err
	}
	if t == 0 && n == 0 {
		return 0, nil
	}
	if t != tag {
		return 0, fmt.Errorf("bad list tag %#x (want %#x)", t, tag)
	}
	return int(n), nil
}

func readDimList(h io.Reader) ([]Dimension, error) {
	n, err := readList(h, tagDimension)
	if err != nil {
		return nil, err
	}
	dims := make([]Dimension, n)
	for i := range dims {
		if dims[i].Name, err = readName(h); err != nil {
			return nil, err
		}
		size, err := readInt32(h)
		if err != nil {
			return nil, err
		}
		dims[i].Size = int(size)
		dims[i].Record = size == 0
	}
	return dims, nil
}

func readAttrList(h io.Reader) ([]Attr, error) {
	n, err := readList(h, tagAttribute)
	if err != nil {
		return nil, err
	}
	attrs := make([]Attr, n)
	for i := range attrs {
		if attrs[i].Name, err = readName(h); err != nil {
			return nil, err
		}
		t, err := readInt32(h)
		if err != nil {
			return nil, err
		}
		nelems, err := readInt32(h)
		if err != nil {
			return nil, err
		}
		typ := Type(t)
		dsize := int64(nelems) * typ.size()
		buf := make([]byte, dsize+pad4(dsize))
		if _, err := io.ReadFull(h, buf); err != nil {
			return nil, err
		}
		attrs[i].Value = decode(buf[:dsize], typ, int64(nelems))
	}
	return attrs, nil
}

func (f *File) readVarList(h io.Reader) error {
	n, err := readList(h, tagVariable)
	if err != nil {
		return err
	}
	f.vars = make([]*Var, n)
	for i := range f.vars {
		v := &Var{f: f}
		if v.Name, err = readName(h); err != nil {
			return err
		}
		ndims, err := readInt32(h)
		if err != nil {
			return err
		}
		v.nelems = 1
		for j := int32(0); j < ndims; j++ {
			id, err := readInt32(h)
			if err != nil {
				return err
			}
			if int(id) >= len(f.dims) {
				return fmt.Errorf("variable %s: dimension id %d out of range", v.Name, id)
			}
			d := f.dims[id]
			v.Dims = append(v.Dims, d.Name)
			if d.Record {
				if j != 0 {
					return fmt.Errorf("variable %s: record dimension not outermost", v.Name)
				}
				v.record = true
				continue
			}
			v.nelems *= int64(d.Size)
		}
		if v.attrs, err = readAttrList(h); err != nil {
			return err
		}
		t, err := readInt32(h)
		if err != nil {
			return err
		}
		v.Type = Type(t)
		v.dsize = v.nelems * v.Type.size()
		v.vsize = v.dsize + pad4(v.dsize)
		if _, err = readInt32(h); err != nil { //vsize, recomputed above
			return err
		}
		if f.version == Version64BitOffset {
			if err = binary.Read(h, binary.BigEndian, &v.begin); err != nil {
				return err
			}
		} else {
			b, err := readInt32(h)
			if err != nil {
				return err
			}
			v.begin = int64(b)
		}
		f.vars[i] = v
	}
	return nil
}

func decode(buf []byte, t Type, n int64) interface{} {
	switch t {
	case Char:
		return string(buf[:n])
	case Byte:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(buf[i])
		}
		return out
	case Short:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.BigEndian.Uint16(buf[2*i:]))
		}
		return out
	case Int:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(binary.BigEndian.Uint32(buf[4*i:]))
		}
		return out
	case Float:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.BigEndian.Uint32(buf[4*i:]))
		}
		return out
	case Double:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))
		}
		return out
	}
	return nil
}

//Path returns the name of the underlying file.
func (f *File) Path() string { return f.path }

//Version returns the container's format version byte: 1 for classic,
//2 for the 64-bit-offset variant.
func (f *File) Version() byte { return f.version }

//NumRecs returns the current record count along the unlimited dimension.
func (f *File) NumRecs() int { return f.numrecs }

//Dim looks a dimension up by name. The record dimension comes back with
//Record set and a Size of zero; its effective length is NumRecs.
func (f *File) Dim(name string) (Dimension, bool) {
	for _, d := range f.dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

//GlobalAttr looks a global attribute up by name.
func (f *File) GlobalAttr(name string) (interface{}, bool) {
	return findAttr(f.attrs, name)
}

//ListVariables returns the names of all variables, in header order.
func (f *File) ListVariables() []string {
	names := make([]string, len(f.vars))
	for i, v := range f.vars {
		names[i] = v.Name
	}
	return names
}

//Var looks a variable up by name.
func (f *File) Var(name string) (*Var, bool) {
	for _, v := range f.vars {
		if v.Name == name {
			return v, true
		}
	}
	return nil, false
}

//Close releases the file or mapping. It is idempotent; any read after
//Close fails loudly instead of touching freed resources.
func (f *File) Close() error {
	if f.r == nil {
		return nil
	}
	f.r = nil
	return f.closer.Close()
}

//Attr looks an attribute of the variable up by name.
func (v *Var) Attr(name string) (interface{}, bool) {
	return findAttr(v.attrs, name)
}

//Attrs returns all attributes of the variable, in header order.
func (v *Var) Attrs() []Attr { return v.attrs }

//Record reports whether the variable varies along the record dimension.
func (v *Var) Record() bool { return v.record }

//NElems returns the number of elements in one record of a record
//variable, or the total element count of a fixed one.
func (v *Var) NElems() int { return int(v.nelems) }

func (v *Var) readAt(off int64) (interface{}, error) {
	if v.f.r == nil {
		return nil, fmt.Errorf("cdf: %s: use after close", v.f.path)
	}
	buf := make([]byte, v.dsize)
	if _, err := v.f.r.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("cdf: %s: variable %s: %w", v.f.path, v.Name, err)
	}
	data := decode(buf, v.Type, v.nelems)
	if v.f.maskAndScale {
		data = v.maskScale(data)
	}
	return data, nil
}

//ReadRecord reads one record slab of a record variable. The returned
//slice is typed after the variable ([]float32, []float64, ...) and is
//a copy: it survives closing the file, mapped or not.
func (v *Var) ReadRecord(rec int) (interface{}, error) {
	if !v.record {
		return nil, fmt.Errorf("cdf: %s: variable %s has no record dimension", v.f.path, v.Name)
	}
	if rec < 0 || rec >= v.f.numrecs {
		return nil, fmt.Errorf("cdf: %s: record %d out of range [0, %d)", v.f.path, rec, v.f.numrecs)
	}
	return v.readAt(v.begin + int64(rec)*v.f.recsize)
}

//Read reads the whole data of a fixed (non-record) variable.
func (v *Var) Read() (interface{}, error) {
	if v.record {
		return nil, fmt.Errorf("cdf: %s: variable %s is a record variable, read it record-wise", v.f.path, v.Name)
	}
	return v.readAt(v.begin)
}

//maskScale applies the netCDF scale_factor/add_offset convention,
//promoting the data to []float64. Values are scaled only when the
//attributes are present; this is the maskAndScale open mode, not the
//trajectory-level quantization, which callers handle themselves.
func (v *Var) maskScale(data interface{}) interface{} {
	scale := 1.0
	offset := 0.0
	scaled := false
	if a, ok := findAttr(v.attrs, "scale_factor"); ok {
		if s, ok := AttrAsFloat(a); ok {
			scale = s
			scaled = true
		}
	}
	if a, ok := findAttr(v.attrs, "add_offset"); ok {
		if o, ok := AttrAsFloat(a); ok {
			offset = o
			scaled = true
		}
	}
	if !scaled {
		return data
	}
	var out []float64
	switch d := data.(type) {
	case []int8:
		out = make([]float64, len(d))
		for i, x := range d {
			out[i] = float64(x)*scale + offset
		}
	case []int16:
		out = make([]float64, len(d))
		for i, x := range d {
			out[i] = float64(x)*scale + offset
		}
	case []int32:
		out = make([]float64, len(d))
		for i, x := range d {
			out[i] = float64(x)*scale + offset
		}
	case []float32:
		out = make([]float64, len(d))
		for i, x := range d {
			out[i] = float64(x)*scale + offset
		}
	case []float64:
		out = make([]float64, len(d))
		for i, x := range d {
			out[i] = x*scale + offset
		}
	default:
		return data //char data is never scaled
	}
	return out
}
