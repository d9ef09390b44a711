/*
 * write.go, part of mdanalysis
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
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

//FileW is a container opened for writing. It starts in define mode, where
//dimensions, variables and attributes are declared; EndDef freezes the
//schema, lays the file out and writes the header, after which records can
//be appended one at a time. The schema can never be reopened.
type FileW struct {
	path     string
	f        *os.File
	version  byte
	defining bool
	closed   bool
	dims     []Dimension
	attrs    []Attr
	vars     []*VarW
	recsize  int64
	numrecs  int
}

//VarW is one variable of a container being written.
type VarW struct {
	Name  string
	Type  Type
	attrs []Attr

	dimids []int
	record bool
	nelems int64
	dsize  int64
	vsize  int64
	begin  int64
	fixed  []byte //encoded data of a fixed variable, written at EndDef
	w      *FileW
}

//Create creates a new container at path, in define mode. The optional
//version byte selects the classic (1) or 64-bit-offset (2) variant;
//the default is the 64-bit-offset variant.
func Create(path string, version ...byte) (*FileW, error) {
	v := Version64BitOffset
	if len(version) > 0 {
		v = version[0]
	}
	if v != VersionClassic && v != Version64BitOffset {
		return nil, fmt.Errorf("cdf: %s: unsupported version byte %d", path, v)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cdf: %s: %w", path, err)
	}
	return &FileW{path: path, f: f, version: v, defining: true}, nil
}

//AddDim declares a dimension. A size of zero declares the unlimited
//record dimension, of which a file can have at most one.
func (w *FileW) AddDim(name string, size int) error {
	if !w.defining {
		return fmt.Errorf("cdf: %s: schema is frozen, can't add dimension %s", w.path, name)
	}
	for _, d := range w.dims {
		if d.Name == name {
			return fmt.Errorf("cdf: %s: dimension %s already defined", w.path, name)
		}
		if size == 0 && d.Record {
			return fmt.Errorf("cdf: %s: only one record dimension is allowed", w.path)
		}
	}
	if size < 0 {
		return fmt.Errorf("cdf: %s: negative size for dimension %s", w.path, name)
	}
	w.dims = append(w.dims, Dimension{Name: name, Size: size, Record: size == 0})
	return nil
}

//PutGlobalAttr declares a global attribute. The value must be a string
//or a slice of int8/int16/int32/float32/float64.
func (w *FileW) PutGlobalAttr(name string, value interface{}) error {
	if !w.defining {
		return fmt.Errorf("cdf: %s: schema is frozen, can't add attribute %s", w.path, name)
	}
	if _, _, err := attrType(value); err != nil {
		return err
	}
	w.attrs = append(w.attrs, Attr{Name: name, Value: value})
	return nil
}

//AddVar declares a variable over previously declared dimensions. If the
//record dimension is used it must come first.
func (w *FileW) AddVar(name string, typ Type, dims ...string) (*VarW, error) {
	if !w.defining {
		return nil, fmt.Errorf("cdf: %s: schema is frozen, can't add variable %s", w.path, name)
	}
	for _, v := range w.vars {
		if v.Name == name {
			return nil, fmt.Errorf("cdf: %s: variable %s already defined", w.path, name)
		}
	}
	v := &VarW{Name: name, Type: typ, nelems: 1, w: w}
	for i, dn := range dims {
		id := -1
		for j, d := range w.dims {
			if d.Name == dn {
				id = j
				break
			}
		}
		if id < 0 {
			return nil, fmt.Errorf("cdf: %s: variable %s: unknown dimension %s", w.path, name, dn)
		}
		v.dimids = append(v.dimids, id)
		if w.dims[id].Record {
			if i != 0 {
				return nil, fmt.Errorf("cdf: %s: variable %s: record dimension must be outermost", w.path, name)
			}
			v.record = true
			continue
		}
		v.nelems *= int64(w.dims[id].Size)
	}
	v.dsize = v.nelems * typ.size()
	v.vsize = v.dsize + pad4(v.dsize)
	w.vars = append(w.vars, v)
	return v, nil
}

//PutAttr declares an attribute of the variable.
func (v *VarW) PutAttr(name string, value interface{}) error {
	if !v.w.defining {
		return fmt.Errorf("cdf: %s: schema is frozen, can't add attribute %s:%s", v.w.path, v.Name, name)
	}
	if _, _, err := attrType(value); err != nil {
		return err
	}
	v.attrs = append(v.attrs, Attr{Name: name, Value: value})
	return nil
}

//SetFixed supplies the data of a fixed (non-record) variable, to be laid
//down when the schema is frozen. Fixed variables left unset are written
//as zeroes.
func (v *VarW) SetFixed(data interface{}) error {
	if v.record {
		return fmt.Errorf("cdf: %s: variable %s is a record variable", v.w.path, v.Name)
	}
	buf, err := v.encode(data)
	if err != nil {
		return err
	}
	v.fixed = buf
	return nil
}

//encode checks data against the variable's type and element count and
//serializes it, padded to the variable's on-disk slab size.
func (v *VarW) encode(data interface{}) ([]byte, error) {
	typ, n, payload, err := encodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("cdf: %s: variable %s: %w", v.w.path, v.Name, err)
	}
	if typ != v.Type {
		return nil, fmt.Errorf("cdf: %s: variable %s: got %s data, want %s", v.w.path, v.Name, typ, v.Type)
	}
	if n != v.nelems {
		return nil, fmt.Errorf("cdf: %s: variable %s: got %d elements, want %d", v.w.path, v.Name, n, v.nelems)
	}
	buf := make([]byte, v.vsize)
	copy(buf, payload)
	return buf, nil
}

func encodeValue(value interface{}) (Type, int64, []byte, error) {
	switch d := value.(type) {
	case string:
		return Char, int64(len(d)), []byte(d), nil
	case []int8:
		buf := make([]byte, len(d))
		for i, x := range d {
			buf[i] = byte(x)
		}
		return Byte, int64(len(d)), buf, nil
	case []int16:
		buf := make([]byte, 2*len(d))
		for i, x := range d {
			binary.BigEndian.PutUint16(buf[2*i:], uint16(x))
		}
		return Short, int64(len(d)), buf, nil
	case []int32:
		buf := make([]byte, 4*len(d))
		for i, x := range d {
			binary.BigEndian.PutUint32(buf[4*i:], uint32(x))
		}
		return Int, int64(len(d)), buf, nil
	case []float32:
		buf := make([]byte, 4*len(d))
		for i, x := range d {
			binary.BigEndian.PutUint32(buf[4*i:], math.Float32bits(x))
		}
		return Float, int64(len(d)), buf, nil
	case []float64:
		buf := make([]byte, 8*len(d))
		for i, x := range d {
			binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(x))
		}
		return Double, int64(len(d)), buf, nil
	}
	return 0, 0, nil, fmt.Errorf("unsupported value of type %T", value)
}

func writeName(buf *bytes.Buffer, name string) {
	binary.Write(buf, binary.BigEndian, int32(len(name)))
	buf.WriteString(name)
	buf.Write(make([]byte, pad4(int64(len(name)))))
}

func writeAttrList(buf *bytes.Buffer, attrs []Attr) {
	if len(attrs) == 0 {
		binary.Write(buf, binary.BigEndian, int32(0))
		binary.Write(buf, binary.BigEndian, int32(0))
		return
	}
	binary.Write(buf, binary.BigEndian, tagAttribute)
	binary.Write(buf, binary.BigEndian, int32(len(attrs)))
	for _, a := range attrs {
		writeName(buf, a.Name)
		typ, n, payload, _ := encodeValue(a.Value)
		binary.Write(buf, binary.BigEndian, int32(typ))
		binary.Write(buf, binary.BigEndian, int32(n))
		buf.Write(payload)
		buf.Write(make([]byte, pad4(int64(len(payload)))))
	}
}

func (w *FileW) serializeHeader() []byte {
	buf := new(bytes.Buffer)
	buf.Write([]byte{'C', 'D', 'F', w.version})
	binary.Write(buf, binary.BigEndian, uint32(w.numrecs))
	if len(w.dims) == 0 {
		binary.Write(buf, binary.BigEndian, int32(0))
		binary.Write(buf, binary.BigEndian, int32(0))
	} else {
		binary.Write(buf, binary.BigEndian, tagDimension)
		binary.Write(buf, binary.BigEndian, int32(len(w.dims)))
		for _, d := range w.dims {
			writeName(buf, d.Name)
			binary.Write(buf, binary.BigEndian, int32(d.Size))
		}
	}
	writeAttrList(buf, w.attrs)
	if len(w.vars) == 0 {
		binary.Write(buf, binary.BigEndian, int32(0))
		binary.Write(buf, binary.BigEndian, int32(0))
	} else {
		binary.Write(buf, binary.BigEndian, tagVariable)
		binary.Write(buf, binary.BigEndian, int32(len(w.vars)))
		for _, v := range w.vars {
			writeName(buf, v.Name)
			binary.Write(buf, binary.BigEndian, int32(len(v.dimids)))
			for _, id := range v.dimids {
				binary.Write(buf, binary.BigEndian, int32(id))
			}
			writeAttrList(buf, v.attrs)
			binary.Write(buf, binary.BigEndian, int32(v.Type))
			binary.Write(buf, binary.BigEndian, int32(v.vsize))
			if w.version == Version64BitOffset {
				binary.Write(buf, binary.BigEndian, v.begin)
			} else {
				binary.Write(buf, binary.BigEndian, int32(v.begin))
			}
		}
	}
	return buf.Bytes()
}

//EndDef freezes the schema: variable offsets are computed, the header and
//all fixed variables are written, and record writing becomes possible.
func (w *FileW) EndDef() error {
	if w.closed {
		return fmt.Errorf("cdf: %s: attempt to write to a closed file", w.path)
	}
	if !w.defining {
		return fmt.Errorf("cdf: %s: EndDef called twice", w.path)
	}
	//the header length does not depend on the begin values, so a first
	//serialization with them zeroed measures the layout
	offset := int64(len(w.serializeHeader()))
	offset += pad4(offset)
	for _, v := range w.vars {
		if v.record {
			continue
		}
		v.begin = offset
		offset += v.vsize
	}
	nrec := 0
	for _, v := range w.vars {
		if !v.record {
			continue
		}
		v.begin = offset
		offset += v.vsize
		w.recsize += v.vsize
		nrec++
	}
	if nrec == 1 { //a lone record variable packs its records unpadded
		for _, v := range w.vars {
			if v.record {
				w.recsize = v.dsize
			}
		}
	}
	w.defining = false
	if _, err := w.f.WriteAt(w.serializeHeader(), 0); err != nil {
		return fmt.Errorf("cdf: %s: %w", w.path, err)
	}
	for _, v := range w.vars {
		if v.record {
			continue
		}
		data := v.fixed
		if data == nil {
			data = make([]byte, v.vsize)
		}
		if _, err := w.f.WriteAt(data, v.begin); err != nil {
			return fmt.Errorf("cdf: %s: %w", w.path, err)
		}
	}
	return nil
}

//WriteRecord writes one record slab of a record variable. Records are
//appended in order: rec may at most equal the current record count, in
//which case the count grows by one. Rewrites of existing records are
//allowed.
func (w *FileW) WriteRecord(name string, rec int, data interface{}) error {
	if w.closed {
		return fmt.Errorf("cdf: %s: attempt to write to a closed file", w.path)
	}
	if w.defining {
		return fmt.Errorf("cdf: %s: still in define mode, call EndDef first", w.path)
	}
	var v *VarW
	for _, vv := range w.vars {
		if vv.Name == name {
			v = vv
			break
		}
	}
	if v == nil {
		return fmt.Errorf("cdf: %s: no variable %s", w.path, name)
	}
	if !v.record {
		return fmt.Errorf("cdf: %s: variable %s has no record dimension", w.path, name)
	}
	if rec < 0 || rec > w.numrecs {
		return fmt.Errorf("cdf: %s: non-contiguous record write: record %d with %d records present", w.path, rec, w.numrecs)
	}
	buf, err := v.encode(data)
	if err != nil {
		return err
	}
	//a lone record variable packs its slabs unpadded: writing the
	//padding would clobber the head of the next record
	if w.recsize < v.vsize {
		buf = buf[:w.recsize]
	}
	if _, err := w.f.WriteAt(buf, v.begin+int64(rec)*w.recsize); err != nil {
		return fmt.Errorf("cdf: %s: %w", w.path, err)
	}
	if rec == w.numrecs {
		w.numrecs++
	}
	return nil
}

//Sync patches the record count into the header and flushes the file to
//stable storage. Writers call it after every appended record, so a crash
//can lose at most the record being written.
func (w *FileW) Sync() error {
	if w.closed {
		return fmt.Errorf("cdf: %s: attempt to write to a closed file", w.path)
	}
	var nr [4]byte
	binary.BigEndian.PutUint32(nr[:], uint32(w.numrecs))
	if _, err := w.f.WriteAt(nr[:], numrecsOffset); err != nil {
		return fmt.Errorf("cdf: %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("cdf: %s: %w", w.path, err)
	}
	return nil
}

//NumRecs returns the number of records written so far.
func (w *FileW) NumRecs() int { return w.numrecs }

//Path returns the name of the underlying file.
func (w *FileW) Path() string { return w.path }

//Close syncs and closes the file. A closed writer can't be written to
//again; Close itself is idempotent.
func (w *FileW) Close() error {
	if w.closed {
		return nil
	}
	var err error
	if !w.defining {
		err = w.Sync()
	}
	w.closed = true
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
