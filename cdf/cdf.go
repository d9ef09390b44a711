/*
 * cdf.go, part of mdanalysis
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

//Package cdf reads and writes NetCDF-3 array containers, both the classic
//(version byte 1) and the 64-bit-offset (version byte 2) variants. It covers
//the subset of the format needed by self-describing trajectory containers:
//named dimensions (one of which may be the unlimited record dimension),
//typed variables with attributes, global attributes, and per-record slab
//access, so records can be read at random and appended one at a time.
//
//Everything in the format is big-endian. The package does not interpret
//any convention built on top of the container; that is the job of its
//callers (see traj/ncdf for the Amber trajectory convention).
package cdf

import (
	"fmt"
)

//On-disk type tags, as defined by the classic NetCDF format.
type Type int32

const (
	Byte   Type = 1
	Char   Type = 2
	Short  Type = 3
	Int    Type = 4
	Float  Type = 5
	Double Type = 6
)

//Version bytes for the two supported container variants.
const (
	VersionClassic     byte = 1
	Version64BitOffset byte = 2
)

//List tags in the header.
const (
	tagDimension int32 = 0x0a
	tagVariable  int32 = 0x0b
	tagAttribute int32 = 0x0c
)

//numrecs value marking a file whose record count must be derived
//from its size (a writer crashed, or is still appending).
const streamingRecs uint32 = 0xffffffff

//byte offset of numrecs in the header, patched on every Sync.
const numrecsOffset int64 = 4

func (t Type) size() int64 {
	switch t {
	case Byte, Char:
		return 1
	case Short:
		return 2
	case Int, Float:
		return 4
	case Double:
		return 8
	}
	panic(fmt.Sprintf("cdf: unknown type tag %d", int32(t)))
}

func (t Type) String() string {
	switch t {
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	}
	return fmt.Sprintf("type(%d)", int32(t))
}

//Dimension is a named axis. A Size of zero with Record set marks the
//unlimited record dimension; there can be at most one per file.
type Dimension struct {
	Name   string
	Size   int
	Record bool
}

//Attr is one attribute. Value is a string for Char attributes, and a
//slice ([]int8, []int16, []int32, []float32 or []float64) for the rest.
type Attr struct {
	Name  string
	Value interface{}
}

func attrType(value interface{}) (Type, int, error) {
	switch v := value.(type) {
	case string:
		return Char, len(v), nil
	case []int8:
		return Byte, len(v), nil
	case []int16:
		return Short, len(v), nil
	case []int32:
		return Int, len(v), nil
	case []float32:
		return Float, len(v), nil
	case []float64:
		return Double, len(v), nil
	}
	return 0, 0, fmt.Errorf("cdf: unsupported attribute value of type %T", value)
}

//AttrAsFloat extracts a single floating-point number from an attribute
//value, reporting whether the value really was a one-element Float or
//Double attribute. Integer and character attributes do not qualify.
func AttrAsFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case []float32:
		if len(v) == 1 {
			return float64(v[0]), true
		}
	case []float64:
		if len(v) == 1 {
			return v[0], true
		}
	}
	return 0, false
}

//AttrAsString extracts the text of a Char attribute.
func AttrAsString(value interface{}) (string, bool) {
	s, ok := value.(string)
	return s, ok
}

func findAttr(attrs []Attr, name string) (interface{}, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return nil, false
}

//header names and character data are padded to 4-byte boundaries
func pad4(n int64) int64 {
	return (4 - n%4) % 4
}
