/*
 * fortran.go, part of mdanalysis
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

package amber

import (
	"fmt"
	"strconv"
	"strings"
)

//FortranReader decodes one line of Fortran fixed-column numeric output,
//like the 10F8.3 records of an Amber trajectory. Fields are positional:
//there is no delimiter, each field owns exactly width characters of the
//line, and anything past fields*width is ignored. A FortranReader is
//immutable once built and can be shared between lines.
type FortranReader struct {
	fields int
	width  int
}

//NewFortranReader returns a reader for lines of the given number of
//fields, each width characters wide. Both must be positive.
func NewFortranReader(fields, width int) (*FortranReader, error) {
	if fields <= 0 || width <= 0 {
		return nil, Error{fmt.Sprintf("Invalid format: %d fields of width %d", fields, width), "", []string{"NewFortranReader"}, true}
	}
	return &FortranReader{fields: fields, width: width}, nil
}

//Len returns the number of fields the reader decodes per line.
func (R *FortranReader) Len() int {
	return R.fields
}

//field cuts the ith fixed-width substring out of the line, which must
//already be stripped of its line terminator.
func (R *FortranReader) field(line string, i int) string {
	start := i * R.width
	if start >= len(line) {
		return ""
	}
	end := start + R.width
	if end > len(line) {
		end = len(line)
	}
	return line[start:end]
}

//Read decodes all the reader's fields from the line, left to right.
//Any field that is not a valid floating-point literal, including a field
//the line is too short to contain, is a hard error; callers reading the
//under-full last line of a frame retry with a reader sized to the actual
//field count.
func (R *FortranReader) Read(line string) ([]float64, error) {
	line = strings.TrimRight(line, "\r\n")
	out := make([]float64, R.fields)
	for i := 0; i < R.fields; i++ {
		s := strings.TrimSpace(R.field(line, i))
		if s == "" {
			return nil, Error{fmt.Sprintf("%s: empty field %d in line %q", MalformedField, i, line), "", []string{"Read"}, true}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, Error{fmt.Sprintf("%s: field %d (%q) in line %q", MalformedField, i, s, line), "", []string{"strconv.ParseFloat", "Read"}, true}
		}
		out[i] = v
	}
	return out, nil
}

//NumberOfMatches returns how many of the reader's fields actually parse
//as numbers in the line. It is a pure query, used for format sniffing
//(telling a 3-field box line from a coordinate line), never for error
//handling of the decode path.
func (R *FortranReader) NumberOfMatches(line string) int {
	line = strings.TrimRight(line, "\r\n")
	m := 0
	for i := 0; i < R.fields; i++ {
		s := strings.TrimSpace(R.field(line, i))
		if s == "" {
			continue
		}
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			m++
		}
	}
	return m
}
