/*
 * errors.go, part of mdanalysis
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
)

//errDecorate is a helper function that asserts that the error
//implements mda.Error and decorates the error with the caller's name
//before returning it. If used with a non-mda.Error error, it will panic.
func errDecorate(err error, caller string) error {
	err2 := err.(mda.Error)
	err2.Decorate(caller)
	return err2
}

//Error is the general structure for Amber NetCDF trajectory errors. It
//fulfills mda.Error and mda.TrajError.
type Error struct {
	message  string
	filename string //the input file that has problems, or empty string if none.
	deco     []string
	critical bool
}

func (err Error) Error() string {
	return fmt.Sprintf("Amber NetCDF file %s error: %s", err.filename, err.message)
}

//Decorate adds new information to the error
func (E Error) Decorate(deco string) []string {
	//Even though this method does not use a pointer as a receiver, and tries to alter the receiver,
	//it should work, since E.deco is a slice, and hence a pointer itself.
	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

//FileName returns the file to which the failing trajectory was associated
func (err Error) FileName() string { return err.filename }

//Format returns the format associated to the error (always "Amber NetCDF")
func (err Error) Format() string { return "Amber NetCDF" }

//Critical returns true if the error is critical, false otherwise
func (err Error) Critical() bool { return err.critical }

const (
	TrajUnIni     = "Traj object uninitialized to read"
	UnableToOpen  = "Unable to open file"
	WrongFormat   = "Wrong format in the trajectory file or frame"
	NotAmber      = "Not an Amber convention NetCDF file"
	ClosedWriter  = "Attempt to write to a closed file"
	NotEnoughVecs = "Not enough space in passed matrix"
)

//lastFrameError implements mda.LastFrameError
type lastFrameError struct {
	deco     []string
	fileName string
}

//NormalLastFrameTermination does nothing
func (E lastFrameError) NormalLastFrameTermination() {}

func (E lastFrameError) FileName() string { return E.fileName }

func (E lastFrameError) Error() string { return "EOF" }

func (E lastFrameError) Critical() bool { return false }

func (E lastFrameError) Format() string { return "Amber NetCDF" }

func (E lastFrameError) Decorate(deco string) []string {
	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

func newlastFrameError(filename string, caller string) *lastFrameError {
	e := new(lastFrameError)
	e.fileName = filename
	e.deco = []string{caller}
	return e
}
