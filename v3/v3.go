/*
 * v3.go, part of mdanalysis
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

//Package v3 implements a container for sets of 3D cartesian coordinates,
//i.e. Nx3 matrices, on top of gonum. Within the package it is understood
//that a "vector" is a row vector, the cartesian coordinates of one atom.

package v3

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

//Matrix is a set of vectors in 3D space. It must be able to implement
//any gonum matrix interface through the embedded Dense.
type Matrix struct {
	*mat.Dense
}

//Zeros returns a zero-filled Matrix with vecs vectors and 3 columns.
func Zeros(vecs int) *Matrix {
	const cols int = 3
	f := make([]float64, cols*vecs)
	return &Matrix{mat.NewDense(vecs, cols, f)}
}

//NewMatrix generates and returns a Matrix with 3 columns from data,
//which is not copied. The length of data must be divisible by 3.
func NewMatrix(data []float64) (*Matrix, error) {
	const cols int = 3
	l := len(data)
	if l%cols != 0 {
		return nil, Error{fmt.Sprintf("Input slice length %d not divisible by %d", l, cols), []string{"NewMatrix"}, true}
	}
	r := mat.NewDense(l/cols, cols, data)
	return &Matrix{r}, nil
}

//Matrix2Dense returns the underlying gonum Dense matrix of A.
func Matrix2Dense(A *Matrix) *mat.Dense {
	return A.Dense
}

//Dense2Matrix wraps a gonum Dense, which must have 3 columns, into a Matrix.
func Dense2Matrix(A *mat.Dense) *Matrix {
	_, c := A.Dims()
	if c != 3 {
		panic(not3xXMatrix)
	}
	return &Matrix{A}
}

//NVecs returns the number of vectors (rows) in F.
func (F *Matrix) NVecs() int {
	r, c := F.Dims()
	if c != 3 {
		panic(not3xXMatrix)
	}
	return r
}

//VecView returns a view of the ith vector of F. Changes in the view are
//reflected in F and vice-versa.
func (F *Matrix) VecView(i int) *Matrix {
	r := F.Dense.Slice(i, i+1, 0, 3).(*mat.Dense)
	return &Matrix{r}
}

//SwapVecs swaps the vectors i and j of F, in place.
func (F *Matrix) SwapVecs(i, j int) {
	if i >= F.NVecs() || j >= F.NVecs() {
		panic("Indexes out of range")
	}
	rowi := F.RawRowView(i)
	rowj := F.RawRowView(j)
	for k := 0; k < 3; k++ {
		rowi[k], rowj[k] = rowj[k], rowi[k]
	}
}

const not3xXMatrix = "v3: Not a Nx3 matrix"

//Error is the error type for the v3 package, implementing mda.Error.
type Error struct {
	message string
	deco    []string

	critical bool
}

func (err Error) Error() string { return err.message }

//Decorate adds new information to the error and returns the "decoration" slice.
func (err Error) Decorate(deco string) []string {
	if deco != "" {
		err.deco = append(err.deco, deco)
	}
	return err.deco
}

//Critical returns true if the error is critical, false otherwise.
func (err Error) Critical() bool { return err.critical }
