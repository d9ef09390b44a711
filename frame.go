/*
 * frame.go, part of mdanalysis.
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

package mda

import (
	"fmt"

	v3 "github.com/SampurnaM/mdanalysis/v3"
)

// Frame holds one snapshot of a trajectory: the cartesian coordinates of
// every atom, and, when the format carries them, the simulation time, the
// velocities, the forces and the periodic unit cell. Readers fill a Frame,
// writers consume one; neither retains it between calls.
//
// Units are always the library's working units: Angstrom for lengths,
// picosecond for time, A/ps for velocities, kJ/(mol*A) for forces and
// degrees for the cell angles.
type Frame struct {
	//0-based index of the frame in its trajectory.
	Idx int

	//Time of the frame, in ps.
	Time float64

	Pos *v3.Matrix

	//Vel and Frc are nil unless the trajectory carries velocities/forces.
	Vel *v3.Matrix
	Frc *v3.Matrix

	//Box is either nil or the full unit cell: 3 lengths followed by
	//3 angles. Only orthorhombic or fully-specified cells, never partial.
	Box []float64
}

// NewFrame returns a Frame buffer for natoms atoms, with velocity and/or
// force storage allocated on request.
func NewFrame(natoms int, vel, frc bool) *Frame {
	F := new(Frame)
	F.Pos = v3.Zeros(natoms)
	if vel {
		F.Vel = v3.Zeros(natoms)
	}
	if frc {
		F.Frc = v3.Zeros(natoms)
	}
	return F
}

// Len returns the number of atoms in the Frame.
func (F *Frame) Len() int {
	return F.Pos.NVecs()
}

// HasBox returns true if the Frame carries a unit cell.
func (F *Frame) HasBox() bool {
	return F.Box != nil
}

// SetBox sets the unit cell of the frame from 3 edge lengths (Angstrom)
// and 3 angles (degrees), allocating the box slice if needed.
func (F *Frame) SetBox(a, b, c, alpha, beta, gamma float64) {
	if F.Box == nil {
		F.Box = make([]float64, 6)
	}
	F.Box[0], F.Box[1], F.Box[2] = a, b, c
	F.Box[3], F.Box[4], F.Box[5] = alpha, beta, gamma
}

// ClearBox removes the unit cell from the frame.
func (F *Frame) ClearBox() {
	F.Box = nil
}

// CurrentFrame makes a bare *Frame usable wherever a CurrentFramer is
// expected, e.g. as a source for trajectory writers.
func (F *Frame) CurrentFrame() *Frame {
	return F
}

func (F *Frame) String() string {
	return fmt.Sprintf("Frame %d (t=%4.3f ps, %d atoms, box: %v)", F.Idx, F.Time, F.Len(), F.Box != nil)
}
