/*
 * interfaces.go, part of mdanalysis.
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

import v3 "github.com/SampurnaM/mdanalysis/v3"

// Traj is an interface for any trajectory object that can be read
// sequentially, one frame of coordinates at a time.
type Traj interface {

	//Is the trajectory ready to be read?
	Readable() bool

	//Next reads the next frame and puts it in the given matrix, or discards
	//it if the matrix is nil. It can also fill the (optional) box slice with
	//the unit cell, if present in the frame.
	Next(output *v3.Matrix, box ...[]float64) error

	//Returns the number of atoms per frame
	Len() int
}

// FrameTraj is an interface for a trajectory that can fill a full Frame
// buffer (coordinates plus, when present, time, velocities, forces and box)
// on each read.
type FrameTraj interface {
	Readable() bool

	//NextFrame reads the next frame into the given Frame buffer.
	NextFrame(frame *Frame) error

	Len() int
}

// FrameSeeker is a FrameTraj with random access to any frame by its
// 0-based index.
type FrameSeeker interface {
	FrameTraj

	//ReadFrame reads the frame with 0-based index i into the given buffer.
	ReadFrame(i int, frame *Frame) error

	//NFrames returns the total number of frames in the trajectory.
	NFrames() int
}

// CurrentFramer is anything holding a current Frame, such as a coordinate
// selection over a trajectory. It is one of the two source shapes accepted
// by trajectory writers.
type CurrentFramer interface {
	CurrentFrame() *Frame
}

// TrajectoryCursor is the second source shape accepted by trajectory
// writers: anything holding a position on a trajectory which itself holds
// a current Frame.
type TrajectoryCursor interface {
	Trajectory() CurrentFramer
}

//Errors

// Error is the interface for errors that all packages in this library
// implement. The Decorate method allows to add and retrieve info from the
// error, without changing its type or wrapping it around something else.
type Error interface {
	Error() string
	Decorate(string) []string //Each call also returns the "decoration" slice of strings resulting from the current call. If passed an empty string, it should just return the current value, not add the empty string to the slice.
}

// TrajError is the interface for errors in trajectories.
type TrajError interface {
	Error
	Critical() bool
	FileName() string
	Format() string
}

// LastFrameError has a useless function to distinguish the harmless
// end-of-trajectory errors from the rest, so they can be filtered in a type
// switch that looks for this interface.
type LastFrameError interface {
	TrajError
	NormalLastFrameTermination() //does nothing, just to separate this interface from other TrajError's
}
