/*
 * doc.go, part of mdanalysis.
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

/*Package mda provides the shared pieces of a molecular-dynamics
trajectory toolkit: the Frame buffer that codecs fill and consume,
the trajectory interfaces the per-format packages implement, and the
unit conversion factors.

	**Capabilities**

    Reads the Amber ASCII trajectory format (TRJ/MDCRD/CRDBOX),
	including gzip, bzip2 and zstd compressed files, sequentially
	and with random frame access (traj/amber).

    Reads and writes the Amber NetCDF trajectory convention 1.0
	(NCDF/NC), including velocities, forces, periodic cells and
	quantization scale factors (traj/ncdf).

    Reads and writes the underlying NetCDF-3 classic and 64-bit-offset
	array containers (cdf), with optional memory-mapped reads and
	serializable re-openable handles for one-reader-per-worker setups.

All formats yield coordinates in Angstrom and time in ps. Sequential
reads signal the end of a trajectory with an error implementing
LastFrameError, which is a normal termination, not a failure:

	mat := v3.Zeros(traj.Len())
	for {
		err := traj.Next(mat)
		if err != nil {
			if _, ok := err.(mda.LastFrameError); ok {
				break //all frames read
			}
			//a real error
		}
	}
*/
package mda
