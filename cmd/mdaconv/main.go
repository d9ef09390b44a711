/*
 * main.go, part of mdanalysis
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

//mdaconv inspects and converts Amber trajectory files: the ASCII
//TRJ/MDCRD format (plain or gzip/bzip2/zstd compressed) and the binary
//NetCDF format. Output is always NetCDF, the only format this library
//writes.
package main

import (
	"fmt"
	"os"
	"strings"

	mda "github.com/SampurnaM/mdanalysis"
	"github.com/SampurnaM/mdanalysis/traj/amber"
	"github.com/SampurnaM/mdanalysis/traj/ncdf"
	"github.com/spf13/cobra"
)

var (
	natoms     int
	dt         float64
	useMmap    bool
	title      string
	noConvert  bool
	scaleCrd   float64
	scaleVel   float64
	scaleFrc   float64
	scaleTime  float64
	scaleCellL float64
	scaleCellA float64
)

var rootCmd = &cobra.Command{
	Use:           "mdaconv",
	Short:         "Inspect and convert Amber MD trajectories",
	Long:          "mdaconv reads Amber trajectories in the ASCII TRJ format\nor the binary NetCDF format and converts them to NetCDF.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var infoCmd = &cobra.Command{
	Use:   "info FILE",
	Short: "Print a summary of a trajectory file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args[0])
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert IN OUT",
	Short: "Convert a trajectory to Amber NetCDF",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(args[0], args[1])
	},
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&natoms, "natoms", "n", 0, "atoms per frame: required for ASCII input (the format does not store it), asserted against NetCDF input")
	rootCmd.PersistentFlags().Float64Var(&dt, "dt", 0, "time per frame in ps for ASCII input (default 1.0)")
	rootCmd.PersistentFlags().BoolVar(&useMmap, "mmap", false, "memory-map NetCDF input instead of reading it")
	convertCmd.Flags().StringVar(&title, "title", "", "title attribute of the output file")
	convertCmd.Flags().BoolVar(&noConvert, "no-convert-units", false, "copy force values verbatim instead of converting kcal<->kJ")
	convertCmd.Flags().Float64Var(&scaleCrd, "scale-coordinates", 0, "quantize coordinates with this scale factor")
	convertCmd.Flags().Float64Var(&scaleVel, "scale-velocities", 0, fmt.Sprintf("quantize velocities with this scale factor (the Amber convention is %g)", ncdf.AmberVelocityScale))
	convertCmd.Flags().Float64Var(&scaleFrc, "scale-forces", 0, "quantize forces with this scale factor")
	convertCmd.Flags().Float64Var(&scaleTime, "scale-time", 0, "quantize time with this scale factor")
	convertCmd.Flags().Float64Var(&scaleCellL, "scale-cell-lengths", 0, "quantize cell lengths with this scale factor")
	convertCmd.Flags().Float64Var(&scaleCellA, "scale-cell-angles", 0, "quantize cell angles with this scale factor")
	rootCmd.AddCommand(infoCmd, convertCmd)
}

//isNetCDF guesses the format from the file extension. The ASCII format
//has no reliable extension convention, so NetCDF is recognized and
//everything else is taken as TRJ.
func isNetCDF(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".nc", ".ncdf", ".netcdf"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func runInfo(path string) error {
	if isNetCDF(path) {
		r, err := ncdf.New(path, &ncdf.Options{Mmap: useMmap, NAtoms: natoms})
		if err != nil {
			return err
		}
		defer r.Close()
		fmt.Printf("%s: Amber NetCDF trajectory (container version %d)\n", path, r.Version())
		fmt.Printf("  atoms:      %d\n", r.Len())
		fmt.Printf("  frames:     %d\n", r.NFrames())
		fmt.Printf("  periodic:   %v\n", r.Periodic())
		fmt.Printf("  velocities: %v\n", r.HasVelocities())
		fmt.Printf("  forces:     %v\n", r.HasForces())
		if d, err := r.DT(); err == nil {
			fmt.Printf("  dt:         %g ps\n", d)
		} else {
			fmt.Printf("  dt:         unknown\n")
		}
		return nil
	}
	if natoms <= 0 {
		return fmt.Errorf("--natoms is required for ASCII trajectories: the format does not store the atom count")
	}
	t, err := amber.New(path, natoms, dt)
	if err != nil {
		return err
	}
	defer t.Close()
	fmt.Printf("%s: Amber ASCII trajectory\n", path)
	fmt.Printf("  atoms:    %d\n", t.Len())
	fmt.Printf("  frames:   %d\n", t.NFrames())
	fmt.Printf("  periodic: %v\n", t.Periodic())
	fmt.Printf("  dt:       %g ps (caller-supplied)\n", t.DT())
	return nil
}

func runConvert(in, out string) error {
	var src mda.FrameSeeker
	var opts ncdf.WriterOptions
	if isNetCDF(in) {
		r, err := ncdf.New(in, &ncdf.Options{Mmap: useMmap, NAtoms: natoms})
		if err != nil {
			return err
		}
		defer r.Close()
		src = r
		opts.Velocities = r.HasVelocities()
		opts.Forces = r.HasForces()
		if d, err := r.DT(); err == nil {
			opts.DT = d
		}
	} else {
		if natoms <= 0 {
			return fmt.Errorf("--natoms is required for ASCII trajectories: the format does not store the atom count")
		}
		t, err := amber.New(in, natoms, dt)
		if err != nil {
			return err
		}
		defer t.Close()
		src = t
		opts.DT = t.DT()
	}
	opts.Title = title
	opts.NoUnitConversion = noConvert
	opts.ScaleCoordinates = scaleCrd
	opts.ScaleVelocities = scaleVel
	opts.ScaleForces = scaleFrc
	opts.ScaleTime = scaleTime
	opts.ScaleCellLengths = scaleCellL
	opts.ScaleCellAngles = scaleCellA
	w, err := ncdf.NewWriter(out, src.Len(), &opts)
	if err != nil {
		return err
	}
	fr := mda.NewFrame(src.Len(), opts.Velocities, opts.Forces)
	written := 0
	for {
		err := src.NextFrame(fr)
		if err != nil {
			if _, ok := err.(mda.LastFrameError); ok {
				break
			}
			w.Close()
			return err
		}
		if err := w.WFrame(fr); err != nil {
			w.Close()
			return err
		}
		written++
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Printf("%s: wrote %d frames (%d atoms) to %s\n", in, written, src.Len(), out)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mdaconv:", err)
		os.Exit(1)
	}
}
