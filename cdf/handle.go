/*
 * handle.go, part of mdanalysis
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
	"encoding/gob"
	"fmt"
)

//Descriptor is the serializable identity of an open File: the path and
//the open flags, never the live OS resource. Sending a Descriptor to a
//worker process and opening it there yields an independent handle on the
//same container, which is the supported way of reading one file from
//many workers. The original path must still be reachable wherever the
//Descriptor is opened.
type Descriptor struct {
	Path         string
	Mmap         bool
	Version      byte
	MaskAndScale bool
}

//Descriptor returns the identity of the open file.
func (f *File) Descriptor() Descriptor {
	return Descriptor{
		Path:         f.path,
		Mmap:         f.mmapped,
		Version:      f.version,
		MaskAndScale: f.maskAndScale,
	}
}

//Open re-opens the container the Descriptor identifies, with the same
//flags. The container must still be the same variant it was when the
//Descriptor was taken.
func (d Descriptor) Open() (*File, error) {
	f, err := Open(d.Path, d.Mmap, d.MaskAndScale)
	if err != nil {
		return nil, err
	}
	if d.Version != 0 && f.version != d.Version {
		f.Close()
		return nil, fmt.Errorf("cdf: %s: version byte changed from %d to %d since the descriptor was taken", d.Path, d.Version, f.version)
	}
	return f, nil
}

//MarshalBinary serializes the file's Descriptor, not its open state, so
//a File can ride along gob-encoded messages between processes.
func (f *File) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(f.Descriptor()); err != nil {
		return nil, fmt.Errorf("cdf: %s: %w", f.path, err)
	}
	return buf.Bytes(), nil
}

//UnmarshalBinary re-opens the file a Descriptor was taken from. This
//performs a full reopen: it fails if the path is no longer reachable.
func (f *File) UnmarshalBinary(data []byte) error {
	var d Descriptor
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return fmt.Errorf("cdf: can't decode descriptor: %w", err)
	}
	nf, err := d.Open()
	if err != nil {
		return err
	}
	*f = *nf
	return nil
}
