// Copyright 2025 Google LLC.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/cavaliergopher/cpio"
)

var (
	cpioMagic = []byte("07070")
	gzipMagic = []byte{0x1f, 0x8b}

	// ErrUnsupportedInitrd is returned for initrd segments compressed with
	// anything other than gzip.
	ErrUnsupportedInitrd = errors.New("unsupported initrd compression")
)

// ListInitrd returns the file names in an initramfs image. Images made of
// several concatenated archives, such as an uncompressed early microcode
// archive followed by a gzip compressed main archive, are listed in order.
func ListInitrd(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return listSegments(bytes.NewReader(data))
}

func listSegments(br *bytes.Reader) ([]string, error) {
	var names []string
	for {
		if err := skipZeros(br); err == io.EOF {
			return names, nil
		} else if err != nil {
			return nil, err
		}
		magic := make([]byte, len(cpioMagic))
		n, _ := br.Read(magic)
		if _, err := br.Seek(int64(-n), io.SeekCurrent); err != nil {
			return nil, err
		}
		switch {
		case bytes.HasPrefix(magic, cpioMagic):
			segment, err := listCpio(br)
			if err != nil {
				return nil, err
			}
			names = append(names, segment...)
		case bytes.HasPrefix(magic, gzipMagic):
			zr, err := gzip.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("could not open gzip segment: %w", err)
			}
			inner, err := io.ReadAll(zr)
			if err != nil {
				return nil, fmt.Errorf("could not decompress initrd: %w", err)
			}
			segment, err := listSegments(bytes.NewReader(inner))
			if err != nil {
				return nil, err
			}
			// The compressed archive is always the last one.
			return append(names, segment...), nil
		default:
			return nil, fmt.Errorf("%w: magic %x", ErrUnsupportedInitrd, magic)
		}
	}
}

func listCpio(r io.Reader) ([]string, error) {
	var names []string
	cr := cpio.NewReader(r)
	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("could not read cpio header: %w", err)
		}
		names = append(names, hdr.Name)
	}
}

// skipZeros advances br past the zero padding between archives.
func skipZeros(br *bytes.Reader) error {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return err
		}
		if b != 0 {
			return br.UnreadByte()
		}
	}
}
