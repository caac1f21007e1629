/*
Copyright © 2024 the SWESim authors.
This file is part of SWESim.

SWESim is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

SWESim is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with SWESim.  If not, see <http://www.gnu.org/licenses/>.
*/

//go:build !opencl

package device

import "errors"

// errNoOpenCL is returned by every OpenCL entry point when the binary was
// built without the opencl build tag.
var errNoOpenCL = errors.New("swesim: built without OpenCL support (rebuild with -tags opencl)")

// CLBackend is unavailable in this build.
type CLBackend struct{}

// NewCLBackend always fails without the opencl build tag.
func NewCLBackend(source string) (*CLBackend, error) { return nil, errNoOpenCL }

func (b *CLBackend) Name() string               { return "opencl (unavailable)" }
func (b *CLBackend) NewStream() (Stream, error) { return nil, errNoOpenCL }
func (b *CLBackend) NewBuffer2D(s Stream, nx, ny, haloX, haloY int, data []float32) (Buffer2D, error) {
	return nil, errNoOpenCL
}
func (b *CLBackend) Close() {}

// CLStepKernel is unavailable in this build.
type CLStepKernel struct{}

func NewCLStepKernel(b *CLBackend, name string) (*CLStepKernel, error) { return nil, errNoOpenCL }

func (k *CLStepKernel) Launch(s Stream, a *StepArgs) error { return errNoOpenCL }
func (k *CLStepKernel) Release()                           {}

// NewCLBoundaryFactory returns a factory whose kernels cannot be built.
func NewCLBoundaryFactory(b *CLBackend, name string) BoundaryFactory {
	return func(spec BoundarySpec) (BoundaryKernel, error) { return nil, errNoOpenCL }
}
