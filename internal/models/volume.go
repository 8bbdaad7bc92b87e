package models

import "fmt"

// Volume represents a 3D scalar image as a dense intensity grid.
// The data is stored as a 1D array in row-major order, indexed as
// z*Width*Height + y*Width + x. Volumes are treated as immutable by
// every consumer; operations that produce new data allocate a new
// Volume rather than mutating their inputs.
type Volume struct {
	// Data is the voxel intensities as a 1D array in row-major order
	Data []float64

	// Width is the extent of the volume along the x axis in voxels
	Width int

	// Height is the extent of the volume along the y axis in voxels
	Height int

	// Depth is the extent of the volume along the z axis in voxels
	Depth int
}

// NewVolume allocates a zero-filled volume with the given dimensions.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the flat data index for voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the intensity at voxel (x, y, z). The caller is
// responsible for staying within bounds.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set assigns the intensity at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// NumVoxels returns the total number of voxels in the volume.
func (v *Volume) NumVoxels() int {
	return v.Width * v.Height * v.Depth
}

// SameShape reports whether two volumes share the same grid dimensions.
func (v *Volume) SameShape(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// ShapeString returns the dimensions formatted as "WxHxD", used in
// error messages and progress output.
func (v *Volume) ShapeString() string {
	return fmt.Sprintf("%dx%dx%d", v.Width, v.Height, v.Depth)
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Width, v.Height, v.Depth)
	copy(out.Data, v.Data)
	return out
}
