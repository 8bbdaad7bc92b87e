// Package resample maps a moving volume onto a static volume's grid
// through the pair's voxel-to-world affines, using trilinear
// interpolation with constant zero padding outside the moving bounds.
//
// This is the hottest operation in the registration pipeline: the rigid
// optimizer resamples once per cost evaluation, and every call uses a
// different sampling transform, so no partial results are cached.
package resample

import (
	"gonum.org/v1/gonum/mat"

	"fmrireg/internal/models"
	"fmrireg/pkg/affine"
)

// Resample pulls the moving volume onto the static volume's grid.
//
// For every voxel index in the static grid, the index is mapped through
// inv(movingAff)*staticAff into continuous moving-volume coordinates and
// the moving volume is sampled there with trilinear interpolation.
// Neighbors outside the moving bounds contribute an intensity of 0.
//
// The output volume has exactly the static volume's shape and is newly
// allocated; neither input is mutated. The returned affine is the one
// the resampled volume now lives under, which is the static affine.
//
// Resample returns a *affine.SingularTransformError if movingAff cannot
// be inverted.
func Resample(static, moving *models.Volume, staticAff, movingAff mat.Matrix) (*models.Volume, *mat.Dense, error) {
	sampling, err := affine.MapMovingToStatic(staticAff, movingAff)
	if err != nil {
		return nil, nil, err
	}

	out := models.NewVolume(static.Width, static.Height, static.Depth)
	for z := 0; z < static.Depth; z++ {
		for y := 0; y < static.Height; y++ {
			for x := 0; x < static.Width; x++ {
				mx, my, mz := affine.Apply(sampling, float64(x), float64(y), float64(z))
				out.Data[out.Index(x, y, z)] = trilinear(moving, mx, my, mz)
			}
		}
	}

	applied := mat.NewDense(4, 4, nil)
	applied.Copy(staticAff)
	return out, applied, nil
}

// trilinear samples the volume at a continuous coordinate by weighting
// the 8 nearest integer-index neighbors by their fractional distance.
// Out-of-bounds neighbors read as 0 (constant padding, not clamped or
// mirrored).
func trilinear(v *models.Volume, x, y, z float64) float64 {
	x0 := floorInt(x)
	y0 := floorInt(y)
	z0 := floorInt(z)

	fx := x - float64(x0)
	fy := y - float64(y0)
	fz := z - float64(z0)

	var sum float64
	for dz := 0; dz <= 1; dz++ {
		wz := 1 - fz
		if dz == 1 {
			wz = fz
		}
		if wz == 0 {
			continue
		}
		for dy := 0; dy <= 1; dy++ {
			wy := 1 - fy
			if dy == 1 {
				wy = fy
			}
			if wy == 0 {
				continue
			}
			for dx := 0; dx <= 1; dx++ {
				wx := 1 - fx
				if dx == 1 {
					wx = fx
				}
				if wx == 0 {
					continue
				}
				sum += wx * wy * wz * sampleAt(v, x0+dx, y0+dy, z0+dz)
			}
		}
	}
	return sum
}

// sampleAt reads a voxel with zero padding outside the volume bounds.
func sampleAt(v *models.Volume, x, y, z int) float64 {
	if x < 0 || y < 0 || z < 0 || x >= v.Width || y >= v.Height || z >= v.Depth {
		return 0
	}
	return v.Data[v.Index(x, y, z)]
}

// floorInt is the integer floor; int() truncates toward zero, which is
// wrong for negative coordinates just outside the volume.
func floorInt(f float64) int {
	i := int(f)
	if f < 0 && float64(i) != f {
		i--
	}
	return i
}
