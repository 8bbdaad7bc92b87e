// Package affine provides the 4x4 homogeneous transform algebra used by
// the registration pipeline: rotation matrix construction from Euler
// angles, composition and decomposition of transforms into their linear
// and translation parts, and the sampling transform that maps one
// image grid into another's voxel space.
package affine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SingularTransformError reports an affine transform that cannot be
// inverted. It is always propagated to the caller; a singular transform
// is never silently replaced by an identity.
type SingularTransformError struct {
	// Det is the determinant of the offending transform.
	Det float64
}

func (e *SingularTransformError) Error() string {
	return fmt.Sprintf("affine transform is singular (determinant %g)", e.Det)
}

// detTol is the determinant magnitude below which a transform is
// considered singular. Well-formed voxel-to-world affines have
// determinants on the order of the voxel volume, far above this.
const detTol = 1e-12

// Identity returns a new 4x4 identity transform.
func Identity() *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		a.Set(i, i, 1)
	}
	return a
}

// FromMatVec builds a 4x4 homogeneous transform from a 3x3 linear part
// and a 3-vector translation, such that world = m*voxel + v.
func FromMatVec(m mat.Matrix, v []float64) *mat.Dense {
	a := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.Set(i, j, m.At(i, j))
		}
		a.Set(i, 3, v[i])
	}
	return a
}

// ToMatVec decomposes a 4x4 homogeneous transform into its 3x3 linear
// part and 3-vector translation. It is the exact inverse of FromMatVec
// up to floating-point rounding.
func ToMatVec(a mat.Matrix) (*mat.Dense, []float64) {
	m := mat.NewDense(3, 3, nil)
	v := make([]float64, 3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, a.At(i, j))
		}
		v[i] = a.At(i, 3)
	}
	return m, v
}

// Translation returns the pure-translation transform moving points by v.
func Translation(v []float64) *mat.Dense {
	a := Identity()
	for i := 0; i < 3; i++ {
		a.Set(i, 3, v[i])
	}
	return a
}

// RotationX returns the 3x3 right-handed rotation by theta radians
// about the x axis.
func RotationX(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

// RotationY returns the 3x3 right-handed rotation by theta radians
// about the y axis.
func RotationY(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// RotationZ returns the 3x3 right-handed rotation by theta radians
// about the z axis.
func RotationZ(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// EulerRotation composes the three axis rotations into one 3x3 rotation
// matrix as Rz(rz) * Ry(ry) * Rx(rx). The multiplication order defines
// which physical rotation each angle parameter reproduces and must not
// be changed.
func EulerRotation(rx, ry, rz float64) *mat.Dense {
	zy := mat.NewDense(3, 3, nil)
	zy.Mul(RotationZ(rz), RotationY(ry))
	r := mat.NewDense(3, 3, nil)
	r.Mul(zy, RotationX(rx))
	return r
}

// Mul returns the product a*b of two 4x4 transforms. Composition order
// matters: the right-hand transform is applied first.
func Mul(a, b mat.Matrix) *mat.Dense {
	out := mat.NewDense(4, 4, nil)
	out.Mul(a, b)
	return out
}

// Invert returns the inverse of a 4x4 transform, or a
// *SingularTransformError if the transform is not invertible.
func Invert(a mat.Matrix) (*mat.Dense, error) {
	det := mat.Det(a)
	if math.IsNaN(det) || math.Abs(det) < detTol {
		return nil, &SingularTransformError{Det: det}
	}
	inv := mat.NewDense(4, 4, nil)
	if err := inv.Inverse(a); err != nil {
		return nil, &SingularTransformError{Det: det}
	}
	return inv, nil
}

// MapMovingToStatic computes inv(movingAff) * staticAff: the sampling
// transform that, applied to a static-grid voxel index, yields the
// corresponding moving-grid voxel index. This is the transform used to
// pull moving data onto the static grid, the inverse direction relative
// to the function's name.
func MapMovingToStatic(staticAff, movingAff mat.Matrix) (*mat.Dense, error) {
	inv, err := Invert(movingAff)
	if err != nil {
		return nil, err
	}
	return Mul(inv, staticAff), nil
}

// Apply maps the point (x, y, z) through a 4x4 homogeneous transform.
func Apply(a mat.Matrix, x, y, z float64) (float64, float64, float64) {
	ox := a.At(0, 0)*x + a.At(0, 1)*y + a.At(0, 2)*z + a.At(0, 3)
	oy := a.At(1, 0)*x + a.At(1, 1)*y + a.At(1, 2)*z + a.At(1, 3)
	oz := a.At(2, 0)*x + a.At(2, 1)*y + a.At(2, 2)*z + a.At(2, 3)
	return ox, oy, oz
}
