package affine

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestRotationsAreProper verifies that each axis rotation is a proper
// rotation matrix: orthonormal columns and determinant 1.
func TestRotationsAreProper(t *testing.T) {
	angles := []float64{0, 0.1, -0.7, math.Pi / 3, math.Pi, 2.5}
	builders := map[string]func(float64) *mat.Dense{
		"x": RotationX,
		"y": RotationY,
		"z": RotationZ,
	}

	for name, build := range builders {
		for _, theta := range angles {
			r := build(theta)

			det := mat.Det(r)
			if math.Abs(det-1) > 1e-12 {
				t.Errorf("Rotation%s(%f) determinant = %g, want 1", name, theta, det)
			}

			// R^T R should be the identity
			var rtr mat.Dense
			rtr.Mul(r.T(), r)
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					want := 0.0
					if i == j {
						want = 1.0
					}
					if math.Abs(rtr.At(i, j)-want) > 1e-12 {
						t.Errorf("Rotation%s(%f): R^T R at (%d,%d) = %g, want %g",
							name, theta, i, j, rtr.At(i, j), want)
					}
				}
			}
		}
	}
}

// TestEulerRotationOrder verifies the Rz*Ry*Rx application order, which
// defines the meaning of each angle parameter.
func TestEulerRotationOrder(t *testing.T) {
	rx, ry, rz := 0.3, -0.2, 0.5

	got := EulerRotation(rx, ry, rz)

	want := mat.NewDense(3, 3, nil)
	want.Mul(RotationZ(rz), RotationY(ry))
	want.Mul(want, RotationX(rx))

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(got.At(i, j)-want.At(i, j)) > 1e-14 {
				t.Errorf("EulerRotation at (%d,%d) = %g, want %g (Rz*Ry*Rx)",
					i, j, got.At(i, j), want.At(i, j))
			}
		}
	}

	// A single-axis triple must reduce to the corresponding axis rotation
	single := EulerRotation(0.4, 0, 0)
	ref := RotationX(0.4)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.Abs(single.At(i, j)-ref.At(i, j)) > 1e-14 {
				t.Errorf("EulerRotation(0.4,0,0) differs from RotationX(0.4) at (%d,%d)", i, j)
			}
		}
	}
}

// TestMatVecRoundTrip verifies that FromMatVec and ToMatVec are exact
// inverses.
func TestMatVecRoundTrip(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		1.5, 0.2, -0.3,
		0.0, 2.0, 0.7,
		-0.1, 0.4, 0.9,
	})
	v := []float64{10, -20, 30}

	a := FromMatVec(m, v)

	// The bottom row must stay homogeneous
	for j, want := range []float64{0, 0, 0, 1} {
		if a.At(3, j) != want {
			t.Errorf("bottom row at column %d = %g, want %g", j, a.At(3, j), want)
		}
	}

	m2, v2 := ToMatVec(a)
	for i := 0; i < 3; i++ {
		if v2[i] != v[i] {
			t.Errorf("translation[%d] = %g, want %g", i, v2[i], v[i])
		}
		for j := 0; j < 3; j++ {
			if m2.At(i, j) != m.At(i, j) {
				t.Errorf("linear part at (%d,%d) = %g, want %g", i, j, m2.At(i, j), m.At(i, j))
			}
		}
	}
}

// TestMapMovingToStatic verifies the sampling-transform direction:
// inv(moving) * static.
func TestMapMovingToStatic(t *testing.T) {
	// With an identity moving affine the sampling transform is just the
	// static affine.
	static := Translation([]float64{1, 2, 3})
	got, err := MapMovingToStatic(static, Identity())
	if err != nil {
		t.Fatalf("MapMovingToStatic failed: %v", err)
	}
	if !mat.EqualApprox(got, static, 1e-12) {
		t.Errorf("sampling transform with identity moving affine should equal static affine")
	}

	// With a scaling moving affine, the transform must invert the scale.
	moving := FromMatVec(mat.NewDense(3, 3, []float64{
		2, 0, 0,
		0, 2, 0,
		0, 0, 2,
	}), []float64{0, 0, 0})
	got, err = MapMovingToStatic(Identity(), moving)
	if err != nil {
		t.Fatalf("MapMovingToStatic failed: %v", err)
	}
	x, y, z := Apply(got, 4, 6, 8)
	if math.Abs(x-2) > 1e-12 || math.Abs(y-3) > 1e-12 || math.Abs(z-4) > 1e-12 {
		t.Errorf("sampling transform maps (4,6,8) to (%g,%g,%g), want (2,3,4)", x, y, z)
	}
}

// TestSingularTransform verifies that non-invertible moving affines are
// reported with a typed error, not NaNs.
func TestSingularTransform(t *testing.T) {
	singular := mat.NewDense(4, 4, nil) // all zero, determinant 0

	_, err := MapMovingToStatic(Identity(), singular)
	if err == nil {
		t.Fatal("expected error for singular moving affine")
	}

	var sing *SingularTransformError
	if !errors.As(err, &sing) {
		t.Fatalf("expected *SingularTransformError, got %T: %v", err, err)
	}
	if sing.Det != 0 {
		t.Errorf("reported determinant = %g, want 0", sing.Det)
	}
}

// TestApply verifies homogeneous point mapping.
func TestApply(t *testing.T) {
	a := FromMatVec(RotationZ(math.Pi/2), []float64{1, 0, 0})
	x, y, z := Apply(a, 1, 0, 0)
	if math.Abs(x-1) > 1e-12 || math.Abs(y-1) > 1e-12 || math.Abs(z) > 1e-12 {
		t.Errorf("Apply = (%g,%g,%g), want (1,1,0)", x, y, z)
	}
}
