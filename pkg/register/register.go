// Package register estimates the rigid-body transform aligning a
// moving volume onto a static reference volume by maximizing mutual
// information. It provides the center-of-mass initializer that
// produces the search's starting transform and the derivative-free
// optimizer that refines it, first over translations and then over
// rotations.
package register

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"fmrireg/internal/models"
	"fmrireg/pkg/affine"
	"fmrireg/pkg/metrics"
	"fmrireg/pkg/resample"
)

// Mode selects which rigid parameters are searched.
type Mode int

const (
	// ModeRigid searches the best translation first, then the best
	// rotation with the translation held fixed. This is the default.
	ModeRigid Mode = iota

	// ModeTranslation searches translation parameters only; rotation
	// angles are held at zero.
	ModeTranslation

	// ModeRotation searches rotation parameters only; the translation
	// is held at zero.
	ModeRotation
)

// String returns the mode name used in configuration and CLI flags.
func (m Mode) String() string {
	switch m {
	case ModeRigid:
		return "rigid"
	case ModeTranslation:
		return "translation"
	case ModeRotation:
		return "rotation"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "rigid", "":
		return ModeRigid, nil
	case "translation":
		return ModeTranslation, nil
	case "rotation":
		return ModeRotation, nil
	}
	return ModeRigid, fmt.Errorf("unknown registration mode %q", s)
}

// Documented histogram resolutions for the two search phases. The
// translation search uses the finer histogram; the rotation search
// trades resolution for noise robustness at larger search radii, so it
// uses a coarser one. The two counts are configured independently.
const (
	DefaultTranslationBins = 64
	DefaultRotationBins    = 32
)

// DefaultMaxIter bounds the outer iterations of each search phase when
// no explicit limit is configured.
const DefaultMaxIter = 100

// ProgressCallback reports the start of a search phase.
type ProgressCallback func(phase string)

// Options configures the rigid search.
type Options struct {
	// MaxIter bounds the outer iterations of each optimization phase.
	// Reaching the bound is not an error: the best point found so far
	// is used. Zero selects DefaultMaxIter.
	MaxIter int

	// Mode selects which parameters are searched.
	Mode Mode

	// TranslationBins is the joint-histogram resolution for the
	// translation phase. Zero selects DefaultTranslationBins.
	TranslationBins int

	// RotationBins is the joint-histogram resolution for the rotation
	// phase. Zero selects DefaultRotationBins.
	RotationBins int

	// SimplexSize sets the scale of the optimizer's initial simplex in
	// parameter units (world units for translations, radians for
	// rotations). Zero selects 1.
	SimplexSize float64

	// Progress, if non-nil, is called at the start of each phase.
	Progress ProgressCallback
}

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.TranslationBins <= 0 {
		o.TranslationBins = DefaultTranslationBins
	}
	if o.RotationBins <= 0 {
		o.RotationBins = DefaultRotationBins
	}
	if o.SimplexSize <= 0 {
		o.SimplexSize = 1
	}
	return o
}

// CenterOfMass computes a volume's intensity-weighted centroid in voxel
// coordinates. It returns an error when the volume has no intensity
// mass, since the centroid is undefined there.
func CenterOfMass(v *models.Volume) ([3]float64, error) {
	var cx, cy, cz, total float64
	for z := 0; z < v.Depth; z++ {
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				w := v.At(x, y, z)
				cx += w * float64(x)
				cy += w * float64(y)
				cz += w * float64(z)
				total += w
			}
		}
	}
	if total == 0 {
		return [3]float64{}, fmt.Errorf("volume has zero total intensity; center of mass is undefined")
	}
	return [3]float64{cx / total, cy / total, cz / total}, nil
}

// CenterOfMassTransform returns the moving affine updated by the pure
// world-space translation that superimposes the moving volume's center
// of mass onto the static volume's. It is the optimizer's starting
// point; it evaluates no similarity metric and terminates in fixed
// time.
func CenterOfMassTransform(static, moving *models.Volume, staticAff, movingAff mat.Matrix) (*mat.Dense, error) {
	staticMat, staticVec := affine.ToMatVec(staticAff)
	movingMat, movingVec := affine.ToMatVec(movingAff)

	staticCM, err := CenterOfMass(static)
	if err != nil {
		return nil, fmt.Errorf("static volume: %w", err)
	}
	movingCM, err := CenterOfMass(moving)
	if err != nil {
		return nil, fmt.Errorf("moving volume: %w", err)
	}

	// Map each centroid into world space through its own affine, then
	// take the displacement that moves the moving centroid onto the
	// static one.
	diff := make([]float64, 3)
	for i := 0; i < 3; i++ {
		staticWorld := staticVec[i]
		movingWorld := movingVec[i]
		for j := 0; j < 3; j++ {
			staticWorld += staticMat.At(i, j) * staticCM[j]
			movingWorld += movingMat.At(i, j) * movingCM[j]
		}
		diff[i] = staticWorld - movingWorld
	}

	return affine.Mul(affine.Translation(diff), movingAff), nil
}

// Rigid searches for the rigid-body correction (3 translations, then 3
// rotations) that maximizes mutual information between the static
// volume and the resampled moving volume, starting from movingAff
// (typically the center-of-mass transform).
//
// The returned affine recombines the best rotation matrix and the best
// translation vector directly into one transform; it is not the product
// of the two intermediate phase affines. A phase skipped by the mode
// contributes the identity (zero translation / zero angles).
//
// Cost evaluations run strictly sequentially; a singular sampling
// transform encountered during a cost evaluation aborts the search and
// propagates as a *affine.SingularTransformError.
func Rigid(static, moving *models.Volume, staticAff, movingAff mat.Matrix, opts Options) (*mat.Dense, error) {
	opts = opts.withDefaults()

	bestTranslation := []float64{0, 0, 0}
	if opts.Mode == ModeRigid || opts.Mode == ModeTranslation {
		if opts.Progress != nil {
			opts.Progress("translation search")
		}
		cost := translationCost(static, moving, staticAff, movingAff, opts.TranslationBins)
		best, err := minimize(cost, []float64{0, 0, 0}, opts)
		if err != nil {
			return nil, fmt.Errorf("translation search: %w", err)
		}
		bestTranslation = best
	}

	// The rotation cost closes over the translation-updated moving
	// affine; the capture is by value so concurrent Rigid calls stay
	// independent.
	movingAffTranslated := affine.Mul(movingAff, affine.Translation(bestTranslation))

	bestRotation := []float64{0, 0, 0}
	if opts.Mode == ModeRigid || opts.Mode == ModeRotation {
		if opts.Progress != nil {
			opts.Progress("rotation search")
		}
		cost := rotationCost(static, moving, staticAff, movingAffTranslated, opts.RotationBins)
		best, err := minimize(cost, []float64{0, 0, 0}, opts)
		if err != nil {
			return nil, fmt.Errorf("rotation search: %w", err)
		}
		bestRotation = best
	}

	rot := affine.EulerRotation(bestRotation[0], bestRotation[1], bestRotation[2])
	return affine.FromMatVec(rot, bestTranslation), nil
}

// costFunc evaluates the negative mutual information for a parameter
// guess. Evaluation errors are latched in err; once set, further
// evaluations short-circuit and the search result is discarded.
type costFunc struct {
	eval func(params []float64) (float64, error)
	err  error
}

func (c *costFunc) value(params []float64) float64 {
	if c.err != nil {
		return math.Inf(1)
	}
	v, err := c.eval(params)
	if err != nil {
		c.err = err
		return math.Inf(1)
	}
	return v
}

// translationCost builds the translation-phase cost: compose a pure
// translation onto the moving affine, resample, and return the negative
// mutual information at the finer histogram resolution.
func translationCost(static, moving *models.Volume, staticAff, movingAff mat.Matrix, nbins int) *costFunc {
	return &costFunc{eval: func(t []float64) (float64, error) {
		updated := affine.Mul(movingAff, affine.Translation(t))
		resampled, _, err := resample.Resample(static, moving, staticAff, updated)
		if err != nil {
			return 0, err
		}
		mi, err := metrics.MutualInformation(static, resampled, nbins)
		if err != nil {
			return 0, err
		}
		return -mi, nil
	}}
}

// rotationCost builds the rotation-phase cost: compose a rotation-only
// affine onto the translation-updated moving affine, resample, and
// return the negative mutual information at the coarser histogram
// resolution.
func rotationCost(static, moving *models.Volume, staticAff, movingAffTranslated mat.Matrix, nbins int) *costFunc {
	zero := []float64{0, 0, 0}
	return &costFunc{eval: func(r []float64) (float64, error) {
		rot := affine.FromMatVec(affine.EulerRotation(r[0], r[1], r[2]), zero)
		updated := affine.Mul(movingAffTranslated, rot)
		resampled, _, err := resample.Resample(static, moving, staticAff, updated)
		if err != nil {
			return 0, err
		}
		mi, err := metrics.MutualInformation(static, resampled, nbins)
		if err != nil {
			return 0, err
		}
		return -mi, nil
	}}
}

// minimize runs the derivative-free Nelder-Mead search from the given
// start point, bounded by MaxIter outer iterations. Hitting the
// iteration bound is an accepted outcome: the best point found so far
// is returned.
func minimize(cost *costFunc, start []float64, opts Options) ([]float64, error) {
	problem := optimize.Problem{Func: cost.value}
	settings := &optimize.Settings{MajorIterations: opts.MaxIter}
	method := &optimize.NelderMead{SimplexSize: opts.SimplexSize}

	result, err := optimize.Minimize(problem, start, settings, method)
	if cost.err != nil {
		return nil, cost.err
	}
	if err != nil {
		return nil, err
	}
	return result.X, nil
}
