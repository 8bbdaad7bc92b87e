// Package metrics computes similarity measures between volumes. The
// central measure is mutual information over a joint intensity
// histogram, which the rigid optimizer maximizes; the package also
// provides the intensity-based quality metrics reported after
// registration (entropy difference, RMSE, SSIM).
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"fmrireg/internal/models"
)

// ShapeMismatchError reports two volumes that were expected to share a
// grid shape but do not.
type ShapeMismatchError struct {
	ShapeA, ShapeB string
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("volume shapes differ: %s vs %s", e.ShapeA, e.ShapeB)
}

// DegenerateHistogramError reports a joint histogram with zero total
// count, which leaves mutual information undefined. This only occurs
// for volumes with no voxels; it is never silently converted to NaN.
type DegenerateHistogramError struct{}

func (e *DegenerateHistogramError) Error() string {
	return "joint histogram has zero total count; mutual information is undefined"
}

// JointHistogram is a 2D grid of counts over nbins x nbins equal-width
// intensity bins for a pair of volumes. It is built fresh per
// similarity evaluation and never mutated after construction.
type JointHistogram struct {
	// Counts holds the joint bin counts in row-major order,
	// Counts[i*NBins+j] pairing bin i of the first volume with bin j of
	// the second.
	Counts []float64

	// NBins is the number of bins along each axis.
	NBins int

	// Total is the total number of paired samples binned.
	Total float64
}

// NewJointHistogram bins the paired intensities of two same-shape
// volumes into nbins x nbins equal-width bins spanning each volume's
// observed min/max. The range is recomputed per call, which is the
// canonical policy for this pipeline.
func NewJointHistogram(a, b *models.Volume, nbins int) (*JointHistogram, error) {
	if !a.SameShape(b) {
		return nil, &ShapeMismatchError{ShapeA: a.ShapeString(), ShapeB: b.ShapeString()}
	}
	if nbins < 1 {
		return nil, fmt.Errorf("invalid bin count %d", nbins)
	}

	h := &JointHistogram{
		Counts: make([]float64, nbins*nbins),
		NBins:  nbins,
	}
	if len(a.Data) == 0 {
		return h, nil
	}

	minA, maxA := floats.Min(a.Data), floats.Max(a.Data)
	minB, maxB := floats.Min(b.Data), floats.Max(b.Data)
	widthA := (maxA - minA) / float64(nbins)
	widthB := (maxB - minB) / float64(nbins)

	for k := range a.Data {
		i := binIndex(a.Data[k], minA, widthA, nbins)
		j := binIndex(b.Data[k], minB, widthB, nbins)
		h.Counts[i*nbins+j]++
	}
	h.Total = float64(len(a.Data))
	return h, nil
}

// binIndex maps a value into an equal-width bin, clamping the maximum
// value into the last bin. A zero bin width (constant data) collapses
// everything into bin 0.
func binIndex(v, min, width float64, nbins int) int {
	if width <= 0 {
		return 0
	}
	i := int((v - min) / width)
	if i >= nbins {
		i = nbins - 1
	} else if i < 0 {
		i = 0
	}
	return i
}

// Probabilities returns the histogram normalized to a joint
// distribution along with its two marginals. The caller must ensure
// Total > 0.
func (h *JointHistogram) Probabilities() (joint, px, py []float64) {
	joint = make([]float64, len(h.Counts))
	px = make([]float64, h.NBins)
	py = make([]float64, h.NBins)
	for i := 0; i < h.NBins; i++ {
		for j := 0; j < h.NBins; j++ {
			p := h.Counts[i*h.NBins+j] / h.Total
			joint[i*h.NBins+j] = p
			px[i] += p
			py[j] += p
		}
	}
	return joint, px, py
}

// MutualInformation computes the mutual information between two
// same-shape volumes from an nbins x nbins joint histogram:
//
//	MI = sum over cells with P[i,j] > 0 of P[i,j]*log(P[i,j]/(Px[i]*Py[j]))
//
// Zero-probability cells are excluded from the sum explicitly, so a
// histogram with a single populated cell (two constant volumes) yields
// 0 rather than a numeric error. Higher values indicate stronger
// statistical dependence, i.e. better alignment.
//
// MutualInformation returns a *ShapeMismatchError if the volumes differ
// in shape and a *DegenerateHistogramError if there are no samples.
func MutualInformation(a, b *models.Volume, nbins int) (float64, error) {
	h, err := NewJointHistogram(a, b, nbins)
	if err != nil {
		return 0, err
	}
	if h.Total == 0 {
		return 0, &DegenerateHistogramError{}
	}

	joint, px, py := h.Probabilities()
	mi := 0.0
	for i := 0; i < nbins; i++ {
		for j := 0; j < nbins; j++ {
			p := joint[i*nbins+j]
			if p <= 0 {
				continue
			}
			mi += p * math.Log(p/(px[i]*py[j]))
		}
	}
	return mi, nil
}

// Entropy computes the Shannon entropy (base 2) of a volume's intensity
// distribution over nbins equal-width bins.
func Entropy(data []float64, nbins int) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	min, max := floats.Min(data), floats.Max(data)
	if max <= min {
		return 0
	}

	hist := make([]float64, nbins)
	width := (max - min) / float64(nbins)
	for _, v := range data {
		hist[binIndex(v, min, width, nbins)]++
	}

	entropy := 0.0
	for _, count := range hist {
		if count > 0 {
			p := count / float64(n)
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// RMSE computes the root mean square error between two same-shape
// volumes.
func RMSE(a, b *models.Volume) (float64, error) {
	if !a.SameShape(b) {
		return 0, &ShapeMismatchError{ShapeA: a.ShapeString(), ShapeB: b.ShapeString()}
	}
	if len(a.Data) == 0 {
		return 0, nil
	}
	mse := 0.0
	for i := range a.Data {
		diff := a.Data[i] - b.Data[i]
		mse += diff * diff
	}
	return math.Sqrt(mse / float64(len(a.Data))), nil
}

// SSIM computes the Structural Similarity Index between two same-shape
// volumes over their global statistics.
func SSIM(a, b *models.Volume) (float64, error) {
	if !a.SameShape(b) {
		return 0, &ShapeMismatchError{ShapeA: a.ShapeString(), ShapeB: b.ShapeString()}
	}
	if len(a.Data) == 0 {
		return 0, nil
	}

	// Standard SSIM constants for unit dynamic range
	const k1, k2 = 0.01, 0.03
	span := floats.Max(a.Data) - floats.Min(a.Data)
	if s := floats.Max(b.Data) - floats.Min(b.Data); s > span {
		span = s
	}
	if span == 0 {
		span = 1
	}
	c1 := (k1 * span) * (k1 * span)
	c2 := (k2 * span) * (k2 * span)

	muX := stat.Mean(a.Data, nil)
	muY := stat.Mean(b.Data, nil)
	sigmaX := stat.Variance(a.Data, nil)
	sigmaY := stat.Variance(b.Data, nil)
	sigmaXY := stat.Covariance(a.Data, b.Data, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

// QualityReport summarizes how well a registered volume matches the
// static reference. It is printed by the CLI after registration.
type QualityReport struct {
	// MI is the joint-histogram mutual information between the static
	// and registered volumes.
	MI float64

	// EntropyDiff is the absolute difference in Shannon entropy between
	// the two volumes. Lower values indicate better information
	// preservation.
	EntropyDiff float64

	// RMSE is the root mean square intensity error.
	RMSE float64

	// SSIM is the structural similarity index, 1 meaning identical.
	SSIM float64
}

// ReportBins is the histogram resolution used for the MI and entropy
// figures of a quality report.
const ReportBins = 64

// Evaluate computes the quality report for a static/registered pair.
func Evaluate(static, registered *models.Volume) (*QualityReport, error) {
	mi, err := MutualInformation(static, registered, ReportBins)
	if err != nil {
		return nil, err
	}
	rmse, err := RMSE(static, registered)
	if err != nil {
		return nil, err
	}
	ssim, err := SSIM(static, registered)
	if err != nil {
		return nil, err
	}
	return &QualityReport{
		MI:          mi,
		EntropyDiff: math.Abs(Entropy(static.Data, ReportBins) - Entropy(registered.Data, ReportBins)),
		RMSE:        rmse,
		SSIM:        ssim,
	}, nil
}
