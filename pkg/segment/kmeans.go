// Package segment clusters voxel intensities into tissue classes with
// one-dimensional k-means. It is a simple unsupervised labeling step
// applied after registration, separate from the registration engine.
package segment

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"
)

// Options configures the k-means clustering.
type Options struct {
	// Classes is the number of intensity clusters. Zero selects 4,
	// the usual choice for background/CSF/gray/white labeling.
	Classes int

	// MaxIter bounds the refinement loop. Zero selects 100.
	MaxIter int

	// InitScale scales the random initial cluster centers. Zero
	// selects 50.
	InitScale float64

	// Seed fixes the random center initialization so labelings are
	// reproducible.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.Classes <= 0 {
		o.Classes = 4
	}
	if o.MaxIter <= 0 {
		o.MaxIter = 100
	}
	if o.InitScale <= 0 {
		o.InitScale = 50
	}
	return o
}

// Result holds the converged cluster centers and the per-sample labels.
type Result struct {
	// Centers are the cluster mean intensities, index-aligned with the
	// label values.
	Centers []float64

	// Labels assigns each input sample the index of its nearest center.
	Labels []int

	// Iterations is the number of refinement passes performed.
	Iterations int
}

// KMeans clusters the given intensities into Options.Classes groups.
// Centers start at seeded random positions, then alternate between
// nearest-center labeling and mean updates until the centers stop
// moving or MaxIter passes have run. A cluster that loses all of its
// samples has its center reset to 0.
func KMeans(data []float64, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if len(data) == 0 {
		return nil, fmt.Errorf("no samples to cluster")
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	centers := make([]float64, opts.Classes)
	for i := range centers {
		centers[i] = rng.Float64() * opts.InitScale
	}

	labels := make([]int, len(data))
	old := make([]float64, opts.Classes)

	iter := 0
	for ; iter < opts.MaxIter; iter++ {
		copy(old, centers)

		assignLabels(data, centers, labels)
		updateCenters(data, labels, centers)

		if converged(centers, old) {
			iter++
			break
		}
	}

	return &Result{Centers: centers, Labels: labels, Iterations: iter}, nil
}

// assignLabels gives each sample the index of its nearest center.
func assignLabels(data, centers []float64, labels []int) {
	for i, x := range data {
		best := 0
		bestDist := math.Abs(centers[0] - x)
		for k := 1; k < len(centers); k++ {
			if d := math.Abs(centers[k] - x); d < bestDist {
				best, bestDist = k, d
			}
		}
		labels[i] = best
	}
}

// updateCenters recomputes each center as the mean of its members.
// Empty clusters reset to 0 rather than propagating NaN.
func updateCenters(data []float64, labels []int, centers []float64) {
	for k := range centers {
		var members []float64
		for i, label := range labels {
			if label == k {
				members = append(members, data[i])
			}
		}
		if len(members) == 0 {
			centers[k] = 0
			continue
		}
		centers[k] = stat.Mean(members, nil)
	}
}

// converged reports whether the centers have stopped moving.
func converged(centers, old []float64) bool {
	const tol = 1e-8
	for i := range centers {
		if math.Abs(centers[i]-old[i]) > tol {
			return false
		}
	}
	return true
}
