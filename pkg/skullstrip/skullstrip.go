// Package skullstrip delegates brain extraction to FSL's external BET
// tool. It never reimplements segmentation; it only builds and runs
// the bet command line with the parameters used for structural images.
package skullstrip

import (
	"fmt"
	"os/exec"
	"strconv"
)

// Options configures the BET invocation.
type Options struct {
	// BetPath is the bet executable to invoke. Empty selects "bet"
	// from PATH.
	BetPath string

	// FractionalIntensity is BET's fractional intensity threshold
	// (-f). Smaller values keep more brain tissue.
	FractionalIntensity float64

	// VerticalGradient is BET's vertical gradient in the fractional
	// intensity threshold (-g).
	VerticalGradient float64

	// ReduceBias enables bias field reduction and neck cleanup (-B).
	ReduceBias bool
}

// DefaultOptions returns the BET parameters used for structural
// skull-stripping in this pipeline.
func DefaultOptions() Options {
	return Options{
		BetPath:             "bet",
		FractionalIntensity: 0.3,
		VerticalGradient:    0.05,
		ReduceBias:          true,
	}
}

// Args builds the bet argument list for the given input and output
// files. Separated from Run so the command construction is testable
// without FSL installed.
func Args(inFile, outFile string, opts Options) []string {
	args := []string{
		inFile,
		outFile,
		"-f", strconv.FormatFloat(opts.FractionalIntensity, 'g', -1, 64),
		"-g", strconv.FormatFloat(opts.VerticalGradient, 'g', -1, 64),
	}
	if opts.ReduceBias {
		args = append(args, "-B")
	}
	return args
}

// Run extracts the brain from inFile into outFile by invoking BET.
func Run(inFile, outFile string, opts Options) error {
	bet := opts.BetPath
	if bet == "" {
		bet = "bet"
	}

	cmd := exec.Command(bet, Args(inFile, outFile, opts)...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("bet failed on %s: %w (output: %s)", inFile, err, output)
	}
	return nil
}
