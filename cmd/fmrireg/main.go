package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"fmrireg/pkg/affine"
	"fmrireg/pkg/config"
	"fmrireg/pkg/metrics"
	"fmrireg/pkg/nifti"
	"fmrireg/pkg/register"
	"fmrireg/pkg/resample"
	"fmrireg/pkg/segment"
	"fmrireg/pkg/skullstrip"
)

func main() {
	// Parse command line arguments
	staticPath := flag.String("static", "", "Static (reference) NIfTI volume")
	movingPath := flag.String("moving", "", "Moving NIfTI volume to align onto the static one")
	outputName := flag.String("output", "registered.nii", "Output NIfTI filename for the aligned volume")
	modeName := flag.String("mode", "rigid", "Registration mode: rigid, translation, or rotation")
	maxIter := flag.Int("maxiter", 0, "Max optimizer iterations per phase (default: from config)")
	configPath := flag.String("config", "fmrireg.yaml", "YAML configuration file")
	doSkullStrip := flag.Bool("skullstrip", false, "Run FSL BET brain extraction on both inputs first")
	doSegment := flag.Bool("segment", false, "Cluster the registered volume into tissue classes")
	labelsName := flag.String("labels", "labels.nii", "Output NIfTI filename for tissue labels")
	flag.Parse()

	// Validate inputs
	if *staticPath == "" || *movingPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	// Load configuration, overridden by explicit flags
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *maxIter > 0 {
		cfg.Registration.MaxIterations = *maxIter
	}
	if *modeName != "" {
		cfg.Registration.Mode = *modeName
	}
	if *doSkullStrip {
		cfg.SkullStrip.Enabled = true
	}

	mode, err := register.ParseMode(cfg.Registration.Mode)
	if err != nil {
		log.Fatalf("Invalid mode: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("RIGID-BODY MRI REGISTRATION BY MUTUAL INFORMATION")
	fmt.Println("================================")

	staticIn, movingIn := *staticPath, *movingPath

	// Step 1: Optional skull-stripping via the external BET tool
	if cfg.SkullStrip.Enabled {
		fmt.Println("Step 1: Skull-stripping inputs with BET...")
		betOpts := skullstrip.Options{
			BetPath:             cfg.SkullStrip.BetPath,
			FractionalIntensity: cfg.SkullStrip.FractionalIntensity,
			VerticalGradient:    cfg.SkullStrip.VerticalGradient,
			ReduceBias:          cfg.SkullStrip.ReduceBias,
		}
		stripped := func(path string) string {
			base := filepath.Base(path)
			return filepath.Join(filepath.Dir(*outputName), "brain_"+base)
		}
		staticIn, movingIn = stripped(*staticPath), stripped(*movingPath)
		if err := skullstrip.Run(*staticPath, staticIn, betOpts); err != nil {
			log.Fatalf("Skull-stripping static image failed: %v", err)
		}
		if err := skullstrip.Run(*movingPath, movingIn, betOpts); err != nil {
			log.Fatalf("Skull-stripping moving image failed: %v", err)
		}
	} else {
		fmt.Println("Step 1: Skull-stripping disabled, using raw inputs")
	}

	// Step 2: Load both volumes with their voxel-to-world affines
	fmt.Println("Step 2: Loading volumes...")
	static, staticAff, err := nifti.Load(staticIn)
	if err != nil {
		log.Fatalf("Failed to load static volume: %v", err)
	}
	moving, movingAff, err := nifti.Load(movingIn)
	if err != nil {
		log.Fatalf("Failed to load moving volume: %v", err)
	}
	fmt.Printf("Static volume: %s, moving volume: %s\n", static.ShapeString(), moving.ShapeString())

	// Step 3: Center-of-mass initialization
	fmt.Println("Step 3: Initializing with center-of-mass alignment...")
	initAff, err := register.CenterOfMassTransform(static, moving, staticAff, movingAff)
	if err != nil {
		log.Fatalf("Center-of-mass initialization failed: %v", err)
	}

	// Step 4: Rigid search over translations, then rotations
	fmt.Printf("Step 4: Optimizing %s transform (max %d iterations per phase)...\n",
		mode, cfg.Registration.MaxIterations)
	startTime := time.Now()
	opts := register.Options{
		MaxIter:         cfg.Registration.MaxIterations,
		Mode:            mode,
		TranslationBins: cfg.Registration.TranslationBins,
		RotationBins:    cfg.Registration.RotationBins,
		SimplexSize:     cfg.Registration.SimplexSize,
	}
	if cfg.Output.Verbose {
		opts.Progress = func(phase string) { fmt.Printf("  starting %s...\n", phase) }
	}
	correction, err := register.Rigid(static, moving, staticAff, initAff, opts)
	if err != nil {
		log.Fatalf("Registration failed: %v", err)
	}
	searchTime := time.Since(startTime)

	// Step 5: Resample the moving volume through the final transform
	fmt.Println("Step 5: Resampling moving volume onto the static grid...")
	finalAff := affine.Mul(initAff, correction)
	registered, appliedAff, err := resample.Resample(static, moving, staticAff, finalAff)
	if err != nil {
		log.Fatalf("Final resampling failed: %v", err)
	}
	if err := nifti.Save(*outputName, registered, appliedAff); err != nil {
		log.Fatalf("Failed to save registered volume: %v", err)
	}

	// Step 6: Report alignment quality
	fmt.Println("Step 6: Computing quality metrics...")
	report, err := metrics.Evaluate(static, registered)
	if err != nil {
		log.Fatalf("Quality evaluation failed: %v", err)
	}

	fmt.Printf("\nRegistration completed in %.2f seconds\n", searchTime.Seconds())
	fmt.Printf("Aligned volume saved to: %s\n\n", *outputName)

	fmt.Printf("Alignment Quality Metrics:\n")
	fmt.Printf("==========================\n")
	fmt.Printf("Mutual Information (MI): %.3f\n", report.MI)
	fmt.Printf("Entropy Difference: %.3f\n", report.EntropyDiff)
	fmt.Printf("Root Mean Square Error (RMSE): %.6f\n", report.RMSE)
	fmt.Printf("Structural Similarity Index (SSIM): %.3f\n", report.SSIM)

	// Step 7: Optional tissue segmentation of the registered volume
	if *doSegment {
		fmt.Println("\nStep 7: Clustering registered volume into tissue classes...")
		result, err := segment.KMeans(registered.Data, segment.Options{
			Classes:   cfg.Segmentation.Classes,
			MaxIter:   cfg.Segmentation.MaxIterations,
			InitScale: cfg.Segmentation.InitScale,
			Seed:      cfg.Segmentation.Seed,
		})
		if err != nil {
			log.Fatalf("Segmentation failed: %v", err)
		}

		labels := registered.Clone()
		for i, label := range result.Labels {
			labels.Data[i] = float64(label)
		}
		if err := nifti.Save(*labelsName, labels, appliedAff); err != nil {
			log.Fatalf("Failed to save label volume: %v", err)
		}

		fmt.Printf("Converged after %d iterations, centers:", result.Iterations)
		for _, c := range result.Centers {
			fmt.Printf(" %.3f", c)
		}
		fmt.Printf("\nLabel volume saved to: %s\n", *labelsName)
	}
}
