package nifti

import (
	"bytes"
	"compress/gzip"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"fmrireg/internal/models"
	"fmrireg/pkg/affine"
)

// TestSaveLoadRoundTrip verifies that a saved volume and affine load
// back unchanged.
func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.nii")

	vol := models.NewVolume(5, 4, 3)
	for i := range vol.Data {
		vol.Data[i] = float64(i) * 0.5
	}
	aff := affine.FromMatVec(mat.NewDense(3, 3, []float64{
		2, 0, 0,
		0, 2, 0,
		0, 0, 3,
	}), []float64{-10, 5, 2.5})

	if err := Save(path, vol, aff); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, loadedAff, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !loaded.SameShape(vol) {
		t.Fatalf("loaded shape %s, want %s", loaded.ShapeString(), vol.ShapeString())
	}
	for i := range vol.Data {
		if loaded.Data[i] != vol.Data[i] {
			t.Fatalf("voxel %d = %g, want %g", i, loaded.Data[i], vol.Data[i])
		}
	}
	if !mat.EqualApprox(loadedAff, aff, 1e-6) {
		t.Errorf("loaded affine differs from saved affine")
	}
}

// TestLoadGzip verifies that gzipped files load identically to their
// uncompressed form.
func TestLoadGzip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "vol.nii")
	zipped := filepath.Join(dir, "vol.nii.gz")

	vol := models.NewVolume(3, 3, 3)
	vol.Set(1, 1, 1, 42)
	if err := Save(plain, vol, affine.Identity()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(plain)
	if err != nil {
		t.Fatalf("reading saved file failed: %v", err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}
	if err := os.WriteFile(zipped, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing gzipped file failed: %v", err)
	}

	loaded, _, err := Load(zipped)
	if err != nil {
		t.Fatalf("Load of gzipped file failed: %v", err)
	}
	if loaded.At(1, 1, 1) != 42 {
		t.Errorf("gzipped voxel (1,1,1) = %g, want 42", loaded.At(1, 1, 1))
	}
}

// TestLoadPixdimFallback verifies the diagonal affine fallback when no
// sform is present.
func TestLoadPixdimFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.nii")

	vol := models.NewVolume(2, 2, 2)
	if err := Save(path, vol, affine.Identity()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Rewrite the header: clear sform_code (offset 254) and set
	// pixdim[1..3] (offsets 80, 84, 88) to anisotropic spacings.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved file failed: %v", err)
	}
	raw[254], raw[255] = 0, 0
	putFloat32(raw[80:], 2)
	putFloat32(raw[84:], 3)
	putFloat32(raw[88:], 4)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("rewriting file failed: %v", err)
	}

	_, aff, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for i, want := range []float64{2, 3, 4} {
		if math.Abs(aff.At(i, i)-want) > 1e-6 {
			t.Errorf("fallback affine diagonal[%d] = %g, want %g", i, aff.At(i, i), want)
		}
	}
}

// TestLoadRejectsGarbage verifies clear errors on non-NIfTI input.
func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.nii")
	if err := os.WriteFile(path, make([]byte, 1000), 0644); err != nil {
		t.Fatalf("writing junk file failed: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Error("expected error for junk input")
	}

	short := filepath.Join(t.TempDir(), "short.nii")
	if err := os.WriteFile(short, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatalf("writing short file failed: %v", err)
	}
	if _, _, err := Load(short); err == nil {
		t.Error("expected error for truncated input")
	}
}

// TestLoadRejectsMalformedDims verifies that corrupted dimension
// fields in an otherwise valid header are reported as errors rather
// than crashing the reader.
func TestLoadRejectsMalformedDims(t *testing.T) {
	writeCorrupted := func(t *testing.T, name string, corrupt func(raw []byte)) string {
		t.Helper()
		path := filepath.Join(t.TempDir(), name)
		if err := Save(path, models.NewVolume(2, 2, 2), affine.Identity()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading saved file failed: %v", err)
		}
		corrupt(raw)
		if err := os.WriteFile(path, raw, 0644); err != nil {
			t.Fatalf("rewriting file failed: %v", err)
		}
		return path
	}

	// dim[0] at byte 40, dim[1..3] at bytes 42, 44, 46 (little endian)
	cases := []struct {
		name    string
		corrupt func(raw []byte)
	}{
		{"dim0_too_large.nii", func(raw []byte) { raw[40], raw[41] = 8, 0 }},
		{"dim0_huge.nii", func(raw []byte) { raw[40], raw[41] = 0xff, 0x7f }},
		{"dim1_negative.nii", func(raw []byte) { raw[42], raw[43] = 0xfe, 0xff }},
		{"dim2_zero.nii", func(raw []byte) { raw[44], raw[45] = 0, 0 }},
	}
	for _, tc := range cases {
		path := writeCorrupted(t, tc.name, tc.corrupt)
		if _, _, err := Load(path); err == nil {
			t.Errorf("%s: expected error for malformed dimensions", tc.name)
		}
	}
}

// TestSaveRejectsOversizedVolume verifies that extents beyond the
// int16 header range are refused instead of silently truncated.
func TestSaveRejectsOversizedVolume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.nii")

	big := models.NewVolume(40000, 1, 1)
	if err := Save(path, big, affine.Identity()); err == nil {
		t.Error("expected error for volume wider than an int16 extent")
	}

	empty := models.NewVolume(0, 1, 1)
	if err := Save(path, empty, affine.Identity()); err == nil {
		t.Error("expected error for volume with a zero extent")
	}
}

// putFloat32 writes a little-endian float32 into b.
func putFloat32(b []byte, v float32) {
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}
