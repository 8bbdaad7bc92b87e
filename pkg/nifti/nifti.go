// Package nifti reads and writes NIfTI-1 volumetric image files. It
// implements the image-loader contract the registration core depends
// on: Load returns a volume together with its voxel-to-world affine.
//
// The reader handles uncompressed .nii and gzipped .nii.gz files, both
// byte orders, the common scalar datatypes, intensity scaling, and the
// sform affine with a pixdim fallback.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"

	"fmrireg/internal/models"
)

// NIfTI-1 datatype codes for the scalar types this reader supports.
const (
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
)

const headerSize = 348

// header is the fixed 348-byte NIfTI-1 header.
type header struct {
	SizeOfHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8

	Dim         [8]int16
	IntentP1    float32
	IntentP2    float32
	IntentP3    float32
	IntentCode  int16
	DataType    int16
	BitPix      int16
	SliceStart  int16
	PixDim      [8]float32
	VoxOffset   float32
	SclSlope    float32
	SclInter    float32
	SliceEnd    int16
	SliceCode   int8
	XYZTUnits   int8
	CalMax      float32
	CalMin      float32
	SliceDur    float32
	TOffset     float32
	UnusedGlmax int32
	UnusedGlmin int32

	Descrip [80]int8
	AuxFile [24]int8

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SrowX [4]float32
	SrowY [4]float32
	SrowZ [4]float32

	IntentName [16]int8
	Magic      [4]int8
}

// Load reads a NIfTI-1 file and returns its volume together with the
// voxel-to-world affine. Intensities are scaled by the header's
// slope/intercept when present.
func Load(path string) (*models.Volume, *mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip stream in %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("%s: file shorter than NIfTI-1 header", path)
	}

	hdr, order, err := decodeHeader(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	vol, err := decodeData(hdr, order, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}

	return vol, affineFromHeader(hdr), nil
}

// decodeHeader parses the header, detecting byte order from the
// sizeof_hdr field and validating the magic.
func decodeHeader(raw []byte) (*header, binary.ByteOrder, error) {
	var order binary.ByteOrder = binary.LittleEndian
	hdr := &header{}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, hdr); err != nil {
		return nil, nil, fmt.Errorf("decoding header: %w", err)
	}

	if hdr.SizeOfHdr != headerSize {
		// Try the opposite byte order before giving up.
		order = binary.BigEndian
		hdr = &header{}
		if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, hdr); err != nil {
			return nil, nil, fmt.Errorf("decoding header: %w", err)
		}
		if hdr.SizeOfHdr != headerSize {
			return nil, nil, fmt.Errorf("not a NIfTI-1 file (sizeof_hdr %d)", hdr.SizeOfHdr)
		}
	}

	magic := magicString(hdr.Magic)
	if magic != "n+1" && magic != "ni1" {
		return nil, nil, fmt.Errorf("unsupported NIfTI magic %q", magic)
	}
	if magic == "ni1" {
		return nil, nil, fmt.Errorf("two-file (.hdr/.img) NIfTI pairs are not supported")
	}

	if hdr.Dim[0] < 3 || hdr.Dim[0] > 7 {
		return nil, nil, fmt.Errorf("malformed header: dim[0] = %d, want 3 through 7", hdr.Dim[0])
	}
	for i := int16(1); i <= 3; i++ {
		if hdr.Dim[i] <= 0 {
			return nil, nil, fmt.Errorf("malformed header: dim[%d] = %d, want a positive extent", i, hdr.Dim[i])
		}
	}
	// Trailing singleton dimensions (e.g. a 4D file with one frame)
	// are tolerated.
	for i := int16(4); i <= hdr.Dim[0]; i++ {
		if hdr.Dim[i] > 1 {
			return nil, nil, fmt.Errorf("volume has %d frames along dimension %d; only 3D volumes are supported", hdr.Dim[i], i)
		}
	}

	return hdr, order, nil
}

// decodeData reads the voxel payload into a float64 volume, applying
// the header's intensity scaling.
func decodeData(hdr *header, order binary.ByteOrder, raw []byte) (*models.Volume, error) {
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	n := nx * ny * nz

	bytesPerVoxel, ok := map[int16]int{
		typeUint8:   1,
		typeInt16:   2,
		typeInt32:   4,
		typeFloat32: 4,
		typeFloat64: 8,
	}[hdr.DataType]
	if !ok {
		return nil, fmt.Errorf("unsupported NIfTI datatype code %d", hdr.DataType)
	}

	offset := int(hdr.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	if len(raw) < offset+n*bytesPerVoxel {
		return nil, fmt.Errorf("truncated voxel data: need %d bytes, have %d",
			offset+n*bytesPerVoxel, len(raw))
	}
	payload := raw[offset : offset+n*bytesPerVoxel]

	slope := float64(hdr.SclSlope)
	inter := float64(hdr.SclInter)
	if slope == 0 {
		slope, inter = 1, 0
	}

	vol := models.NewVolume(nx, ny, nz)
	for i := 0; i < n; i++ {
		var v float64
		switch hdr.DataType {
		case typeUint8:
			v = float64(payload[i])
		case typeInt16:
			v = float64(int16(order.Uint16(payload[i*2:])))
		case typeInt32:
			v = float64(int32(order.Uint32(payload[i*4:])))
		case typeFloat32:
			v = float64(math.Float32frombits(order.Uint32(payload[i*4:])))
		case typeFloat64:
			v = math.Float64frombits(order.Uint64(payload[i*8:]))
		}
		vol.Data[i] = slope*v + inter
	}
	return vol, nil
}

// affineFromHeader returns the sform voxel-to-world affine when
// present, falling back to a diagonal pixdim scaling.
func affineFromHeader(hdr *header) *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	a.Set(3, 3, 1)

	if hdr.SFormCode > 0 {
		rows := [3][4]float32{hdr.SrowX, hdr.SrowY, hdr.SrowZ}
		for i, row := range rows {
			for j, v := range row {
				a.Set(i, j, float64(v))
			}
		}
		return a
	}

	for i := 0; i < 3; i++ {
		d := float64(hdr.PixDim[i+1])
		if d == 0 {
			d = 1
		}
		a.Set(i, i, d)
	}
	return a
}

// Save writes a volume and its affine as an uncompressed NIfTI-1 file
// with float64 voxels and the affine stored in the sform.
func Save(path string, vol *models.Volume, affine mat.Matrix) error {
	// The header stores extents as int16; anything larger would be
	// silently truncated.
	for _, d := range []int{vol.Width, vol.Height, vol.Depth} {
		if d <= 0 || d > math.MaxInt16 {
			return fmt.Errorf("volume extent %d does not fit a NIfTI-1 dimension (1 through %d)", d, math.MaxInt16)
		}
	}

	hdr := &header{
		SizeOfHdr: headerSize,
		DataType:  typeFloat64,
		BitPix:    64,
		SclSlope:  1,
		VoxOffset: 352,
		SFormCode: 1,
		QFormCode: 0,
		Magic:     [4]int8{'n', '+', '1', 0},
	}
	hdr.Dim[0] = 3
	hdr.Dim[1] = int16(vol.Width)
	hdr.Dim[2] = int16(vol.Height)
	hdr.Dim[3] = int16(vol.Depth)
	for i := 4; i < 8; i++ {
		hdr.Dim[i] = 1
	}
	hdr.PixDim[0] = 1
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			v := float32(affine.At(i, j))
			switch i {
			case 0:
				hdr.SrowX[j] = v
			case 1:
				hdr.SrowY[j] = v
			case 2:
				hdr.SrowZ[j] = v
			}
		}
		// pixdim holds the column norms of the linear part
		var norm float64
		for r := 0; r < 3; r++ {
			norm += affine.At(r, i) * affine.At(r, i)
		}
		hdr.PixDim[i+1] = float32(math.Sqrt(norm))
	}

	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	// 4 bytes of extension flags pad the header to vox_offset 352
	buf.Write([]byte{0, 0, 0, 0})
	if err := binary.Write(buf, binary.LittleEndian, vol.Data); err != nil {
		return fmt.Errorf("encoding voxel data: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func magicString(m [4]int8) string {
	b := make([]byte, 0, 4)
	for _, c := range m {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	return string(b)
}
