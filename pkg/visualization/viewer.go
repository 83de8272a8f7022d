package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"decayindex/internal/models"
)

// DefaultMaxIndex is the decay index rendered as full white.
const DefaultMaxIndex = 4.5

// Viewer renders planes of a decay-index volume as grayscale images, the
// way the synoptic panel shows the map at one height.
type Viewer struct {
	volume *models.DecayIndexVolume

	// maxIndex maps to white; values at or below 0 map to black
	maxIndex float64
}

// NewViewer creates a viewer for the volume.
func NewViewer(volume *models.DecayIndexVolume, maxIndex float64) *Viewer {
	if maxIndex <= 0 {
		maxIndex = DefaultMaxIndex
	}
	return &Viewer{
		volume:   volume,
		maxIndex: maxIndex,
	}
}

func (v *Viewer) gray(val float64) color.Gray16 {
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, val/v.maxIndex*65535)))}
}

// NearestHeight returns the radial index whose height is closest to heightMm.
func (v *Viewer) NearestHeight(heightMm float64) int {
	best := 0
	for k, h := range v.volume.HeightMm {
		if math.Abs(h-heightMm) < math.Abs(v.volume.HeightMm[best]-heightMm) {
			best = k
		}
	}
	return best
}

// ExtractSlice extracts a plane of the volume:
//   - "h": the lon/lat map at radial index position
//   - "lon": the lat/height section at longitude index position
//   - "lat": the lon/height section at latitude index position
//
// Latitude and height grow upwards in the image.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.volume

	var img *image.Gray16
	switch axis {
	case "h", "H":
		if position >= vol.NR {
			return nil, fmt.Errorf("position %d exceeds height extent %d", position, vol.NR)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.NLon, vol.NLat))
		plane := vol.HeightSlice(position)
		for j := 0; j < vol.NLat; j++ {
			for i := 0; i < vol.NLon; i++ {
				img.SetGray16(i, vol.NLat-1-j, v.gray(plane[j*vol.NLon+i]))
			}
		}

	case "lon":
		if position >= vol.NLon {
			return nil, fmt.Errorf("position %d exceeds longitude extent %d", position, vol.NLon)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.NLat, vol.NR))
		for k := 0; k < vol.NR; k++ {
			for j := 0; j < vol.NLat; j++ {
				img.SetGray16(j, vol.NR-1-k, v.gray(vol.At(position, j, k)))
			}
		}

	case "lat":
		if position >= vol.NLat {
			return nil, fmt.Errorf("position %d exceeds latitude extent %d", position, vol.NLat)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.NLon, vol.NR))
		for k := 0; k < vol.NR; k++ {
			for i := 0; i < vol.NLon; i++ {
				img.SetGray16(i, vol.NR-1-k, v.gray(vol.At(i, position, k)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be h, lon, or lat)", axis)
	}

	return img, nil
}

// MarkSamples draws a cross on a height map at every sample's grid cell.
func (v *Viewer) MarkSamples(img image.Image, samples []*models.Sample) image.Image {
	gray, ok := img.(*image.Gray16)
	if !ok {
		return img
	}
	white := color.Gray16{Y: 65535}
	b := gray.Bounds()
	for _, s := range samples {
		x, y := s.GridX, v.volume.NLat-1-s.GridY
		for d := -1; d <= 1; d++ {
			if p := image.Pt(x+d, y); p.In(b) {
				gray.SetGray16(p.X, p.Y, white)
			}
			if p := image.Pt(x, y+d); p.In(b) {
				gray.SetGray16(p.X, p.Y, white)
			}
		}
	}
	return gray
}

// SaveSlice saves an extracted slice as PNG, or JPEG for .jpg/.jpeg names
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "h", "H":
		maxPos = v.volume.NR
	case "lon":
		maxPos = v.volume.NLon
	case "lat":
		maxPos = v.volume.NLat
	default:
		return fmt.Errorf("invalid axis: %s (must be h, lon, or lat)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
