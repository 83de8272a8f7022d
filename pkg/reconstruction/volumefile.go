package reconstruction

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"
	"github.com/parquet-go/parquet-go"
	log "github.com/sirupsen/logrus"

	"decayindex/internal/models"
)

const writeBatchSize = 10_000

// fieldRow is one grid cell at one radial layer of a stored field volume.
type fieldRow struct {
	Lon    int32   `parquet:"lon"`
	Lat    int32   `parquet:"lat"`
	R      int32   `parquet:"r"`
	Rg     float64 `parquet:"rg"`
	BTheta float64 `parquet:"b_theta"`
	BPhi   float64 `parquet:"b_phi"`
}

// FileProducer serves solver output that was computed elsewhere and stored
// as a Parquet table (optionally gzip-compressed, ".parquet.gz").
type FileProducer struct {
	Path string
}

// Produce loads the stored volume and checks it against the requested
// radial grid: nr+1 layers ending at ln(rss).
func (p *FileProducer) Produce(in Input) (*models.FieldVolume, error) {
	volume, err := ReadVolume(p.Path)
	if err != nil {
		return nil, err
	}
	if volume.NR != in.Nr+1 {
		return nil, fmt.Errorf("%w: %s has %d radial layers, nr=%d needs %d",
			models.ErrGeometry, p.Path, volume.NR, in.Nr, in.Nr+1)
	}
	outer := volume.RadialGrid[volume.NR-1]
	if math.Abs(outer-math.Log(in.Rss)) > 1e-6 {
		return nil, fmt.Errorf("%w: %s ends at r=%.6f R_sun, rss=%g",
			models.ErrGeometry, p.Path, math.Exp(outer), in.Rss)
	}
	return volume, nil
}

// ReadVolume loads a field volume written by WriteVolume.
func ReadVolume(path string) (*models.FieldVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open field volume: %v", models.ErrAcquisition, err)
	}
	defer f.Close()

	var (
		src  io.ReaderAt = f
		size int64
	)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip header: %v", models.ErrAcquisition, err)
		}
		defer gz.Close()
		data, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress field volume: %v", models.ErrAcquisition, err)
		}
		src = bytes.NewReader(data)
		size = int64(len(data))
	} else {
		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("%w: stat field volume: %v", models.ErrAcquisition, err)
		}
		size = info.Size()
	}

	pf, err := parquet.OpenFile(src, size)
	if err != nil {
		return nil, fmt.Errorf("%w: parquet open: %v", models.ErrAcquisition, err)
	}

	reader := parquet.NewGenericReader[fieldRow](pf)
	defer reader.Close()

	rows := make([]fieldRow, 0, pf.NumRows())
	buf := make([]fieldRow, 1000)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parquet read: %v", models.ErrAcquisition, err)
		}
		if n == 0 {
			break
		}
	}

	return assembleVolume(path, rows)
}

func assembleVolume(path string, rows []fieldRow) (*models.FieldVolume, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s holds no field values", models.ErrGeometry, path)
	}

	var nLon, nLat, nR int
	for _, row := range rows {
		if row.Lon < 0 || row.Lat < 0 || row.R < 0 {
			return nil, fmt.Errorf("%w: %s has a negative grid index", models.ErrGeometry, path)
		}
		nLon = max(nLon, int(row.Lon)+1)
		nLat = max(nLat, int(row.Lat)+1)
		nR = max(nR, int(row.R)+1)
	}
	if len(rows) != nLon*nLat*nR {
		return nil, fmt.Errorf("%w: %s has %d rows for a %dx%dx%d grid",
			models.ErrGeometry, path, len(rows), nLon, nLat, nR)
	}

	volume := &models.FieldVolume{
		RadialGrid: make([]float64, nR),
		BTheta:     make([]float64, len(rows)),
		BPhi:       make([]float64, len(rows)),
		NLon:       nLon,
		NLat:       nLat,
		NR:         nR,
	}
	seen := make([]bool, len(rows))
	for _, row := range rows {
		idx := volume.Index(int(row.Lon), int(row.Lat), int(row.R))
		if seen[idx] {
			return nil, fmt.Errorf("%w: %s repeats cell (%d,%d,%d)",
				models.ErrGeometry, path, row.Lon, row.Lat, row.R)
		}
		seen[idx] = true
		volume.BTheta[idx] = row.BTheta
		volume.BPhi[idx] = row.BPhi
		volume.RadialGrid[row.R] = row.Rg
	}

	log.WithFields(log.Fields{
		"path": path,
		"grid": fmt.Sprintf("%dx%dx%d", nLon, nLat, nR),
	}).Debug("field volume loaded")

	return volume, nil
}

// WriteVolume stores a field volume as a Parquet table. A ".gz" suffix
// wraps the table in gzip.
func WriteVolume(path string, v *models.FieldVolume) error {
	if err := v.Validate(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create volume file: %w", err)
	}
	defer f.Close()

	var (
		out io.Writer = f
		zw  *pgzip.Writer
	)
	if strings.HasSuffix(path, ".gz") {
		zw = pgzip.NewWriter(f)
		out = zw
	}

	writer := parquet.NewGenericWriter[fieldRow](out)
	batch := make([]fieldRow, 0, writeBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := writer.Write(batch); err != nil {
			return fmt.Errorf("failed to write volume rows: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for i := 0; i < v.NLon; i++ {
		for j := 0; j < v.NLat; j++ {
			for k := 0; k < v.NR; k++ {
				idx := v.Index(i, j, k)
				batch = append(batch, fieldRow{
					Lon:    int32(i),
					Lat:    int32(j),
					R:      int32(k),
					Rg:     v.RadialGrid[k],
					BTheta: v.BTheta[idx],
					BPhi:   v.BPhi[idx],
				})
				if len(batch) == writeBatchSize {
					if err := flush(); err != nil {
						return err
					}
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	return f.Close()
}
