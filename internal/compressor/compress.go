package compressor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonstreeter/comfyui-archive-output/internal/logger"
	"github.com/jonstreeter/comfyui-archive-output/internal/metadata"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// compressFile re-encodes a single PNG and embeds its provenance sidecar.
// All failures are reported through the result; nothing here aborts the
// batch.
func (e *Engine) compressFile(path string, req Request, format Format) FileResult {
	res := FileResult{
		SourcePath:   path,
		MetadataTier: metadata.TierNone,
	}

	info, err := os.Stat(path)
	if err != nil {
		res.Error = "file not found"
		return res
	}
	if strings.ToLower(filepath.Ext(path)) != sourceExt {
		res.Error = "not a PNG file"
		return res
	}
	res.OriginalSize = info.Size()

	img, err := imaging.Open(path)
	if err != nil {
		res.Error = fmt.Sprintf("open error: %v", err)
		return res
	}

	// Provenance must be read from the source before re-encoding; the
	// decoded pixels do not carry the text chunks.
	meta := e.codec.Extract(path)

	// Neither output codec carries transparency here, so composite onto
	// an opaque white background.
	flat := flattenToWhite(img)

	destPath := strings.TrimSuffix(path, filepath.Ext(path)) + format.Extension()
	res.CompressedPath = destPath

	var buf bytes.Buffer
	switch format {
	case FormatWEBP:
		err = webp.Encode(&buf, flat, &webp.Options{Quality: float32(req.Quality)})
	default:
		err = imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(req.Quality))
	}
	if err != nil {
		res.Error = fmt.Sprintf("encode error: %v", err)
		return res
	}
	if err := os.WriteFile(destPath, buf.Bytes(), 0644); err != nil {
		res.Error = fmt.Sprintf("write error: %v", err)
		return res
	}

	sidecar, tier := metadata.Encode(meta, metadata.MaxSidecarBytes)
	if !sidecar.Empty() {
		// Embedding failure never fails the compression itself.
		if err := e.codec.Embed(destPath, sidecar); err != nil {
			logger.WithFile(e.log, destPath).Warnf("Could not embed metadata: %v", err)
			tier = metadata.TierNone
		} else if !e.codec.VerifyEmbedded(destPath) {
			logger.WithFile(e.log, destPath).Warn("Embedded metadata not readable back")
			tier = metadata.TierNone
		}
	}
	res.MetadataTier = tier

	outInfo, err := os.Stat(destPath)
	if err != nil {
		res.Error = fmt.Sprintf("stat compressed error: %v", err)
		return res
	}
	res.CompressedSize = outInfo.Size()
	res.SavingsBytes = res.OriginalSize - res.CompressedSize
	if res.OriginalSize > 0 {
		res.SavingsPercent = float64(res.SavingsBytes) / float64(res.OriginalSize) * 100
	}

	if req.DeleteOriginal && res.CompressedSize > 0 {
		if err := os.Remove(path); err != nil {
			logger.WithFile(e.log, path).Warnf("Could not delete original: %v", err)
		}
	}

	res.Success = true
	return res
}

// flattenToWhite composites the image over an opaque white canvas,
// discarding any alpha channel or palette transparency.
func flattenToWhite(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	bg := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
