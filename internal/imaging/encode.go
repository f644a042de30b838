package imaging

import (
	"fmt"
	"image/png"
	"io"
	"os"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format 输出图片格式
type Format string

const (
	FormatPNG  Format = "png"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// ParseFormat 解析格式名称，空字符串默认 png
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "bmp":
		return FormatBMP, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("unsupported image format: %q", s)
	}
}

// Extension 文件扩展名（带点）
func (f Format) Extension() string {
	switch f {
	case FormatBMP:
		return ".bmp"
	case FormatTIFF:
		return ".tiff"
	default:
		return ".png"
	}
}

// Encode 把网格编码为指定格式
//
// 源图像不透明，png/bmp 编码器会输出 24 位 RGB。
func Encode(w io.Writer, g *PixelGrid, f Format) error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("cannot encode empty grid %dx%d", g.Width, g.Height)
	}

	img := g.Image()
	switch f {
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return enc.Encode(w, img)
	}
}

// WriteFile 编码并写入文件
func WriteFile(path string, g *PixelGrid, f Format) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}

	if err := Encode(file, g, f); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode image: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
