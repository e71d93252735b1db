package main

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	gstcapture "github.com/Idein/actfw-gstreamer"
	"github.com/Idein/actfw-gstreamer/converter"
)

// saver writes every n-th frame to a directory.
type saver struct {
	dir         string
	format      string
	every       int
	width       int
	height      int
	jpegQuality int

	seen   atomic.Uint64
	saved  atomic.Uint64
	failed atomic.Uint64
}

// handle counts the frame and saves it if it is due. It returns the path of
// the saved file, or "" when the frame was skipped.
func (s *saver) handle(f gstcapture.Frame) (string, error) {
	n := s.seen.Add(1)
	if s.dir == "" || (s.every > 1 && (n-1)%uint64(s.every) != 0) {
		return "", nil
	}
	path, err := s.save(f)
	if err != nil {
		s.failed.Add(1)
		return "", err
	}
	s.saved.Add(1)
	return path, nil
}

func (s *saver) save(f gstcapture.Frame) (string, error) {
	// Raw bytes that do not fit the configured RGB geometry are kept as is.
	img, err := toImage(f.Value, s.width, s.height)
	ext := s.format
	if err != nil {
		data, ok := f.Value.([]byte)
		if !ok {
			return "", err
		}
		ext = "raw"
		return s.write(f, ext, func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		})
	}
	return s.write(f, ext, func(w io.Writer) error {
		return encode(w, img, s.format, s.jpegQuality)
	})
}

func (s *saver) write(f gstcapture.Frame, ext string, fn func(io.Writer) error) (string, error) {
	filename := fmt.Sprintf("frame_%06d_%s.%s", f.Seq, f.Timestamp.Format("20060102_150405.000"), ext)
	path := filepath.Join(s.dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := fn(file); err != nil {
		file.Close()
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return path, nil
}

// toImage accepts the output of either converter. Raw bytes are read as
// unpadded RGB of the given size.
func toImage(v any, width, height int) (image.Image, error) {
	switch v := v.(type) {
	case image.Image:
		return v, nil
	case []byte:
		if width <= 0 || height <= 0 || len(v) != width*height*3 {
			return nil, fmt.Errorf("raw frame of %d bytes is not %dx%d RGB", len(v), width, height)
		}
		img := converter.NewRGB(image.Rect(0, 0, width, height))
		copy(img.Pix, v)
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported frame value %T", v)
	}
}

func encode(w io.Writer, img image.Image, format string, jpegQuality int) error {
	var err error
	switch format {
	case "png":
		err = png.Encode(w, img)
	case "jpeg", "jpg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case "bmp":
		err = bmp.Encode(w, img)
	case "tiff":
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return nil
}
