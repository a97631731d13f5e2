package huntingcorner

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const (
	maxImageDimension = 1920
	jpegQuality       = 80
)

// compressImage downscales JPEG and PNG images to fit within
// maxImageDimension on both sides and re-encodes JPEGs at jpegQuality.
// Other formats, undecodable input, and re-encodes that did not shrink an
// image that needed no resizing are returned unchanged.
func compressImage(data []byte, mimeType string) []byte {
	if mimeType != "image/jpeg" && mimeType != "image/png" {
		return data
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxImageDimension)
	resized := w != b.Dx() || h != b.Dy()
	if !resized && mimeType == "image/png" {
		return data
	}

	img := src
	if resized {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if mimeType == "image/jpeg" {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return data
	}
	if !resized && buf.Len() >= len(data) {
		return data
	}
	return buf.Bytes()
}

// fitWithin scales w x h down to fit a limit x limit box, keeping the aspect ratio.
func fitWithin(w, h, limit int) (int, int) {
	if w > h {
		if w > limit {
			h = h * limit / w
			w = limit
		}
	} else if h > limit {
		w = w * limit / h
		h = limit
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
