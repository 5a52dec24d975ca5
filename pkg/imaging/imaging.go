/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package imaging

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/anthonynsimon/bild/transform"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"

	"github.com/Juice-Labs/annserver/pkg/compute"
	"github.com/Juice-Labs/annserver/pkg/errors"
)

var (
	ErrUnsupportedFormat = errors.NewKind("decode", "imaging: unsupported image format")
	ErrDecode            = errors.NewKind("decode", "imaging: unable to decode image")
)

// Preprocess maps 0..255 channel values v to v*Multiply[c] + Add[c].
// ReverseChannels feeds BGR instead of RGB.
type Preprocess struct {
	ReverseChannels bool
	Multiply        [3]float32
	Add             [3]float32
}

var Identity = Preprocess{
	Multiply: [3]float32{1, 1, 1},
}

// Format sniffs the encoding of data, returning its MIME type.
func Format(data []byte) string {
	return mimetype.Detect(data).String()
}

func Decode(data []byte) (image.Image, error) {
	format := Format(data)

	var img image.Image
	var err error

	reader := bytes.NewReader(data)
	switch format {
	case "image/jpeg":
		img, err = jpeg.Decode(reader)
	case "image/png":
		img, err = png.Decode(reader)
	case "image/gif":
		img, err = gif.Decode(reader)
	case "image/bmp":
		img, err = bmp.Decode(reader)
	case "image/webp":
		img, err = webp.Decode(reader)
	default:
		return nil, ErrUnsupportedFormat.Wrapf("%s", format)
	}

	if err != nil {
		return nil, ErrDecode.Wrap(err)
	}

	return img, nil
}

// ToTensor resizes img to dims and writes it CHW into dst, which holds
// exactly dims.Size() values. Images with one channel are converted to luma;
// channels beyond the third are zero.
func ToTensor(img image.Image, dims compute.Dims, preprocess Preprocess, dst []float32) {
	width, height := int(dims.W), int(dims.H)

	resized := transform.Resize(img, width, height, transform.Linear)

	plane := width * height
	for y := 0; y < height; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < width; x++ {
			pixel := row[x*4 : x*4+3]
			offset := y*width + x

			if dims.C == 1 {
				luma := 0.299*float32(pixel[0]) + 0.587*float32(pixel[1]) + 0.114*float32(pixel[2])
				dst[offset] = luma*preprocess.Multiply[0] + preprocess.Add[0]
				continue
			}

			for c := 0; c < int(dims.C); c++ {
				if c >= 3 {
					dst[c*plane+offset] = 0
					continue
				}

				source := c
				if preprocess.ReverseChannels {
					source = 2 - c
				}
				dst[c*plane+offset] = float32(pixel[source])*preprocess.Multiply[c] + preprocess.Add[c]
			}
		}
	}
}

// DecodeInto decodes data straight into a tensor slot.
func DecodeInto(data []byte, dims compute.Dims, preprocess Preprocess, dst []float32) error {
	img, err := Decode(data)
	if err != nil {
		return err
	}

	ToTensor(img, dims, preprocess, dst)
	return nil
}
