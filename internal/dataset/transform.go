package dataset

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/transform"
	"github.com/drakos74/genmetrics/internal/tensor"
)

var (
	// ImageNetMean is the channel mean the pretrained resnet weights expect.
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}
	// ImageNetStd is the channel standard deviation the pretrained resnet weights expect.
	ImageNetStd = [3]float64{0.229, 0.224, 0.225}
)

// Transform turns a decoded image into a [C, H, W] tensor.
type Transform func(img image.Image) (*tensor.Tensor, error)

// Compose builds the fixed preprocessing pipeline of the estimator:
// resize so that the shorter edge matches size, convert to a tensor
// and optionally normalise the channels.
func Compose(size int, normalize bool) Transform {
	return func(img image.Image) (*tensor.Tensor, error) {
		if size > 0 {
			img = Resize(img, size)
		}
		t, err := ToTensor(img)
		if err != nil {
			return nil, err
		}
		if normalize {
			if err := Normalize(t, ImageNetMean, ImageNetStd); err != nil {
				return nil, err
			}
		}
		return t, nil
	}
}

// Resize scales the image so that its shorter edge equals size,
// keeping the aspect ratio of the longer edge.
func Resize(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img
	}
	var nw, nh int
	if w <= h {
		nw, nh = size, size*h/w
	} else {
		nw, nh = size*w/h, size
	}
	if nw == w && nh == h {
		return img
	}
	return transform.Resize(img, nw, nh, transform.Linear)
}

// ToTensor converts the image to a [3, H, W] RGB tensor with values in [0, 1].
// Alpha is dropped.
func ToTensor(img image.Image) (*tensor.Tensor, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image %v: %w", b, tensor.ShapeErr)
	}
	t := tensor.New(3, h, w)
	data := t.Data()
	plane := w * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			data[i] = float64(r) / 0xffff
			data[plane+i] = float64(g) / 0xffff
			data[2*plane+i] = float64(bl) / 0xffff
		}
	}
	return t, nil
}

// Normalize applies (x - mean) / std per channel of a [3, H, W] tensor in place.
func Normalize(t *tensor.Tensor, mean, std [3]float64) error {
	if t.Rank() != 3 || t.Dim(0) != 3 {
		return fmt.Errorf("normalize needs [3, H, W] but got %v: %w", t.Shape(), tensor.ShapeErr)
	}
	data := t.Data()
	plane := t.Dim(1) * t.Dim(2)
	for c := 0; c < 3; c++ {
		for i := c * plane; i < (c+1)*plane; i++ {
			data[i] = (data[i] - mean[c]) / std[c]
		}
	}
	return nil
}
