package dataset

import (
	"fmt"
	"image"
	"math"
	"math/rand"
	"os"

	// Register the decoders for the supported image formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ImageNet channel statistics, the reference pipeline's normalization.
var (
	DefaultMean = [3]float32{0.485, 0.456, 0.406}
	DefaultStd  = [3]float32{0.229, 0.224, 0.225}
)

// Transform converts a decoded image into a normalized CHW float32 vector.
//
// Two modes, mirroring the reference recipe:
//   - training (Augment=true): random resized crop to CropSize plus random
//     horizontal flip, each individually disableable;
//   - evaluation (Augment=false): resize shorter side to ResizeSize, center
//     crop to CropSize. Fully deterministic.
type Transform struct {
	Augment    bool
	RandomCrop bool // random resized crop when augmenting
	RandomFlip bool // random horizontal flip when augmenting
	ResizeSize int  // shorter-side resize for evaluation (e.g. 256)
	CropSize   int  // final square crop (e.g. 224)
	Mean       [3]float32
	Std        [3]float32
}

// NewTrainTransform returns the augmenting training transform.
func NewTrainTransform(resize, crop int, randomCrop, randomFlip bool) *Transform {
	return &Transform{
		Augment:    true,
		RandomCrop: randomCrop,
		RandomFlip: randomFlip,
		ResizeSize: resize,
		CropSize:   crop,
		Mean:       DefaultMean,
		Std:        DefaultStd,
	}
}

// NewEvalTransform returns the deterministic evaluation transform.
func NewEvalTransform(resize, crop int) *Transform {
	return &Transform{
		Augment:    false,
		ResizeSize: resize,
		CropSize:   crop,
		Mean:       DefaultMean,
		Std:        DefaultStd,
	}
}

// Features returns the length of the output vector: 3 * CropSize².
func (t *Transform) Features() int {
	return 3 * t.CropSize * t.CropSize
}

// DecodeImage reads and decodes an image file.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// Apply transforms img and writes the normalized CHW pixels into out, which
// must have length Features(). rng drives augmentation and may be nil when
// Augment is false.
func (t *Transform) Apply(img image.Image, rng *rand.Rand, out []float32) {
	if len(out) != t.Features() {
		panic(fmt.Sprintf("Transform.Apply: output buffer length %d, want %d", len(out), t.Features()))
	}

	var cropped *rgbImage
	if t.Augment && t.RandomCrop {
		cropped = randomResizedCrop(img, t.CropSize, rng)
	} else {
		cropped = resizeCenterCrop(img, t.ResizeSize, t.CropSize)
	}

	flip := t.Augment && t.RandomFlip && rng.Intn(2) == 1

	size := t.CropSize
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			sx := x
			if flip {
				sx = size - 1 - x
			}
			r, g, b := cropped.at(sx, y)
			i := y*size + x
			out[i] = (r - t.Mean[0]) / t.Std[0]
			out[plane+i] = (g - t.Mean[1]) / t.Std[1]
			out[2*plane+i] = (b - t.Mean[2]) / t.Std[2]
		}
	}
}

// rgbImage is a small float RGB raster in [0, 1], the intermediate form
// between decode and normalize.
type rgbImage struct {
	w, h int
	pix  []float32 // 3 floats per pixel, row-major
}

func newRGBImage(w, h int) *rgbImage {
	return &rgbImage{w: w, h: h, pix: make([]float32, 3*w*h)}
}

func (m *rgbImage) at(x, y int) (r, g, b float32) {
	i := 3 * (y*m.w + x)
	return m.pix[i], m.pix[i+1], m.pix[i+2]
}

func (m *rgbImage) set(x, y int, r, g, b float32) {
	i := 3 * (y*m.w + x)
	m.pix[i], m.pix[i+1], m.pix[i+2] = r, g, b
}

// fromImage converts any image.Image into the float raster.
func fromImage(img image.Image) *rgbImage {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := newRGBImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out.set(x, y, float32(r)/65535, float32(g)/65535, float32(b)/65535)
		}
	}
	return out
}

// resizeBilinear scales src to w x h with bilinear interpolation.
func resizeBilinear(src *rgbImage, w, h int) *rgbImage {
	if src.w == w && src.h == h {
		return src
	}
	out := newRGBImage(w, h)
	xScale := float64(src.w) / float64(w)
	yScale := float64(src.h) / float64(h)

	for y := 0; y < h; y++ {
		sy := (float64(y)+0.5)*yScale - 0.5
		y0 := int(math.Floor(sy))
		fy := float32(sy - float64(y0))
		y1 := y0 + 1
		y0 = clamp(y0, 0, src.h-1)
		y1 = clamp(y1, 0, src.h-1)

		for x := 0; x < w; x++ {
			sx := (float64(x)+0.5)*xScale - 0.5
			x0 := int(math.Floor(sx))
			fx := float32(sx - float64(x0))
			x1 := x0 + 1
			x0 = clamp(x0, 0, src.w-1)
			x1 = clamp(x1, 0, src.w-1)

			r00, g00, b00 := src.at(x0, y0)
			r10, g10, b10 := src.at(x1, y0)
			r01, g01, b01 := src.at(x0, y1)
			r11, g11, b11 := src.at(x1, y1)

			top := [3]float32{lerp(r00, r10, fx), lerp(g00, g10, fx), lerp(b00, b10, fx)}
			bot := [3]float32{lerp(r01, r11, fx), lerp(g01, g11, fx), lerp(b01, b11, fx)}
			out.set(x, y, lerp(top[0], bot[0], fy), lerp(top[1], bot[1], fy), lerp(top[2], bot[2], fy))
		}
	}
	return out
}

// resizeCenterCrop resizes the shorter side to resize and takes a centered
// crop x crop window, the standard evaluation transform.
func resizeCenterCrop(img image.Image, resize, crop int) *rgbImage {
	src := fromImage(img)

	var w, h int
	if src.w < src.h {
		w = resize
		h = int(math.Round(float64(src.h) * float64(resize) / float64(src.w)))
	} else {
		h = resize
		w = int(math.Round(float64(src.w) * float64(resize) / float64(src.h)))
	}
	resized := resizeBilinear(src, w, h)

	x0 := (w - crop) / 2
	y0 := (h - crop) / 2
	return cropRect(resized, x0, y0, crop, crop)
}

// randomResizedCrop samples a crop of random area (8%-100%) and aspect ratio
// (3/4-4/3), then resizes it to size x size. Falls back to center crop when
// ten attempts fail to fit, matching the reference behavior.
func randomResizedCrop(img image.Image, size int, rng *rand.Rand) *rgbImage {
	src := fromImage(img)
	area := float64(src.w * src.h)

	for attempt := 0; attempt < 10; attempt++ {
		targetArea := area * (0.08 + rng.Float64()*0.92)
		logRatio := math.Log(3.0/4.0) + rng.Float64()*(math.Log(4.0/3.0)-math.Log(3.0/4.0))
		ratio := math.Exp(logRatio)

		w := int(math.Round(math.Sqrt(targetArea * ratio)))
		h := int(math.Round(math.Sqrt(targetArea / ratio)))
		if w <= 0 || h <= 0 || w > src.w || h > src.h {
			continue
		}

		x0 := rng.Intn(src.w - w + 1)
		y0 := rng.Intn(src.h - h + 1)
		window := cropRect(src, x0, y0, w, h)
		return resizeBilinear(window, size, size)
	}

	// Fallback: shorter-side resize plus center crop.
	return resizeCenterCrop(img, size, size)
}

// cropRect extracts a w x h window at (x0, y0), clamping reads to bounds.
func cropRect(src *rgbImage, x0, y0, w, h int) *rgbImage {
	out := newRGBImage(w, h)
	for y := 0; y < h; y++ {
		sy := clamp(y0+y, 0, src.h-1)
		for x := 0; x < w; x++ {
			sx := clamp(x0+x, 0, src.w-1)
			r, g, b := src.at(sx, sy)
			out.set(x, y, r, g, b)
		}
	}
	return out
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
