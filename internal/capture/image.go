package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const snapshotQuality = 90

// EncodeSnapshot encodes img as JPEG, first shrinking it so neither side
// exceeds maxEdge. Dimensions come from img.Bounds() at call time; maxEdge <= 0
// disables shrinking.
func EncodeSnapshot(img image.Image, maxEdge int) ([]byte, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	src := img
	if maxEdge > 0 && (width > maxEdge || height > maxEdge) {
		var newWidth, newHeight int
		if width >= height {
			newWidth = maxEdge
			newHeight = max(1, height*maxEdge/width)
		} else {
			newHeight = maxEdge
			newWidth = max(1, width*maxEdge/height)
		}
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		src = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: snapshotQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// motionGrid is the side of the square both frames are reduced to before
// comparison, so score cost is independent of camera resolution.
const motionGrid = 32

// MotionScore returns the mean absolute luma difference of two frames in
// [0, 1]. A frozen or replayed still image scores 0.
func MotionScore(a, b image.Image) float64 {
	if a == nil || b == nil {
		return 0
	}
	ga, gb := reduce(a), reduce(b)
	var sum float64
	for i := range ga.Pix {
		d := int(ga.Pix[i]) - int(gb.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += float64(d)
	}
	return sum / float64(len(ga.Pix)*255)
}

func reduce(img image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, motionGrid, motionGrid))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// SolidFrame is a uniform frame, used by the CLI when no camera exists and by tests.
func SolidFrame(width, height int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}
