package engine

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"portraitserver/internal/domain"
)

const (
	// compositeCell is the square edge length of each collage cell.
	compositeCell = 512
	// captionBar is the height of the numbered caption strip at the bottom
	// of each cell.
	captionBar = 28
)

var captionFill = color.RGBA{R: 32, G: 32, B: 32, A: 255}

// BuildComposite lays out the given source images into one labeled collage
// the model can consume as a single reference. Images are arranged row-major
// on a near-square grid, each scaled to fit its cell above a caption bar
// carrying the cell number.
func BuildComposite(sources []domain.ReferenceImage, label string) (*domain.ReferenceImage, error) {
	if len(sources) == 0 {
		return nil, errors.New("composite: no source images")
	}

	cols := int(math.Ceil(math.Sqrt(float64(len(sources)))))
	rows := (len(sources) + cols - 1) / cols

	canvas := image.NewRGBA(image.Rect(0, 0, cols*compositeCell, rows*compositeCell))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	for i, src := range sources {
		img, _, err := image.Decode(bytes.NewReader(src.Data))
		if err != nil {
			return nil, fmt.Errorf("composite: decode %q: %w", src.Label, err)
		}
		cellX := (i % cols) * compositeCell
		cellY := (i / cols) * compositeCell
		placeInCell(canvas, img, cellX, cellY)
		drawCaption(canvas, cellX, cellY, strconv.Itoa(i+1))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("composite: encode: %w", err)
	}

	return &domain.ReferenceImage{
		Label: label,
		MIME:  "image/png",
		Data:  buf.Bytes(),
	}, nil
}

// placeInCell scales img to fit the image area of a cell at (cellX, cellY),
// preserving aspect ratio and centering the result above the caption bar.
// Nearest-neighbor sampling is plenty for reference material.
func placeInCell(canvas *image.RGBA, img image.Image, cellX, cellY int) {
	const areaH = compositeCell - captionBar

	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW == 0 || srcH == 0 {
		return
	}

	scale := math.Min(float64(compositeCell)/float64(srcW), float64(areaH)/float64(srcH))
	dstW := int(float64(srcW) * scale)
	dstH := int(float64(srcH) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}
	offX := cellX + (compositeCell-dstW)/2
	offY := cellY + (areaH-dstH)/2

	for y := 0; y < dstH; y++ {
		srcY := b.Min.Y + y*srcH/dstH
		for x := 0; x < dstW; x++ {
			srcX := b.Min.X + x*srcW/dstW
			canvas.Set(offX+x, offY+y, img.At(srcX, srcY))
		}
	}
}

// drawCaption fills the caption bar of the cell at (cellX, cellY) and draws
// the cell label over it.
func drawCaption(canvas *image.RGBA, cellX, cellY int, text string) {
	barTop := cellY + compositeCell - captionBar
	bar := image.Rect(cellX, barTop, cellX+compositeCell, cellY+compositeCell)
	draw.Draw(canvas, bar, &image.Uniform{captionFill}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := font.Drawer{
		Dst:  canvas,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(cellX+10, barTop+(captionBar+face.Ascent)/2),
	}
	d.DrawString(text)
}
