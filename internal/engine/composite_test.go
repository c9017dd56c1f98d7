package engine

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"portraitserver/internal/domain"
)

func pngRef(t *testing.T, label string, w, h int, c color.Color) domain.ReferenceImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return domain.ReferenceImage{Label: label, MIME: "image/png", Data: buf.Bytes()}
}

func TestBuildCompositeGridDimensions(t *testing.T) {
	tests := []struct {
		sources int
		wantW   int
		wantH   int
	}{
		{1, compositeCell, compositeCell},
		{2, 2 * compositeCell, compositeCell},
		{4, 2 * compositeCell, 2 * compositeCell},
		{5, 3 * compositeCell, 2 * compositeCell},
	}

	for _, tc := range tests {
		sources := make([]domain.ReferenceImage, tc.sources)
		for i := range sources {
			sources[i] = pngRef(t, "selfie", 64, 64, color.RGBA{R: 200, A: 255})
		}
		got, err := BuildComposite(sources, "Face References")
		if err != nil {
			t.Fatalf("BuildComposite(%d): %v", tc.sources, err)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(got.Data))
		if err != nil {
			t.Fatalf("decode composite: %v", err)
		}
		if cfg.Width != tc.wantW || cfg.Height != tc.wantH {
			t.Fatalf("composite(%d) = %dx%d, want %dx%d", tc.sources, cfg.Width, cfg.Height, tc.wantW, tc.wantH)
		}
	}
}

func TestBuildCompositeCarriesLabelAndMIME(t *testing.T) {
	src := pngRef(t, "selfie", 32, 48, color.RGBA{G: 180, A: 255})
	got, err := BuildComposite([]domain.ReferenceImage{src}, "Body References")
	if err != nil {
		t.Fatalf("BuildComposite: %v", err)
	}
	if got.Label != "Body References" {
		t.Fatalf("label = %q, want Body References", got.Label)
	}
	if got.MIME != "image/png" {
		t.Fatalf("mime = %q, want image/png", got.MIME)
	}
}

func TestBuildCompositePlacesPixels(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	src := pngRef(t, "selfie", compositeCell, compositeCell, red)
	got, err := BuildComposite([]domain.ReferenceImage{src}, "Face References")
	if err != nil {
		t.Fatalf("BuildComposite: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(got.Data))
	if err != nil {
		t.Fatalf("decode composite: %v", err)
	}
	r, _, _, _ := img.At(compositeCell/2, compositeCell/2).RGBA()
	if r>>8 != 255 {
		t.Fatalf("center pixel red = %d, want 255", r>>8)
	}
}

func TestBuildCompositeDrawsNumberedCaptions(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	sources := []domain.ReferenceImage{
		pngRef(t, "selfie", 64, 64, white),
		pngRef(t, "selfie", 64, 64, white),
	}
	got, err := BuildComposite(sources, "Face References")
	if err != nil {
		t.Fatalf("BuildComposite: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(got.Data))
	if err != nil {
		t.Fatalf("decode composite: %v", err)
	}

	barTop := compositeCell - captionBar
	// Both cells carry a dark caption bar under white source material.
	for cell := 0; cell < 2; cell++ {
		x := cell*compositeCell + 2
		r, g, b, _ := img.At(x, compositeCell-2).RGBA()
		if r>>8 > 100 || g>>8 > 100 || b>>8 > 100 {
			t.Fatalf("cell %d bar pixel = (%d,%d,%d), want dark caption fill", cell, r>>8, g>>8, b>>8)
		}
	}

	// The bars are numbered, so their glyph regions must differ.
	bars := make([][]byte, 2)
	for cell := 0; cell < 2; cell++ {
		var px []byte
		for y := barTop; y < compositeCell; y++ {
			for x := 0; x < 60; x++ {
				r, _, _, _ := img.At(cell*compositeCell+x, y).RGBA()
				px = append(px, byte(r>>8))
			}
		}
		bars[cell] = px
	}
	if bytes.Equal(bars[0], bars[1]) {
		t.Fatalf("caption bars identical, want distinct cell numbers")
	}

	glyph := false
	for _, v := range bars[0] {
		if v > 200 {
			glyph = true
			break
		}
	}
	if !glyph {
		t.Fatalf("no glyph pixels drawn in caption bar")
	}
}

func TestBuildCompositeRejectsEmptyInput(t *testing.T) {
	if _, err := BuildComposite(nil, "x"); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestBuildCompositeRejectsUndecodableImage(t *testing.T) {
	bad := domain.ReferenceImage{Label: "broken", Data: []byte("not an image")}
	if _, err := BuildComposite([]domain.ReferenceImage{bad}, "x"); err == nil {
		t.Fatalf("expected decode error")
	}
}
