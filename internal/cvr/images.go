package cvr

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/banshee-data/ballot.scanner/internal/ballot"
)

// DefaultInlineImageWidth is the width inline images are scaled to when no
// width is configured.
const DefaultInlineImageWidth = 850

const inlineImageQuality = 75

// AddBallotImages attaches both pages of a sheet to rec as JPEG data URLs,
// scaled to width pixels wide. Vote entries are left untouched.
func AddBallotImages(rec *CastVoteRecord, images ballot.SheetOf[image.Image], width int) error {
	if width <= 0 {
		width = DefaultInlineImageWidth
	}
	inline := make([]InlineBallotImage, 0, 2)
	for _, img := range images.Pages() {
		if img == nil {
			return fmt.Errorf("missing ballot image")
		}
		url, err := encodeDataURL(scaleToWidth(img, width))
		if err != nil {
			return err
		}
		inline = append(inline, InlineBallotImage{Normalized: url})
	}
	rec.BallotImages = inline
	return nil
}

// LoadImages decodes the image files of a sheet.
func LoadImages(paths ballot.SheetOf[string]) (ballot.SheetOf[image.Image], error) {
	front, err := loadImage(paths.Front)
	if err != nil {
		return ballot.SheetOf[image.Image]{}, err
	}
	back, err := loadImage(paths.Back)
	if err != nil {
		return ballot.SheetOf[image.Image]{}, err
	}
	return ballot.NewSheet(front, back), nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ballot image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ballot image %s: %w", path, err)
	}
	return img, nil
}

func scaleToWidth(src image.Image, width int) image.Image {
	b := src.Bounds()
	if b.Dx() <= width {
		return src
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: inlineImageQuality}); err != nil {
		return "", fmt.Errorf("failed to encode ballot image: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
