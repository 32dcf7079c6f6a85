// ocr.go adapts an external OCR engine into the extractor registry.
// Image support is opt-in: without an engine, images stay unsupported
// and uploads containing them fail terminally at the extract step.

package extract

import "context"

// OCREngine recognizes text in an image.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// Image extracts text from images through an OCREngine.
type Image struct {
	Engine OCREngine
}

func (Image) Types() []string {
	return []string{"image/png", "image/jpeg", "image/tiff", "image/webp"}
}

func (i Image) Extract(ctx context.Context, content []byte) (string, error) {
	return i.Engine.Recognize(ctx, content)
}
