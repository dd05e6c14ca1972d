package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"medihelp/internal/models"
)

// ErrUnsupportedFileType is returned when a file's MIME type is outside the picker's allow-list.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// JPEGQuality is the fixed quality used when recompressing images.
const JPEGQuality = 10

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
	mimeWebP = "image/webp"
	mimePDF  = "application/pdf"
)

var (
	documentTypes = []string{mimeJPEG, mimePNG, mimeWebP, mimePDF}
	audioTypes    = []string{"audio/mp3", "audio/mpeg", "audio/wav", "audio/ogg", "audio/webm"}
)

// AllowedTypes returns the allow-list for the picker.
func AllowedTypes(picker models.Picker) []string {
	switch picker {
	case models.PickerDocument:
		return slices.Clone(documentTypes)
	case models.PickerAudio:
		return slices.Clone(audioTypes)
	default:
		return nil
	}
}

// IsAllowed reports whether mimeType may be selected through picker.
func IsAllowed(picker models.Picker, mimeType string) bool {
	return slices.Contains(AllowedTypes(picker), cleanType(mimeType))
}

// PickerFor returns the picker whose allow-list contains mimeType.
func PickerFor(mimeType string) (models.Picker, bool) {
	switch t := cleanType(mimeType); {
	case slices.Contains(documentTypes, t):
		return models.PickerDocument, true
	case slices.Contains(audioTypes, t):
		return models.PickerAudio, true
	default:
		return "", false
	}
}

// DetectType sniffs the media type from content. Used when a file arrives
// without a declared type.
func DetectType(data []byte, picker models.Picker) string {
	detected := cleanType(mimetype.Detect(data).String())
	// webm containers sniff as video; the audio picker only ever sees audio tracks.
	if picker == models.PickerAudio && detected == "video/webm" {
		return "audio/webm"
	}
	return detected
}

// Normalize validates file against the picker's allow-list and recompresses
// images to low-quality JPEG. PDF and audio files pass through unchanged.
func Normalize(file models.UploadedFile, picker models.Picker) (models.UploadedFile, error) {
	mimeType := cleanType(file.MimeType)
	if mimeType == "" {
		mimeType = DetectType(file.Data, picker)
	}
	if !IsAllowed(picker, mimeType) {
		return models.UploadedFile{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, mimeType)
	}

	out := file
	out.MimeType = mimeType
	switch {
	case picker == models.PickerAudio:
		out.Modality = models.ModalityAudio
	case mimeType == mimePDF:
		out.Modality = models.ModalityDocument
	default:
		data, err := Recompress(file.Data, mimeType)
		if err != nil {
			return models.UploadedFile{}, err
		}
		out.Data = data
		out.MimeType = mimeJPEG
		out.Modality = models.ModalityImage
	}
	return out, nil
}

// Recompress redraws the image at its original size and encodes it as JPEG
// at JPEGQuality. The result is lossy; the original bytes are not kept.
func Recompress(data []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	r := bytes.NewReader(data)
	switch cleanType(mimeType) {
	case mimeJPEG:
		img, err = jpeg.Decode(r)
	case mimePNG:
		img, err = png.Decode(r)
	case mimeWebP:
		img, err = webp.Decode(r)
	default:
		return nil, fmt.Errorf("%w: %q is not an image", ErrUnsupportedFileType, mimeType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnsupportedFileType, mimeType, err)
	}

	bounds := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func cleanType(mimeType string) string {
	t, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}
