package models

import "strings"

// Modality is the category of an uploaded input.
type Modality string

const (
	ModalityDocument Modality = "document"
	ModalityImage    Modality = "image"
	ModalityAudio    Modality = "audio"
)

// Picker selects which allow-list applies to a selection.
type Picker string

const (
	PickerDocument Picker = "document+image"
	PickerAudio    Picker = "audio"
)

// UploadedFile is a user-selected file before encoding.
type UploadedFile struct {
	Name     string
	MimeType string
	Modality Modality
	Data     []byte
}

// EncodedPayload carries a file as a data URL.
type EncodedPayload struct {
	DataURL string `json:"base64"`
}

// Empty reports whether the payload holds no data URL.
func (p EncodedPayload) Empty() bool {
	return strings.TrimSpace(p.DataURL) == ""
}

// MimeType returns the media type declared in the data URL header.
func (p EncodedPayload) MimeType() string {
	rest, ok := strings.CutPrefix(p.DataURL, "data:")
	if !ok {
		return ""
	}
	header, _, ok := strings.Cut(rest, ",")
	if !ok {
		return ""
	}
	mime, _, _ := strings.Cut(header, ";")
	return mime
}
