package photolib

import (
	"bytes"
	"image"
	"path/filepath"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// AssetKind classifies an asset by its media type.
type AssetKind int

const (
	KindPhoto AssetKind = iota
	KindVideo
	KindLivePhoto
)

func (k AssetKind) String() string {
	switch k {
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindLivePhoto:
		return "live"
	default:
		return "unknown"
	}
}

// Recognized media file extensions, lower case, without the dot.
var (
	photoExtensions = map[string]bool{
		"arw": true, "bmp": true, "cr2": true, "dng": true, "gif": true,
		"heic": true, "heif": true, "jpeg": true, "jpg": true, "nef": true,
		"png": true, "raf": true, "tif": true, "tiff": true, "webp": true,
	}
	videoExtensions = map[string]bool{
		"avi": true, "m4v": true, "mov": true, "mp4": true,
		"mpeg": true, "mpg": true,
	}
)

// KindForFile reports the media kind implied by the file extension of path.
// The second result is false for unrecognized extensions. Only the name is
// inspected, never the contents.
func KindForFile(path string) (AssetKind, bool) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch {
	case photoExtensions[ext]:
		return KindPhoto, true
	case videoExtensions[ext]:
		return KindVideo, true
	default:
		return 0, false
	}
}

// ImageDimensions reports the pixel size recorded in the header of an
// encoded image. Returns zeros when the format is not recognized, so store
// backends can fill descriptor dimensions best effort without decoding
// pixels.
func ImageDimensions(data []byte) (width, height int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
