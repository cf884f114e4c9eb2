package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/disintegration/imaging"
)

const (
	ImagesPrefix = "images"
	ThumbsPrefix = "thumbs"
	AssetsPrefix = "assets"

	thumbnailEdge    = 384
	thumbnailQuality = 80
)

// ImageKey is where a generated image is stored.
func ImageKey(imageID string) string {
	return path.Join(ImagesPrefix, imageID+".png")
}

// ThumbnailKey is where the gallery thumbnail of an image is stored.
func ThumbnailKey(imageID string) string {
	return path.Join(ThumbsPrefix, imageID+".jpg")
}

// AssetKey is where an uploaded seed image is stored.
func AssetKey(assetID, ext string) string {
	if ext == "" {
		ext = "png"
	}
	return path.Join(AssetsPrefix, assetID+"."+ext)
}

// Thumbnail decodes data, fits it inside a square box and stores a JPEG
// under ThumbnailKey(imageID).
func (s *FileStore) Thumbnail(ctx context.Context, imageID string, data []byte) (string, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("storage: decode image: %w", err)
	}
	thumb := imaging.Fit(src, thumbnailEdge, thumbnailEdge, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return "", fmt.Errorf("storage: encode thumbnail: %w", err)
	}
	return s.Write(ctx, ThumbnailKey(imageID), buf.Bytes())
}
