package bynder

import "github.com/jweiland-net/bynder2/internal/domain"

// UnavailableImage is returned when no CDN thumbnail can serve a width.
const UnavailableImage = "EXT:bynder2/Resources/Public/Icons/ImageUnavailable.svg"

// CDN thumbnail width limits.
const (
	MiniMaxWidth     = 80
	ThulMaxWidth     = 250
	WebImageMaxWidth = 800
)

// SelectThumbnail picks the smallest CDN thumbnail at least width wide.
func SelectThumbnail(width int, asset domain.AssetRecord) string {
	switch {
	case width <= MiniMaxWidth:
		return asset.Thumbnail(domain.ThumbMini)
	case width <= ThulMaxWidth:
		return asset.Thumbnail(domain.ThumbThul)
	case width <= WebImageMaxWidth:
		return asset.Thumbnail(domain.ThumbWebImage)
	default:
		return UnavailableImage
	}
}
