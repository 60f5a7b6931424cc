package index

import "github.com/jweiland-net/bynder2/internal/domain"

// Metadata is the sys_file_metadata row derived from an asset.
type Metadata struct {
	Title         string
	Description   string
	Width         int
	Height        int
	Copyright     string
	Keywords      string
	ThumbMini     string
	ThumbThul     string
	ThumbWebImage string
}

// Extract maps the descriptive fields and CDN thumbnails of asset.
func Extract(asset domain.AssetRecord) Metadata {
	return Metadata{
		Title:         asset.Name,
		Description:   asset.Description,
		Width:         asset.Width,
		Height:        asset.Height,
		Copyright:     asset.Copyright,
		Keywords:      asset.Keywords(),
		ThumbMini:     asset.Thumbnail(domain.ThumbMini),
		ThumbThul:     asset.Thumbnail(domain.ThumbThul),
		ThumbWebImage: asset.Thumbnail(domain.ThumbWebImage),
	}
}
