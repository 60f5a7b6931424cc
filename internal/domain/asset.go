package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AssetDateLayout is the timestamp layout the remote uses for dateCreated
// and dateModified.
const AssetDateLayout = "2006-01-02T15:04:05Z"

// Thumbnail tiers provided by the CDN for every asset
const (
	ThumbMini     = "mini"
	ThumbThul     = "thul"
	ThumbWebImage = "webimage"
)

// AssetRecord is a snapshot of one remote media item.
type AssetRecord struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Extension    []string          `json:"extension"`
	FileSize     int64             `json:"fileSize"`
	DateCreated  string            `json:"dateCreated"`
	DateModified string            `json:"dateModified"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Description  string            `json:"description"`
	Copyright    string            `json:"copyright"`
	Tags         []string          `json:"tags"`
	Thumbnails   map[string]string `json:"thumbnails"`

	// Raw holds every field of the remote object, including the ones
	// without a typed counterpart above.
	Raw map[string]any `json:"-"`
}

type assetAlias AssetRecord

// UnmarshalJSON decodes the typed fields and keeps the raw object.
func (a *AssetRecord) UnmarshalJSON(data []byte) error {
	var alias assetAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = AssetRecord(alias)
	a.Raw = raw
	return nil
}

// MarshalJSON merges the typed fields over the raw object so both
// survive a cache round trip. Typed fields win on conflict.
func (a AssetRecord) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(assetAlias(a))
	if err != nil || a.Raw == nil {
		return typed, err
	}
	var fields map[string]any
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(a.Raw)+len(fields))
	for k, v := range a.Raw {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// IsZero reports whether the record carries no identifier.
func (a AssetRecord) IsZero() bool {
	return a.ID == ""
}

// FirstExtension returns the lowercased first extension or "".
func (a AssetRecord) FirstExtension() string {
	if len(a.Extension) == 0 {
		return ""
	}
	return strings.ToLower(a.Extension[0])
}

// Keywords joins the tags the way the index stores them.
func (a AssetRecord) Keywords() string {
	return strings.Join(a.Tags, ", ")
}

// Thumbnail returns the CDN URL for the given tier or "".
func (a AssetRecord) Thumbnail(tier string) string {
	if a.Thumbnails == nil {
		return ""
	}
	return a.Thumbnails[tier]
}

// ModifiedUnix returns dateModified as unix seconds, 0 when unparsable.
func (a AssetRecord) ModifiedUnix() int64 {
	return parseAssetDate(a.DateModified)
}

// CreatedUnix returns dateCreated as unix seconds, 0 when unparsable.
func (a AssetRecord) CreatedUnix() int64 {
	return parseAssetDate(a.DateCreated)
}

func parseAssetDate(value string) int64 {
	t, err := time.Parse(AssetDateLayout, value)
	if err != nil {
		return 0
	}
	return t.Unix()
}

// RawString renders a raw field as a string. The second return value is
// false when the field is absent.
func (a AssetRecord) RawString(field string) (string, bool) {
	v, ok := a.Raw[field]
	if !ok || v == nil {
		return "", ok
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t)), true
		}
		return fmt.Sprintf("%g", t), true
	case bool:
		if t {
			return "1", true
		}
		return "0", true
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return "", true
		}
		return string(data), true
	}
}
