package bynder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jweiland-net/bynder2/internal/core/checksum"
	"github.com/jweiland-net/bynder2/internal/domain"
)

// DefaultProperties is the property set returned when none is requested.
var DefaultProperties = []string{
	"size",
	"extension",
	"atime",
	"mtime",
	"ctime",
	"mimetype",
	"name",
	"identifier",
	"identifier_hash",
	"storage",
	"folder_hash",
}

var imageExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "bmp": true, "svg": true,
	"ico": true, "pdf": true, "png": true, "tiff": true,
}

// unsafeFileNameRune matches the characters replaced by SanitizeFileName:
// U+0000-U+002C, "/", U+003A-U+003F, U+005B-U+0060 and U+007B-U+00BF.
func unsafeFileNameRune(r rune) bool {
	switch {
	case r <= 0x2C:
		return true
	case r == '/':
		return true
	case r >= 0x3A && r <= 0x3F:
		return true
	case r >= 0x5B && r <= 0x60:
		return true
	case r >= 0x7B && r <= 0xBF:
		return true
	}
	return false
}

// SanitizeFileName trims name, replaces every unsafe character with "_"
// and strips trailing dots.
func SanitizeFileName(name string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if unsafeFileNameRune(r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}

	clean := strings.TrimRight(b.String(), ".")
	if clean == "" {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidFileName, name)
	}
	return clean, nil
}

// FileName returns the sanitized name of asset with its lowercased
// extension appended when missing.
func FileName(asset domain.AssetRecord) (string, error) {
	name, err := SanitizeFileName(asset.Name)
	if err != nil {
		return "", err
	}
	ext := asset.FirstExtension()
	if !strings.HasSuffix(strings.ToLower(name), "."+ext) {
		name += "." + ext
	}
	return SanitizeFileName(name)
}

// MimeType derives the mime type from the first extension.
func MimeType(asset domain.AssetRecord) string {
	ext := asset.FirstExtension()
	if imageExtensions[ext] {
		return "image/" + ext
	}
	return "text/" + ext
}

// Property maps one requested property of asset to its string value.
func Property(asset domain.AssetRecord, storageUID int, property string) (string, error) {
	switch property {
	case "size":
		return strconv.FormatInt(asset.FileSize, 10), nil
	case "mtime", "atime":
		return strconv.FormatInt(asset.ModifiedUnix(), 10), nil
	case "ctime":
		return strconv.FormatInt(asset.CreatedUnix(), 10), nil
	case "name":
		return FileName(asset)
	case "extension":
		return asset.FirstExtension(), nil
	case "mimetype":
		return MimeType(asset), nil
	case "identifier":
		return asset.ID, nil
	case "storage":
		return strconv.Itoa(storageUID), nil
	case "identifier_hash":
		return checksum.Identifier(asset.ID), nil
	case "folder_hash":
		return checksum.RootFolderHash, nil
	case "title":
		return asset.Name, nil
	case "description":
		return asset.Description, nil
	case "copyright":
		return asset.Copyright, nil
	case "width":
		return strconv.Itoa(asset.Width), nil
	case "height":
		return strconv.Itoa(asset.Height), nil
	case "keywords":
		return asset.Keywords(), nil
	}

	if v, ok := asset.RawString(property); ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrUnknownProperty, property)
}
