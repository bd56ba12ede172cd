package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"mediaingest/internal/models"
)

// DefaultExtension is appended to basenames that carry no extension.
const DefaultExtension = ".jpg"

var (
	ErrInvalidURL = errors.New("ingest: invalid source url")
	ErrNaming     = errors.New("ingest: cannot derive file name")
)

var (
	extensionPattern = regexp.MustCompile(`\.[A-Za-z0-9]+$`)
	unsafeChars      = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	nonSlugChars     = regexp.MustCompile(`[^a-z0-9]+`)
)

func urlHash(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

// Basename derives the stored file name from the last path segment of sourceURL.
func Basename(sourceURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, sourceURL)
	}

	name := ""
	if u.Path != "" && !strings.HasSuffix(u.Path, "/") {
		name = path.Base(u.Path)
	}
	name = unsafeChars.ReplaceAllString(name, "-")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = urlHash(sourceURL)[:16]
	}
	if !extensionPattern.MatchString(name) {
		name += DefaultExtension
	}
	return name, nil
}

// StoragePath returns "{namespace}/{basename}" for sourceURL.
func StoragePath(namespace, sourceURL string) (string, error) {
	name, err := Basename(sourceURL)
	if err != nil {
		return "", err
	}
	return namespace + "/" + name, nil
}

// collisionPath disambiguates a basename already claimed by a different URL.
func collisionPath(namespace, sourceURL, name string) string {
	return namespace + "/" + urlHash(sourceURL)[:12] + "-" + name
}

// ThumbnailKey is where the thumbnail conversion of key is stored. The source
// extension is kept so a.png and a.jpg get distinct thumbnails.
func ThumbnailKey(key string) string {
	return "conversions/" + key + "-thumb.jpg"
}

func Slugify(s string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// FileNamer is the product domain's naming policy for variant images.
type FileNamer interface {
	FileName(product *models.Product, variantID int64, order int, ext string) (string, error)
}

// SlugNamer names variant images "{product-slug}-v{variant}-{order}{ext}".
type SlugNamer struct{}

func (SlugNamer) FileName(product *models.Product, variantID int64, order int, ext string) (string, error) {
	if product == nil {
		return "", fmt.Errorf("%w: no product", ErrNaming)
	}
	slug := Slugify(product.Slug)
	if slug == "" {
		slug = Slugify(product.Name)
	}
	if slug == "" {
		return "", fmt.Errorf("%w: product %d has neither slug nor name", ErrNaming, product.ID)
	}
	if ext == "" {
		ext = DefaultExtension
	}
	return fmt.Sprintf("%s-v%d-%d%s", slug, variantID, order, strings.ToLower(ext)), nil
}
