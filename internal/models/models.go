package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidTask = errors.New("invalid image task")

type TaskKind string

const (
	TaskProductImage TaskKind = "product_image"
	TaskVariantImage TaskKind = "variant_image"
)

type OwnerKind string

const (
	OwnerProduct        OwnerKind = "product"
	OwnerProductVariant OwnerKind = "product_variant"
)

// Storage namespaces for fetched source images.
const (
	NamespaceProduct = "product"
	NamespaceVariant = "tmp"
)

// CollectionImages is the media collection every ingested image lands in.
const CollectionImages = "images"

// ImageTask is the queued payload for a single image. Kind selects which of
// the owner fields are meaningful: product images only carry ProductID,
// variant images carry both VariantID and ProductID.
type ImageTask struct {
	ID         uuid.UUID `json:"id"`
	Kind       TaskKind  `json:"kind"`
	SourceURL  string    `json:"source_url"`
	ProductID  int64     `json:"product_id"`
	VariantID  int64     `json:"variant_id,omitempty"`
	Order      int       `json:"order"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func NewProductImageTask(sourceURL string, productID int64, order int) ImageTask {
	return ImageTask{Kind: TaskProductImage, SourceURL: sourceURL, ProductID: productID, Order: order}
}

func NewVariantImageTask(sourceURL string, variantID, productID int64, order int) ImageTask {
	return ImageTask{Kind: TaskVariantImage, SourceURL: sourceURL, VariantID: variantID, ProductID: productID, Order: order}
}

func (t ImageTask) Validate() error {
	u, err := url.Parse(strings.TrimSpace(t.SourceURL))
	if err != nil {
		return fmt.Errorf("%w: source_url: %v", ErrInvalidTask, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: source_url must be an absolute http(s) url", ErrInvalidTask)
	}
	if t.ProductID <= 0 {
		return fmt.Errorf("%w: product_id must be positive", ErrInvalidTask)
	}
	if t.Order < 0 {
		return fmt.Errorf("%w: order must not be negative", ErrInvalidTask)
	}
	switch t.Kind {
	case TaskProductImage:
		if t.VariantID != 0 {
			return fmt.Errorf("%w: product_image tasks do not take a variant_id", ErrInvalidTask)
		}
	case TaskVariantImage:
		if t.VariantID <= 0 {
			return fmt.Errorf("%w: variant_id must be positive", ErrInvalidTask)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTask, t.Kind)
	}
	return nil
}

// Owner returns the entity the resulting media record belongs to.
func (t ImageTask) Owner() (OwnerKind, int64) {
	if t.Kind == TaskVariantImage {
		return OwnerProductVariant, t.VariantID
	}
	return OwnerProduct, t.ProductID
}

func (t ImageTask) Namespace() string {
	if t.Kind == TaskVariantImage {
		return NamespaceVariant
	}
	return NamespaceProduct
}

// OwnerKey is used as the queue partition key.
func (t ImageTask) OwnerKey() string {
	kind, id := t.Owner()
	return fmt.Sprintf("%s:%d", kind, id)
}

type Product struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredFile indexes a fetched blob by its content store path.
type StoredFile struct {
	Path      string    `json:"path"`
	SourceURL string    `json:"source_url"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

type MediaRecord struct {
	ID            int64     `json:"id"`
	OwnerType     OwnerKind `json:"owner_type"`
	OwnerID       int64     `json:"owner_id"`
	Collection    string    `json:"collection"`
	FileName      string    `json:"file_name"`
	FilePath      string    `json:"file_path"`
	ThumbnailPath string    `json:"thumbnail_path,omitempty"`
	MimeType      string    `json:"mime_type"`
	Size          int64     `json:"size"`
	DisplayOrder  int       `json:"display_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type VariantImageLink struct {
	ID           int64     `json:"id"`
	VariantID    int64     `json:"variant_id"`
	ProductID    int64     `json:"product_id"`
	MediaID      int64     `json:"media_id"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// VariantImage is a link joined with the media record it points at.
type VariantImage struct {
	VariantImageLink
	Media MediaRecord `json:"media"`
}

// DeadLetter is published for tasks the consumer gives up on.
type DeadLetter struct {
	Task      *ImageTask `json:"task,omitempty"`
	Raw       string     `json:"raw,omitempty"`
	ErrorKind string     `json:"error_kind"`
	Error     string     `json:"error"`
	Attempts  int        `json:"attempts"`
	FailedAt  time.Time  `json:"failed_at"`
}
