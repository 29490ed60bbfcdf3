// Package model defines the product record extracted from e-commerce sites
// and its nested value objects.
package model

import (
	"fmt"
	"time"

	perrors "github.com/crawlkit/prodstore/internal/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// MetadataKey is the metadata entry under which the store surfaces the
// generated record ID for round-trip access.
const MetadataKey = "product_id"

// Price represents a product price.
type Price struct {
	Amount         float64 `json:"amount"                    validate:"gte=0"`
	Currency       string  `json:"currency,omitempty"        validate:"omitempty,len=3,alpha"`
	Original       float64 `json:"original,omitempty"        validate:"gte=0"`
	SalePercentage float64 `json:"sale_percentage,omitempty"`
}

// Image represents a product image. Images keep their position in the
// product gallery.
type Image struct {
	URL      string `json:"url"                validate:"required,url"`
	AltText  string `json:"alt_text,omitempty"`
	Position int    `json:"position,omitempty"`
}

// Attribute represents a single named product attribute (color, size, ...).
type Attribute struct {
	Name  string `json:"name"           validate:"required"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// Variant represents a product variant with its own price and availability.
type Variant struct {
	ID           string      `json:"id,omitempty"`
	Name         string      `json:"name"                   validate:"required"`
	Attributes   []Attribute `json:"attributes,omitempty"   validate:"omitempty,dive"`
	Price        *Price      `json:"price,omitempty"        validate:"omitempty"`
	Availability string      `json:"availability,omitempty"`
}

// Dimensions represents the physical dimensions of a product.
type Dimensions struct {
	Length     float64 `json:"length,omitempty"      validate:"gte=0"`
	Width      float64 `json:"width,omitempty"       validate:"gte=0"`
	Height     float64 `json:"height,omitempty"      validate:"gte=0"`
	Unit       string  `json:"unit,omitempty"`
	Weight     float64 `json:"weight,omitempty"      validate:"gte=0"`
	WeightUnit string  `json:"weight_unit,omitempty"`
}

// Metadata is an open mapping of string keys to a closed set of value kinds
// (string, bool, numbers and nested mappings) used for arbitrary tags:
// extraction source, timestamps, custom IDs.
type Metadata map[string]any

// Record represents one extracted product. A record is created without an ID;
// the store assigns one at first successful save and keeps it stable for the
// record's lifetime.
type Record struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"                 validate:"required"`
	Description string `json:"description,omitempty"`
	Brand       string `json:"brand,omitempty"`
	URL         string `json:"url,omitempty"          validate:"omitempty,url"`

	Availability string  `json:"availability,omitempty"`
	Rating       float64 `json:"rating,omitempty"       validate:"gte=0"`
	ReviewCount  int     `json:"review_count,omitempty" validate:"gte=0"`

	SKU  string `json:"sku,omitempty"`
	MPN  string `json:"mpn,omitempty"`
	GTIN string `json:"gtin,omitempty"`
	UPC  string `json:"upc,omitempty"`
	EAN  string `json:"ean,omitempty"`

	Price      *Price      `json:"price,omitempty"      validate:"omitempty"`
	Images     []Image     `json:"images,omitempty"     validate:"omitempty,dive"`
	Attributes []Attribute `json:"attributes,omitempty" validate:"omitempty,dive"`
	Variants   []Variant   `json:"variants,omitempty"   validate:"omitempty,dive"`
	Dimensions *Dimensions `json:"dimensions,omitempty" validate:"omitempty"`

	Metadata    Metadata  `json:"metadata,omitempty"`
	ExtractedAt time.Time `json:"extracted_at,omitzero"`
}

// Validate checks that the record satisfies the storage contract: title is
// required, price amounts are non-negative, currency is a 3-letter code and
// metadata values are restricted to the supported kinds.
// Violations are reported as ErrInvalidProduct.
func (r *Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrInvalidProduct, err)
	}
	if err := r.Metadata.validate(); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrInvalidProduct, err)
	}
	return nil
}

func (m Metadata) validate() error {
	for key, value := range m {
		if err := validateMetadataValue(key, value); err != nil {
			return err
		}
	}
	return nil
}

func validateMetadataValue(key string, value any) error {
	switch v := value.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return nil
	case Metadata:
		return v.validate()
	case map[string]any:
		return Metadata(v).validate()
	case []any:
		for _, item := range v {
			if err := validateMetadataValue(key, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("metadata key %q has unsupported value type %T", key, value)
	}
}

// Clone returns a deep copy of the record so that store-held state never
// aliases caller-owned slices or maps.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Price != nil {
		price := *r.Price
		c.Price = &price
	}
	if r.Dimensions != nil {
		dims := *r.Dimensions
		c.Dimensions = &dims
	}
	if r.Images != nil {
		c.Images = make([]Image, len(r.Images))
		copy(c.Images, r.Images)
	}
	if r.Attributes != nil {
		c.Attributes = cloneAttributes(r.Attributes)
	}
	if r.Variants != nil {
		c.Variants = make([]Variant, len(r.Variants))
		for i, variant := range r.Variants {
			c.Variants[i] = variant
			if variant.Price != nil {
				price := *variant.Price
				c.Variants[i].Price = &price
			}
			if variant.Attributes != nil {
				c.Variants[i].Attributes = cloneAttributes(variant.Attributes)
			}
		}
	}
	if r.Metadata != nil {
		c.Metadata = r.Metadata.clone()
	}
	return &c
}

func cloneAttributes(attrs []Attribute) []Attribute {
	cloned := make([]Attribute, len(attrs))
	copy(cloned, attrs)
	return cloned
}

func (m Metadata) clone() Metadata {
	cloned := make(Metadata, len(m))
	for key, value := range m {
		cloned[key] = cloneMetadataValue(value)
	}
	return cloned
}

func cloneMetadataValue(value any) any {
	switch v := value.(type) {
	case Metadata:
		return v.clone()
	case map[string]any:
		return map[string]any(Metadata(v).clone())
	case []any:
		cloned := make([]any, len(v))
		for i, item := range v {
			cloned[i] = cloneMetadataValue(item)
		}
		return cloned
	default:
		return v
	}
}
