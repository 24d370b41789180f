package nft

import "encoding/json"

// TokenMetadata is the provider's metadata document for one token. Only the
// fields the media resolver consumes are mapped. The provider serializes
// several of them as either a bare URL string or an object of URL variants,
// so those fields decode through MediaPointer.
type TokenMetadata struct {
	Image    *ImageVariants `json:"image"`
	Media    []MediaItem    `json:"media"`
	Metadata *RawMetadata   `json:"metadata"`
	TokenUri *TokenUri      `json:"tokenUri"`
}

// ImageVariants is the provider's processed URL set for one asset, smallest
// to largest: thumbnail, png still, cached copy, original source.
type ImageVariants struct {
	ThumbnailUrl string `json:"thumbnailUrl"`
	PngUrl       string `json:"pngUrl"`
	CachedUrl    string `json:"cachedUrl"`
	OriginalUrl  string `json:"originalUrl"`
	ContentType  string `json:"contentType"`
}

// MediaItem is one entry of the legacy media array.
type MediaItem struct {
	Gateway     MediaPointer `json:"gateway"`
	Raw         MediaPointer `json:"raw"`
	ContentType string       `json:"contentType"`
}

// RawMetadata is the token's own metadata document as relayed by the provider.
type RawMetadata struct {
	Image        MediaPointer   `json:"image"`
	AnimationUrl string         `json:"animation_url"`
	Raw          *ImageVariants `json:"raw"`
}

// MediaPointer holds a field the provider serializes either as a plain URL
// string or as an ImageVariants object.
type MediaPointer struct {
	URL      string
	Variants *ImageVariants
}

func (m *MediaPointer) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &m.URL)
	}
	var variants ImageVariants
	if err := json.Unmarshal(data, &variants); err != nil {
		return err
	}
	m.Variants = &variants
	return nil
}

// TokenUri is the token's declared content URI, serialized either as a bare
// string or as an object carrying the raw value and a gateway-resolved form.
type TokenUri struct {
	Raw     string
	Gateway string
}

func (t *TokenUri) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &t.Raw)
	}
	var obj struct {
		Raw     string `json:"raw"`
		Gateway string `json:"gateway"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Raw = obj.Raw
	t.Gateway = obj.Gateway
	return nil
}
