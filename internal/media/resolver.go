package media

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nftpulse/nftpulse/internal/nft"
	"go.uber.org/zap"
)

const (
	urlLookupTimeout    = 5 * time.Second
	gatewayFetchTimeout = 2 * time.Second
	maxURLLength        = 2000

	// Host of the third-party image transformation service. Its URLs are
	// unreliable (frequent 400s) and some sinks cannot fetch them, so they
	// rank last and their failures stay quiet.
	transformServiceHost = "cloudinary.com"
)

var defaultIPFSGateways = []string{
	"https://cloudflare-ipfs.com/ipfs/",
	"https://ipfs.io/ipfs/",
}

// Secondary metadata documents of video tokens carry their still image under
// one of these fields. Checked in order, first hit wins.
var thumbnailFields = []string{
	"thumbnail", "thumbnail_image", "thumbnailImage",
	"preview", "preview_image", "previewImage",
	"image_thumbnail", "imageThumbnail",
	"poster", "poster_image", "posterImage",
}

// Resolver discovers and downloads still images for tokens of the monitored
// contract.
type Resolver interface {
	// ResolveImageURLs returns candidate image URLs best-first. Content
	// addressed URLs come before provider CDN URLs, transformation-service
	// URLs come last. Empty when nothing displayable was found.
	ResolveImageURLs(ctx context.Context, tokenId string) []string
	// DownloadWithFallback resolves the URL list and downloads the first
	// fetchable image within the given budget. When every URL fails and the
	// token's media is a video, it falls back to extracting a frame.
	// Returns nil on total failure.
	DownloadWithFallback(ctx context.Context, tokenId string, budget time.Duration) []byte
}

type DefaultResolver struct {
	metadataClient nft.MetadataClient
	httpClient     *http.Client
	gateways       []string
	frameDecoder   FrameDecoder
}

func NewDefaultResolver(metadataClient nft.MetadataClient, gateways []string, frameDecoder FrameDecoder) *DefaultResolver {
	if len(gateways) == 0 {
		gateways = defaultIPFSGateways
	}
	normalized := make([]string, len(gateways))
	for i, gateway := range gateways {
		if !strings.HasSuffix(gateway, "/") {
			gateway += "/"
		}
		normalized[i] = gateway
	}
	if frameDecoder == nil {
		frameDecoder = UnsupportedFrameDecoder{}
	}
	return &DefaultResolver{
		metadataClient: metadataClient,
		httpClient:     &http.Client{},
		gateways:       normalized,
		frameDecoder:   frameDecoder,
	}
}

func (r *DefaultResolver) ResolveImageURLs(ctx context.Context, tokenId string) []string {
	ipfsUrls := r.ipfsImageURLs(ctx, tokenId)

	var providerUrls []string
	metadata, err := r.metadataClient.GetTokenMetadata(ctx, tokenId)
	if err != nil {
		zap.L().Warn("Failed to fetch token metadata for image discovery",
			zap.String("tokenId", tokenId),
			zap.Error(err))
	} else {
		providerUrls = rankedProviderURLs(metadata)
	}

	var valid []string
	for _, candidate := range append(ipfsUrls, providerUrls...) {
		if normalized := r.normalizeCandidateURL(candidate); normalized != "" {
			valid = append(valid, normalized)
		}
	}
	return demoteTransformHost(dedupStrings(valid))
}

// ipfsImageURLs follows the token's content URI to its origin storage and
// reads the secondary metadata document for explicit still-image fields.
// The whole lookup is bounded so slow gateways cannot stall resolution.
func (r *DefaultResolver) ipfsImageURLs(ctx context.Context, tokenId string) []string {
	ctx, cancel := context.WithTimeout(ctx, urlLookupTimeout)
	defer cancel()

	metadata, err := r.metadataClient.GetTokenMetadata(ctx, tokenId)
	if err != nil || metadata == nil {
		return nil
	}

	var urls []string
	for _, hash := range ipfsHashCandidates(metadata) {
		document := r.fetchIPFSMetadata(ctx, hash)
		if document == nil {
			continue
		}
		urls = append(urls, r.stillURLsFromDocument(document, tokenId)...)
	}
	urls = append(urls, r.providerIPFSHashURLs(metadata)...)
	return dedupStrings(urls)
}

// ipfsHashCandidates collects content hashes from every metadata spot that
// may point at the token's origin document.
func ipfsHashCandidates(metadata *nft.TokenMetadata) []string {
	var raw []string
	if metadata.TokenUri != nil {
		raw = append(raw, metadata.TokenUri.Raw)
	}
	if metadata.Metadata != nil && metadata.Metadata.Raw != nil {
		raw = append(raw, metadata.Metadata.Raw.OriginalUrl)
	}
	if len(metadata.Media) > 0 && metadata.Media[0].Raw.Variants != nil {
		raw = append(raw, metadata.Media[0].Raw.Variants.OriginalUrl)
	}
	if metadata.Image != nil {
		raw = append(raw, metadata.Image.OriginalUrl)
	}

	var hashes []string
	seen := make(map[string]bool)
	for _, value := range raw {
		hash := extractIPFSHash(value)
		if hash == "" || seen[hash] {
			continue
		}
		seen[hash] = true
		hashes = append(hashes, hash)
	}
	return hashes
}

// fetchIPFSMetadata retrieves the secondary metadata document for a content
// hash, trying each gateway in order with a short per-gateway timeout.
func (r *DefaultResolver) fetchIPFSMetadata(ctx context.Context, hash string) map[string]any {
	for _, gateway := range r.gateways {
		document := r.fetchGatewayDocument(ctx, gateway+hash)
		if document != nil {
			return document
		}
	}
	zap.L().Debug("No gateway served the metadata document", zap.String("hash", hash))
	return nil
}

func (r *DefaultResolver) fetchGatewayDocument(ctx context.Context, url string) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, gatewayFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", gatewayUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		zap.L().Debug("Gateway fetch failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zap.L().Debug("Gateway returned unexpected status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return nil
	}

	var document map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&document); err != nil {
		zap.L().Debug("Gateway document is not JSON", zap.String("url", url), zap.Error(err))
		return nil
	}
	return document
}

// stillURLsFromDocument pulls displayable image URLs out of a secondary
// metadata document. Thumbnail-style fields win over the image field, and
// anything video-like is rejected.
func (r *DefaultResolver) stillURLsFromDocument(document map[string]any, tokenId string) []string {
	var urls []string

	for _, field := range thumbnailFields {
		value, _ := document[field].(string)
		if value == "" {
			continue
		}
		if hash := extractIPFSHash(value); hash != "" {
			zap.L().Debug("Found thumbnail in token document",
				zap.String("tokenId", tokenId),
				zap.String("field", field))
			urls = append(urls, r.gateways[0]+hash)
			break
		}
	}

	image, _ := document["image"].(string)
	if image != "" {
		animation, _ := document["animation_url"].(string)
		if animation == "" {
			animation, _ = document["animationUrl"].(string)
		}
		if isVideoURL(image) || (animation != "" && image == animation) {
			zap.L().Debug("Token document image is a video, skipping",
				zap.String("tokenId", tokenId))
		} else if hash := extractIPFSHash(image); hash != "" {
			urls = append(urls, r.gateways[0]+hash)
		}
	}
	return urls
}

// providerIPFSHashURLs extracts content hashes hidden inside the provider's
// own URL fields and rewrites them to gateway form, so they join the
// content-addressed group.
func (r *DefaultResolver) providerIPFSHashURLs(metadata *nft.TokenMetadata) []string {
	var urls []string
	appendHash := func(value string) bool {
		if hash := extractIPFSHash(value); hash != "" {
			urls = append(urls, r.gateways[0]+hash)
			return true
		}
		return false
	}
	fromVariants := func(variants *nft.ImageVariants) {
		if variants == nil {
			return
		}
		if variants.ThumbnailUrl != "" && appendHash(variants.ThumbnailUrl) {
			return
		}
		if variants.PngUrl != "" && appendHash(variants.PngUrl) {
			return
		}
		if variants.OriginalUrl != "" && !isVideoURL(variants.OriginalUrl) {
			appendHash(variants.OriginalUrl)
		}
	}

	fromVariants(metadata.Image)
	if metadata.Metadata != nil {
		if metadata.Metadata.Image.Variants != nil {
			fromVariants(metadata.Metadata.Image.Variants)
		} else if value := metadata.Metadata.Image.URL; value != "" && !isVideoURL(value) {
			appendHash(value)
		}
	}
	if len(metadata.Media) > 0 {
		raw := metadata.Media[0].Raw
		if raw.Variants != nil {
			if value := raw.Variants.OriginalUrl; value != "" && !isVideoURL(value) {
				appendHash(value)
			}
		} else if value := raw.URL; value != "" && !isVideoURL(value) {
			appendHash(value)
		}
	}
	return urls
}

type rankedURL struct {
	rank int
	url  string
}

// rankedProviderURLs orders the provider's CDN URLs smallest to largest:
// thumbnail, png still, cached copy, original. Video URLs are rejected.
func rankedProviderURLs(metadata *nft.TokenMetadata) []string {
	if metadata == nil {
		return nil
	}
	animationURL := ""
	if metadata.Metadata != nil {
		animationURL = metadata.Metadata.AnimationUrl
	}

	var candidates []rankedURL
	if len(metadata.Media) > 0 {
		candidates = appendPointerURLs(candidates, metadata.Media[0].Gateway)
		candidates = appendPointerURLs(candidates, metadata.Media[0].Raw)
	}
	if metadata.Metadata != nil {
		candidates = appendPointerURLs(candidates, metadata.Metadata.Image)
	}
	candidates = appendVariantURLs(candidates, metadata.Image)

	seen := make(map[string]bool)
	kept := candidates[:0]
	for _, candidate := range candidates {
		if candidate.url == "" || seen[candidate.url] {
			continue
		}
		if isVideoURL(candidate.url) || (animationURL != "" && candidate.url == animationURL) {
			continue
		}
		seen[candidate.url] = true
		kept = append(kept, candidate)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].rank < kept[j].rank
	})

	urls := make([]string, 0, len(kept))
	for _, candidate := range kept {
		urls = append(urls, candidate.url)
	}
	return urls
}

func appendVariantURLs(dst []rankedURL, variants *nft.ImageVariants) []rankedURL {
	if variants == nil {
		return dst
	}
	if variants.ThumbnailUrl != "" {
		dst = append(dst, rankedURL{rank: 0, url: variants.ThumbnailUrl})
	}
	if variants.PngUrl != "" {
		dst = append(dst, rankedURL{rank: 1, url: variants.PngUrl})
	}
	if variants.CachedUrl != "" {
		dst = append(dst, rankedURL{rank: 2, url: variants.CachedUrl})
	}
	if variants.OriginalUrl != "" {
		dst = append(dst, rankedURL{rank: 3, url: variants.OriginalUrl})
	}
	return dst
}

func appendPointerURLs(dst []rankedURL, pointer nft.MediaPointer) []rankedURL {
	if pointer.Variants != nil {
		return appendVariantURLs(dst, pointer.Variants)
	}
	if pointer.URL != "" {
		return append(dst, rankedURL{rank: 4, url: pointer.URL})
	}
	return dst
}

// extractIPFSHash pulls a bare content hash (CIDv0 "Qm...", CIDv1 "baf...")
// out of the forms it appears in: ipfs:// URIs, gateway URLs, bare hashes.
func extractIPFSHash(value string) string {
	if value == "" {
		return ""
	}
	hash := value
	switch {
	case strings.HasPrefix(hash, "ipfs://"):
		hash = strings.TrimPrefix(hash, "ipfs://")
	case strings.Contains(hash, "ipfs/"):
		parts := strings.SplitN(hash, "ipfs/", 2)
		hash = parts[1]
	case strings.HasPrefix(hash, "Qm"), strings.HasPrefix(hash, "baf"):
	default:
		return ""
	}
	if i := strings.IndexAny(hash, "?#"); i >= 0 {
		hash = hash[:i]
	}
	hash = strings.Trim(hash, "/")
	if i := strings.Index(hash, "/"); i >= 0 {
		hash = hash[:i]
	}
	if (strings.HasPrefix(hash, "Qm") || strings.HasPrefix(hash, "baf")) && len(hash) > 10 {
		return hash
	}
	return ""
}

// normalizeCandidateURL rewrites ipfs:// URIs to the first gateway with the
// query string stripped, truncates to the maximum displayable length, and
// drops anything that is not plain http(s).
func (r *DefaultResolver) normalizeCandidateURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return ""
	}
	if strings.HasPrefix(url, "ipfs://") {
		rest := strings.TrimPrefix(url, "ipfs://")
		rest = strings.TrimPrefix(rest, "ipfs/")
		if i := strings.Index(rest, "?"); i >= 0 {
			rest = rest[:i]
		}
		url = r.gateways[0] + rest
	}
	if len(url) > maxURLLength {
		url = url[:maxURLLength]
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ""
	}
	return url
}

// IsTransformServiceURL reports whether the URL points at the image
// transformation service. Those URLs need dedicated handling downstream, the
// chat client cannot render them directly.
func IsTransformServiceURL(url string) bool {
	return strings.Contains(url, transformServiceHost)
}

func demoteTransformHost(urls []string) []string {
	var primary, transform []string
	for _, url := range urls {
		if IsTransformServiceURL(url) {
			transform = append(transform, url)
		} else {
			primary = append(primary, url)
		}
	}
	return append(primary, transform...)
}

func dedupStrings(values []string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, value := range values {
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		unique = append(unique, value)
	}
	return unique
}
