package media

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	downloadTimeout   = 20 * time.Second
	downloadChunkSize = 1 << 20
	downloadMaxBytes  = 8 << 20
	downloadMinBytes  = 100

	videoProbeTimeout  = 30 * time.Second
	videoProbeMaxBytes = 50 << 20

	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	gatewayUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	downloadReferer  = "https://alchemy.com/"
)

var (
	mp4Magic  = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p'}
	ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

	videoMarkers        = []string{".mp4", ".webm", ".mov", ".avi", "video"}
	videoFileExtensions = []string{".mp4", ".webm", ".mov", ".avi", ".mkv"}
)

func (r *DefaultResolver) DownloadWithFallback(ctx context.Context, tokenId string, budget time.Duration) []byte {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	urls := r.ResolveImageURLs(ctx, tokenId)
	for _, url := range urls {
		if ctx.Err() != nil {
			zap.L().Warn("Image download budget exhausted", zap.String("tokenId", tokenId))
			return nil
		}
		if data := r.DownloadImage(ctx, url); data != nil {
			return data
		}
	}
	return r.videoFrameFallback(ctx, tokenId)
}

// DownloadImage fetches one URL and returns the image bytes, or nil when the
// response is missing, oversized, implausibly small, or video content.
func (r *DefaultResolver) DownloadImage(ctx context.Context, imageURL string) []byte {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		zap.L().Warn("Failed to build image request", zap.String("url", imageURL), zap.Error(err))
		return nil
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", downloadReferer)
	fromTransformHost := IsTransformServiceURL(imageURL)
	if fromTransformHost {
		req.Header.Set("Origin", downloadReferer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		zap.L().Warn("Image download failed", zap.String("url", imageURL), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusBadRequest && fromTransformHost {
			zap.L().Debug("Transformation service declined the URL", zap.String("url", imageURL))
		} else {
			zap.L().Warn("Image download returned unexpected status",
				zap.String("url", imageURL),
				zap.Int("status", resp.StatusCode))
		}
		return nil
	}

	data, ok := readCapped(resp.Body, downloadMaxBytes)
	if !ok {
		zap.L().Warn("Image exceeded size cap or stream failed", zap.String("url", imageURL))
		return nil
	}
	if len(data) < downloadMinBytes {
		zap.L().Warn("Image response implausibly small",
			zap.String("url", imageURL),
			zap.Int("bytes", len(data)))
		return nil
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.Contains(contentType, "video") || looksLikeVideo(data) || hasVideoExtension(imageURL) {
		zap.L().Warn("URL served video content, skipping",
			zap.String("url", imageURL),
			zap.String("contentType", contentType))
		return nil
	}
	return data
}

// videoFrameFallback downloads the token's declared video and asks the frame
// decoder for a still, so video-only tokens can still be pictured.
func (r *DefaultResolver) videoFrameFallback(ctx context.Context, tokenId string) []byte {
	metadata, err := r.metadataClient.GetTokenMetadata(ctx, tokenId)
	if err != nil || metadata == nil {
		return nil
	}

	videoURL := ""
	if metadata.Metadata != nil && isVideoURL(metadata.Metadata.AnimationUrl) {
		videoURL = metadata.Metadata.AnimationUrl
	}
	if videoURL == "" && metadata.Image != nil && isVideoURL(metadata.Image.OriginalUrl) {
		videoURL = metadata.Image.OriginalUrl
	}
	if videoURL == "" {
		return nil
	}
	videoURL = r.normalizeCandidateURL(videoURL)
	if videoURL == "" {
		return nil
	}

	zap.L().Info("Extracting still frame from video",
		zap.String("tokenId", tokenId),
		zap.String("url", videoURL))

	video := r.downloadVideo(ctx, videoURL)
	if video == nil {
		return nil
	}
	frame, err := r.frameDecoder.DecodeFirstFrame(video)
	if err != nil {
		zap.L().Warn("Video frame extraction failed",
			zap.String("tokenId", tokenId),
			zap.Error(err))
		return nil
	}
	return frame
}

func (r *DefaultResolver) downloadVideo(ctx context.Context, videoURL string) []byte {
	ctx, cancel := context.WithTimeout(ctx, videoProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", gatewayUserAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		zap.L().Warn("Video download failed", zap.String("url", videoURL), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("Video download returned unexpected status",
			zap.String("url", videoURL),
			zap.Int("status", resp.StatusCode))
		return nil
	}

	data, ok := readCapped(resp.Body, videoProbeMaxBytes)
	if !ok {
		zap.L().Warn("Video exceeded size cap or stream failed", zap.String("url", videoURL))
		return nil
	}
	return data
}

// readCapped streams the body in fixed-size chunks and fails once the
// accumulated size crosses maxBytes, so oversized responses never buffer
// fully in memory.
func readCapped(body io.Reader, maxBytes int) ([]byte, bool) {
	data := make([]byte, 0, downloadChunkSize)
	buf := make([]byte, downloadChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
			if len(data) > maxBytes {
				return nil, false
			}
		}
		if err == io.EOF {
			return data, true
		}
		if err != nil {
			return nil, false
		}
	}
}

func isVideoURL(url string) bool {
	if url == "" {
		return false
	}
	lower := strings.ToLower(url)
	for _, marker := range videoMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func hasVideoExtension(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range videoFileExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

func looksLikeVideo(data []byte) bool {
	return bytes.HasPrefix(data, mp4Magic) || bytes.HasPrefix(data, ebmlMagic)
}
