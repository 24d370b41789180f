package nft

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewExample())
}

const testMetadataBody = `{
	"image": {"thumbnailUrl": "https://cdn.example/thumb.png", "pngUrl": "https://cdn.example/full.png"},
	"media": [{"gateway": "https://gw.example/img.png", "raw": "ipfs://QmMediaHash"}],
	"metadata": {"image": "ipfs://QmMediaHash", "animation_url": "https://cdn.example/clip.mp4"},
	"tokenUri": {"raw": "ipfs://QmMetaHash", "gateway": "https://gw.example/meta.json"}
}`

func newTestMetadataClient(t *testing.T, handler http.HandlerFunc) *DefaultMetadataClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(func() {
		server.Close()
	})
	client := NewDefaultMetadataClient(server.URL, "test-key", "0xABCDEF0123456789abcdef0123456789ABCDEF01")
	client.retryStep = time.Millisecond
	return client
}

func TestDefaultMetadataClient(t *testing.T) {
	t.Run("SuccessAndCache", testGetTokenMetadataSuccessAndCache)
	t.Run("NormalizesHexTokenId", testGetTokenMetadataNormalizesHexTokenId)
	t.Run("RetriesServerErrors", testGetTokenMetadataRetriesServerErrors)
	t.Run("ClientErrorNotRetried", testGetTokenMetadataClientErrorNotRetried)
	t.Run("ExhaustsRetries", testGetTokenMetadataExhaustsRetries)
	t.Run("MalformedResponse", testGetTokenMetadataMalformedResponse)
}

func testGetTokenMetadataSuccessAndCache(t *testing.T) {
	requests := 0
	client := newTestMetadataClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/test-key/getNFTMetadata", r.URL.Path)
		assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", r.URL.Query().Get("contractAddress"))
		assert.Equal(t, "42", r.URL.Query().Get("tokenId"))
		w.Write([]byte(testMetadataBody))
	})

	metadata, err := client.GetTokenMetadata(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, metadata.Image)
	assert.Equal(t, "https://cdn.example/thumb.png", metadata.Image.ThumbnailUrl)
	require.Len(t, metadata.Media, 1)
	assert.Equal(t, "https://gw.example/img.png", metadata.Media[0].Gateway.URL)
	assert.Equal(t, "ipfs://QmMediaHash", metadata.Media[0].Raw.URL)
	require.NotNil(t, metadata.Metadata)
	assert.Equal(t, "https://cdn.example/clip.mp4", metadata.Metadata.AnimationUrl)
	require.NotNil(t, metadata.TokenUri)
	assert.Equal(t, "ipfs://QmMetaHash", metadata.TokenUri.Raw)

	again, err := client.GetTokenMetadata(context.Background(), "42")
	require.NoError(t, err)
	assert.Same(t, metadata, again)
	assert.Equal(t, 1, requests)
}

func testGetTokenMetadataNormalizesHexTokenId(t *testing.T) {
	requests := 0
	var seenTokenId string
	client := newTestMetadataClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		seenTokenId = r.URL.Query().Get("tokenId")
		w.Write([]byte(testMetadataBody))
	})

	_, err := client.GetTokenMetadata(context.Background(), "0x1a")
	require.NoError(t, err)
	assert.Equal(t, "26", seenTokenId)

	// The decimal form hits the same cache entry.
	_, err = client.GetTokenMetadata(context.Background(), "26")
	require.NoError(t, err)
	assert.Equal(t, 1, requests)
}

func testGetTokenMetadataRetriesServerErrors(t *testing.T) {
	requests := 0
	client := newTestMetadataClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(testMetadataBody))
	})

	metadata, err := client.GetTokenMetadata(context.Background(), "7")
	require.NoError(t, err)
	assert.NotNil(t, metadata)
	assert.Equal(t, 2, requests)
}

func testGetTokenMetadataClientErrorNotRetried(t *testing.T) {
	requests := 0
	client := newTestMetadataClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetTokenMetadata(context.Background(), "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, 1, requests)
}

func testGetTokenMetadataExhaustsRetries(t *testing.T) {
	requests := 0
	client := newTestMetadataClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.GetTokenMetadata(context.Background(), "7")
	require.Error(t, err)
	assert.Equal(t, 3, requests)
}

func testGetTokenMetadataMalformedResponse(t *testing.T) {
	client := newTestMetadataClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := client.GetTokenMetadata(context.Background(), "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode metadata response")
}
