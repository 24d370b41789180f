package notify

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	mu        sync.Mutex
	urls      map[string][]string
	data      map[string][]byte
	resolved  []string
	downloads []string
}

func (s *stubResolver) ResolveImageURLs(_ context.Context, tokenId string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, tokenId)
	return s.urls[tokenId]
}

func (s *stubResolver) DownloadWithFallback(_ context.Context, tokenId string, _ time.Duration) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, tokenId)
	return s.data[tokenId]
}

func (s *stubResolver) resolvedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resolved...)
}

func TestDefaultPayloadBuilder(t *testing.T) {
	t.Run("OneURLPerToken", testBuilderOneURLPerToken)
	t.Run("CapsTokenLookups", testBuilderCapsTokenLookups)
	t.Run("NoTokens", testBuilderNoTokens)
	t.Run("DownloadFailureKeepsURLs", testBuilderDownloadFailureKeepsURLs)
	t.Run("LinkOnlySkipsDownload", testBuilderLinkOnlySkipsDownload)
}

func testBuilderOneURLPerToken(t *testing.T) {
	resolver := &stubResolver{
		urls: map[string][]string{
			"1": {"https://cdn.example/1-best.png", "https://cdn.example/1-alt.png"},
			"3": {"https://cdn.example/3-best.png"},
		},
		data: map[string][]byte{"1": []byte("image-bytes")},
	}
	builder := NewDefaultPayloadBuilder(resolver)

	payload := builder.Build(context.Background(), makeSaleEvent("1", "2", "3"))

	require.NotNil(t, payload)
	assert.Equal(t, []string{"https://cdn.example/1-best.png", "https://cdn.example/3-best.png"}, payload.ImageURLs)
	assert.Equal(t, []byte("image-bytes"), payload.ImageData)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, resolver.resolvedTokens())
	assert.Equal(t, []string{"1"}, resolver.downloads)
}

func testBuilderCapsTokenLookups(t *testing.T) {
	tokenIds := make([]string, 25)
	urls := make(map[string][]string, len(tokenIds))
	for i := range tokenIds {
		tokenIds[i] = strconv.Itoa(i)
		urls[tokenIds[i]] = []string{"https://cdn.example/" + tokenIds[i] + ".png"}
	}
	resolver := &stubResolver{urls: urls}
	builder := NewDefaultPayloadBuilder(resolver)

	payload := builder.Build(context.Background(), makeSaleEvent(tokenIds...))

	assert.Len(t, payload.ImageURLs, payloadMaxTokens)
	assert.Len(t, resolver.resolvedTokens(), payloadMaxTokens)
	assert.Equal(t, "https://cdn.example/0.png", payload.ImageURLs[0])
	assert.Equal(t, "https://cdn.example/19.png", payload.ImageURLs[len(payload.ImageURLs)-1])
}

func testBuilderNoTokens(t *testing.T) {
	resolver := &stubResolver{}
	builder := NewDefaultPayloadBuilder(resolver)

	payload := builder.Build(context.Background(), makeSaleEvent())

	require.NotNil(t, payload)
	assert.Empty(t, payload.ImageURLs)
	assert.Nil(t, payload.ImageData)
	assert.Empty(t, resolver.resolvedTokens())
	assert.Empty(t, resolver.downloads)
}

func testBuilderDownloadFailureKeepsURLs(t *testing.T) {
	resolver := &stubResolver{
		urls: map[string][]string{"5": {"https://cdn.example/5.png"}},
	}
	builder := NewDefaultPayloadBuilder(resolver)

	payload := builder.Build(context.Background(), makeSaleEvent("5"))

	assert.Equal(t, []string{"https://cdn.example/5.png"}, payload.ImageURLs)
	assert.Nil(t, payload.ImageData)
}

func testBuilderLinkOnlySkipsDownload(t *testing.T) {
	resolver := &stubResolver{
		urls: map[string][]string{"5": {"https://cdn.example/5.png"}},
		data: map[string][]byte{"5": []byte("image-bytes")},
	}
	builder := NewLinkOnlyPayloadBuilder(resolver)

	payload := builder.Build(context.Background(), makeSaleEvent("5"))

	assert.Equal(t, []string{"https://cdn.example/5.png"}, payload.ImageURLs)
	assert.Nil(t, payload.ImageData)
	assert.Empty(t, resolver.downloads)
}
