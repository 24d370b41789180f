package nft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
)

const (
	metadataCacheSize   = 1000
	metadataCallTimeout = 30 * time.Second
	metadataMaxTries    = 3
	metadataRetryStep   = 2 * time.Second
)

// MetadataClient fetches the provider's metadata document for tokens of the
// monitored contract.
type MetadataClient interface {
	GetTokenMetadata(ctx context.Context, tokenId string) (*TokenMetadata, error)
}

type DefaultMetadataClient struct {
	httpClient *http.Client
	endpoint   string
	contract   string
	cache      *LRU[string, *TokenMetadata]
	retryStep  time.Duration
}

func NewDefaultMetadataClient(apiUrl string, apiKey string, contract string) *DefaultMetadataClient {
	endpoint := strings.TrimRight(apiUrl, "/")
	if apiKey != "" {
		endpoint = endpoint + "/" + apiKey
	}
	return &DefaultMetadataClient{
		httpClient: &http.Client{Timeout: metadataCallTimeout},
		endpoint:   endpoint,
		contract:   strings.ToLower(contract),
		cache:      NewLRU[string, *TokenMetadata](metadataCacheSize),
		retryStep:  metadataRetryStep,
	}
}

// GetTokenMetadata resolves one token's metadata. Hex token ids are
// normalized to decimal before the call and results are cached in a
// capacity-bounded LRU keyed by contract and token id. Server-side errors
// are retried with growing waits, client-side errors are not.
func (c *DefaultMetadataClient) GetTokenMetadata(ctx context.Context, tokenId string) (*TokenMetadata, error) {
	tokenId = sales.NormalizeTokenID(tokenId)
	cacheKey := c.contract + ":" + tokenId

	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached, nil
	}

	operation := func() (*TokenMetadata, error) {
		metadata, err := c.fetchMetadata(ctx, tokenId)
		if err != nil {
			var statusErr *statusError
			if errors.As(err, &statusErr) && statusErr.code < 500 {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return metadata, nil
	}

	notify := func(err error, wait time.Duration) {
		zap.L().Warn("Metadata API call failed, retrying",
			zap.String("tokenId", tokenId),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	metadata, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{step: c.retryStep}),
		backoff.WithMaxTries(metadataMaxTries),
		backoff.WithNotify(notify))
	if err != nil {
		return nil, err
	}

	c.cache.Put(cacheKey, metadata)
	return metadata, nil
}

func (c *DefaultMetadataClient) fetchMetadata(ctx context.Context, tokenId string) (*TokenMetadata, error) {
	callCtx, cancel := context.WithTimeout(ctx, metadataCallTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("contractAddress", c.contract)
	params.Set("tokenId", tokenId)

	req, err := http.NewRequestWithContext(
		callCtx, http.MethodGet, c.endpoint+"/getNFTMetadata?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode}
	}

	var metadata TokenMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}
	return &metadata, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("metadata API returned status %d", e.code)
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	wait time.Duration
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.wait += b.step
	return b.wait
}

func (b *linearBackOff) Reset() {
	b.wait = 0
}
