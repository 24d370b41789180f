package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
)

const (
	signatureHeader     = "X-Alchemy-Signature"
	webhookMaxBodyBytes = 4 << 20
	nftActivityType     = "NFT_ACTIVITY"
)

type WebhookAckResponse struct {
	Status   string `json:"status"`
	Accepted int    `json:"accepted"`
}

// WebhookPostHandler ingests transfer activity deliveries. Responses are
// fire-and-forget: anything short of a signature mismatch acknowledges with
// 200 so the upstream feed never disables the webhook, and processing
// happens after the acknowledgment through the grace-window sink.
func WebhookPostHandler(r *http.Request, api SalesAPI) (WebhookAckResponse, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, webhookMaxBodyBytes+1))
	if err != nil || len(body) > webhookMaxBodyBytes {
		if api.SigningKey != "" {
			return WebhookAckResponse{}, NewUnauthorizedError("unverifiable webhook body")
		}
		zap.L().Warn("Discarding unreadable webhook body", zap.Error(err), zap.Int("bytes", len(body)))
		return WebhookAckResponse{Status: "OK"}, nil
	}

	if api.SigningKey != "" && !validWebhookSignature(body, r.Header.Get(signatureHeader), api.SigningKey) {
		zap.L().Warn("Webhook authentication failed", zap.String("ip", r.RemoteAddr))
		return WebhookAckResponse{}, NewUnauthorizedError("invalid webhook signature")
	}

	activities := parseWebhookActivities(body)
	for _, activity := range activities {
		api.Sink.Submit(activity)
	}
	return WebhookAckResponse{Status: "OK", Accepted: len(activities)}, nil
}

// validWebhookSignature checks the hex HMAC-SHA256 of the raw body, the
// scheme the activity feed signs deliveries with.
func validWebhookSignature(body []byte, signature string, signingKey string) bool {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookEvent struct {
	Type            string           `json:"type"`
	FromAddress     string           `json:"fromAddress"`
	ToAddress       string           `json:"toAddress"`
	TransactionHash string           `json:"transactionHash"`
	Hash            string           `json:"hash"`
	ContractAddress string           `json:"contractAddress"`
	TokenId         flexibleId       `json:"tokenId"`
	Log             webhookLog       `json:"log"`
	Event           webhookEventMeta `json:"event"`
}

type webhookLog struct {
	Address string `json:"address"`
}

type webhookEventMeta struct {
	Erc721Metadata  *webhookTokenMeta  `json:"erc721Metadata"`
	Erc1155Metadata []webhookTokenMeta `json:"erc1155Metadata"`
}

type webhookTokenMeta struct {
	TokenId string `json:"tokenId"`
}

// flexibleId tolerates ids delivered as JSON strings or numbers.
type flexibleId string

func (f *flexibleId) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return err
	}
	switch v := value.(type) {
	case string:
		*f = flexibleId(v)
	case json.Number:
		*f = flexibleId(v.String())
	default:
		*f = ""
	}
	return nil
}

// parseWebhookActivities accepts both delivery formats: a batched
// {"activity": [...]} envelope and a single event at the top level. Events
// of a foreign type or without a transaction hash are dropped; everything
// else becomes a normalized activity, with contract filtering left to the
// aggregator.
func parseWebhookActivities(body []byte) []sales.Activity {
	var envelope struct {
		Activity []json.RawMessage `json:"activity"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		zap.L().Warn("Discarding malformed webhook payload", zap.Error(err))
		return nil
	}

	raws := envelope.Activity
	if len(raws) == 0 {
		raws = []json.RawMessage{body}
	}

	var activities []sales.Activity
	for _, raw := range raws {
		var event webhookEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			zap.L().Warn("Discarding malformed webhook event", zap.Error(err))
			continue
		}
		if event.Type != nftActivityType {
			zap.L().Debug("Skipping webhook event of foreign type", zap.String("type", event.Type))
			continue
		}
		txHash := event.TransactionHash
		if txHash == "" {
			txHash = event.Hash
		}
		if txHash == "" {
			zap.L().Warn("Skipping webhook event without transaction hash")
			continue
		}

		contract := event.Log.Address
		if contract == "" {
			contract = event.ContractAddress
		}

		activity := sales.Activity{
			TxHash:   txHash,
			Contract: contract,
			From:     event.FromAddress,
			To:       event.ToAddress,
			TokenID:  event.tokenId(),
		}
		activities = append(activities, *sales.NormalizeActivity(&activity))
	}
	return activities
}

// tokenId resolves the id from its standard-dependent locations: the ERC-721
// metadata, the first ERC-1155 entry, then the top-level field.
func (e *webhookEvent) tokenId() string {
	if e.Event.Erc721Metadata != nil && e.Event.Erc721Metadata.TokenId != "" {
		return e.Event.Erc721Metadata.TokenId
	}
	if len(e.Event.Erc1155Metadata) > 0 && e.Event.Erc1155Metadata[0].TokenId != "" {
		return e.Event.Erc1155Metadata[0].TokenId
	}
	return string(e.TokenId)
}
