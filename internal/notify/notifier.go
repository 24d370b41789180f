package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/nftpulse/nftpulse/internal/media"
	"github.com/nftpulse/nftpulse/pkg/sales"
	"go.uber.org/zap"
)

const (
	notifySendTimeout = 15 * time.Second

	// Hard display limits of the chat service.
	maxEmbedImageURLLength = 2000
	maxFieldValueLength    = 1024
	maxSecondaryImages     = 5

	embedFooterText = "NFT Sales Monitor"
)

// Notifier delivers a finished sale notification to the chat sink.
type Notifier interface {
	Notify(ctx context.Context, payload *SalePayload) error
}

// DefaultNotifier posts Discord-compatible webhook messages. When the payload
// carries raw image bytes the message goes out as multipart with the image
// attached and the embed pointing at the attachment, otherwise as plain JSON
// with the embed pointing at the image URL.
type DefaultNotifier struct {
	httpClient     *http.Client
	webhookUrl     string
	explorerTxUrl  string
	currencySymbol string
}

func NewDefaultNotifier(webhookUrl string, explorerTxUrl string, currencySymbol string) *DefaultNotifier {
	return &DefaultNotifier{
		httpClient:     &http.Client{Timeout: notifySendTimeout},
		webhookUrl:     webhookUrl,
		explorerTxUrl:  explorerTxUrl,
		currencySymbol: currencySymbol,
	}
}

type chatMessage struct {
	Embeds []chatEmbed `json:"embeds"`
}

type chatEmbed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Timestamp   string      `json:"timestamp,omitempty"`
	Image       *chatImage  `json:"image,omitempty"`
	Fields      []chatField `json:"fields,omitempty"`
	Footer      *chatFooter `json:"footer,omitempty"`
}

type chatImage struct {
	URL string `json:"url"`
}

type chatField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type chatFooter struct {
	Text string `json:"text"`
}

func (n *DefaultNotifier) Notify(ctx context.Context, payload *SalePayload) error {
	if n.webhookUrl == "" {
		return errors.New("chat webhook URL is not configured")
	}

	message, filename := n.buildMessage(payload)

	var req *http.Request
	var err error
	if len(payload.ImageData) > 0 {
		req, err = n.multipartRequest(ctx, message, filename, payload.ImageData)
	} else {
		req, err = n.jsonRequest(ctx, message)
	}
	if err != nil {
		return err
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post chat notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	zap.L().Info("Posted sale notification",
		zap.String("txHash", payload.Event.TxHash),
		zap.String("category", message.Embeds[0].Title),
		zap.Int("tokenCount", payload.Event.TokenCount()),
		zap.Bool("attachedImage", len(payload.ImageData) > 0))
	return nil
}

// buildMessage renders the embed. The second return value is the attachment
// filename, empty when the message carries no file.
func (n *DefaultNotifier) buildMessage(payload *SalePayload) (*chatMessage, string) {
	event := payload.Event
	category := sales.CategoryForCount(event.TokenCount())

	symbol := n.currencySymbol
	if event.IsWrapped {
		symbol = "W" + symbol
	}

	embed := chatEmbed{
		Title:       category.Label,
		Description: sales.FormatPrice(event.TotalPrice, symbol),
		Color:       category.Color,
		Timestamp:   embedTimestamp(event.Timestamp),
		Footer:      &chatFooter{Text: embedFooterText},
	}

	filename := ""
	if len(payload.ImageData) > 0 {
		filename = attachmentFilename(event, payload.ImageURLs)
		embed.Image = &chatImage{URL: "attachment://" + filename}
	} else if url := embedImageURL(payload.ImageURLs); url != "" {
		embed.Image = &chatImage{URL: url}
	}

	embed.Fields = append(embed.Fields, chatField{
		Name:  "Transaction",
		Value: fmt.Sprintf("[View on Etherscan](%s%s)", n.explorerTxUrl, event.TxHash),
	})

	if count := event.TokenCount(); count > 1 {
		value := sales.TokenIDSummary(event.TokenIDs)
		if len(value) > maxFieldValueLength {
			value = value[:maxFieldValueLength]
		}
		embed.Fields = append(embed.Fields, chatField{
			Name:  fmt.Sprintf("Token IDs (%d NFTs)", count),
			Value: value,
		})
	} else if count == 1 {
		embed.Fields = append(embed.Fields, chatField{
			Name:   "Token ID",
			Value:  event.TokenIDs[0],
			Inline: true,
		})
	}

	if links := secondaryImageLinks(payload.ImageURLs); links != "" {
		embed.Fields = append(embed.Fields, chatField{
			Name:  "Additional Images",
			Value: links,
		})
	}

	return &chatMessage{Embeds: []chatEmbed{embed}}, filename
}

func (n *DefaultNotifier) jsonRequest(ctx context.Context, message *chatMessage) (*http.Request, error) {
	encoded, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookUrl, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (n *DefaultNotifier) multipartRequest(ctx context.Context, message *chatMessage, filename string, image []byte) (*http.Request, error) {
	encoded, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat message: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("payload_json", string(encoded)); err != nil {
		return nil, fmt.Errorf("failed to write chat payload part: %w", err)
	}
	part, err := writer.CreateFormFile("files[0]", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write chat file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish chat request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookUrl, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

func embedTimestamp(unix uint64) string {
	ts := time.Now().UTC()
	if unix > 0 {
		ts = time.Unix(int64(unix), 0).UTC()
	}
	return ts.Format(time.RFC3339)
}

// embedImageURL picks the primary image URL for the embed body.
// Transformation-service URLs are excluded, the chat client cannot fetch
// those and fails silently.
func embedImageURL(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	url := strings.TrimSpace(urls[0])
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ""
	}
	if len(url) > maxEmbedImageURLLength {
		url = url[:maxEmbedImageURLLength]
	}
	if media.IsTransformServiceURL(url) {
		return ""
	}
	return url
}

func secondaryImageLinks(urls []string) string {
	if len(urls) <= 1 {
		return ""
	}
	rest := urls[1:]
	if len(rest) > maxSecondaryImages {
		rest = rest[:maxSecondaryImages]
	}
	links := make([]string, 0, len(rest))
	for i, url := range rest {
		links = append(links, fmt.Sprintf("[Image %d](%s)", i+1, url))
	}
	return strings.Join(links, " | ")
}

func attachmentFilename(event *sales.SaleEvent, urls []string) string {
	token := "image"
	if len(event.TokenIDs) > 0 && event.TokenIDs[0] != "" {
		token = event.TokenIDs[0]
	}
	return fmt.Sprintf("nft_%s.%s", token, attachmentExtension(urls))
}

func attachmentExtension(urls []string) string {
	if len(urls) == 0 {
		return "png"
	}
	url := strings.ToLower(urls[0])
	switch {
	case strings.Contains(url, ".jpg"), strings.Contains(url, ".jpeg"):
		return "jpg"
	case strings.Contains(url, ".gif"):
		return "gif"
	case strings.Contains(url, ".webp"):
		return "webp"
	default:
		return "png"
	}
}
