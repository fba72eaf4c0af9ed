package sms

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/config"
)

// SENSClient sends messages through the NCP Simple & Easy Notification
// Service v2 API.
type SENSClient struct {
	httpClient  *http.Client
	baseURL     string
	accessKey   string
	secretKey   string
	serviceID   string
	sender      string
	messageText string
	clock       clockwork.Clock
	logger      *logrus.Logger
}

func NewSENSClient(cfg *config.SMSConfig, clock clockwork.Clock, logger *logrus.Logger) *SENSClient {
	return &SENSClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessKey:   cfg.AccessKey,
		secretKey:   cfg.SecretKey,
		serviceID:   cfg.ServiceID,
		sender:      cfg.Sender,
		messageText: cfg.MessageText,
		clock:       clock,
		logger:      logger,
	}
}

type sensRecipient struct {
	To string `json:"to"`
}

type sensMessage struct {
	Type     string          `json:"type"`
	From     string          `json:"from"`
	Content  string          `json:"content"`
	Messages []sensRecipient `json:"messages"`
}

func (c *SENSClient) uri() string {
	return fmt.Sprintf("/sms/v2/services/%s/messages", c.serviceID)
}

// MakeSignature returns the x-ncp-apigw-signature-v2 header value for a
// request: base64(HMAC-SHA256(secret, "METHOD URI\nTIMESTAMP\nACCESSKEY")).
func MakeSignature(secretKey, method, uri, timestamp, accessKey string) string {
	message := method + " " + uri + "\n" + timestamp + "\n" + accessKey
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *SENSClient) SendCode(ctx context.Context, phoneNumber string, code int) error {
	body, err := json.Marshal(sensMessage{
		Type:     "SMS",
		From:     c.sender,
		Content:  fmt.Sprintf(c.messageText, code),
		Messages: []sensRecipient{{To: phoneNumber}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal SMS request: %w", err)
	}

	uri := c.uri()
	timestamp := strconv.FormatInt(c.clock.Now().UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uri, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("x-ncp-apigw-timestamp", timestamp)
	req.Header.Set("x-ncp-iam-access-key", c.accessKey)
	req.Header.Set("x-ncp-apigw-signature-v2", MakeSignature(c.secretKey, http.MethodPost, uri, timestamp, c.accessKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	// SENS answers 202 Accepted on success
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(detail),
		}).Warn("SMS provider rejected request")
		return fmt.Errorf("SMS provider returned status %d", resp.StatusCode)
	}

	return nil
}

var (
	_ Sender = (*SENSClient)(nil)
	_ Sender = (*DryRunSender)(nil)
)
