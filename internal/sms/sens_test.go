package sms

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/smsregister/smsregister/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig(baseURL string) *config.SMSConfig {
	return &config.SMSConfig{
		BaseURL:     baseURL,
		AccessKey:   "access",
		SecretKey:   "secret",
		ServiceID:   "svc-1",
		Sender:      "0212345678",
		Timeout:     time.Second,
		MessageText: "code [%d]",
	}
}

func TestMakeSignature(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("POST /sms/v2/services/svc-1/messages\n1700000000000\naccess"))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, MakeSignature("secret", "POST", "/sms/v2/services/svc-1/messages", "1700000000000", "access"))
	assert.NotEqual(t, expected, MakeSignature("other", "POST", "/sms/v2/services/svc-1/messages", "1700000000000", "access"))
}

func TestSENSClientSendCode(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1700000000000))

	var got sensMessage
	var headers http.Header
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		headers = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewSENSClient(testConfig(server.URL), clock, testLogger())
	require.NoError(t, client.SendCode(context.Background(), "01012345678", 4321))

	assert.Equal(t, "/sms/v2/services/svc-1/messages", path)
	assert.Equal(t, "1700000000000", headers.Get("x-ncp-apigw-timestamp"))
	assert.Equal(t, "access", headers.Get("x-ncp-iam-access-key"))
	assert.Equal(t, MakeSignature("secret", "POST", path, "1700000000000", "access"), headers.Get("x-ncp-apigw-signature-v2"))

	assert.Equal(t, "SMS", got.Type)
	assert.Equal(t, "0212345678", got.From)
	assert.Equal(t, "code [4321]", got.Content)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "01012345678", got.Messages[0].To)
}

func TestSENSClientProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errorMessage":"invalid signature"}`))
	}))
	defer server.Close()

	client := NewSENSClient(testConfig(server.URL), clockwork.NewFakeClock(), testLogger())
	err := client.SendCode(context.Background(), "01012345678", 1234)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSENSClientRespectsContext(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewSENSClient(testConfig(server.URL), clockwork.NewRealClock(), testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Error(t, client.SendCode(ctx, "01012345678", 1234))
}

func TestDryRunSender(t *testing.T) {
	assert.NoError(t, NewDryRunSender("code [%d]", testLogger()).SendCode(context.Background(), "01012345678", 1234))
}
