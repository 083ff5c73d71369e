package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportKind(t *testing.T) {
	assert.Equal(t, KindTransient, transportKind(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, transportKind(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.Equal(t, KindTransient, transportKind(errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")))
	assert.Equal(t, KindOther, transportKind(errors.New("tls: bad certificate")))
}

func TestCloudStatusKind(t *testing.T) {
	assert.Equal(t, KindAuth, cloudStatusKind(http.StatusUnauthorized, ""))
	assert.Equal(t, KindAuth, cloudStatusKind(http.StatusBadRequest, "API key not valid. Please pass a valid API key."))
	assert.Equal(t, KindQuota, cloudStatusKind(http.StatusTooManyRequests, ""))
	assert.Equal(t, KindQuota, cloudStatusKind(http.StatusBadRequest, "You exceeded your current quota"))
	assert.Equal(t, KindStatus, cloudStatusKind(http.StatusBadGateway, "upstream"))
}

func TestProviderError(t *testing.T) {
	err := &ProviderError{Provider: "gemini", Model: "gemini-1.5-pro", Kind: KindQuota, StatusCode: 429, Err: errors.New("slow down")}
	assert.Equal(t, "gemini (gemini-1.5-pro) quota status 429: slow down", err.Error())

	wrapped := fmt.Errorf("route: %w", err)
	assert.Equal(t, KindQuota, KindOf(wrapped))
	assert.True(t, IsQuota(wrapped))
	assert.False(t, IsAuth(wrapped))
	assert.Equal(t, KindOther, KindOf(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}
