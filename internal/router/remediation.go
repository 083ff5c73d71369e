package router

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/normanking/nitro/internal/llm"
)

var errNotConfigured = errors.New("adapter not configured")

const (
	msgLocalDown = "**The local AI model is not running**\n\n" +
		"Please start Ollama to use Nitro AI:\n\n" +
		"1. Open a terminal\n" +
		"2. Run: `ollama serve`\n" +
		"3. Refresh and try again\n\n" +
		"First time setup:\n" +
		"1. Install Ollama: https://ollama.com/download\n" +
		"2. Pull a model: `ollama pull llama3`\n" +
		"3. Start the server: `ollama serve`"

	msgTimeout = "**Request timeout**\n\n" +
		"The AI model took too long to respond. This can happen when the model is loading " +
		"for the first time or the machine is busy.\n\n" +
		"Try again in a moment, or use a smaller model such as `llama3.2:1b`."

	msgCloudKey = "**Cloud AI key rejected**\n\n" +
		"The cloud model refused the configured API key. Check GEMINI_API_KEY in your .env file " +
		"(get a key at https://aistudio.google.com/app/apikey)."

	msgCloudNoKey = "**No cloud AI key configured**\n\n" +
		"The cloud fallback needs an API key. Set GEMINI_API_KEY in your .env file " +
		"(get a key at https://aistudio.google.com/app/apikey), or start Ollama to answer locally."

	msgCloudQuota = "**Cloud AI quota exceeded**\n\n" +
		"The cloud model's quota is used up. Try again later or run a local model with Ollama."
)

// Remediation turns a routing failure into instructions a user can act on.
// The first failed attempt decides the message, so in local mode the advice
// is about the local server and in managed mode about the cloud API.
func Remediation(err error) string {
	if err == nil {
		return ""
	}

	first, adapter := err, ""
	var ex *ExhaustedError
	if errors.As(err, &ex) && len(ex.Attempts) > 0 {
		first, adapter = ex.Attempts[0].Err, ex.Attempts[0].Adapter
	}

	switch {
	case isTimeout(first):
		return msgTimeout
	case errors.Is(first, llm.ErrNoAPIKey):
		return msgCloudNoKey
	case llm.IsAuth(first):
		return msgCloudKey
	case llm.IsQuota(first):
		return msgCloudQuota
	case llm.IsTransient(first), errors.Is(first, errNotConfigured) && adapter == "local":
		return msgLocalDown
	}

	return "**AI service error**\n\n" +
		"No model could answer this request.\n\n" +
		"Quick setup (free):\n" +
		"1. Install: https://ollama.com/download\n" +
		"2. Pull a model: `ollama pull llama3`\n" +
		"3. Start the server: `ollama serve`\n\n" +
		fmt.Sprintf("Technical details: %v", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
