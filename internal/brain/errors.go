package brain

import (
	"strings"

	"github.com/methings/brainctl/internal/audit"
)

// sanitizeError turns a model-call error into chat-safe text: secrets are
// redacted and a bare 401 is normalised to a readable sentence instead of
// leaking the provider's raw error body.
func sanitizeError(err error) string {
	msg := audit.Redact(err.Error())
	if strings.Contains(msg, "401") || strings.Contains(strings.ToLower(msg), "unauthorized") {
		return "The model provider rejected the request: check that its API key is configured."
	}
	return "I couldn't reach the model provider: " + msg
}
