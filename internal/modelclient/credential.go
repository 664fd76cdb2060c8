// Package modelclient is the Remote Model Client: it resolves provider
// credentials and speaks both the Planner Protocol (plain chat completion,
// via the go-openai SDK against a custom base URL) and the Tool-Loop
// Protocol (a bespoke /responses-shaped request/response carrying
// function_call items and a previous_response_id continuation token,
// issued over raw net/http since the SDK's typed structs don't model it).
package modelclient

import (
	"context"
	"os"
	"strings"

	"github.com/methings/brainctl/internal/storage"
)

// envByCredentialName is the fixed credential-name-to-env-var mapping used
// when no stored credential exists.
var envByCredentialName = map[string]string{
	"openai_api_key":     "OPENAI_API_KEY",
	"anthropic_api_key":  "ANTHROPIC_API_KEY",
	"kimi_api_key":       "KIMI_API_KEY",
	"moonshot_api_key":   "KIMI_API_KEY",
}

// ResolveAPIKey looks up a provider API key: a stored credential named
// credentialName first, then the apiKeyEnv override if set, then the
// fixed env var mapping for credentialName.
func ResolveAPIKey(ctx context.Context, store storage.Adapter, credentialName, apiKeyEnv string) (string, error) {
	if credentialName != "" {
		cred, err := store.GetCredential(ctx, credentialName)
		if err == nil && cred != nil && strings.TrimSpace(cred.Value) != "" {
			return cred.Value, nil
		}
		if err != nil && err != storage.ErrNotFound {
			return "", err
		}
	}
	if apiKeyEnv != "" {
		if v := os.Getenv(apiKeyEnv); v != "" {
			return v, nil
		}
	}
	if envVar, ok := envByCredentialName[credentialName]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	return "", nil
}
