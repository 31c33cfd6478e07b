package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// HTTPVerifier asks the security service to confirm a session's media room
// has verified transport encryption. Invoked at most once per session by
// the lifecycle manager before any participant may connect.
type HTTPVerifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

func NewHTTPVerifier(baseURL, apiKey string, client *http.Client, logger zerolog.Logger) *HTTPVerifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPVerifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
		logger:  logger.With().Str("component", "encryption_verifier").Logger(),
	}
}

type verifyResponse struct {
	EncryptionVerified bool `json:"encryption_verified"`
}

func (v *HTTPVerifier) VerifyEncryption(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	url := fmt.Sprintf("%s/v1/sessions/%s/encryption", v.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "verify encryption")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, errors.Wrap(err, "decode verifier response")
	}

	v.logger.Debug().
		Str("session_id", sessionID.String()).
		Bool("verified", out.EncryptionVerified).
		Msg("encryption verification result")

	return out.EncryptionVerified, nil
}
