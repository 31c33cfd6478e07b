package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// HTTPProvider talks to a media-room provider over its REST API.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

func NewHTTPProvider(baseURL, apiKey string, client *http.Client, logger zerolog.Logger) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
		logger:  logger.With().Str("component", "media_provider").Logger(),
	}
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

func (p *HTTPProvider) CreateRoom(ctx context.Context, cfg RoomConfig) (RoomRef, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "marshal room config")
	}

	var resp createRoomResponse
	if err := p.do(ctx, http.MethodPost, "/v1/rooms", bytes.NewReader(body), &resp); err != nil {
		return "", errors.Wrap(err, "create room")
	}
	if resp.RoomID == "" {
		return "", errors.New("create room: provider returned empty room id")
	}

	p.logger.Debug().Str("room_id", resp.RoomID).Str("region", cfg.Region).Msg("room created")
	return RoomRef(resp.RoomID), nil
}

func (p *HTTPProvider) DestroyRoom(ctx context.Context, ref RoomRef) error {
	if err := p.do(ctx, http.MethodDelete, "/v1/rooms/"+string(ref), nil, nil); err != nil {
		return errors.Wrap(err, "destroy room")
	}
	p.logger.Debug().Str("room_id", string(ref)).Msg("room destroyed")
	return nil
}

func (p *HTTPProvider) FetchStats(ctx context.Context, ref RoomRef) (RawStats, error) {
	var stats RawStats
	if err := p.do(ctx, http.MethodGet, "/v1/rooms/"+string(ref)+"/stats", nil, &stats); err != nil {
		return RawStats{}, errors.Wrap(err, "fetch stats")
	}
	return stats, nil
}

func (p *HTTPProvider) RequestRecovery(ctx context.Context, ref RoomRef) error {
	if err := p.do(ctx, http.MethodPost, "/v1/rooms/"+string(ref)+"/renegotiate", nil, nil); err != nil {
		return errors.Wrap(err, "request recovery")
	}
	return nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
