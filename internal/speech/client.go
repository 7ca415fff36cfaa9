// Package speech is the text-to-speech collaborator behind audio meditations.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"nourish_backend/internal/metrics"
	"nourish_backend/pkg/apperr"
)

const (
	MaxTextLength  = 5000
	DefaultVoice   = "21m00Tcm4TlvDq8ikWAM"
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	maxAudioBytes  = 20 << 20
)

type Audio struct {
	Data        []byte
	ContentType string
}

type Client struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
	log     zerolog.Logger
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func NewClient(apiKey, baseURL, model string, timeout time.Duration, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "speech").Logger(),
	}
}

// Validate checks the synthesis input without calling the provider.
func Validate(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("text is required: %w", apperr.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return fmt.Errorf("text exceeds %d characters: %w", MaxTextLength, apperr.ErrInvalidInput)
	}
	return nil
}

// Synthesize converts text to speech with the given voice. Provider and
// transport failures are reported as upstream errors.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if err := Validate(text); err != nil {
		return nil, err
	}
	if voice == "" {
		voice = DefaultVoice
	}

	body, err := json.Marshal(synthesisRequest{
		Text:          strings.TrimSpace(text),
		ModelID:       c.model,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("encode speech request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, url.PathEscape(voice))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build speech request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamLatency.WithLabelValues("speech").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues("speech", "error").Inc()
		c.log.Warn().Err(err).Str("voice", voice).Msg("speech request failed")
		return nil, fmt.Errorf("speech request: %v: %w", err, apperr.ErrUpstream)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues("speech", "error").Inc()
		return nil, fmt.Errorf("read speech response: %v: %w", err, apperr.ErrUpstream)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UpstreamCalls.WithLabelValues("speech", "error").Inc()
		c.log.Warn().Int("status", resp.StatusCode).Str("voice", voice).Msg("speech provider rejected request")
		return nil, fmt.Errorf("speech provider status %d: %w", resp.StatusCode, apperr.ErrUpstream)
	}
	if len(data) == 0 {
		metrics.UpstreamCalls.WithLabelValues("speech", "error").Inc()
		return nil, fmt.Errorf("speech provider returned no audio: %w", apperr.ErrUpstream)
	}

	metrics.UpstreamCalls.WithLabelValues("speech", "ok").Inc()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return &Audio{Data: data, ContentType: contentType}, nil
}
