// Package openai implements the synth.Synthesizer interface using the OpenAI
// speech endpoint. Audio is requested in raw PCM format: 24kHz, 16-bit,
// mono, little-endian.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/parlance-dev/parlance/pkg/synth"
)

var _ synth.Synthesizer = (*Synthesizer)(nil)

// pcmSampleRate is the fixed output rate of the OpenAI speech endpoint's raw
// PCM format.
const pcmSampleRate = 24000

// config holds optional configuration for the synthesizer.
type config struct {
	baseURL string
	model   oai.SpeechModel
	voice   oai.AudioSpeechNewParamsVoice
	speed   float64
	timeout time.Duration
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Primarily used in
// tests to point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model. Default: tts-1.
func WithModel(model oai.SpeechModel) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice. Default: alloy.
func WithVoice(voice oai.AudioSpeechNewParamsVoice) Option {
	return func(c *config) { c.voice = voice }
}

// WithSpeed sets the speaking speed (0.25–4.0). Default: provider default.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Synthesizer renders text through the OpenAI speech endpoint.
type Synthesizer struct {
	client oai.Client
	cfg    config
}

// New constructs a Synthesizer.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai synth: apiKey must not be empty")
	}

	cfg := config{
		model: oai.SpeechModelTTS1,
		voice: oai.AudioSpeechNewParamsVoiceAlloy,
	}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Synthesizer{client: oai.NewClient(reqOpts...), cfg: cfg}, nil
}

// Synthesize implements synth.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("openai synth: text must not be empty")
	}

	params := oai.AudioSpeechNewParams{
		Model:          s.cfg.model,
		Input:          text,
		Voice:          s.cfg.voice,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if s.cfg.speed > 0 {
		params.Speed = oai.Float(s.cfg.speed)
	}

	res, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai synth: speech request: %w", err)
	}
	defer res.Body.Close()

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("openai synth: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("openai synth: empty audio response")
	}
	return pcm, nil
}

// SampleRate implements synth.Synthesizer.
func (s *Synthesizer) SampleRate() int { return pcmSampleRate }
