package controller

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"nourish_backend/internal/entitlement"
	"nourish_backend/internal/middleware"
	"nourish_backend/internal/speech"
	"nourish_backend/pkg/subscription"
	"nourish_backend/pkg/utils/cloudflare"
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*speech.Audio, error)
}

type AudioLibrary interface {
	Put(ctx context.Context, userID, voice string, audio []byte, contentType string) (cloudflare.Clip, error)
	List(ctx context.Context, userID string) ([]cloudflare.Clip, error)
}

type SpeechInput struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type AudioController struct {
	ent     *entitlement.Service
	speech  Synthesizer
	library AudioLibrary
	log     zerolog.Logger
}

func NewAudioController(ent *entitlement.Service, synth Synthesizer, library AudioLibrary, log zerolog.Logger) *AudioController {
	return &AudioController{ent: ent, speech: synth, library: library, log: log}
}

// GenerateSpeech runs check, synthesize, store, increment. A concurrent
// request may pass the check in between, so the audio quota is a soft limit
// here; the counter only moves after audio was produced and stored.
func (a *AudioController) GenerateSpeech(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	input := new(SpeechInput)
	if err := c.BodyParser(input); err != nil {
		return invalidInput("invalid request body")
	}
	if err := speech.Validate(input.Text); err != nil {
		return err
	}

	ctx := c.UserContext()
	res, err := a.ent.Check(ctx, userID, subscription.GenerateAudio)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(res)
	}

	audio, err := a.speech.Synthesize(ctx, input.Text, strings.TrimSpace(input.Voice))
	if err != nil {
		return err
	}

	voice := strings.TrimSpace(input.Voice)
	if voice == "" {
		voice = speech.DefaultVoice
	}
	clip, err := a.library.Put(ctx, userID, voice, audio.Data, audio.ContentType)
	if err != nil {
		return err
	}

	count, err := a.ent.Increment(ctx, userID, subscription.AudioUsage)
	if err != nil {
		a.log.Error().Err(err).Str("user_id", userID).Str("key", clip.Key).Msg("audio stored but usage not recorded")
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"clip":       clip,
		"audio_used": count,
	})
}

// ListLibrary returns the caller's stored clips, newest first.
func (a *AudioController) ListLibrary(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return err
	}
	clips, err := a.library.List(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"clips": clips,
	})
}
