package identify

import (
	"context"

	"github.com/tbourn/boss-title-updater/internal/domain"
)

// ThumbnailStrategy asks the model about the video thumbnail. It is the
// cheap first stage.
type ThumbnailStrategy struct {
	Vision Vision
}

func (ThumbnailStrategy) Name() string { return domain.SourceThumbnail }

func (s ThumbnailStrategy) Identify(ctx context.Context, req Request) (string, error) {
	if req.ThumbnailURL == "" {
		return "", ErrUnknown
	}
	if err := req.wait(ctx); err != nil {
		return "", err
	}
	raw, err := s.Vision.Ask(ctx, BuildPrompt(req.Game, req.Bosses), []string{req.ThumbnailURL})
	if err != nil {
		return "", err
	}
	return ParseAnswer(raw)
}

// FrameSource extracts still frames from a video as image data URLs.
type FrameSource interface {
	Frames(ctx context.Context, videoID string) ([]string, error)
}

// FramesStrategy extracts frames from the video and asks the model about all
// of them at once. It is the expensive second stage.
type FramesStrategy struct {
	Vision Vision
	Frames FrameSource
}

func (FramesStrategy) Name() string { return domain.SourceFrames }

func (s FramesStrategy) Identify(ctx context.Context, req Request) (string, error) {
	frames, err := s.Frames.Frames(ctx, req.VideoID)
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", ErrUnknown
	}
	if err := req.wait(ctx); err != nil {
		return "", err
	}
	raw, err := s.Vision.Ask(ctx, BuildPrompt(req.Game, req.Bosses), frames)
	if err != nil {
		return "", err
	}
	return ParseAnswer(raw)
}
