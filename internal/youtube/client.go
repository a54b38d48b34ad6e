// Package youtube talks to the YouTube Data API for the updater: it lists
// the channel's uploads, renames videos and files them into per-game
// playlists.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/text/cases"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/tbourn/boss-title-updater/internal/domain"
	"github.com/tbourn/boss-title-updater/internal/retry"
)

var (
	// ErrVideoNotFound is returned when a video id does not resolve.
	ErrVideoNotFound = errors.New("youtube: video not found")
	// ErrNoChannel means the authorized account has no channel.
	ErrNoChannel = errors.New("youtube: no channel for the authorized account")
	// ErrQuotaExceeded is the daily quota error; retrying the same day cannot help.
	ErrQuotaExceeded = errors.New("youtube: quota exceeded")
)

// ThumbnailURL is the max-resolution thumbnail of a video.
func ThumbnailURL(videoID string) string {
	return "https://img.youtube.com/vi/" + videoID + "/maxresdefault.jpg"
}

// VideoURL links to a video.
func VideoURL(videoID string) string { return "https://www.youtube.com/watch?v=" + videoID }

// PlaylistURL links to a playlist.
func PlaylistURL(playlistID string) string {
	return "https://www.youtube.com/playlist?list=" + playlistID
}

// Client implements the pipeline's video source, title updater and
// playlist manager on top of the Data API.
type Client struct {
	svc   *yt.Service
	Retry retry.Config
	// PlaylistPrivacy applies to playlists the client creates.
	PlaylistPrivacy string

	mu        sync.Mutex
	playlists map[string]string // folded title -> id
}

// NewClient builds a client authorized by ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*Client, error) {
	return NewClientWithOptions(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
}

// NewClientWithOptions builds a client from raw client options. Tests point
// it at an httptest server with option.WithEndpoint and option.WithHTTPClient.
func NewClientWithOptions(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Client{
		svc:             svc,
		Retry:           retry.DefaultConfig(),
		PlaylistPrivacy: "public",
		playlists:       map[string]string{},
	}, nil
}

func (c *Client) do(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(ctx, c.Retry, retry.IsRetryable, func(ctx context.Context) error {
		return classify(op(ctx))
	})
}

// ListVideos returns every upload of the authorized channel.
func (c *Client) ListVideos(ctx context.Context) ([]domain.Video, error) {
	var uploads string
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.svc.Channels.List([]string{"contentDetails"}).Mine(true).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil || resp.Items[0].ContentDetails.RelatedPlaylists == nil {
			return retry.Permanent(ErrNoChannel)
		}
		uploads = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
		return nil
	})
	if err != nil {
		return nil, err
	}

	var videos []domain.Video
	pageToken := ""
	for {
		var resp *yt.PlaylistItemListResponse
		err := c.do(ctx, func(ctx context.Context) error {
			r, err := c.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
				PlaylistId(uploads).
				MaxResults(50).
				PageToken(pageToken).
				Context(ctx).
				Do()
			resp = r
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			if v, ok := fromPlaylistItem(item); ok {
				videos = append(videos, v)
			}
		}
		if pageToken = resp.NextPageToken; pageToken == "" {
			break
		}
	}
	log.Info().Int("videos", len(videos)).Msg("youtube: uploads listed")
	return videos, nil
}

func fromPlaylistItem(item *yt.PlaylistItem) (domain.Video, bool) {
	var v domain.Video
	if item.ContentDetails != nil {
		v.ID = item.ContentDetails.VideoId
	}
	if item.Snippet != nil {
		if v.ID == "" && item.Snippet.ResourceId != nil {
			v.ID = item.Snippet.ResourceId.VideoId
		}
		v.Title = item.Snippet.Title
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			v.PublishedAt = t
		}
	}
	if v.ID == "" {
		return v, false
	}
	v.ThumbnailURL = ThumbnailURL(v.ID)
	return v, true
}

// GetVideo fetches a single video by id.
func (c *Client) GetVideo(ctx context.Context, id string) (domain.Video, error) {
	var v domain.Video
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.svc.Videos.List([]string{"snippet"}).Id(id).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
			return retry.Permanent(fmt.Errorf("%w: %s", ErrVideoNotFound, id))
		}
		s := resp.Items[0].Snippet
		v = domain.Video{ID: id, Title: s.Title, ThumbnailURL: ThumbnailURL(id)}
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			v.PublishedAt = t
		}
		return nil
	})
	return v, err
}

// UpdateTitle replaces the video's title, keeping the rest of its snippet.
func (c *Client) UpdateTitle(ctx context.Context, id, title string) error {
	return c.do(ctx, func(ctx context.Context) error {
		resp, err := c.svc.Videos.List([]string{"snippet"}).Id(id).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
			return retry.Permanent(fmt.Errorf("%w: %s", ErrVideoNotFound, id))
		}
		snippet := resp.Items[0].Snippet
		snippet.Title = title
		_, err = c.svc.Videos.Update([]string{"snippet"}, &yt.Video{Id: id, Snippet: snippet}).Context(ctx).Do()
		return err
	})
}

// EnsurePlaylist returns the id of the playlist titled game
// (case-insensitive), creating it when absent. Calls are serialized so
// concurrent workers never create the same playlist twice.
func (c *Client) EnsurePlaylist(ctx context.Context, game string) (string, error) {
	key := cases.Fold().String(strings.TrimSpace(game))
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.playlists[key]; ok {
		return id, nil
	}

	if err := c.loadPlaylists(ctx); err != nil {
		return "", err
	}
	if id, ok := c.playlists[key]; ok {
		return id, nil
	}

	var id string
	err := c.do(ctx, func(ctx context.Context) error {
		p, err := c.svc.Playlists.Insert([]string{"snippet", "status"}, &yt.Playlist{
			Snippet: &yt.PlaylistSnippet{
				Title:       game,
				Description: "PS5 gameplay videos for " + game,
			},
			Status: &yt.PlaylistStatus{PrivacyStatus: c.PlaylistPrivacy},
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		id = p.Id
		return nil
	})
	if err != nil {
		return "", err
	}
	c.playlists[key] = id
	log.Info().Str("game", game).Str("playlist_id", id).Msg("youtube: playlist created")
	return id, nil
}

func (c *Client) loadPlaylists(ctx context.Context) error {
	pageToken := ""
	for {
		var resp *yt.PlaylistListResponse
		err := c.do(ctx, func(ctx context.Context) error {
			r, err := c.svc.Playlists.List([]string{"snippet"}).Mine(true).MaxResults(50).PageToken(pageToken).Context(ctx).Do()
			resp = r
			return err
		})
		if err != nil {
			return err
		}
		for _, p := range resp.Items {
			if p.Snippet == nil {
				continue
			}
			key := cases.Fold().String(strings.TrimSpace(p.Snippet.Title))
			if _, seen := c.playlists[key]; !seen {
				c.playlists[key] = p.Id
			}
		}
		if pageToken = resp.NextPageToken; pageToken == "" {
			return nil
		}
	}
}

// AddToPlaylist inserts the video. A video already in the playlist counts
// as success.
func (c *Client) AddToPlaylist(ctx context.Context, playlistID, videoID string) error {
	return c.do(ctx, func(ctx context.Context) error {
		_, err := c.svc.PlaylistItems.Insert([]string{"snippet"}, &yt.PlaylistItem{
			Snippet: &yt.PlaylistItemSnippet{
				PlaylistId: playlistID,
				ResourceId: &yt.ResourceId{Kind: "youtube#video", VideoId: videoID},
			},
		}).Context(ctx).Do()
		if hasReason(err, "videoAlreadyInPlaylist") {
			log.Debug().Str("video_id", videoID).Str("playlist_id", playlistID).Msg("youtube: already in playlist")
			return nil
		}
		return err
	})
}

func hasReason(err error, reason string) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	for _, e := range gerr.Errors {
		if e.Reason == reason {
			return true
		}
	}
	return strings.Contains(gerr.Message, reason)
}

// classify marks API errors that retrying cannot fix as permanent.
func classify(err error) error {
	if err == nil || retry.IsPermanent(err) {
		return err
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	switch {
	case hasReason(err, "quotaExceeded") || hasReason(err, "dailyLimitExceeded"):
		return retry.Permanent(fmt.Errorf("%w: %v", ErrQuotaExceeded, err))
	case hasReason(err, "rateLimitExceeded") || hasReason(err, "userRateLimitExceeded"):
		return err
	case gerr.Code == http.StatusRequestTimeout || gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return err
	case gerr.Code >= 400:
		return retry.Permanent(err)
	}
	return err
}
