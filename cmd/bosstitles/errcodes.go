package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/tbourn/boss-title-updater/internal/config"
	"github.com/tbourn/boss-title-updater/internal/identify"
	"github.com/tbourn/boss-title-updater/internal/media"
	"github.com/tbourn/boss-title-updater/internal/services"
	"github.com/tbourn/boss-title-updater/internal/youtube"
)

const (
	codeAuthFailed        = "E001"
	codeConfigNotFound    = "E002"
	codeConfigInvalid     = "E003"
	codeClientSecret      = "E004"
	codeRateLimit         = "E005"
	codeUnidentified      = "E006"
	codeVideoNotFound     = "E007"
	codeTitleUpdateFailed = "E008"
	codePlaylistFailed    = "E009"
	codeFrameExtraction   = "E010"
	codeVisionAPI         = "E011"
	codeYouTubeAPI        = "E012"
	codeSheetsAPI         = "E013"
	codeNetwork           = "E014"
	codeProcessing        = "E015"
)

type errorInfo struct {
	Message string
	Hint    string
	Docs    string
}

var errorCatalog = map[string]errorInfo{
	codeAuthFailed: {
		Message: "Authentication failed",
		Hint:    "Make sure the OAuth client secret exists and is valid. Delete the cached token file to re-authenticate.",
		Docs:    "https://developers.google.com/youtube/v3/guides/auth/installed-apps",
	},
	codeConfigNotFound: {
		Message: "Configuration file not found",
		Hint:    "Check the path given with --config or CONFIG_FILE. Without a file, defaults and environment variables are used.",
	},
	codeConfigInvalid: {
		Message: "Configuration validation failed",
		Hint:    "Check the config file and environment for missing or invalid values.",
	},
	codeClientSecret: {
		Message: "OAuth client secret not found",
		Hint:    "Download OAuth 2.0 desktop credentials from the Google Cloud Console and point YOUTUBE_CLIENT_SECRET at the file.",
		Docs:    "https://console.cloud.google.com/apis/credentials",
	},
	codeRateLimit: {
		Message: "API rate limit or quota exceeded",
		Hint:    "Wait before retrying (YouTube quota resets daily) or raise RATE_LIMIT_DELAY.",
		Docs:    "https://developers.google.com/youtube/v3/getting-started#quota",
	},
	codeUnidentified: {
		Message: "Could not identify boss from video",
		Hint:    "The video may not show a clear boss fight. Try other FRAME_TIMESTAMPS and rerun with --force.",
	},
	codeVideoNotFound: {
		Message: "Video not found",
		Hint:    "The video may be deleted or private, or it was never processed. Check the video ID.",
	},
	codeTitleUpdateFailed: {
		Message: "Failed to update video title",
		Hint:    "Check that the authorized account owns the video and the token has the youtube.force-ssl scope.",
		Docs:    "https://developers.google.com/youtube/v3/docs/videos/update",
	},
	codePlaylistFailed: {
		Message: "Failed to create or update playlist",
		Hint:    "Check YouTube quota and OAuth permissions.",
		Docs:    "https://developers.google.com/youtube/v3/docs/playlists/insert",
	},
	codeFrameExtraction: {
		Message: "Could not extract frames from video",
		Hint:    "Ensure yt-dlp and ffmpeg are installed and on PATH (or set YTDLP_PATH and FFMPEG_PATH). Try: ffmpeg -version",
		Docs:    "https://ffmpeg.org/download.html",
	},
	codeVisionAPI: {
		Message: "Vision API error",
		Hint:    "Check OPENAI_API_KEY or GEMINI_API_KEY and the account's billing status.",
	},
	codeYouTubeAPI: {
		Message: "YouTube API error",
		Hint:    "Check the quota at https://console.cloud.google.com/apis/api/youtube.googleapis.com/quotas",
		Docs:    "https://developers.google.com/youtube/v3/docs/errors",
	},
	codeSheetsAPI: {
		Message: "Google Sheets API error",
		Hint:    "Ensure the Google Sheets API is enabled in the Cloud project and SPREADSHEET_ID is shared with the account.",
		Docs:    "https://console.cloud.google.com/apis/library/sheets.googleapis.com",
	},
	codeNetwork: {
		Message: "Network connection error",
		Hint:    "Check the internet connection and proxy settings and try again.",
	},
	codeProcessing: {
		Message: "Unexpected error during processing",
		Hint:    "Rerun with --verbose for detailed logs.",
	},
}

// codedError pins an error code chosen at the call site.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code string, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

// diagnose picks the error code for err. A code pinned with withCode wins
// over one derived from the error chain.
func diagnose(err error) string {
	var ce *codedError
	var nerr net.Error
	var gerr *googleapi.Error
	switch {
	case errors.As(err, &ce):
		return ce.code
	case errors.Is(err, youtube.ErrClientSecretMissing):
		return codeClientSecret
	case errors.Is(err, youtube.ErrAuthorization):
		return codeAuthFailed
	case errors.Is(err, config.ErrMissingAPIKey):
		return codeConfigInvalid
	case errors.Is(err, youtube.ErrQuotaExceeded):
		return codeRateLimit
	case errors.Is(err, services.ErrUnidentified), errors.Is(err, identify.ErrUnknown):
		return codeUnidentified
	case errors.Is(err, youtube.ErrVideoNotFound), errors.Is(err, services.ErrNotFound):
		return codeVideoNotFound
	case errors.Is(err, media.ErrBinaryNotFound):
		return codeFrameExtraction
	case errors.As(err, &gerr):
		return codeYouTubeAPI
	case errors.As(err, &nerr):
		return codeNetwork
	}
	return codeProcessing
}

// configCode distinguishes a missing config file from an invalid one.
func configCode(err error) string {
	if errors.Is(err, fs.ErrNotExist) {
		return codeConfigNotFound
	}
	return codeConfigInvalid
}

// formatError renders "[E00x] message", the details, and the hint and docs
// lines when present.
func formatError(code string, err error) string {
	info, ok := errorCatalog[code]
	if !ok {
		return fmt.Sprintf("unknown error code %s: %v", code, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", code, info.Message)
	if err != nil {
		fmt.Fprintf(&b, "\nDetails: %v", err)
	}
	if info.Hint != "" {
		fmt.Fprintf(&b, "\nHint: %s", info.Hint)
	}
	if info.Docs != "" {
		fmt.Fprintf(&b, "\nDocs: %s", info.Docs)
	}
	return b.String()
}
