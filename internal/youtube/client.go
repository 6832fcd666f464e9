package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	youtubeapi "google.golang.org/api/youtube/v3"
)

const (
	maxPageSize = 50

	partSnippet        = "snippet"
	partContentDetails = "contentDetails"
)

var (
	// ErrNoChannel indicates the authenticated account has no YouTube channel.
	ErrNoChannel = errors.New("youtube: no channel for authenticated account")
	// ErrNoUploads indicates the channel exposes no uploads playlist.
	ErrNoUploads = errors.New("youtube: channel has no uploads playlist")
)

// Channel identifies the authenticated user's channel and its uploads playlist.
type Channel struct {
	ID                string
	UploadsPlaylistID string
}

// Video is one entry of a channel's uploads playlist.
type Video struct {
	ID    string
	Title string
}

// Comment is the top-level comment of one comment thread.
type Comment struct {
	ID              string
	AuthorName      string
	AuthorAvatar    string
	AuthorChannelID string
	Text            string
	PublishedAt     time.Time
	LikeCount       int64
	ReplyCount      int64
}

// ClientConfig configures the YouTube Data API client. Endpoint and HTTPClient
// exist so tests can point the generated service at a fake server.
type ClientConfig struct {
	Endpoint   string
	HTTPClient *http.Client
}

// Client wraps the YouTube Data API v3 for the read paths the sync engine
// needs: channel resolution, uploads enumeration, and comment threads.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: cfg.HTTPClient,
	}
}

// service builds a per-call API service authenticated with the access token.
func (c *Client) service(ctx context.Context, accessToken string) (*youtubeapi.Service, error) {
	opts := make([]option.ClientOption, 0, 2)
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	} else {
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
		opts = append(opts, option.WithTokenSource(source))
	}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return youtubeapi.NewService(ctx, opts...)
}

// MyChannel resolves the authenticated user's channel and uploads playlist.
func (c *Client) MyChannel(ctx context.Context, accessToken string) (Channel, error) {
	service, err := c.service(ctx, accessToken)
	if err != nil {
		return Channel{}, err
	}

	response, err := service.Channels.
		List([]string{partContentDetails}).
		Mine(true).
		Context(ctx).
		Do()
	if err != nil {
		return Channel{}, fmt.Errorf("youtube: channel lookup failed: %w", err)
	}
	if len(response.Items) == 0 {
		return Channel{}, ErrNoChannel
	}

	item := response.Items[0]
	uploads := ""
	if item.ContentDetails != nil && item.ContentDetails.RelatedPlaylists != nil {
		uploads = item.ContentDetails.RelatedPlaylists.Uploads
	}
	if uploads == "" {
		return Channel{}, ErrNoUploads
	}

	return Channel{ID: item.Id, UploadsPlaylistID: uploads}, nil
}

// PlaylistVideos lists up to max videos from the playlist, newest first per
// the uploads playlist's native ordering. A single bounded page is fetched.
func (c *Client) PlaylistVideos(ctx context.Context, accessToken, playlistID string, max int) ([]Video, error) {
	service, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	response, err := service.PlaylistItems.
		List([]string{partSnippet, partContentDetails}).
		PlaylistId(playlistID).
		MaxResults(boundedPageSize(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube: playlist listing failed: %w", err)
	}

	videos := make([]Video, 0, len(response.Items))
	for _, item := range response.Items {
		if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
			continue
		}
		title := ""
		if item.Snippet != nil {
			title = item.Snippet.Title
		}
		videos = append(videos, Video{ID: item.ContentDetails.VideoId, Title: title})
	}
	return videos, nil
}

// CommentThreads lists up to max top-level comments for the video, ordered by
// recency. Threads without a top-level snippet are skipped.
func (c *Client) CommentThreads(ctx context.Context, accessToken, videoID string, max int) ([]Comment, error) {
	service, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	response, err := service.CommentThreads.
		List([]string{partSnippet}).
		VideoId(videoID).
		Order("time").
		TextFormat("plainText").
		MaxResults(boundedPageSize(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube: comment thread listing failed: %w", err)
	}

	comments := make([]Comment, 0, len(response.Items))
	for _, thread := range response.Items {
		if thread.Snippet == nil || thread.Snippet.TopLevelComment == nil || thread.Snippet.TopLevelComment.Snippet == nil {
			continue
		}
		snippet := thread.Snippet.TopLevelComment.Snippet
		publishedAt, _ := time.Parse(time.RFC3339, snippet.PublishedAt)
		authorChannelID := ""
		if snippet.AuthorChannelId != nil {
			authorChannelID = snippet.AuthorChannelId.Value
		}
		comments = append(comments, Comment{
			ID:              thread.Snippet.TopLevelComment.Id,
			AuthorName:      snippet.AuthorDisplayName,
			AuthorAvatar:    snippet.AuthorProfileImageUrl,
			AuthorChannelID: authorChannelID,
			Text:            snippet.TextDisplay,
			PublishedAt:     publishedAt,
			LikeCount:       snippet.LikeCount,
			ReplyCount:      thread.Snippet.TotalReplyCount,
		})
	}
	return comments, nil
}

func boundedPageSize(requested int) int64 {
	if requested <= 0 || requested > maxPageSize {
		return maxPageSize
	}
	return int64(requested)
}
