package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/c2hq/backend/internal/analysis"
	"github.com/c2hq/backend/internal/youtube"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultVideoPageSize   = 50
	defaultCommentPageSize = 20
)

var (
	errMissingDatabase = errors.New("ingest: database connection required")
	errMissingTokens   = errors.New("ingest: token provider required")
	errMissingSource   = errors.New("ingest: video source required")
	errMissingAnalyzer = errors.New("ingest: comment analyzer required")

	noOpLogger = zap.NewNop()
)

// TokenProvider yields a currently-valid platform access token for a user.
type TokenProvider interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
}

// VideoSource enumerates the remote platform's channel, videos, and comments.
type VideoSource interface {
	MyChannel(ctx context.Context, accessToken string) (youtube.Channel, error)
	PlaylistVideos(ctx context.Context, accessToken, playlistID string, max int) ([]youtube.Video, error)
	CommentThreads(ctx context.Context, accessToken, videoID string, max int) ([]youtube.Comment, error)
}

// CommentAnalyzer scores one comment via the external ML service.
type CommentAnalyzer interface {
	AnalyzeComment(ctx context.Context, request analysis.Request) (analysis.Result, error)
}

// ServiceConfig describes the dependencies of the sync engine.
type ServiceConfig struct {
	Database        *gorm.DB
	Tokens          TokenProvider
	Source          VideoSource
	Analyzer        CommentAnalyzer
	Logger          *zap.Logger
	VideoPageSize   int
	CommentPageSize int
}

// Service orchestrates one sync run: resolve channel, enumerate videos and
// comments, persist records, and enrich with analysis. Per-item failures are
// recovered and counted; only precondition failures abort the run.
type Service struct {
	db              *gorm.DB
	tokens          TokenProvider
	source          VideoSource
	analyzer        CommentAnalyzer
	logger          *zap.Logger
	videoPageSize   int
	commentPageSize int
}

// NewService constructs the sync engine with validated dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Analyzer == nil {
		return nil, errMissingAnalyzer
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	videoPageSize := cfg.VideoPageSize
	if videoPageSize <= 0 {
		videoPageSize = defaultVideoPageSize
	}
	commentPageSize := cfg.CommentPageSize
	if commentPageSize <= 0 {
		commentPageSize = defaultCommentPageSize
	}

	return &Service{
		db:              cfg.Database,
		tokens:          cfg.Tokens,
		source:          cfg.Source,
		analyzer:        cfg.Analyzer,
		logger:          logger,
		videoPageSize:   videoPageSize,
		commentPageSize: commentPageSize,
	}, nil
}

// Summary aggregates the outcome of one sync run.
type Summary struct {
	Inserted           int `json:"inserted"`
	Analyzed           int `json:"analyzed"`
	VideosChecked      int `json:"videos_checked"`
	VideosWithComments int `json:"videos_with_comments"`
}

// SyncComments pulls recent videos and their comments for one user, persists
// them, and enriches with analysis. Videos are processed sequentially to stay
// under the remote API's rate limits.
func (s *Service) SyncComments(ctx context.Context, userID string, perVideoLimit int) (Summary, error) {
	accessToken, err := s.tokens.GetValidAccessToken(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	channel, err := s.source.MyChannel(ctx, accessToken)
	if err != nil {
		return Summary{}, err
	}

	videos, err := s.source.PlaylistVideos(ctx, accessToken, channel.UploadsPlaylistID, s.videoPageSize)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: video enumeration failed: %w", err)
	}

	commentLimit := perVideoLimit
	if commentLimit <= 0 {
		commentLimit = s.commentPageSize
	}

	summary := Summary{}
	for _, video := range videos {
		summary.VideosChecked++

		record, err := s.upsertVideo(ctx, userID, video)
		if err != nil {
			s.logger.Warn("video upsert failed, skipping video",
				zap.String("user_id", userID),
				zap.String("video_id", video.ID),
				zap.Error(err))
			continue
		}

		threads, err := s.source.CommentThreads(ctx, accessToken, video.ID, commentLimit)
		if err != nil {
			s.logger.Warn("comment listing failed, skipping video",
				zap.String("user_id", userID),
				zap.String("video_id", video.ID),
				zap.Error(err))
			continue
		}
		if len(threads) > 0 {
			summary.VideosWithComments++
		}

		for _, comment := range threads {
			result, analyzeErr := s.analyzer.AnalyzeComment(ctx, analysis.Request{
				CommentID: comment.ID,
				Content:   comment.Text,
				VideoID:   video.ID,
			})
			analyzed := analyzeErr == nil
			if analyzeErr != nil {
				// Analysis failure never blocks ingestion.
				result = analysis.NeutralResult()
				s.logger.Warn("comment analysis unavailable, using neutral defaults",
					zap.String("comment_id", comment.ID),
					zap.Error(analyzeErr))
			}

			if err := s.upsertComment(ctx, record.ID, comment, result, analyzed); err != nil {
				s.logger.Warn("comment upsert failed, skipping comment",
					zap.String("comment_id", comment.ID),
					zap.Uint("video_row_id", record.ID),
					zap.Error(err))
				continue
			}

			summary.Inserted++
			if analyzed {
				summary.Analyzed++
			}
		}
	}

	s.logger.Info("comment sync complete",
		zap.String("user_id", userID),
		zap.Int("inserted", summary.Inserted),
		zap.Int("analyzed", summary.Analyzed),
		zap.Int("videos_checked", summary.VideosChecked),
		zap.Int("videos_with_comments", summary.VideosWithComments))

	return summary, nil
}

func (s *Service) upsertVideo(ctx context.Context, userID string, video youtube.Video) (Video, error) {
	model := Video{
		PlatformVideoID: video.ID,
		Platform:        PlatformYouTube,
		Title:           video.Title,
		UserID:          userID,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform_video_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns([]string{"title"}),
		}).
		Create(&model).Error
	if err != nil {
		return Video{}, err
	}

	// The conflict path does not backfill the row id on SQLite.
	var persisted Video
	err = s.db.WithContext(ctx).
		Where("platform_video_id = ? AND platform = ?", video.ID, PlatformYouTube).
		Take(&persisted).Error
	if err != nil {
		return Video{}, err
	}
	return persisted, nil
}

func (s *Service) upsertComment(ctx context.Context, videoRowID uint, comment youtube.Comment, result analysis.Result, analyzed bool) error {
	model := Comment{
		PlatformCommentID: comment.ID,
		VideoID:           videoRowID,
		AuthorName:        comment.AuthorName,
		AuthorAvatar:      comment.AuthorAvatar,
		AuthorChannelID:   comment.AuthorChannelID,
		Content:           comment.Text,
		PublishedAt:       comment.PublishedAt,
		LikeCount:         comment.LikeCount,
		ReplyCount:        comment.ReplyCount,
		Sentiment:         result.Sentiment,
		SentimentScore:    result.SentimentScore,
		ToxicityScore:     result.ToxicityScore,
		Themes:            result.Themes,
		Tags:              result.Tags,
		PrimaryTag:        result.PrimaryTag,
	}

	// Counts always follow the remote source. Analysis columns are rewritten
	// only when this run produced a usable result, so a failed analysis never
	// downgrades an already-analyzed row to neutral.
	assignments := []string{"like_count", "reply_count"}
	if analyzed {
		assignments = append(assignments,
			"sentiment", "sentiment_score", "toxicity_score", "themes", "tags", "primary_tag")
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform_comment_id"}, {Name: "video_id"}},
			DoUpdates: clause.AssignmentColumns(assignments),
		}).
		Create(&model).Error
}

// ListRecentComments returns the user's most recent persisted comments across
// all videos, newest first.
func (s *Service) ListRecentComments(ctx context.Context, userID string, limit int) ([]Comment, error) {
	if limit <= 0 {
		limit = defaultCommentPageSize
	}

	var comments []Comment
	err := s.db.WithContext(ctx).
		Joins("JOIN videos ON videos.id = comments.video_id").
		Where("videos.user_id = ?", userID).
		Order("comments.published_at DESC").
		Limit(limit).
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("ingest: comment listing failed: %w", err)
	}
	return comments, nil
}
