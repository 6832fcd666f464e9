package ingest

import "time"

// PlatformYouTube labels rows ingested from YouTube. The schema is keyed on
// (platform id, platform) so additional platforms can share the tables.
const PlatformYouTube = "youtube"

// Video is the persisted record for one remote video. Identity is immutable;
// the title follows the remote source on every sync.
type Video struct {
	ID              uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PlatformVideoID string    `gorm:"column:platform_video_id;size:190;not null;uniqueIndex:idx_videos_platform_video,priority:1"`
	Platform        string    `gorm:"column:platform;size:32;not null;uniqueIndex:idx_videos_platform_video,priority:2"`
	Title           string    `gorm:"column:title;type:text"`
	UserID          string    `gorm:"column:user_id;size:190;not null;index"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing ingested videos.
func (Video) TableName() string {
	return "videos"
}

// Comment is the persisted record for one top-level remote comment plus its
// analysis fields. Analysis fields are either all-default or all populated
// from a single analysis call.
type Comment struct {
	ID                uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PlatformCommentID string    `gorm:"column:platform_comment_id;size:190;not null;uniqueIndex:idx_comments_platform_video,priority:1"`
	VideoID           uint      `gorm:"column:video_id;not null;uniqueIndex:idx_comments_platform_video,priority:2;index"`
	AuthorName        string    `gorm:"column:author_name;size:320"`
	AuthorAvatar      string    `gorm:"column:author_avatar;size:512"`
	AuthorChannelID   string    `gorm:"column:author_id;size:190"`
	Content           string    `gorm:"column:content;type:text;not null"`
	PublishedAt       time.Time `gorm:"column:published_at"`
	LikeCount         int64     `gorm:"column:like_count;not null;default:0"`
	ReplyCount        int64     `gorm:"column:reply_count;not null;default:0"`
	Sentiment         string    `gorm:"column:sentiment;size:32;not null;default:'neutral'"`
	SentimentScore    float64   `gorm:"column:sentiment_score;not null;default:0"`
	ToxicityScore     float64   `gorm:"column:toxicity_score;not null;default:0"`
	Themes            []string  `gorm:"column:themes;type:text;serializer:json"`
	Tags              []string  `gorm:"column:tags;type:text;serializer:json"`
	PrimaryTag        string    `gorm:"column:primary_tag;size:190"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing ingested comments.
func (Comment) TableName() string {
	return "comments"
}
