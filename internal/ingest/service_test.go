package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/c2hq/backend/internal/analysis"
	"github.com/c2hq/backend/internal/youtube"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testUserID = "creator-1"

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Video{}, &Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type fakeTokenProvider struct {
	token string
	err   error
	calls int
}

func (f *fakeTokenProvider) GetValidAccessToken(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeSource struct {
	channel       youtube.Channel
	channelErr    error
	videos        []youtube.Video
	videosErr     error
	threads       map[string][]youtube.Comment
	threadsErr    map[string]error
	channelCalls  int
	videoCalls    int
	commentCalls  int
}

func (f *fakeSource) MyChannel(_ context.Context, _ string) (youtube.Channel, error) {
	f.channelCalls++
	if f.channelErr != nil {
		return youtube.Channel{}, f.channelErr
	}
	return f.channel, nil
}

func (f *fakeSource) PlaylistVideos(_ context.Context, _, _ string, _ int) ([]youtube.Video, error) {
	f.videoCalls++
	if f.videosErr != nil {
		return nil, f.videosErr
	}
	return f.videos, nil
}

func (f *fakeSource) CommentThreads(_ context.Context, _, videoID string, _ int) ([]youtube.Comment, error) {
	f.commentCalls++
	if f.threadsErr != nil {
		if err, ok := f.threadsErr[videoID]; ok {
			return nil, err
		}
	}
	return f.threads[videoID], nil
}

type fakeAnalyzer struct {
	result  analysis.Result
	failFor map[string]bool
	calls   int
}

func (f *fakeAnalyzer) AnalyzeComment(_ context.Context, request analysis.Request) (analysis.Result, error) {
	f.calls++
	if f.failFor[request.CommentID] {
		return analysis.Result{}, errors.New("analysis service unavailable")
	}
	return f.result, nil
}

func newTestService(t *testing.T, db *gorm.DB, tokens TokenProvider, source VideoSource, analyzer CommentAnalyzer) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Tokens:   tokens,
		Source:   source,
		Analyzer: analyzer,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func sourceWithTwoVideos() *fakeSource {
	publishedAt := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	makeComments := func(videoID string) []youtube.Comment {
		comments := make([]youtube.Comment, 0, 3)
		for i := 0; i < 3; i++ {
			comments = append(comments, youtube.Comment{
				ID:          fmt.Sprintf("%s-comment-%d", videoID, i),
				AuthorName:  "viewer",
				Text:        "great video",
				PublishedAt: publishedAt.Add(time.Duration(i) * time.Minute),
				LikeCount:   int64(i),
			})
		}
		return comments
	}
	return &fakeSource{
		channel: youtube.Channel{ID: "UC1", UploadsPlaylistID: "UU1"},
		videos: []youtube.Video{
			{ID: "vid-1", Title: "First"},
			{ID: "vid-2", Title: "Second"},
		},
		threads: map[string][]youtube.Comment{
			"vid-1": makeComments("vid-1"),
			"vid-2": makeComments("vid-2"),
		},
	}
}

func TestSyncCommentsHappyPath(t *testing.T) {
	db := openTestDatabase(t)
	source := sourceWithTwoVideos()
	analyzer := &fakeAnalyzer{result: analysis.Result{
		Sentiment:      "positive",
		SentimentScore: 0.8,
		ToxicityScore:  0.05,
		Themes:         []string{"content"},
		Tags:           []string{"praise"},
		PrimaryTag:     "praise",
	}}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	summary, err := service.SyncComments(context.Background(), testUserID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := Summary{Inserted: 6, Analyzed: 6, VideosChecked: 2, VideosWithComments: 2}
	if summary != expected {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var commentCount int64
	if err := db.Model(&Comment{}).Count(&commentCount).Error; err != nil {
		t.Fatalf("failed to count comments: %v", err)
	}
	if commentCount != 6 {
		t.Fatalf("expected 6 comment rows, got %d", commentCount)
	}

	var stored Comment
	if err := db.Where("platform_comment_id = ?", "vid-1-comment-0").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load comment: %v", err)
	}
	if stored.Sentiment != "positive" || stored.PrimaryTag != "praise" {
		t.Fatalf("analysis fields not persisted: %+v", stored)
	}
}

func TestSyncCommentsIsIdempotent(t *testing.T) {
	db := openTestDatabase(t)
	source := sourceWithTwoVideos()
	analyzer := &fakeAnalyzer{result: analysis.Result{Sentiment: "positive", Themes: []string{}, Tags: []string{}}}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	if _, err := service.SyncComments(context.Background(), testUserID, 0); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := service.SyncComments(context.Background(), testUserID, 0); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	var videoCount, commentCount int64
	if err := db.Model(&Video{}).Count(&videoCount).Error; err != nil {
		t.Fatalf("failed to count videos: %v", err)
	}
	if err := db.Model(&Comment{}).Count(&commentCount).Error; err != nil {
		t.Fatalf("failed to count comments: %v", err)
	}
	if videoCount != 2 || commentCount != 6 {
		t.Fatalf("duplicate rows after resync: videos=%d comments=%d", videoCount, commentCount)
	}
}

func TestSyncCommentsAnalysisFailureDoesNotBlockIngestion(t *testing.T) {
	db := openTestDatabase(t)
	source := sourceWithTwoVideos()
	analyzer := &fakeAnalyzer{
		result: analysis.Result{Sentiment: "positive", Themes: []string{}, Tags: []string{}},
		failFor: map[string]bool{
			"vid-1-comment-1": true,
			"vid-2-comment-2": true,
		},
	}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	summary, err := service.SyncComments(context.Background(), testUserID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Inserted != 6 {
		t.Fatalf("expected all comments inserted, got %d", summary.Inserted)
	}
	if summary.Analyzed != 4 {
		t.Fatalf("expected 4 analyzed, got %d", summary.Analyzed)
	}

	var neutral Comment
	if err := db.Where("platform_comment_id = ?", "vid-1-comment-1").Take(&neutral).Error; err != nil {
		t.Fatalf("failed to load comment: %v", err)
	}
	if neutral.Sentiment != analysis.SentimentNeutral || neutral.SentimentScore != 0 || neutral.ToxicityScore != 0 {
		t.Fatalf("expected neutral defaults, got %+v", neutral)
	}
	if len(neutral.Themes) != 0 || len(neutral.Tags) != 0 || neutral.PrimaryTag != "" {
		t.Fatalf("expected empty theme/tag defaults, got %+v", neutral)
	}
}

func TestSyncCommentsDoesNotDowngradeAnalyzedRows(t *testing.T) {
	db := openTestDatabase(t)
	source := sourceWithTwoVideos()
	analyzer := &fakeAnalyzer{result: analysis.Result{
		Sentiment:      "positive",
		SentimentScore: 0.9,
		Themes:         []string{"content"},
		Tags:           []string{"praise"},
		PrimaryTag:     "praise",
	}}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	if _, err := service.SyncComments(context.Background(), testUserID, 0); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Second run with the analyzer fully down must keep the first run's scores.
	analyzer.failFor = map[string]bool{}
	for _, videoID := range []string{"vid-1", "vid-2"} {
		for i := 0; i < 3; i++ {
			analyzer.failFor[fmt.Sprintf("%s-comment-%d", videoID, i)] = true
		}
	}
	summary, err := service.SyncComments(context.Background(), testUserID, 0)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if summary.Analyzed != 0 {
		t.Fatalf("expected zero analyzed on degraded run, got %d", summary.Analyzed)
	}

	var stored Comment
	if err := db.Where("platform_comment_id = ?", "vid-1-comment-0").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load comment: %v", err)
	}
	if stored.Sentiment != "positive" || stored.SentimentScore != 0.9 || stored.PrimaryTag != "praise" {
		t.Fatalf("analyzed row was downgraded: %+v", stored)
	}
}

func TestSyncCommentsVideoWithoutThreads(t *testing.T) {
	db := openTestDatabase(t)
	source := &fakeSource{
		channel: youtube.Channel{ID: "UC1", UploadsPlaylistID: "UU1"},
		videos:  []youtube.Video{{ID: "vid-quiet", Title: "Quiet"}},
		threads: map[string][]youtube.Comment{},
	}
	analyzer := &fakeAnalyzer{result: analysis.Result{Sentiment: "positive"}}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	summary, err := service.SyncComments(context.Background(), testUserID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.VideosChecked != 1 || summary.VideosWithComments != 0 || summary.Inserted != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var commentCount int64
	if err := db.Model(&Comment{}).Count(&commentCount).Error; err != nil {
		t.Fatalf("failed to count comments: %v", err)
	}
	if commentCount != 0 {
		t.Fatalf("expected no comment rows, got %d", commentCount)
	}
}

func TestSyncCommentsPropagatesPreconditionFailures(t *testing.T) {
	db := openTestDatabase(t)
	sentinel := errors.New("credentials: re-authentication required")
	source := sourceWithTwoVideos()
	service := newTestService(t, db, &fakeTokenProvider{err: sentinel}, source, &fakeAnalyzer{})

	_, err := service.SyncComments(context.Background(), testUserID, 0)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected token error to propagate unchanged, got %v", err)
	}
	if source.channelCalls != 0 || source.videoCalls != 0 || source.commentCalls != 0 {
		t.Fatalf("expected no source calls after token failure")
	}
}

func TestSyncCommentsPropagatesNoChannel(t *testing.T) {
	db := openTestDatabase(t)
	source := &fakeSource{channelErr: youtube.ErrNoChannel}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, &fakeAnalyzer{})

	_, err := service.SyncComments(context.Background(), testUserID, 0)
	if !errors.Is(err, youtube.ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
}

func TestSyncCommentsSkipsVideoOnCommentListingFailure(t *testing.T) {
	db := openTestDatabase(t)
	source := sourceWithTwoVideos()
	source.threadsErr = map[string]error{"vid-1": errors.New("quota exceeded")}
	analyzer := &fakeAnalyzer{result: analysis.Result{Sentiment: "positive"}}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	summary, err := service.SyncComments(context.Background(), testUserID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.VideosChecked != 2 || summary.VideosWithComments != 1 || summary.Inserted != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestSyncCommentsSkipsVideoOnUpsertFailure(t *testing.T) {
	db := openTestDatabase(t)
	upsertErr := errors.New("disk I/O error")
	err := db.Callback().Create().Before("gorm:create").Register("fail_vid_1_create", func(tx *gorm.DB) {
		if video, ok := tx.Statement.Dest.(*Video); ok && video.PlatformVideoID == "vid-1" {
			tx.AddError(upsertErr)
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	source := sourceWithTwoVideos()
	analyzer := &fakeAnalyzer{result: analysis.Result{Sentiment: "positive"}}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	summary, err := service.SyncComments(context.Background(), testUserID, 0)
	if err != nil {
		t.Fatalf("expected run to complete despite video upsert failure, got %v", err)
	}
	if summary.VideosChecked != 2 || summary.VideosWithComments != 1 || summary.Inserted != 3 || summary.Analyzed != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var videoCount int64
	if err := db.Model(&Video{}).Count(&videoCount).Error; err != nil {
		t.Fatalf("failed to count videos: %v", err)
	}
	if videoCount != 1 {
		t.Fatalf("expected only the healthy video persisted, got %d", videoCount)
	}
	var commentCount int64
	if err := db.Model(&Comment{}).Count(&commentCount).Error; err != nil {
		t.Fatalf("failed to count comments: %v", err)
	}
	if commentCount != 3 {
		t.Fatalf("expected 3 comment rows from the healthy video, got %d", commentCount)
	}
}

func TestListRecentCommentsOrdersByPublishedAt(t *testing.T) {
	db := openTestDatabase(t)
	source := sourceWithTwoVideos()
	analyzer := &fakeAnalyzer{result: analysis.Result{Sentiment: "positive"}}
	service := newTestService(t, db, &fakeTokenProvider{token: "access"}, source, analyzer)

	if _, err := service.SyncComments(context.Background(), testUserID, 0); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	comments, err := service.ListRecentComments(context.Background(), testUserID, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(comments) != 4 {
		t.Fatalf("expected 4 comments, got %d", len(comments))
	}
	for i := 1; i < len(comments); i++ {
		if comments[i].PublishedAt.After(comments[i-1].PublishedAt) {
			t.Fatalf("comments not ordered by published_at desc")
		}
	}
}
