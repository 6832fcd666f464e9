package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultRefreshBuffer  = 5 * time.Minute
	defaultFallbackExpiry = time.Hour
	refreshTimeout        = 30 * time.Second
)

var (
	// ErrNotConnected indicates no credential row exists for the platform.
	ErrNotConnected = errors.New("credentials: no account connected for this platform")
	// ErrReauthRequired indicates the stored refresh token is missing or was
	// rejected by the provider; the user must re-authorize.
	ErrReauthRequired = errors.New("credentials: re-authentication required")

	errMissingDatabase = errors.New("credentials: database connection required")
	errMissingClientID = errors.New("credentials: oauth client id required")
	errMissingTokenURL = errors.New("credentials: token endpoint url required")
)

// ManagerConfig describes the dependencies for the token lifecycle manager.
type ManagerConfig struct {
	Database       *gorm.DB
	HTTPClient     *http.Client
	Clock          func() time.Time
	Logger         *zap.Logger
	ClientID       string
	ClientSecret   string
	TokenURL       string
	RefreshBuffer  time.Duration
	FallbackExpiry time.Duration
}

// Manager owns the access-token lifecycle for platform credentials: validity
// checks, refresh-on-expiry, persistence of rotated tokens, and coalescing of
// concurrent refreshes per (user, platform) key.
type Manager struct {
	db             *gorm.DB
	httpClient     *http.Client
	clock          func() time.Time
	logger         *zap.Logger
	clientID       string
	clientSecret   string
	tokenURL       string
	refreshBuffer  time.Duration
	fallbackExpiry time.Duration
	flight         singleflight.Group
}

// NewManager constructs a Manager with validated configuration.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, errMissingTokenURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	refreshBuffer := cfg.RefreshBuffer
	if refreshBuffer <= 0 {
		refreshBuffer = defaultRefreshBuffer
	}
	fallbackExpiry := cfg.FallbackExpiry
	if fallbackExpiry <= 0 {
		fallbackExpiry = defaultFallbackExpiry
	}

	return &Manager{
		db:             cfg.Database,
		httpClient:     httpClient,
		clock:          clock,
		logger:         logger,
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		tokenURL:       cfg.TokenURL,
		refreshBuffer:  refreshBuffer,
		fallbackExpiry: fallbackExpiry,
	}, nil
}

// GetValidAccessToken returns a currently-valid access token for the user,
// refreshing transparently when the stored token is expired or near expiry.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	credential, err := m.loadCredential(ctx, userID)
	if err != nil {
		return "", err
	}

	now := m.clock()
	if credential.AccessToken != "" && credential.ExpiresAt != nil && credential.ExpiresAt.After(now.Add(m.refreshBuffer)) {
		return credential.AccessToken, nil
	}

	if strings.TrimSpace(credential.RefreshToken) == "" {
		return "", ErrReauthRequired
	}

	key := userID + ":" + PlatformYouTube
	result, err, _ := m.flight.Do(key, func() (interface{}, error) {
		// The refresh outcome is shared by every coalesced caller, so it must
		// not die with the first caller's context.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refreshAndPersist(refreshCtx, userID, credential.RefreshToken)
	})
	if err != nil {
		return "", err
	}
	token, ok := result.(string)
	if !ok || token == "" {
		return "", fmt.Errorf("credentials: refresh produced no token")
	}
	return token, nil
}

// UpsertAuthorizedCredential stores the token obtained from a completed
// authorization-code exchange, creating or replacing the (user, platform) row.
func (m *Manager) UpsertAuthorizedCredential(ctx context.Context, userID string, token *oauth2.Token) error {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return fmt.Errorf("credentials: authorized token required")
	}

	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		// The provider does not always report expiry at callback time.
		expiresAt = m.clock().Add(m.fallbackExpiry)
	}

	record := PlatformCredential{
		UserID:       userID,
		Platform:     PlatformYouTube,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    &expiresAt,
	}

	// A missing refresh token on re-consent must not erase the stored one.
	assignments := []string{"access_token", "expires_at"}
	if strings.TrimSpace(token.RefreshToken) != "" {
		assignments = append(assignments, "refresh_token")
	}

	return m.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "platform"}},
			DoUpdates: clause.AssignmentColumns(assignments),
		}).
		Create(&record).Error
}

func (m *Manager) loadCredential(ctx context.Context, userID string) (PlatformCredential, error) {
	var credential PlatformCredential
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND platform = ?", userID, PlatformYouTube).
		Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlatformCredential{}, ErrNotConnected
	}
	if err != nil {
		return PlatformCredential{}, err
	}
	return credential, nil
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (m *Manager) refreshAndPersist(ctx context.Context, userID, refreshToken string) (string, error) {
	refreshed, expiresAt, err := m.exchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	persistErr := m.db.WithContext(ctx).
		Model(&PlatformCredential{}).
		Where("user_id = ? AND platform = ?", userID, PlatformYouTube).
		Updates(map[string]interface{}{
			"access_token": refreshed,
			"expires_at":   expiresAt,
		}).Error
	if persistErr != nil {
		// The in-memory token is still usable; the next call will refresh again.
		m.logger.Warn("failed to persist refreshed token",
			zap.String("user_id", userID),
			zap.Error(persistErr))
	}

	return refreshed, nil
}

func (m *Manager) exchangeRefreshToken(ctx context.Context, refreshToken string) (string, time.Time, error) {
	form := url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := m.httpClient.Do(request)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("credentials: token endpoint unreachable: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode >= 400 && response.StatusCode < 500 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		m.logger.Warn("refresh token rejected by provider",
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", body))
		return "", time.Time{}, ErrReauthRequired
	}
	if response.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("credentials: token endpoint returned status %d", response.StatusCode)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return "", time.Time{}, fmt.Errorf("credentials: invalid token endpoint response: %w", err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return "", time.Time{}, fmt.Errorf("credentials: token endpoint response missing access token")
	}

	now := m.clock()
	expiresAt := now.Add(m.fallbackExpiry)
	if parsed.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}

	return parsed.AccessToken, expiresAt, nil
}
