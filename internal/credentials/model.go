package credentials

import "time"

// PlatformYouTube is the only platform the credential store currently tracks.
const PlatformYouTube = "youtube"

// PlatformCredential holds the OAuth tokens for one (user, platform) pair.
// The composite primary key enforces the one-row-per-pair contract.
type PlatformCredential struct {
	UserID       string     `gorm:"column:user_id;primaryKey;size:190;not null"`
	Platform     string     `gorm:"column:platform;primaryKey;size:32;not null"`
	AccessToken  string     `gorm:"column:access_token;type:text;not null"`
	RefreshToken string     `gorm:"column:refresh_token;type:text"`
	ExpiresAt    *time.Time `gorm:"column:expires_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing platform credentials.
func (PlatformCredential) TableName() string {
	return "platform_credentials"
}
