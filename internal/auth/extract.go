package auth

import "strings"

// LinkedIdentity is one provider login attached to an auth-provider user record.
type LinkedIdentity struct {
	Provider    string `json:"provider"`
	AccessToken string `json:"access_token,omitempty"`
}

// UserRecord aggregates the places the auth provider may surface a provider
// OAuth token, depending on session state. It is assembled per request.
type UserRecord struct {
	HeaderToken string
	Metadata    map[string]interface{}
	Identities  []LinkedIdentity
}

// tokenStrategy inspects one location of a UserRecord for a usable token.
type tokenStrategy struct {
	name    string
	extract func(UserRecord) (string, bool)
}

// The priority order is part of the contract: a short-lived request-scoped
// token wins over profile metadata, which wins over the linked-identity copy.
func tokenStrategies(provider string) []tokenStrategy {
	return []tokenStrategy{
		{
			name: "request_header",
			extract: func(record UserRecord) (string, bool) {
				return nonEmpty(record.HeaderToken)
			},
		},
		{
			name: "profile_metadata",
			extract: func(record UserRecord) (string, bool) {
				raw, ok := record.Metadata["provider_access_token"]
				if !ok {
					return "", false
				}
				value, ok := raw.(string)
				if !ok {
					return "", false
				}
				return nonEmpty(value)
			},
		},
		{
			name: "linked_identity",
			extract: func(record UserRecord) (string, bool) {
				for _, identity := range record.Identities {
					if identity.Provider != provider {
						continue
					}
					if token, ok := nonEmpty(identity.AccessToken); ok {
						return token, ok
					}
				}
				return "", false
			},
		},
	}
}

// ExtractAccessToken searches the known token locations in priority order and
// returns the first present, non-empty value. This is a defensive read path
// separate from the stored-credential flow.
func ExtractAccessToken(record UserRecord, provider string) (string, bool) {
	for _, strategy := range tokenStrategies(provider) {
		if token, ok := strategy.extract(record); ok {
			return token, true
		}
	}
	return "", false
}

func nonEmpty(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}
