package dto

type LoginRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

type AuthTokensResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresInSec int64  `json:"expires_in_sec"`
	UserID       int64  `json:"user_id"`
	Role         string `json:"role"`
}

type LogoutResponse struct {
	OK bool `json:"ok"`
}
