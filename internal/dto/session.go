package dto

// ── 课程会话模块 DTO ──

// OpenSessionRequest 创建课程会话请求
// BroadcastDuration / MaxCount 为空时取配置默认值
type OpenSessionRequest struct {
	CourseID          string `json:"course_id"          binding:"required,uuid"`
	Date              string `json:"date"               binding:"required,datetime=2006-01-02"`
	ScheduledTime     string `json:"scheduled_time"     binding:"required,datetime=15:04"`
	Topic             string `json:"topic"              binding:"omitempty,max=255"`
	BroadcastDuration *int   `json:"broadcast_duration" binding:"omitempty,min=1"`
	MaxCount          *int   `json:"max_count"          binding:"omitempty,min=1"`
}

// SessionResponse 课程会话信息响应
type SessionResponse struct {
	ID                string `json:"id"`
	CourseID          string `json:"course_id"`
	Date              string `json:"date"`
	ScheduledTime     string `json:"scheduled_time"`
	Topic             string `json:"topic"`
	Status            string `json:"status"`
	CurrentRound      int    `json:"current_round"`
	MaxCount          int    `json:"max_count"`
	BroadcastDuration int    `json:"broadcast_duration"`
	SecretExpiresAt   string `json:"secret_expires_at,omitempty"`
	ClosedAt          string `json:"closed_at,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// RoundResponse 轮次信息响应（轮换密钥、推进轮次、查询当前轮次共用）
type RoundResponse struct {
	SessionID string `json:"session_id"`
	Round     int    `json:"round"`
	MaxCount  int    `json:"max_count"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// IssueTokenRequest 签发二维码令牌请求
type IssueTokenRequest struct {
	Round int `json:"round" binding:"required,min=1"`
}

// QRTokenResponse 二维码令牌响应
type QRTokenResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Round     int    `json:"round"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
	ScanURL   string `json:"scan_url"`
}
