package dto

// ── 签到模块 DTO ──

// ScanRequest 学生扫码签到请求
type ScanRequest struct {
	Token     string   `json:"token"     binding:"required,max=1024"`
	Latitude  *float64 `json:"latitude"  binding:"required_with=Longitude"`
	Longitude *float64 `json:"longitude" binding:"required_with=Latitude"`
}

// ManualRecordRequest 教师手动登记请求
type ManualRecordRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	StudentID string `json:"student_id" binding:"required,uuid"`
	Round     int    `json:"round"      binding:"required,min=1"`
	Status    string `json:"status"     binding:"required,attendance_status"`
}

// AttendanceListRequest 签到记录查询参数
type AttendanceListRequest struct {
	StudentID string `form:"student_id" binding:"omitempty,uuid"`
	Round     int    `form:"round"      binding:"omitempty,min=1"`
}

// AttendanceResponse 签到记录响应
type AttendanceResponse struct {
	ID         string   `json:"id"`
	SessionID  string   `json:"session_id"`
	StudentID  string   `json:"student_id"`
	Round      int      `json:"round"`
	Status     string   `json:"status"`
	Count      int      `json:"count"`
	RecordedAt string   `json:"recorded_at"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Source     string   `json:"source"`
	RecordedBy *string  `json:"recorded_by,omitempty"`
}
