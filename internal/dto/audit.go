package dto

// ── 一致性审计模块 DTO ──

// ViolationListRequest 重复键查询参数（键集分页，after_* 为上一页最后一个键）
type ViolationListRequest struct {
	AfterSessionID string `form:"after_session_id" binding:"omitempty,uuid"`
	AfterStudentID string `form:"after_student_id" binding:"omitempty,uuid"`
	AfterRound     int    `form:"after_round"      binding:"omitempty,min=0"`
	Limit          int    `form:"limit"            binding:"omitempty,min=1,max=1000"`
}

// ViolationResponse 重复键
type ViolationResponse struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	Round     int    `json:"round"`
	Rows      int    `json:"rows"`
}

// RepairRequest 修复单个重复键
type RepairRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	StudentID string `json:"student_id" binding:"required,uuid"`
	Round     int    `json:"round"      binding:"required,min=1"`
}

// RepairSummary 批量修复结果
type RepairSummary struct {
	Violations  int   `json:"violations"`
	Repaired    int   `json:"repaired"`
	DeletedRows int64 `json:"deleted_rows"`
	Failed      int   `json:"failed"`
}
