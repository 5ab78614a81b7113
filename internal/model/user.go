package model

// 角色
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// User 用户表 — 对应 users（由 CRUD 层维护，签到核心只读）
type User struct {
	UserID    string  `gorm:"type:uuid;primaryKey"        json:"user_id"`
	FullName  string  `gorm:"type:varchar(255);not null"  json:"full_name"`
	StudentNo *string `gorm:"type:varchar(32)"            json:"student_no,omitempty"`
	Role      string  `gorm:"type:varchar(20);not null"   json:"role"`
	SoftDeleteModel
}

// TableName 指定表名
func (User) TableName() string { return "users" }
