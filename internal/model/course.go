package model

import "virtual-attendance/pkg/geo"

// Course 课程表 — 对应 courses（由 CRUD 层维护，签到核心只读）
type Course struct {
	CourseID        string   `gorm:"type:uuid;primaryKey"        json:"course_id"`
	Code            string   `gorm:"type:varchar(32);not null"   json:"code"`
	Name            string   `gorm:"type:varchar(255);not null"  json:"name"`
	Latitude        *float64 `gorm:"type:double precision"       json:"latitude,omitempty"`
	Longitude       *float64 `gorm:"type:double precision"       json:"longitude,omitempty"`
	GeofenceEnabled bool     `gorm:"not null;default:false"      json:"geofence_enabled"`
	GeofenceRadiusM *float64 `gorm:"type:double precision"       json:"geofence_radius_m,omitempty"`
	SoftDeleteModel
}

// TableName 指定表名
func (Course) TableName() string { return "courses" }

// Geofence 返回围栏中心与半径；未启用或坐标缺失时 ok=false
// 课程未设置半径时使用 defaultRadius
func (c *Course) Geofence(defaultRadius float64) (center geo.Point, radius float64, ok bool) {
	if !c.GeofenceEnabled || c.Latitude == nil || c.Longitude == nil {
		return geo.Point{}, 0, false
	}
	radius = defaultRadius
	if c.GeofenceRadiusM != nil && *c.GeofenceRadiusM > 0 {
		radius = *c.GeofenceRadiusM
	}
	return geo.Point{Lat: *c.Latitude, Lng: *c.Longitude}, radius, true
}
