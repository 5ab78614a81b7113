package handler

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"virtual-attendance/internal/model"
)

const attendanceStatusTag = "attendance_status"

// RegisterValidators 向 gin 的校验引擎注册自定义规则，需在绑定请求前调用
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("gin 校验引擎不是 validator/v10")
	}
	return v.RegisterValidation(attendanceStatusTag, attendanceStatusValidation)
}

// attendanceStatusValidation 出勤状态必须是已知枚举值
func attendanceStatusValidation(fl validator.FieldLevel) bool {
	return model.AttendanceStatus(fl.Field().String()).Valid()
}
