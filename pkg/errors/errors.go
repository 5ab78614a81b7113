package errors

import "errors"

// ── 错误类别 ──
// 业务层错误统一包装其中一个类别（fmt.Errorf("%w: ...", ErrXxx)），
// Handler 层按类别 errors.Is 映射 HTTP 状态码。

var (
	// ErrValidation 输入格式错误（课程不存在、日期格式无效等）
	ErrValidation = errors.New("参数校验失败")
	// ErrNotFound 会话或学生不存在
	ErrNotFound = errors.New("资源不存在")
	// ErrState 当前会话状态不允许该操作
	ErrState = errors.New("会话状态不允许该操作")
	// ErrToken 二维码令牌被拒绝，具体原因见 ErrForged 等
	ErrToken = errors.New("二维码令牌无效")
	// ErrOutOfRange 签到位置超出地理围栏
	ErrOutOfRange = errors.New("签到位置超出允许范围")
	// ErrStorageTimeout 存储调用超时或冲突重试耗尽
	ErrStorageTimeout = errors.New("存储操作超时")
	// ErrStorageConflict 存储层并发冲突（仅内部使用，重试后转为 ErrStorageTimeout）
	ErrStorageConflict = errors.New("存储操作冲突")
)

// ── 令牌拒绝原因 ──

var (
	ErrForged        = Wrap(ErrToken, "二维码签名不匹配")
	ErrExpired       = Wrap(ErrToken, "二维码已过期")
	ErrSessionClosed = Wrap(ErrToken, "课程会话已关闭")
	ErrStaleRound    = Wrap(ErrToken, "二维码所属轮次已结束")
)

// ── 轮次 ──

var (
	ErrInvalidRound      = Wrap(ErrValidation, "轮次超出范围")
	ErrRoundLimitReached = Wrap(ErrState, "已达到最大轮次")
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = Wrap(ErrStorageConflict, "数据已被其他操作修改，请刷新后重试")

// kindError 带类别的错误，errors.Is 同时匹配自身与类别
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Wrap 创建归属于 kind 类别的新哨兵错误
func Wrap(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}
