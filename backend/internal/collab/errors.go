package collab

import "errors"

// 错误分类：
// - PERMISSION_DENIED 直接返回调用方，不重试，不算系统故障
// - OPERATION_FAILED  变换/应用后无法得到合法结果，客户端应重新拉取文档后重试
// - STORE_UNAVAILABLE 持久化失败，内存状态已回滚，可重试
var (
	ErrPermissionDenied = errors.New("PERMISSION_DENIED")
	ErrOperationFailed  = errors.New("OPERATION_FAILED")
	ErrStoreUnavailable = errors.New("STORE_UNAVAILABLE")
)
