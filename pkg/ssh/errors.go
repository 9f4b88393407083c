package ssh

import "errors"

// Kind 错误类别
type Kind string

const (
	KindConnect Kind = "ConnectError"
	KindSession Kind = "SessionError"
)

// 对外暴露的粗粒度错误文案
const (
	MsgConnectFailed  = "failed to connect"
	MsgChannelFailed  = "failed to initiate channel"
	MsgChannelNotOpen = "channel not open"
	MsgCommandFailed  = "command failed"
	MsgCommandTimeout = "command timeout"
	MsgDownloadFailed = "failed to download file"
)

// Error 会话错误：Msg 为粗粒度类别，Err 保留底层原因
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

// Detail 返回包含底层原因的完整描述，用于日志
func (e *Error) Detail() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsKind 判断错误链中是否存在指定类别的会话错误
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
