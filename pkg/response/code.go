package response

// 业务状态码
const (
	CodeSuccess = 0

	// 会话模块错误 100xx
	ErrNotConnected     = 10001
	ErrUnknownAccount   = 10002
	ErrUnsupportedChain = 10003

	// 社交模块错误 200xx
	ErrEncryption              = 20001
	ErrTransaction             = 20002
	ErrDecryptionAuthorization = 20003
	ErrDecryptionTransport     = 20004
	ErrBusy                    = 20005
	ErrNotFound                = 20006

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
