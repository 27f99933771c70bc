package consts

// ResultStatus 推送给订阅者的构建结果
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// 推送消息类型
const (
	MSG_TYPE_PROGRESS = "progress"
	MSG_TYPE_RESULT   = "result"
)

// WS_HANDSHAKE is the only message a subscriber ever sends.
const WS_HANDSHAKE = "connect"

const (
	DEFAULT_PAGE      = 1
	DEFAULT_PAGE_SIZE = 10
	MAX_PAGE_SIZE     = 200
)
