package lifecycle

import (
	"context"
	"errors"
	"strings"
)

// 控制通道支持的两种命令。
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

// Message 是宿主应用经控制通道下发的命令。
type Message struct {
	Type string `json:"type"`
}

// Reply 是 GET_VERSION 的应答载荷。
type Reply struct {
	Version string `json:"version"`
}

// ErrUnknownMessage 表示命令类型不被识别。
var ErrUnknownMessage = errors.New("unknown control message")

// HandleMessage 处理控制通道命令：SKIP_WAITING 立即激活（无应答），
// GET_VERSION 返回当前静态分区名。
func (c *Controller) HandleMessage(ctx context.Context, msg Message) (*Reply, error) {
	switch strings.ToUpper(strings.TrimSpace(msg.Type)) {
	case MessageSkipWaiting:
		if c.Phase() == PhaseActive {
			return nil, nil
		}
		if err := c.Activate(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	case MessageGetVersion:
		return &Reply{Version: c.Version()}, nil
	default:
		return nil, ErrUnknownMessage
	}
}
