package model

import "github.com/ethereum/go-ethereum/common"

// Session 钱包会话快照
type Session struct {
	Connected    bool           `json:"connected"`
	Account      common.Address `json:"account"`
	AccountIndex int            `json:"accountIndex"`
	ChainID      uint64         `json:"chainId"`
	ChainName    string         `json:"chainName,omitempty"`
	// Epoch 每次会话变化加一，用于丢弃旧会话发起的操作结果
	Epoch uint64 `json:"epoch"`
}

// 会话变化原因
const (
	ReasonConnect       = "connect"
	ReasonSwitchChain   = "switch_chain"
	ReasonSwitchAccount = "switch_account"
	ReasonDisconnect    = "disconnect"
)

// Change 会话变化事件
type Change struct {
	Reason string
	Old    Session
	New    Session
}

// AccountChanged 账户或连接状态发生了变化
func (c Change) AccountChanged() bool {
	return c.Old.Connected != c.New.Connected || c.Old.Account != c.New.Account
}

// ChainChanged 链发生了变化
func (c Change) ChainChanged() bool {
	return c.Old.ChainID != c.New.ChainID
}
