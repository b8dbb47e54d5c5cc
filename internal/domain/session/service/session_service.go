package service

import (
	"context"
	"errors"
	"sync"

	"encrypted_like/internal/domain/session/model"
	"encrypted_like/internal/pkg/wallet"

	"go.uber.org/zap"
)

// ErrNotConnected 钱包未连接
var ErrNotConnected = errors.New("wallet not connected")

// Hook 会话变化回调，按注册顺序同步执行
type Hook func(ctx context.Context, change model.Change)

// Keyring 可选账户来源
type Keyring interface {
	Account(index int) (*wallet.LocalWallet, error)
}

type SessionService interface {
	Connect(ctx context.Context, accountIndex int, chainID uint64) (model.Session, error)
	SwitchChain(ctx context.Context, chainID uint64) (model.Session, error)
	SwitchAccount(ctx context.Context, accountIndex int) (model.Session, error)
	Disconnect(ctx context.Context) model.Session
	Current() model.Session
	// Wallet 当前钱包及与之对应的会话快照
	Wallet() (wallet.Wallet, model.Session, error)
	OnChange(h Hook)
}

type sessionService struct {
	keyring    Keyring
	chainNames map[uint64]string
	log        *zap.Logger

	mu      sync.RWMutex
	current model.Session
	wallet  wallet.Wallet
	hooks   []Hook
}

// NewSessionService 创建会话服务，chainNames 为已配置链的名称
func NewSessionService(keyring Keyring, chainNames map[uint64]string, log *zap.Logger) SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &sessionService{keyring: keyring, chainNames: chainNames, log: log}
}

func (s *sessionService) OnChange(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *sessionService) Current() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *sessionService) Wallet() (wallet.Wallet, model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current.Connected {
		return nil, s.current, ErrNotConnected
	}
	return s.wallet, s.current, nil
}

func (s *sessionService) Connect(ctx context.Context, accountIndex int, chainID uint64) (model.Session, error) {
	w, err := s.keyring.Account(accountIndex)
	if err != nil {
		return s.Current(), err
	}
	return s.update(ctx, model.ReasonConnect, func(next *model.Session) (wallet.Wallet, error) {
		next.Connected = true
		next.Account = w.Address()
		next.AccountIndex = accountIndex
		next.ChainID = chainID
		return w, nil
	})
}

func (s *sessionService) SwitchChain(ctx context.Context, chainID uint64) (model.Session, error) {
	return s.update(ctx, model.ReasonSwitchChain, func(next *model.Session) (wallet.Wallet, error) {
		if !next.Connected {
			return nil, ErrNotConnected
		}
		next.ChainID = chainID
		return s.wallet, nil
	})
}

func (s *sessionService) SwitchAccount(ctx context.Context, accountIndex int) (model.Session, error) {
	w, err := s.keyring.Account(accountIndex)
	if err != nil {
		return s.Current(), err
	}
	return s.update(ctx, model.ReasonSwitchAccount, func(next *model.Session) (wallet.Wallet, error) {
		if !next.Connected {
			return nil, ErrNotConnected
		}
		next.Account = w.Address()
		next.AccountIndex = accountIndex
		return w, nil
	})
}

func (s *sessionService) Disconnect(ctx context.Context) model.Session {
	sess, _ := s.update(ctx, model.ReasonDisconnect, func(next *model.Session) (wallet.Wallet, error) {
		epoch := next.Epoch
		*next = model.Session{Epoch: epoch}
		return nil, nil
	})
	return sess
}

// update 在锁内修改会话并递增 epoch，锁外依次通知 hooks
func (s *sessionService) update(ctx context.Context, reason string, mutate func(next *model.Session) (wallet.Wallet, error)) (model.Session, error) {
	s.mu.Lock()
	old := s.current
	next := old
	w, err := mutate(&next)
	if err != nil {
		s.mu.Unlock()
		return old, err
	}
	if next == old && reason != model.ReasonConnect {
		s.mu.Unlock()
		return old, nil
	}
	next.Epoch = old.Epoch + 1
	next.ChainName = s.chainNames[next.ChainID]
	if !next.Connected {
		next.ChainName = ""
	}
	s.current = next
	s.wallet = w
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.Unlock()

	s.log.Info("wallet session changed",
		zap.String("reason", reason),
		zap.String("account", next.Account.Hex()),
		zap.Uint64("chain_id", next.ChainID),
		zap.Uint64("epoch", next.Epoch),
	)

	change := model.Change{Reason: reason, Old: old, New: next}
	for _, h := range hooks {
		h(ctx, change)
	}
	return next, nil
}
