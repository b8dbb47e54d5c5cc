// Package inflight tracks in-flight operations per key as small state machines.
//
// A key (for example "post:7") holds at most one lease at a time. The lease walks
// through phases; transitions outside the table for its kind are rejected so two
// concerns can never overlap on the same key.
package inflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrBusy 同一 key 已有操作在进行
	ErrBusy = errors.New("operation already in flight")
	// ErrIllegalTransition 非法状态迁移
	ErrIllegalTransition = errors.New("illegal phase transition")
	// ErrLeaseEnded lease 已释放
	ErrLeaseEnded = errors.New("lease already ended")
)

// Phase 操作阶段
type Phase string

const (
	Idle       Phase = "idle"
	Encrypting Phase = "encrypting"
	Submitting Phase = "submitting"
	Confirming Phase = "confirming"
	Refreshing Phase = "refreshing"
	Signing    Phase = "signing"
	Decrypting Phase = "decrypting"
)

// Kind 操作类别，决定可用的迁移表
type Kind int

const (
	KindWrite Kind = iota
	KindDecrypt
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindDecrypt:
		return "decrypt"
	case KindRead:
		return "read"
	}
	return "unknown"
}

var transitions = map[Kind]map[Phase][]Phase{
	KindWrite: {
		Idle:       {Encrypting, Submitting},
		Encrypting: {Submitting},
		// 提交失败后可重新加密（补偿交易）
		Submitting: {Confirming, Encrypting},
		// 复合操作：remove 确认后继续提交 add
		Confirming: {Submitting, Encrypting, Refreshing},
	},
	KindDecrypt: {
		Idle:    {Signing, Decrypting},
		Signing: {Decrypting},
	},
	KindRead: {
		Idle: {Refreshing},
	},
}

func allowed(kind Kind, from, to Phase) bool {
	for _, p := range transitions[kind][from] {
		if p == to {
			return true
		}
	}
	return false
}

// Policy key 被占用时的处理方式
type Policy int

const (
	// Reject 立即返回 ErrBusy
	Reject Policy = iota
	// Queue 等待前一个操作结束
	Queue
)

// ParsePolicy 解析配置值 reject / queue
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject":
		return Reject, nil
	case "queue":
		return Queue, nil
	}
	return Reject, fmt.Errorf("unknown busy policy %q", s)
}

type slot struct {
	kind  Kind
	op    string
	phase Phase
	done  chan struct{}
}

// Tracker 一类操作的 in-flight 状态表
type Tracker struct {
	name   string
	policy Policy

	mu    sync.Mutex
	slots map[string]*slot
}

// NewTracker 创建状态表
func NewTracker(name string, policy Policy) *Tracker {
	return &Tracker{
		name:   name,
		policy: policy,
		slots:  make(map[string]*slot),
	}
}

// Name 状态表名称
func (t *Tracker) Name() string {
	return t.name
}

// Begin 占用 key；Reject 策略下已占用返回 ErrBusy，Queue 策略下等待或随 ctx 取消
func (t *Tracker) Begin(ctx context.Context, key string, kind Kind) (*Lease, error) {
	return t.BeginOp(ctx, key, kind, "")
}

// BeginOp 同 Begin，并记录占用者的操作名
func (t *Tracker) BeginOp(ctx context.Context, key string, kind Kind, op string) (*Lease, error) {
	for {
		t.mu.Lock()
		s, busy := t.slots[key]
		if !busy {
			s = &slot{kind: kind, op: op, phase: Idle, done: make(chan struct{})}
			t.slots[key] = s
			t.mu.Unlock()
			return &Lease{tracker: t, key: key, slot: s}, nil
		}
		t.mu.Unlock()

		if t.policy == Reject {
			return nil, fmt.Errorf("%w: %s %s is %s", ErrBusy, t.name, key, t.Phase(key))
		}

		select {
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Phase key 当前阶段，未占用为 Idle
func (t *Tracker) Phase(key string) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[key]; ok {
		return s.phase
	}
	return Idle
}

// Busy key 是否被占用
func (t *Tracker) Busy(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.slots[key]
	return ok
}

// Any 是否有任意 key 被占用
func (t *Tracker) Any() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) > 0
}

// Snapshot 所有占用中的 key 及阶段
func (t *Tracker) Snapshot() map[string]Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Phase, len(t.slots))
	for k, s := range t.slots {
		out[k] = s.phase
	}
	return out
}

// Ops 所有占用中的 key 及操作名
func (t *Tracker) Ops() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.slots))
	for k, s := range t.slots {
		out[k] = s.op
	}
	return out
}

// Lease 对 key 的独占
type Lease struct {
	tracker *Tracker
	key     string
	slot    *slot
	ended   bool
}

// Key 占用的 key
func (l *Lease) Key() string {
	return l.key
}

// Phase 当前阶段
func (l *Lease) Phase() Phase {
	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()
	return l.slot.phase
}

// Advance 迁移到下一阶段
func (l *Lease) Advance(to Phase) error {
	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()

	if l.ended {
		return ErrLeaseEnded
	}
	from := l.slot.phase
	if !allowed(l.slot.kind, from, to) {
		return fmt.Errorf("%w: %s %s %s -> %s", ErrIllegalTransition, l.slot.kind, l.key, from, to)
	}
	l.slot.phase = to
	return nil
}

// End 释放 key 并唤醒排队者，可重复调用
func (l *Lease) End() {
	l.tracker.mu.Lock()
	defer l.tracker.mu.Unlock()

	if l.ended {
		return
	}
	l.ended = true
	if cur, ok := l.tracker.slots[l.key]; ok && cur == l.slot {
		delete(l.tracker.slots, l.key)
	}
	close(l.slot.done)
}
