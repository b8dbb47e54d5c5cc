package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrABIMismatch 不同网络上的部署 ABI 不一致
var ErrABIMismatch = errors.New("deployments differ: can't use the same ABI on every network")

// Network hardhat-deploy 网络目录
type Network struct {
	ChainID uint64
	Name    string
}

// Deployment 某条链上的合约部署
type Deployment struct {
	ChainID uint64          `json:"chainId"`
	Network string          `json:"chainName"`
	Address common.Address  `json:"address"`
	ABI     json.RawMessage `json:"-"`
}

// Deployments 合约地址簿
type Deployments struct {
	contract string

	mu      sync.RWMutex
	byChain map[uint64]Deployment
	abi     json.RawMessage
}

// NewDeployments 创建空地址簿
func NewDeployments(contract string) *Deployments {
	return &Deployments{
		contract: contract,
		byChain:  make(map[uint64]Deployment),
	}
}

// Contract 合约名
func (d *Deployments) Contract() string {
	return d.contract
}

// Add 登记部署，ABI 必须与已有部署一致
func (d *Deployments) Add(dep Deployment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(dep.ABI) > 0 {
		compact, err := compactJSON(dep.ABI)
		if err != nil {
			return fmt.Errorf("deployment on %s: invalid abi: %w", dep.Network, err)
		}
		if d.abi != nil && !bytes.Equal(d.abi, compact) {
			return fmt.Errorf("%w (%s)", ErrABIMismatch, dep.Network)
		}
		d.abi = compact
		dep.ABI = compact
	}
	d.byChain[dep.ChainID] = dep
	return nil
}

// Lookup 按 chainId 查找部署
func (d *Deployments) Lookup(chainID uint64) (Deployment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dep, ok := d.byChain[chainID]
	return dep, ok
}

// ABI 所有网络共享的 ABI，可能为空
func (d *Deployments) ABI() json.RawMessage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.abi
}

// All 按 chainId 排序的全部部署
func (d *Deployments) All() []Deployment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Deployment, 0, len(d.byChain))
	for _, dep := range d.byChain {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

type deploymentFile struct {
	Address string          `json:"address"`
	ABI     json.RawMessage `json:"abi"`
}

// LoadDeployments 读取 <dir>/<network>/<contract>.json；缺失的网络跳过并在 skipped 中返回
func LoadDeployments(dir, contract string, networks []Network) (d *Deployments, skipped []Network, err error) {
	d = NewDeployments(contract)
	for _, n := range networks {
		path := filepath.Join(dir, n.Name, contract+".json")
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				skipped = append(skipped, n)
				continue
			}
			return nil, nil, fmt.Errorf("read deployment %s: %w", path, err)
		}

		var f deploymentFile
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, nil, fmt.Errorf("parse deployment %s: %w", path, err)
		}
		if !common.IsHexAddress(f.Address) {
			return nil, nil, fmt.Errorf("deployment %s: invalid address %q", path, f.Address)
		}

		if err := d.Add(Deployment{
			ChainID: n.ChainID,
			Network: n.Name,
			Address: common.HexToAddress(f.Address),
			ABI:     f.ABI,
		}); err != nil {
			return nil, nil, err
		}
	}
	return d, skipped, nil
}

func compactJSON(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
