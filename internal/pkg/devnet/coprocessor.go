package devnet

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"encrypted_like/internal/pkg/fhe"
	"encrypted_like/internal/pkg/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Coprocessor 模拟 FHE 协处理器：密文以明文存放在账本库中，靠 ACL 和签名控制解密。
// 同时实现 fhe.Client，供 devnet 链上的前端调用。
type Coprocessor struct {
	db      *gorm.DB
	chainID uint64
	secret  []byte
	log     *zap.Logger
	now     func() time.Time
}

// NewCoprocessor 创建模拟协处理器
func NewCoprocessor(db *gorm.DB, chainID uint64, log *zap.Logger) (*Coprocessor, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate proof secret: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coprocessor{db: db, chainID: chainID, secret: secret, log: log, now: time.Now}, nil
}

func newHandle() (fhe.Handle, error) {
	var h fhe.Handle
	if _, err := rand.Read(h[:]); err != nil {
		return h, fmt.Errorf("generate handle: %w", err)
	}
	return h, nil
}

func accountKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (c *Coprocessor) proof(contract, user common.Address, handles []fhe.Handle) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write(contract.Bytes())
	mac.Write(user.Bytes())
	for _, h := range handles {
		mac.Write(h[:])
	}
	return mac.Sum(nil)
}

// Encrypt 生成输入密文和绑定 (contract, user) 的证明
func (c *Coprocessor) Encrypt(ctx context.Context, contract, user common.Address, values []uint64) (*fhe.EncryptedInput, error) {
	if len(values) == 0 {
		return nil, errors.New("nothing to encrypt")
	}

	in := &fhe.EncryptedInput{Handles: make([]fhe.Handle, 0, len(values))}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, v := range values {
			h, err := c.store(tx, v)
			if err != nil {
				return err
			}
			in.Handles = append(in.Handles, h)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("encrypt input: %w", err)
	}
	in.Proof = c.proof(contract, user, in.Handles)
	return in, nil
}

// GenerateKeypair 生成临时密钥对
func (c *Coprocessor) GenerateKeypair() (fhe.Keypair, error) {
	pub := make([]byte, 32)
	priv := make([]byte, 32)
	if _, err := rand.Read(pub); err != nil {
		return fhe.Keypair{}, err
	}
	if _, err := rand.Read(priv); err != nil {
		return fhe.Keypair{}, err
	}
	return fhe.Keypair{PublicKey: hexutil.Encode(pub), PrivateKey: hexutil.Encode(priv)}, nil
}

// UserDecrypt 校验签名与 ACL 后返回明文
func (c *Coprocessor) UserDecrypt(ctx context.Context, req fhe.DecryptRequest) (map[fhe.Handle]uint64, error) {
	if err := c.verifySignature(req); err != nil {
		return nil, err
	}

	user := accountKey(req.Signature.UserAddress)
	out := make(map[fhe.Handle]uint64, len(req.Handles))
	for _, h := range req.Handles {
		var acl ACLEntry
		err := c.db.WithContext(ctx).Where("handle = ? AND account = ?", h.String(), user).First(&acl).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", fhe.ErrUnauthorized, h)
		}
		if err != nil {
			return nil, fmt.Errorf("acl lookup: %w", err)
		}

		var ct Ciphertext
		if err := c.db.WithContext(ctx).Where("handle = ?", h.String()).First(&ct).Error; err != nil {
			return nil, fmt.Errorf("load ciphertext %s: %w", h, err)
		}
		out[h] = uint64(ct.Value)
	}
	return out, nil
}

func (c *Coprocessor) verifySignature(req fhe.DecryptRequest) error {
	sig := req.Signature
	if sig == nil {
		return fmt.Errorf("%w: missing", fhe.ErrInvalidSignature)
	}
	if !sig.IsValid(c.now()) {
		return fmt.Errorf("%w: expired", fhe.ErrInvalidSignature)
	}
	if sig.ChainID != c.chainID {
		return fmt.Errorf("%w: signed for chain %d", fhe.ErrInvalidSignature, sig.ChainID)
	}
	if !sig.Covers(req.Contract) {
		return fmt.Errorf("%w: contract %s not covered", fhe.ErrInvalidSignature, req.Contract.Hex())
	}

	raw, err := hexutil.Decode(sig.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", fhe.ErrInvalidSignature, err)
	}
	signer, err := wallet.RecoverAddress(sig.Message(), raw)
	if err != nil {
		return fmt.Errorf("%w: %v", fhe.ErrInvalidSignature, err)
	}
	if signer != sig.UserAddress {
		return fmt.Errorf("%w: signer mismatch", fhe.ErrInvalidSignature)
	}
	return nil
}

// 以下为合约侧 FHE 运算，必须在账本事务 tx 内调用

func (c *Coprocessor) store(tx *gorm.DB, v uint64) (fhe.Handle, error) {
	h, err := newHandle()
	if err != nil {
		return h, err
	}
	if err := tx.Create(&Ciphertext{Handle: h.String(), Value: int64(v)}).Error; err != nil {
		return h, fmt.Errorf("store ciphertext: %w", err)
	}
	return h, nil
}

func (c *Coprocessor) load(tx *gorm.DB, h fhe.Handle) (uint64, error) {
	var ct Ciphertext
	if err := tx.Where("handle = ?", h.String()).First(&ct).Error; err != nil {
		return 0, fmt.Errorf("load ciphertext %s: %w", h, err)
	}
	return uint64(ct.Value), nil
}

// verifyInput 校验输入证明（相当于 FHE.fromExternal）
func (c *Coprocessor) verifyInput(contract, user common.Address, in *fhe.EncryptedInput) error {
	if in == nil || len(in.Handles) == 0 {
		return fmt.Errorf("%w: empty input", fhe.ErrInvalidProof)
	}
	if !hmac.Equal(in.Proof, c.proof(contract, user, in.Handles)) {
		return fhe.ErrInvalidProof
	}
	return nil
}

// trivialEncrypt 明文常量转密文
func (c *Coprocessor) trivialEncrypt(tx *gorm.DB, v uint64) (fhe.Handle, error) {
	return c.store(tx, v)
}

// add 同态加法，零句柄视为 0
func (c *Coprocessor) add(tx *gorm.DB, a, b fhe.Handle) (fhe.Handle, error) {
	return c.binary(tx, a, b, func(x, y uint64) uint64 { return x + y })
}

// sub 同态减法，按 uint64 回绕
func (c *Coprocessor) sub(tx *gorm.DB, a, b fhe.Handle) (fhe.Handle, error) {
	return c.binary(tx, a, b, func(x, y uint64) uint64 { return x - y })
}

func (c *Coprocessor) binary(tx *gorm.DB, a, b fhe.Handle, op func(x, y uint64) uint64) (fhe.Handle, error) {
	var x, y uint64
	var err error
	if !a.IsZero() {
		if x, err = c.load(tx, a); err != nil {
			return fhe.Handle{}, err
		}
	}
	if !b.IsZero() {
		if y, err = c.load(tx, b); err != nil {
			return fhe.Handle{}, err
		}
	}
	return c.store(tx, op(x, y))
}

// allow 授权账户解密句柄
func (c *Coprocessor) allow(tx *gorm.DB, h fhe.Handle, accounts ...common.Address) error {
	for _, a := range accounts {
		entry := ACLEntry{Handle: h.String(), Account: accountKey(a)}
		if err := tx.Where(entry).FirstOrCreate(&entry).Error; err != nil {
			return fmt.Errorf("acl allow: %w", err)
		}
	}
	return nil
}
