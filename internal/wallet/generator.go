package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stackspay/gateway/internal/constants"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	// ErrKeyGeneration 熵源失败，对调用方是致命错误（不重试）
	ErrKeyGeneration = errors.New("wallet: key generation failed")
)

// Keypair 一次生成结果：地址 + 私钥密文（明文私钥不落库、不出函数）
type Keypair struct {
	Address             string
	EncryptedPrivateKey string
}

// Generator 一次性收款地址生成器
type Generator struct {
	network string
	cipher  *KeyCipher
}

// NewGenerator 创建地址生成器
func NewGenerator(network string, cipher *KeyCipher) *Generator {
	normalized := strings.ToLower(strings.TrimSpace(network))
	if normalized != constants.NetworkMainnet {
		normalized = constants.NetworkTestnet
	}
	return &Generator{
		network: normalized,
		cipher:  cipher,
	}
}

// Network 返回生成器绑定的网络
func (g *Generator) Network() string {
	return g.network
}

// Generate 生成一个新的随机密钥对并返回其地址与私钥密文。
// 每次调用相互独立，同一支付不应调用两次。
func (g *Generator) Generate() (*Keypair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	defer priv.Zero()

	address := g.addressFromPublicKey(priv.PubKey().SerializeCompressed())
	encrypted, err := g.cipher.Encrypt(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("wallet: private key encryption failed: %w", err)
	}
	return &Keypair{
		Address:             address,
		EncryptedPrivateKey: encrypted,
	}, nil
}

// DecryptPrivateKey 解出私钥明文，仅限结算签名时短暂使用
func (g *Generator) DecryptPrivateKey(encrypted string) ([]byte, error) {
	return g.cipher.Decrypt(encrypted)
}

func (g *Generator) addressFromPublicKey(compressedPub []byte) string {
	version := byte(versionTestnetP2PKH)
	if g.network == constants.NetworkMainnet {
		version = versionMainnetP2PKH
	}
	return c32Address(version, hash160(compressedPub))
}
