package wallet

import (
	"crypto/sha256"
	"math/big"
	"strings"

	"golang.org/x/crypto/ripemd160"
)

// c32 字符表（Crockford 变体，去除 I/L/O/U）
const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Stacks 单签地址版本号
const (
	versionMainnetP2PKH = 22 // 地址前缀 SP
	versionTestnetP2PKH = 26 // 地址前缀 ST
)

// hash160 计算 RIPEMD160(SHA256(data))
func hash160(data []byte) []byte {
	sha := sha256.Sum256(data)
	ripe := ripemd160.New()
	ripe.Write(sha[:])
	return ripe.Sum(nil)
}

// c32Checksum 计算 c32check 校验和：double-SHA256 前 4 字节
func c32Checksum(version byte, payload []byte) []byte {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, version)
	buf = append(buf, payload...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// c32Encode 将字节序列编码为 c32 字符串
func c32Encode(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	leadingZeros := 0
	for _, b := range data {
		if b != 0 {
			break
		}
		leadingZeros++
	}

	value := new(big.Int).SetBytes(data)
	base := big.NewInt(32)
	mod := new(big.Int)

	var sb strings.Builder
	for value.Sign() > 0 {
		value.DivMod(value, base, mod)
		sb.WriteByte(c32Alphabet[mod.Int64()])
	}
	for i := 0; i < leadingZeros; i++ {
		sb.WriteByte(c32Alphabet[0])
	}

	encoded := []byte(sb.String())
	for i, j := 0, len(encoded)-1; i < j; i, j = i+1, j-1 {
		encoded[i], encoded[j] = encoded[j], encoded[i]
	}
	return string(encoded)
}

// c32Address 根据版本号与 hash160 生成 Stacks 地址
func c32Address(version byte, hash []byte) string {
	checksum := c32Checksum(version, hash)
	payload := make([]byte, 0, len(hash)+len(checksum))
	payload = append(payload, hash...)
	payload = append(payload, checksum...)
	return "S" + string(c32Alphabet[version]) + c32Encode(payload)
}
