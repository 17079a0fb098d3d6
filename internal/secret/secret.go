// Package secret 实现敏感数据加解密。
//
// 两类场景：
//  1. Store：系统级落库加密（商户密钥、卡密 JSON），AES-256-GCM
//  2. ECB 系列：通用交易平台 product 字段的传输加密，AES-256-ECB + PKCS#7，
//     必须与平台侧解密字节兼容，不可改动
package secret

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrDecryption 解密失败（主密钥轮换、密文损坏、填充异常）
var ErrDecryption = errors.New("decryption failed")

// normalizeKey 密钥不足 32 字节补零、超过截断。
// 历史系统行为，现网存量密文依赖它，保持兼容。
func normalizeKey(key string) []byte {
	b := make([]byte, 32)
	copy(b, key)
	return b
}

// Store 系统级加密器，持有进程唯一主密钥
type Store struct {
	key []byte
}

// NewStore 创建落库加密器
func NewStore(masterKey string) *Store {
	return &Store{key: normalizeKey(masterKey)}
}

// Encrypt 加密明文，返回 Base64 密文（nonce 前置）
func (s *Store) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Base64 密文；密文异常时返回 ErrDecryption，调用方必须兜底处理
func (s *Store) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64", ErrDecryption)
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(plain), nil
}

// ECBEncrypt AES-256-ECB 加密，返回 Base64 密文。
// 仅用于通用交易平台卡密传输字段，平台侧按此算法解密。
func ECBEncrypt(plaintext, key string) (string, error) {
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext), block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], padded[i:i+block.BlockSize()])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// ECBDecrypt AES-256-ECB 解密 Base64 密文
func ECBDecrypt(ciphertext, key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64", ErrDecryption)
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return "", fmt.Errorf("%w: ciphertext length not a multiple of block size", ErrDecryption)
	}
	out := make([]byte, len(raw))
	for i := 0; i < len(raw); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], raw[i:i+block.BlockSize()])
	}
	unpadded, err := pkcs7Unpad(out, block.BlockSize())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("bad padding")
		}
	}
	return data[:len(data)-n], nil
}
