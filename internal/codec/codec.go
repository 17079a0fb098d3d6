// Package codec 实现平台报文 data 字段的编解码。
//
// 游戏点卡平台入站/应答报文使用 UTF-8 + Base64；
// 出站异步回调（直充/卡密回调）使用 GBK + Base64，两者不可混用。
package codec

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// EncodeText UTF-8 编码后 Base64
func EncodeText(data string) string {
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// DecodeText Base64 解码并按 UTF-8 解读
func DecodeText(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("decoded payload is not valid utf-8")
	}
	return string(raw), nil
}

// EncodeLegacy GBK 编码后 Base64，仅用于游戏点卡回调报文
func EncodeLegacy(data string) (string, error) {
	gbk, _, err := transform.String(simplifiedchinese.GBK.NewEncoder(), data)
	if err != nil {
		return "", fmt.Errorf("encode gbk: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte(gbk)), nil
}

// DecodeLegacy Base64 解码并按 GBK 解读
func DecodeLegacy(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	s, _, err := transform.String(simplifiedchinese.GBK.NewDecoder(), string(raw))
	if err != nil {
		return "", fmt.Errorf("decode gbk: %w", err)
	}
	// GBK 解码器对非法字节序列会替换为 U+FFFD 而不报错，这里显式拒绝
	if strings.ContainsRune(s, utf8.RuneError) {
		return "", fmt.Errorf("decoded payload contains invalid gbk sequence")
	}
	return s, nil
}
