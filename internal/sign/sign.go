// Package sign 实现各平台的 MD5 参数签名。
//
// 三套签名规则：
//  1. 通用交易平台：key=value& 拼接 + 私钥，小写 hex
//  2. 游戏点卡平台：key=value& 拼接（剔除空值）+ 私钥，小写 hex
//  3. 阿奇索开放平台：keyvalue 直接拼接，前后加 AppSecret，大写 hex
package sign

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Scheme 一套平台签名算法
type Scheme interface {
	// Sign 对参数集计算签名（params 中如含 sign 等被排除字段会被忽略）
	Sign(params map[string]string, secret string) string
	// Verify 校验 params["sign"]，sign 缺失或为空一律拒绝；比较不区分大小写
	Verify(params map[string]string, secret string) bool
}

// GeneralTrade 通用交易平台签名
//
// 步骤：排除 sign、signType，剩余参数按 key 升序拼接为
// key1=value1&key2=value2&...&私钥，取 MD5 小写 hex。
type GeneralTrade struct{}

func (GeneralTrade) Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" || k == "signType" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	raw := strings.Join(parts, "&") + "&" + secret
	return md5Lower(raw)
}

func (s GeneralTrade) Verify(params map[string]string, secret string) bool {
	return verifyLower(s, params, secret)
}

// GameCard 游戏点卡平台签名
//
// 步骤：排除 sign 及值为空的参数，剩余参数按 key 升序拼接为
// key=value 列表，私钥作为最后一段一起用 & 连接，取 MD5 小写 hex。
type GameCard struct{}

func (GameCard) Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	parts = append(parts, secret)
	return md5Lower(strings.Join(parts, "&"))
}

func (s GameCard) Verify(params map[string]string, secret string) bool {
	return verifyLower(s, params, secret)
}

// Agiso 阿奇索开放平台签名
//
// 步骤：排除 sign，按参数名升序将 key 与 value 直接拼接（无分隔符），
// 前后各加 AppSecret，取 MD5 大写 hex。
type Agiso struct{}

func (Agiso) Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(secret)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func (s Agiso) Verify(params map[string]string, secret string) bool {
	return verifyLower(s, params, secret)
}

func md5Lower(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func verifyLower(s Scheme, params map[string]string, secret string) bool {
	received := params["sign"]
	if received == "" {
		return false
	}
	expected := s.Sign(params, secret)
	return strings.EqualFold(received, expected)
}
