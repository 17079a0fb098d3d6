package service

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	orderNoPrefixGeneralTrade = "GT"
	orderNoPrefixGameCard     = "GC"
)

// generateOrderNo 生成我方订单号：前缀 + 年月日时分秒 + 8 位随机大写 hex。
// 随机后缀保证并发接单时同一秒内也不冲突。
func generateOrderNo(prefix string) string {
	u := uuid.New()
	suffix := strings.ToUpper(hex.EncodeToString(u[:4]))
	return prefix + time.Now().Format("20060102150405") + suffix
}
