package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	radix "github.com/mediocregopher/radix/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/codec"
	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/sign"
)

// 游戏点卡平台响应码
const (
	codeGameSuccess   = "100" // 成功
	codeGameNoOrder   = "101" // 订单不存在
	codeGameBadParams = "104" // 传入的参数有误
	codeGameBadSign   = "106" // 验证摘要串验证失败
	codeGameSystem    = "999" // 系统错误
)

// redisSkuHaltKey 商品停售标记：存在且为 1 表示不可售
const redisSkuHaltKey = "gamecard:sku:%d:%s"

// GameCardService 游戏点卡平台适配器
//
// 提单校验、直充/卡密接单与查询；业务数据走 Base64(UTF-8) 的 data 字段
type GameCardService struct {
	orders    order.Repository
	merchants merchant.Repository
	logs      callbacklog.Repository
	store     *secret.Store
	redis     radix.Client
	scheme    sign.GameCard
}

// NewGameCardService 创建游戏点卡服务；redis 可为 nil（提单校验退化为默认可售）
func NewGameCardService(
	orders order.Repository,
	merchants merchant.Repository,
	logs callbacklog.Repository,
	store *secret.Store,
	redis radix.Client,
) *GameCardService {
	return &GameCardService{
		orders:    orders,
		merchants: merchants,
		logs:      logs,
		store:     store,
		redis:     redis,
	}
}

// gameOrderPayload data 字段里的业务数据
type gameOrderPayload struct {
	OrderID     json.Number `json:"orderId"`
	SkuID       json.Number `json:"skuId"`
	BuyNum      json.Number `json:"buyNum"`
	TotalPrice  json.Number `json:"totalPrice"` // 单位：元
	GameAccount string      `json:"gameAccount"`
}

// PreCheck 提单校验：京东下单前确认商品可售。
// 可售标记维护在 Redis；Redis 不可用时默认可售（该接口只做拦截提示）。
func (s *GameCardService) PreCheck(ctx context.Context, params map[string]string) map[string]string {
	cred, err := s.authenticate(ctx, params)
	if err != nil {
		return s.authError(err)
	}

	payload, errResp := s.decodePayload(params)
	if errResp != nil {
		return errResp
	}

	halted := false
	if s.redis != nil {
		key := fmt.Sprintf(redisSkuHaltKey, cred.CustomerID, payload.SkuID.String())
		var v string
		if err := s.redis.Do(radix.Cmd(&v, "GET", key)); err != nil {
			zap.L().Warn("sku halt flag lookup failed, assuming sellable", zap.Error(err))
		} else {
			halted = v == "1"
		}
	}

	status := "0"
	if halted {
		status = "1"
	}
	data, _ := json.Marshal(map[string]string{"status": status})
	return map[string]string{
		"retCode":    codeGameSuccess,
		"retMessage": "成功",
		"data":       codec.EncodeText(string(data)),
	}
}

// DirectCharge 直充接单。重复订单号不重复建单，返回现有订单状态。
func (s *GameCardService) DirectCharge(ctx context.Context, params map[string]string) map[string]string {
	return s.submit(ctx, params, order.KindDirectTopUp, callbacklog.TypeDirectCharge)
}

// CardOrder 卡密接单
func (s *GameCardService) CardOrder(ctx context.Context, params map[string]string) map[string]string {
	return s.submit(ctx, params, order.KindCardDelivery, callbacklog.TypeCardDeliver)
}

func (s *GameCardService) submit(ctx context.Context, params map[string]string, kind order.FulfillKind, logType int) map[string]string {
	cred, err := s.authenticate(ctx, params)
	if err != nil {
		return s.authError(err)
	}

	payload, errResp := s.decodePayload(params)
	if errResp != nil {
		return errResp
	}
	platformOrderNo := payload.OrderID.String()
	if platformOrderNo == "" {
		return gameError(codeGameBadParams, "传入的参数有误")
	}

	quantity := 1
	if n, err := strconv.Atoi(payload.BuyNum.String()); err == nil && n > 0 {
		quantity = n
	}
	var amount int64
	if f, err := payload.TotalPrice.Float64(); err == nil {
		amount = int64(math.Round(f * 100)) // 元转分
	}

	o := &order.Order{
		MerchantID:      cred.MerchantID,
		BizType:         order.BizGameCard,
		OrderNo:         generateOrderNo(orderNoPrefixGameCard),
		PlatformOrderNo: platformOrderNo,
		Status:          order.StatusProducing,
		FulfillKind:     kind,
		Amount:          amount,
		Quantity:        quantity,
		SkuID:           payload.SkuID.String(),
		ProduceAccount:  payload.GameAccount,
	}

	result, isNew, err := s.orders.CreateOrGet(ctx, o)
	if err != nil {
		zap.L().Error("create game card order failed", zap.String("platformOrderNo", platformOrderNo), zap.Error(err))
		return gameError(codeGameSystem, "系统错误")
	}
	if isNew {
		zap.L().Info("game card order created",
			zap.String("orderNo", result.OrderNo),
			zap.String("platformOrderNo", result.PlatformOrderNo),
			zap.Int("kind", int(kind)))
	}

	s.recordInbound(ctx, result.ID, logType, params)

	message := "充值中"
	if result.Status == order.StatusCompleted {
		message = "充值成功"
	}
	return map[string]string{
		"retCode":    codeGameSuccess,
		"retMessage": message,
	}
}

// DirectQuery 直充订单查询
func (s *GameCardService) DirectQuery(ctx context.Context, params map[string]string) map[string]string {
	if _, err := s.authenticate(ctx, params); err != nil {
		return s.authError(err)
	}

	o, errResp := s.queryOrder(ctx, params)
	if errResp != nil {
		return errResp
	}

	data, _ := json.Marshal(map[string]int{"orderStatus": gameOrderStatusInt(o.Status)})
	return map[string]string{
		"retCode":    codeGameSuccess,
		"retMessage": "查询成功",
		"data":       codec.EncodeText(string(data)),
	}
}

// CardQuery 卡密订单查询：完成态时附加解密后的卡密列表
func (s *GameCardService) CardQuery(ctx context.Context, params map[string]string) map[string]string {
	if _, err := s.authenticate(ctx, params); err != nil {
		return s.authError(err)
	}

	o, errResp := s.queryOrder(ctx, params)
	if errResp != nil {
		return errResp
	}

	result := map[string]interface{}{
		"orderStatus": strconv.Itoa(gameOrderStatusInt(o.Status)),
	}
	if o.Status == order.StatusCompleted && o.CardInfo != "" {
		plain, err := s.store.Decrypt(o.CardInfo)
		if err != nil {
			// 密文损坏或主密钥轮换：记录并按系统错误返回，不崩请求
			zap.L().Error("decrypt card info failed", zap.String("orderNo", o.OrderNo), zap.Error(err))
			return gameError(codeGameSystem, "系统错误")
		}
		var cards []order.Card
		if err := json.Unmarshal([]byte(plain), &cards); err != nil {
			zap.L().Error("card info payload malformed", zap.String("orderNo", o.OrderNo), zap.Error(err))
			return gameError(codeGameSystem, "系统错误")
		}
		result["cardinfos"] = cards
	}

	message := "充值中"
	if o.Status == order.StatusCompleted {
		message = "充值成功"
	}
	data, _ := json.Marshal(result)
	return map[string]string{
		"retCode":    codeGameSuccess,
		"retMessage": message,
		"data":       codec.EncodeText(string(data)),
	}
}

// SetSkuHalted 设置/清除商品停售标记（后台操作入口）
func (s *GameCardService) SetSkuHalted(customerID int64, skuID string, halted bool) error {
	if s.redis == nil {
		return ErrConfigurationMissing
	}
	key := fmt.Sprintf(redisSkuHaltKey, customerID, skuID)
	if halted {
		return s.redis.Do(radix.Cmd(nil, "SET", key, "1"))
	}
	return s.redis.Do(radix.Cmd(nil, "DEL", key))
}

func (s *GameCardService) queryOrder(ctx context.Context, params map[string]string) (*order.Order, map[string]string) {
	payload, errResp := s.decodePayload(params)
	if errResp != nil {
		return nil, errResp
	}
	platformOrderNo := payload.OrderID.String()
	if platformOrderNo == "" {
		return nil, gameError(codeGameBadParams, "传入的参数有误")
	}

	o, err := s.orders.GetByPlatformOrderNo(ctx, platformOrderNo, order.BizGameCard)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gameError(codeGameNoOrder, "订单不存在")
		}
		zap.L().Error("query game card order failed", zap.String("platformOrderNo", platformOrderNo), zap.Error(err))
		return nil, gameError(codeGameSystem, "系统错误")
	}
	return o, nil
}

// authenticate 按 customerId 解析商户并验签。
// 游戏点卡平台必须配置签名密钥，缺失按配置缺失处理，不放行。
func (s *GameCardService) authenticate(ctx context.Context, params map[string]string) (*merchant.Credential, error) {
	customerID, err := strconv.ParseInt(params["customerId"], 10, 64)
	if err != nil {
		return nil, ErrConfigurationMissing
	}

	cfg, err := s.merchants.GetByCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("game card config missing", zap.Int64("customerId", customerID))
			return nil, ErrConfigurationMissing
		}
		zap.L().Error("load merchant config failed", zap.Int64("customerId", customerID), zap.Error(err))
		return nil, err
	}

	cred, err := resolveCredential(cfg, s.store)
	if err != nil {
		zap.L().Error("resolve credential failed", zap.Int64("merchantId", cfg.MerchantID), zap.Error(err))
		return nil, err
	}
	if cred.SigningKey == "" {
		zap.L().Warn("game card signing key not configured", zap.Int64("merchantId", cred.MerchantID))
		return nil, ErrConfigurationMissing
	}

	if !s.scheme.Verify(params, cred.SigningKey) {
		zap.L().Warn("game card signature mismatch", zap.Int64("customerId", customerID))
		return nil, ErrSignatureInvalid
	}
	return cred, nil
}

// authError 认证错误到平台 retCode 的映射
func (s *GameCardService) authError(err error) map[string]string {
	switch {
	case errors.Is(err, ErrSignatureInvalid):
		return gameError(codeGameBadSign, "验证摘要串验证失败")
	case errors.Is(err, ErrConfigurationMissing):
		return gameError(codeGameSystem, "系统错误：商户配置不存在")
	default:
		return gameError(codeGameSystem, "系统错误")
	}
}

func (s *GameCardService) decodePayload(params map[string]string) (*gameOrderPayload, map[string]string) {
	raw, err := codec.DecodeText(params["data"])
	if err != nil {
		return nil, gameError(codeGameBadParams, "传入的参数有误")
	}
	var payload gameOrderPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, gameError(codeGameBadParams, "传入的参数有误")
	}
	return &payload, nil
}

func (s *GameCardService) recordInbound(ctx context.Context, orderID int64, logType int, params map[string]string) {
	sanitized := make(map[string]string, len(params))
	for k, v := range params {
		if k == "sign" {
			continue
		}
		sanitized[k] = v
	}
	body, _ := json.Marshal(sanitized)
	l := &callbacklog.CallbackLog{
		OrderID:       orderID,
		Type:          logType,
		Direction:     callbacklog.DirectionInbound,
		RequestParams: string(body),
	}
	if err := s.logs.CreateCallback(ctx, l); err != nil {
		zap.L().Error("record inbound callback failed", zap.Int64("orderId", orderID), zap.Error(err))
	}
}

func gameError(code, message string) map[string]string {
	return map[string]string{
		"retCode":    code,
		"retMessage": message,
	}
}

// gameOrderStatusInt 内部状态到平台 orderStatus 的映射：0=成功，1=充值中，2=失败
func gameOrderStatusInt(st order.Status) int {
	switch st {
	case order.StatusCompleted:
		return 0
	case order.StatusError, order.StatusCancelled, order.StatusRefunded:
		return 2
	default:
		return 1
	}
}
