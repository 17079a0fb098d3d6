package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/sign"
)

// 通用交易平台响应码
const (
	codeGeneralProduced  = "JDO_200" // 生产完成
	codeGeneralProducing = "JDO_201" // 生产中
	codeGeneralNoOrder   = "JDO_302" // 没有对应的订单
	codeGeneralBadSign   = "JDO_304" // 验证签名不正确
	codeGeneralSystem    = "JDO_500" // 系统错误
)

const jdTimeLayout = "20060102150405"

// GeneralTradeService 通用交易平台适配器
//
// 提交充值/提取卡密（beginDistill）与生产反查（findDistill），
// 入参为平台表单参数集，返回签名后的响应参数集
type GeneralTradeService struct {
	orders    order.Repository
	merchants merchant.Repository
	logs      callbacklog.Repository
	store     *secret.Store
	scheme    sign.GeneralTrade
}

// NewGeneralTradeService 创建通用交易服务
func NewGeneralTradeService(
	orders order.Repository,
	merchants merchant.Repository,
	logs callbacklog.Repository,
	store *secret.Store,
) *GeneralTradeService {
	return &GeneralTradeService{
		orders:    orders,
		merchants: merchants,
		logs:      logs,
		store:     store,
	}
}

// beginDistillRequest 提单请求的类型化形式，边界处校验后不再传裸参数表
type beginDistillRequest struct {
	JDOrderNo      string
	TotalPrice     int64
	Quantity       int
	WareNo         string
	ProduceAccount string
	NotifyURL      string
	PayTime        *time.Time
}

func parseBeginDistill(params map[string]string) (*beginDistillRequest, error) {
	req := &beginDistillRequest{
		JDOrderNo:      params["jdOrderNo"],
		WareNo:         params["wareNo"],
		ProduceAccount: params["produceAccount"],
		NotifyURL:      params["notifyUrl"],
		Quantity:       1,
	}
	if req.JDOrderNo == "" {
		return nil, ErrValidation
	}
	if v := params["totalPrice"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, ErrValidation
		}
		req.TotalPrice = n
	}
	if v := params["quantity"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, ErrValidation
		}
		req.Quantity = n
	}
	if v := params["payTime"]; v != "" {
		if t, err := time.ParseInLocation(jdTimeLayout, v, time.Local); err == nil {
			req.PayTime = &t
		}
	}
	return req, nil
}

// BeginDistill 提交充值 & 提取卡密。
// 同一京东订单号重复提交不重复建单，直接返回现有订单的生产状态。
func (s *GeneralTradeService) BeginDistill(ctx context.Context, params map[string]string) map[string]string {
	cred, err := s.authenticate(ctx, params)
	if err != nil {
		return s.authError(err, params["jdOrderNo"], cred)
	}

	req, err := parseBeginDistill(params)
	if err != nil {
		zap.L().Warn("begin distill bad params", zap.String("jdOrderNo", params["jdOrderNo"]))
		return s.errorResponse(codeGeneralSystem, params["jdOrderNo"], cred)
	}

	kind := order.KindCardDelivery
	if req.ProduceAccount != "" {
		kind = order.KindDirectTopUp
	}
	o := &order.Order{
		MerchantID:      cred.MerchantID,
		BizType:         order.BizGeneralTrade,
		OrderNo:         generateOrderNo(orderNoPrefixGeneralTrade),
		PlatformOrderNo: req.JDOrderNo,
		Status:          order.StatusProducing,
		FulfillKind:     kind,
		Amount:          req.TotalPrice,
		Quantity:        req.Quantity,
		WareNo:          req.WareNo,
		ProduceAccount:  req.ProduceAccount,
		NotifyURL:       req.NotifyURL,
		PayTime:         req.PayTime,
	}

	result, isNew, err := s.orders.CreateOrGet(ctx, o)
	if err != nil {
		zap.L().Error("create order failed", zap.String("jdOrderNo", req.JDOrderNo), zap.Error(err))
		return s.errorResponse(codeGeneralSystem, req.JDOrderNo, cred)
	}
	if isNew {
		zap.L().Info("general trade order created",
			zap.String("orderNo", result.OrderNo),
			zap.String("jdOrderNo", result.PlatformOrderNo))
	} else {
		zap.L().Info("general trade order resubmitted, returning current state",
			zap.String("jdOrderNo", result.PlatformOrderNo))
	}

	s.recordInbound(ctx, result.ID, params)

	return s.successResponse(ctx, result, cred)
}

// FindDistill 生产反查：返回订单当前生产状态
func (s *GeneralTradeService) FindDistill(ctx context.Context, params map[string]string) map[string]string {
	cred, err := s.authenticate(ctx, params)
	if err != nil {
		return s.authError(err, params["jdOrderNo"], cred)
	}

	jdOrderNo := params["jdOrderNo"]
	if jdOrderNo == "" {
		return s.errorResponse(codeGeneralSystem, "", cred)
	}

	o, err := s.orders.GetByPlatformOrderNo(ctx, jdOrderNo, order.BizGeneralTrade)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.errorResponse(codeGeneralNoOrder, jdOrderNo, cred)
		}
		zap.L().Error("find distill query failed", zap.String("jdOrderNo", jdOrderNo), zap.Error(err))
		return s.errorResponse(codeGeneralSystem, jdOrderNo, cred)
	}

	return s.successResponse(ctx, o, cred)
}

// authenticate 解析商户并验签。
// 验签失败时凭据仍随错误一并返回，便于上层按平台要求签名错误响应
func (s *GeneralTradeService) authenticate(ctx context.Context, params map[string]string) (*merchant.Credential, error) {
	vendorID, err := strconv.ParseInt(params["vendorId"], 10, 64)
	if err != nil {
		return nil, ErrConfigurationMissing
	}

	cfg, err := s.merchants.GetByVendorID(ctx, vendorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Warn("general trade config missing", zap.Int64("vendorId", vendorID))
			return nil, ErrConfigurationMissing
		}
		zap.L().Error("load merchant config failed", zap.Int64("vendorId", vendorID), zap.Error(err))
		return nil, err
	}

	cred, err := resolveCredential(cfg, s.store)
	if err != nil {
		// 主密钥轮换等导致的解密失败：记错误返回系统错误，不崩请求
		zap.L().Error("resolve credential failed", zap.Int64("merchantId", cfg.MerchantID), zap.Error(err))
		return nil, err
	}

	if cred.SigningKey == "" {
		// 商户未配置签名密钥时放行：沿用现网行为（入驻过渡期），是否收紧待产品确认
		zap.L().Warn("signing key not configured, skipping signature verification",
			zap.Int64("merchantId", cred.MerchantID))
		return cred, nil
	}
	if !s.scheme.Verify(params, cred.SigningKey) {
		zap.L().Warn("general trade signature mismatch", zap.String("jdOrderNo", params["jdOrderNo"]))
		return cred, ErrSignatureInvalid
	}
	return cred, nil
}

// authError 认证错误到平台错误响应的映射
func (s *GeneralTradeService) authError(err error, jdOrderNo string, cred *merchant.Credential) map[string]string {
	if errors.Is(err, ErrSignatureInvalid) {
		return s.errorResponse(codeGeneralBadSign, jdOrderNo, cred)
	}
	return s.errorResponse(codeGeneralSystem, jdOrderNo, cred)
}

// successResponse 组装签名响应；订单完成且有卡密时，
// 卡密先用系统密钥解密，再用商户传输密钥加密后下发
func (s *GeneralTradeService) successResponse(ctx context.Context, o *order.Order, cred *merchant.Credential) map[string]string {
	code := codeGeneralProducing
	if o.Status == order.StatusCompleted {
		code = codeGeneralProduced
	}
	resp := map[string]string{
		"signType":      "MD5",
		"timestamp":     time.Now().Format(jdTimeLayout),
		"code":          code,
		"jdOrderNo":     o.PlatformOrderNo,
		"agentOrderNo":  o.OrderNo,
		"produceStatus": generalProduceStatus(o.Status),
	}

	if o.Status == order.StatusCompleted && o.CardInfo != "" && cred.EncryptionKey != "" {
		plain, err := s.store.Decrypt(o.CardInfo)
		if err != nil {
			zap.L().Error("decrypt card info failed", zap.String("orderNo", o.OrderNo), zap.Error(err))
		} else if product, err := secret.ECBEncrypt(plain, cred.EncryptionKey); err != nil {
			zap.L().Error("encrypt card info for transport failed", zap.String("orderNo", o.OrderNo), zap.Error(err))
		} else {
			resp["product"] = product
		}
	}

	if cred.SigningKey != "" {
		resp["sign"] = s.scheme.Sign(resp, cred.SigningKey)
	}
	return resp
}

// errorResponse 错误响应同样按平台报文签名（取不到密钥时除外）
func (s *GeneralTradeService) errorResponse(code, jdOrderNo string, cred *merchant.Credential) map[string]string {
	produceStatus := "2"
	if code == codeGeneralSystem {
		produceStatus = "4"
	}
	resp := map[string]string{
		"signType":      "MD5",
		"timestamp":     time.Now().Format(jdTimeLayout),
		"code":          code,
		"produceStatus": produceStatus,
	}
	if jdOrderNo != "" {
		resp["jdOrderNo"] = jdOrderNo
	}
	if cred != nil && cred.SigningKey != "" {
		resp["sign"] = s.scheme.Sign(resp, cred.SigningKey)
	}
	return resp
}

// recordInbound 入站请求落回调流水（脱敏后存储）
func (s *GeneralTradeService) recordInbound(ctx context.Context, orderID int64, params map[string]string) {
	sanitized := make(map[string]string, len(params))
	for k, v := range params {
		if k == "sign" || k == "product" {
			continue
		}
		sanitized[k] = v
	}
	body, _ := json.Marshal(sanitized)
	l := &callbacklog.CallbackLog{
		OrderID:       orderID,
		Type:          callbacklog.TypeGeneralTrade,
		Direction:     callbacklog.DirectionInbound,
		RequestParams: string(body),
	}
	if err := s.logs.CreateCallback(ctx, l); err != nil {
		zap.L().Error("record inbound callback failed", zap.Int64("orderId", orderID), zap.Error(err))
	}
}

// generalProduceStatus 内部状态到平台 produceStatus 的映射
// 1=成功 2=失败 3=生产中
func generalProduceStatus(st order.Status) string {
	switch st {
	case order.StatusCompleted:
		return "1"
	case order.StatusError, order.StatusCancelled, order.StatusRefunded:
		return "2"
	default:
		return "3"
	}
}
