package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/codec"
	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/sign"
)

// DispatchOutcome 单次回调投递的结果分类
type DispatchOutcome int

const (
	DispatchSuccess         DispatchOutcome = iota // 终态成功，已更新通知标记
	DispatchTerminalFailure                        // 平台明确拒绝，不自动重试
	DispatchRetryable                              // 网络类失败，可重试
)

// DispatchResult 投递结果；重试策略由调用方决定，本服务每次只投递一次
type DispatchResult struct {
	Outcome DispatchOutcome
	Code    string
	Message string
}

// CallbackService 出站回调投递器
//
// 每次投递无论成败都会产生一条脱敏后的回调流水；
// 出站请求带固定超时，超时视作可重试失败，不支持中途取消
type CallbackService struct {
	orders     order.Repository
	merchants  merchant.Repository
	logs       callbacklog.Repository
	store      *secret.Store
	client     *http.Client
	generalSig sign.GeneralTrade
	gameSig    sign.GameCard
}

// NewCallbackService 创建回调投递器
func NewCallbackService(
	orders order.Repository,
	merchants merchant.Repository,
	logs callbacklog.Repository,
	store *secret.Store,
	timeoutSeconds int,
) *CallbackService {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	return &CallbackService{
		orders:    orders,
		merchants: merchants,
		logs:      logs,
		store:     store,
		client:    &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// Send 按订单业务类型投递生产结果回调
func (s *CallbackService) Send(ctx context.Context, orderID int64) (*DispatchResult, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cfg, err := s.merchants.GetByMerchantBiz(ctx, o.MerchantID, o.BizType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: merchant %d biz %d", ErrConfigurationMissing, o.MerchantID, o.BizType)
		}
		return nil, err
	}
	cred, err := resolveCredential(cfg, s.store)
	if err != nil {
		return nil, err
	}

	switch o.BizType {
	case order.BizGeneralTrade:
		return s.sendGeneral(ctx, o, cred)
	case order.BizGameCard:
		if o.FulfillKind == order.KindCardDelivery {
			return s.sendGameCallback(ctx, o, cred, cred.CardCallbackURL, callbacklog.TypeCardDeliver, true)
		}
		return s.sendGameCallback(ctx, o, cred, cred.DirectCallbackURL, callbacklog.TypeDirectCharge, false)
	}
	return nil, fmt.Errorf("%w: unknown biz type %d", ErrValidation, o.BizType)
}

// sendGeneral 通用交易生产结果回调：POST {notifyUrl}/produce/result
func (s *CallbackService) sendGeneral(ctx context.Context, o *order.Order, cred *merchant.Credential) (*DispatchResult, error) {
	if o.NotifyURL == "" {
		return nil, fmt.Errorf("%w: order %s has no notify url", ErrConfigurationMissing, o.OrderNo)
	}

	params := map[string]string{
		"timestamp":     time.Now().Format(jdTimeLayout),
		"vendorId":      strconv.FormatInt(cred.VendorID, 10),
		"jdOrderNo":     o.PlatformOrderNo,
		"agentOrderNo":  o.OrderNo,
		"produceStatus": generalProduceStatus(o.Status),
		"quantity":      strconv.Itoa(o.Quantity),
	}

	// 完成态携带卡密：系统密钥解出后用商户传输密钥加密
	if o.Status == order.StatusCompleted && o.CardInfo != "" && cred.EncryptionKey != "" {
		plain, err := s.store.Decrypt(o.CardInfo)
		if err != nil {
			return nil, err
		}
		product, err := secret.ECBEncrypt(plain, cred.EncryptionKey)
		if err != nil {
			return nil, err
		}
		params["product"] = product
	}
	if cred.SigningKey != "" {
		params["sign"] = s.generalSig.Sign(params, cred.SigningKey)
	}

	target := o.NotifyURL + "/produce/result"
	return s.post(ctx, o, callbacklog.TypeGeneralTrade, target, params, "code", "message", codeGeneralProduced)
}

// sendGameCallback 游戏点卡直充/卡密回调。
// data 字段必须 GBK 编码后 Base64，与入站报文的 UTF-8 编码不同。
func (s *CallbackService) sendGameCallback(ctx context.Context, o *order.Order, cred *merchant.Credential, target string, logType int, withCards bool) (*DispatchResult, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: order %s has no callback url", ErrConfigurationMissing, o.OrderNo)
	}

	biz := map[string]interface{}{
		"orderStatus": 0,
	}
	if n, err := strconv.ParseInt(o.PlatformOrderNo, 10, 64); err == nil {
		biz["orderId"] = n
	} else {
		biz["orderId"] = o.PlatformOrderNo
	}
	if o.Status != order.StatusCompleted {
		biz["orderStatus"] = 2
		biz["failedCode"] = 1
		reason := o.Remark
		if reason == "" {
			reason = "充值失败"
		}
		biz["failedReason"] = reason
	} else if withCards && o.CardInfo != "" {
		plain, err := s.store.Decrypt(o.CardInfo)
		if err != nil {
			return nil, err
		}
		var cards []order.Card
		if err := json.Unmarshal([]byte(plain), &cards); err != nil {
			return nil, fmt.Errorf("card info payload malformed: %w", err)
		}
		biz["cardinfos"] = cards
	}

	raw, err := json.Marshal(biz)
	if err != nil {
		return nil, err
	}
	encoded, err := codec.EncodeLegacy(string(raw))
	if err != nil {
		return nil, fmt.Errorf("encode callback payload: %w", err)
	}

	params := map[string]string{
		"customerId": strconv.FormatInt(cred.CustomerID, 10),
		"data":       encoded,
		"timestamp":  time.Now().Format(jdTimeLayout),
	}
	if cred.SigningKey == "" {
		return nil, fmt.Errorf("%w: signing key required for game card callback", ErrConfigurationMissing)
	}
	params["sign"] = s.gameSig.Sign(params, cred.SigningKey)

	return s.post(ctx, o, logType, target, params, "retCode", "retMessage", codeGameSuccess)
}

// post 发送表单请求并分类结果；无论成败写入一条脱敏流水
func (s *CallbackService) post(ctx context.Context, o *order.Order, logType int, target string, params map[string]string, codeField, messageField, successCode string) (*DispatchResult, error) {
	logEntry := &callbacklog.CallbackLog{
		OrderID:       o.ID,
		Type:          logType,
		Direction:     callbacklog.DirectionOutbound,
		RequestParams: sanitizeParams(params),
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	resp, err := s.client.PostForm(target, form)
	if err != nil {
		// 超时/连接失败：可重试，流水记 NETWORK_ERROR 并递增重试计数
		logEntry.ResultCode = "NETWORK_ERROR"
		logEntry.ResultMessage = err.Error()
		s.persistLog(ctx, logEntry, true)
		zap.L().Warn("callback network failure",
			zap.String("orderNo", o.OrderNo),
			zap.String("target", target),
			zap.Error(err))
		return &DispatchResult{Outcome: DispatchRetryable, Code: "NETWORK_ERROR", Message: err.Error()},
			fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		logEntry.ResultCode = "NETWORK_ERROR"
		logEntry.ResultMessage = err.Error()
		s.persistLog(ctx, logEntry, true)
		return &DispatchResult{Outcome: DispatchRetryable, Code: "NETWORK_ERROR", Message: err.Error()},
			fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}

	var parsed map[string]interface{}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || json.Unmarshal(body, &parsed) != nil {
		logEntry.ResultCode = strconv.Itoa(resp.StatusCode)
		logEntry.ResultMessage = "unexpected response"
		logEntry.ResponseData = string(body)
		s.persistLog(ctx, logEntry, true)
		return &DispatchResult{Outcome: DispatchRetryable, Code: strconv.Itoa(resp.StatusCode), Message: "unexpected response"},
			fmt.Errorf("%w: http status %d", ErrNetworkFailure, resp.StatusCode)
	}

	code := stringify(parsed[codeField])
	message := stringify(parsed[messageField])
	logEntry.ResultCode = code
	logEntry.ResultMessage = message
	logEntry.ResponseData = string(body)
	s.persistLog(ctx, logEntry, false)

	if code != successCode {
		zap.L().Warn("callback rejected by platform",
			zap.String("orderNo", o.OrderNo),
			zap.String("code", code),
			zap.String("message", message))
		return &DispatchResult{Outcome: DispatchTerminalFailure, Code: code, Message: message}, nil
	}

	now := time.Now()
	o.Notified = true
	o.NotifySendTime = &now
	if err := s.orders.Update(ctx, o); err != nil {
		zap.L().Error("update notify bookkeeping failed", zap.String("orderNo", o.OrderNo), zap.Error(err))
	}
	zap.L().Info("callback delivered", zap.String("orderNo", o.OrderNo), zap.String("code", code))
	return &DispatchResult{Outcome: DispatchSuccess, Code: code, Message: message}, nil
}

func (s *CallbackService) persistLog(ctx context.Context, l *callbacklog.CallbackLog, retryable bool) {
	if err := s.logs.CreateCallback(ctx, l); err != nil {
		zap.L().Error("persist callback log failed", zap.Int64("orderId", l.OrderID), zap.Error(err))
		return
	}
	if retryable {
		if err := s.logs.IncrementRetry(ctx, l.ID); err != nil {
			zap.L().Error("increment retry count failed", zap.Int64("logId", l.ID), zap.Error(err))
		}
	}
}

// sanitizeParams 出站报文脱敏：签名、密文与卡密字段不落库
func sanitizeParams(params map[string]string) string {
	sanitized := make(map[string]string, len(params))
	for k, v := range params {
		if k == "sign" || k == "product" || k == "data" {
			continue
		}
		sanitized[k] = v
	}
	raw, _ := json.Marshal(sanitized)
	return string(raw)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
