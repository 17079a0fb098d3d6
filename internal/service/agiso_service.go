package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/sign"
)

// AgisoResult 阿奇索统一返回
type AgisoResult struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AgisoService 阿奇索开放平台桥接
//
// 可选模块：商户未配置或未启用时所有操作直接返回未启用结果，
// 不发起任何网络请求；调用方应先用 IsEnabled 判断
type AgisoService struct {
	configs merchant.AgisoRepository
	logs    callbacklog.Repository
	store   *secret.Store
	client  *http.Client
	scheme  sign.Agiso
}

// NewAgisoService 创建阿奇索桥接服务
func NewAgisoService(
	configs merchant.AgisoRepository,
	logs callbacklog.Repository,
	store *secret.Store,
	timeoutSeconds int,
) *AgisoService {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	return &AgisoService{
		configs: configs,
		logs:    logs,
		store:   store,
		client:  &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

// IsEnabled 商户是否启用阿奇索自动发货
func (s *AgisoService) IsEnabled(ctx context.Context, merchantID int64) bool {
	_, err := s.configs.GetEnabled(ctx, merchantID)
	return err == nil
}

// PullOrders 拉取待发货订单
func (s *AgisoService) PullOrders(ctx context.Context, merchantID int64) *AgisoResult {
	return s.call(ctx, merchantID, "订单拉取", map[string]string{
		"method": "order.pull",
	})
}

// AutoDeliver 提交发货信息（卡密/充值结果）
func (s *AgisoService) AutoDeliver(ctx context.Context, merchantID int64, orderID string, deliveryInfo interface{}) *AgisoResult {
	info, err := json.Marshal(deliveryInfo)
	if err != nil {
		return &AgisoResult{Success: false, Message: "发货信息格式错误"}
	}
	return s.call(ctx, merchantID, "自动发货", map[string]string{
		"method":       "order.deliver",
		"orderId":      orderID,
		"deliveryInfo": string(info),
	})
}

// QueryDeliveryStatus 查询发货状态
func (s *AgisoService) QueryDeliveryStatus(ctx context.Context, merchantID int64, orderID string) *AgisoResult {
	return s.call(ctx, merchantID, "发货状态查询", map[string]string{
		"method":  "order.status",
		"orderId": orderID,
	})
}

// QueryStock 查询商品库存
func (s *AgisoService) QueryStock(ctx context.Context, merchantID int64, productID string) *AgisoResult {
	params := map[string]string{
		"method": "stock.query",
	}
	if productID != "" {
		params["productId"] = productID
	}
	return s.call(ctx, merchantID, "库存查询", params)
}

func (s *AgisoService) call(ctx context.Context, merchantID int64, apiName string, params map[string]string) *AgisoResult {
	cfg, err := s.configs.GetEnabled(ctx, merchantID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			zap.L().Error("load agiso config failed", zap.Int64("merchantId", merchantID), zap.Error(err))
		}
		// 未配置/未启用：正常静默路径，不发网络请求
		return &AgisoResult{Success: false, Message: "阿奇索自动发货未配置或未启用"}
	}

	appSecret, err := s.store.Decrypt(cfg.AppSecret)
	if err != nil {
		zap.L().Error("decrypt agiso app secret failed", zap.Int64("merchantId", merchantID), zap.Error(err))
		return &AgisoResult{Success: false, Message: "解密配置失败"}
	}
	accessToken := ""
	if cfg.AccessToken != "" {
		if accessToken, err = s.store.Decrypt(cfg.AccessToken); err != nil {
			zap.L().Error("decrypt agiso access token failed", zap.Int64("merchantId", merchantID), zap.Error(err))
			return &AgisoResult{Success: false, Message: "解密配置失败"}
		}
	}

	params["appId"] = cfg.AppID
	params["timestamp"] = time.Now().Format(jdTimeLayout)
	params["sign"] = s.scheme.Sign(params, appSecret)

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://open.agiso.com"
	}
	if cfg.Port > 0 {
		baseURL = fmt.Sprintf("%s:%d", baseURL, cfg.Port)
	}

	logEntry := &callbacklog.AgisoLog{
		MerchantID: merchantID,
		APIName:    apiName,
	}
	sanitized := make(map[string]string, len(params))
	for k, v := range params {
		if k == "sign" || k == "deliveryInfo" {
			continue
		}
		sanitized[k] = v
	}
	reqBody, _ := json.Marshal(sanitized)
	logEntry.RequestData = string(reqBody)

	result := s.doPost(baseURL, accessToken, params, logEntry)

	if err := s.logs.CreateAgisoLog(ctx, logEntry); err != nil {
		zap.L().Error("persist agiso log failed", zap.Int64("merchantId", merchantID), zap.Error(err))
	}
	return result
}

func (s *AgisoService) doPost(target, accessToken string, params map[string]string, logEntry *callbacklog.AgisoLog) *AgisoResult {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		logEntry.ResultCode = "EXCEPTION"
		logEntry.ResultMessage = err.Error()
		return &AgisoResult{Success: false, Message: "请求阿奇索平台失败"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("ApiVersion", "1")

	resp, err := s.client.Do(req)
	if err != nil {
		logEntry.ResultCode = "EXCEPTION"
		logEntry.ResultMessage = "请求异常"
		zap.L().Warn("agiso request failed", zap.String("api", logEntry.APIName), zap.Error(err))
		return &AgisoResult{Success: false, Message: "请求阿奇索平台失败"}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		logEntry.ResultCode = "EXCEPTION"
		logEntry.ResultMessage = "请求异常"
		return &AgisoResult{Success: false, Message: "请求阿奇索平台失败"}
	}

	var parsed struct {
		Code    json.Number     `json:"code"`
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		logEntry.ResultCode = "EXCEPTION"
		logEntry.ResultMessage = "响应格式异常"
		logEntry.ResponseData = string(body)
		return &AgisoResult{Success: false, Message: "请求阿奇索平台失败"}
	}

	logEntry.ResultCode = parsed.Code.String()
	logEntry.ResultMessage = parsed.Message
	logEntry.ResponseData = string(body)

	return &AgisoResult{
		Success: parsed.Success || parsed.Code.String() == "0",
		Code:    parsed.Code.String(),
		Message: parsed.Message,
		Data:    parsed.Data,
	}
}
