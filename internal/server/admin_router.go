package server

import (
	"errors"
	"strings"

	"github.com/kataras/iris/v12"
	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/auth"
	"github.com/qq419701/dianshang/internal/config"
	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/infra/mq"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/service"
)

type adminDeps struct {
	store        *secret.Store
	mqConn       *amqp.Connection
	orderSvc     *service.OrderService
	gameSvc      *service.GameCardService
	agisoSvc     *service.AgisoService
	merchantRepo merchant.Repository
	agisoRepo    merchant.AgisoRepository
	callbackRepo callbacklog.Repository
}

// registerAdminRoutes 注册后台内部接口（JWT 鉴权）
func registerAdminRoutes(app *iris.Application, cfg *config.Config, deps adminDeps) {
	api := app.Party("/api")

	api.Post("/login", func(ctx iris.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if req.Username != cfg.Admin.Username || req.Password != cfg.Admin.Password {
			ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "账号或密码错误"})
			return
		}
		token, err := auth.GenerateToken(&cfg.JWT, req.Username)
		if err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": iris.Map{"token": token}})
	})

	// 需要登录的接口
	authAPI := api.Party("/", func(ctx iris.Context) {
		token := strings.TrimPrefix(ctx.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "missing token"})
			return
		}
		claims, err := auth.ParseToken(&cfg.JWT, token)
		if err != nil {
			ctx.StopWithJSON(401, iris.Map{"code": 401, "msg": "invalid token"})
			return
		}
		ctx.Values().Set("operator", claims.Operator)
		ctx.Next()
	})

	// 订单列表
	authAPI.Get("/orders", func(ctx iris.Context) {
		limit := ctx.URLParamIntDefault("limit", 50)
		list, err := deps.orderSvc.ListRecent(ctx.Request().Context(), limit)
		if err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": list})
	})

	// 按平台订单号查询
	authAPI.Get("/orders/query", func(ctx iris.Context) {
		platformOrderNo := ctx.URLParam("platformOrderNo")
		bizType := ctx.URLParamIntDefault("bizType", 0)
		o, err := deps.orderSvc.Query(ctx.Request().Context(), platformOrderNo, order.BizType(bizType))
		if err != nil {
			failJSON(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": o})
	})

	authAPI.Get("/orders/{id:int64}", func(ctx iris.Context) {
		id, _ := ctx.Params().GetInt64("id")
		o, err := deps.orderSvc.GetByID(ctx.Request().Context(), id)
		if err != nil {
			failJSON(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": o})
	})

	// 订单回调流水
	authAPI.Get("/orders/{id:int64}/callbacks", func(ctx iris.Context) {
		id, _ := ctx.Params().GetInt64("id")
		logs, err := deps.callbackRepo.ListByOrder(ctx.Request().Context(), id)
		if err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "data": logs})
	})

	// 录入生产结果（卡密/充值账号），不改状态
	authAPI.Post("/orders/{id:int64}/fulfill", func(ctx iris.Context) {
		id, _ := ctx.Params().GetInt64("id")
		var req struct {
			Cards          []order.Card `json:"cards"`
			ProduceAccount string       `json:"produceAccount"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if err := deps.orderSvc.RecordFulfillment(ctx.Request().Context(), id, req.Cards, req.ProduceAccount); err != nil {
			failJSON(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// 状态流转（状态机校验不通过返回 400）
	authAPI.Post("/orders/{id:int64}/status", func(ctx iris.Context) {
		id, _ := ctx.Params().GetInt64("id")
		var req struct {
			Status int `json:"status"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if err := deps.orderSvc.TransitionStatus(ctx.Request().Context(), id, order.Status(req.Status)); err != nil {
			failJSON(ctx, err)
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// 触发回调通知：投递到 MQ，由 notify-worker 异步执行
	authAPI.Post("/orders/{id:int64}/notify", func(ctx iris.Context) {
		id, _ := ctx.Params().GetInt64("id")
		if _, err := deps.orderSvc.GetByID(ctx.Request().Context(), id); err != nil {
			failJSON(ctx, err)
			return
		}
		msg := mq.NotifyMessage{OrderID: id}
		if err := mq.PublishNotify(ctx.Request().Context(), deps.mqConn, msg); err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "queued"})
	})

	// 阿奇索自动发货
	authAPI.Post("/orders/{id:int64}/deliver", func(ctx iris.Context) {
		id, _ := ctx.Params().GetInt64("id")
		o, err := deps.orderSvc.GetByID(ctx.Request().Context(), id)
		if err != nil {
			failJSON(ctx, err)
			return
		}
		if !deps.agisoSvc.IsEnabled(ctx.Request().Context(), o.MerchantID) {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": "阿奇索自动发货未配置或未启用"})
			return
		}
		cards, err := deps.orderSvc.DecryptCards(o)
		if err != nil {
			failJSON(ctx, err)
			return
		}
		result := deps.agisoSvc.AutoDeliver(ctx.Request().Context(), o.MerchantID, o.PlatformOrderNo, cards)
		ctx.JSON(iris.Map{"code": 0, "data": result})
	})

	// 商户配置查询（密钥字段不回显）
	authAPI.Get("/merchants", func(ctx iris.Context) {
		merchantID := int64(ctx.URLParamIntDefault("merchantId", 0))
		bizType := ctx.URLParamIntDefault("bizType", 0)
		c, err := deps.merchantRepo.GetByMerchantBiz(ctx.Request().Context(), merchantID, order.BizType(bizType))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				ctx.StopWithJSON(404, iris.Map{"code": 404, "msg": "未找到商户配置"})
				return
			}
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		c.MD5Secret = ""
		c.AESSecret = ""
		ctx.JSON(iris.Map{"code": 0, "data": c})
	})

	// 商户配置保存：密钥明文入参，落库前系统级加密
	authAPI.Post("/merchants", func(ctx iris.Context) {
		var req struct {
			MerchantID        int64  `json:"merchantId"`
			BizType           int    `json:"bizType"`
			VendorID          int64  `json:"vendorId"`
			CustomerID        int64  `json:"customerId"`
			MD5Secret         string `json:"md5Secret"`
			AESSecret         string `json:"aesSecret"`
			CallbackURL       string `json:"callbackUrl"`
			DirectCallbackURL string `json:"directCallbackUrl"`
			CardCallbackURL   string `json:"cardCallbackUrl"`
			IsEnabled         bool   `json:"isEnabled"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if req.MerchantID <= 0 || (req.BizType != int(order.BizGeneralTrade) && req.BizType != int(order.BizGameCard)) {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": "参数不合法"})
			return
		}

		c := &merchant.Config{
			MerchantID:        req.MerchantID,
			BizType:           order.BizType(req.BizType),
			VendorID:          req.VendorID,
			CustomerID:        req.CustomerID,
			CallbackURL:       req.CallbackURL,
			DirectCallbackURL: req.DirectCallbackURL,
			CardCallbackURL:   req.CardCallbackURL,
			IsEnabled:         req.IsEnabled,
		}
		var err error
		if req.MD5Secret != "" {
			if c.MD5Secret, err = deps.store.Encrypt(req.MD5Secret); err != nil {
				ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
				return
			}
		}
		if req.AESSecret != "" {
			if c.AESSecret, err = deps.store.Encrypt(req.AESSecret); err != nil {
				ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
				return
			}
		}
		if err := deps.merchantRepo.Save(ctx.Request().Context(), c); err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// 阿奇索配置保存
	authAPI.Post("/agiso", func(ctx iris.Context) {
		var req struct {
			MerchantID  int64  `json:"merchantId"`
			Host        string `json:"host"`
			Port        int    `json:"port"`
			AppID       string `json:"appId"`
			AppSecret   string `json:"appSecret"`
			AccessToken string `json:"accessToken"`
			IsEnabled   bool   `json:"isEnabled"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if req.MerchantID <= 0 {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": "参数不合法"})
			return
		}

		c := &merchant.AgisoConfig{
			MerchantID: req.MerchantID,
			Host:       req.Host,
			Port:       req.Port,
			AppID:      req.AppID,
			IsEnabled:  req.IsEnabled,
		}
		var err error
		if req.AppSecret != "" {
			if c.AppSecret, err = deps.store.Encrypt(req.AppSecret); err != nil {
				ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
				return
			}
		}
		if req.AccessToken != "" {
			if c.AccessToken, err = deps.store.Encrypt(req.AccessToken); err != nil {
				ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
				return
			}
		}
		if err := deps.agisoRepo.Save(ctx.Request().Context(), c); err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// 商品停售标记
	authAPI.Post("/sku/halt", func(ctx iris.Context) {
		var req struct {
			CustomerID int64  `json:"customerId"`
			SkuID      string `json:"skuId"`
			Halted     bool   `json:"halted"`
		}
		if err := ctx.ReadJSON(&req); err != nil {
			ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
			return
		}
		if err := deps.gameSvc.SetSkuHalted(req.CustomerID, req.SkuID, req.Halted); err != nil {
			ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
			return
		}
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})
}

// failJSON 按服务层错误类型映射 HTTP 状态码
func failJSON(ctx iris.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		ctx.StopWithJSON(404, iris.Map{"code": 404, "msg": "未找到订单"})
	case errors.Is(err, service.ErrValidation):
		ctx.StopWithJSON(400, iris.Map{"code": 400, "msg": err.Error()})
	default:
		ctx.StopWithJSON(500, iris.Map{"code": 500, "msg": err.Error()})
	}
}
