package server

import (
	"github.com/kataras/iris/v12"

	"github.com/qq419701/dianshang/internal/config"
	"github.com/qq419701/dianshang/internal/infra/mq"
	"github.com/qq419701/dianshang/internal/infra/redis"
	"github.com/qq419701/dianshang/internal/repository/mysql"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/service"
)

// RegisterRoutes 注册所有 HTTP 路由
func RegisterRoutes(app *iris.Application, cfg *config.Config) {
	// 初始化基础设施
	db := mysql.Init(&cfg.MySQL)
	redisClient := redis.Init(&cfg.Redis)
	mqConn := mq.Init(&cfg.RabbitMQ)

	store := secret.NewStore(cfg.Secret.MasterKey)

	// 仓储与服务
	orderRepo := mysql.NewOrderRepository(db)
	merchantRepo := mysql.NewMerchantRepository(db)
	agisoRepo := mysql.NewAgisoRepository(db)
	callbackRepo := mysql.NewCallbackRepository(db)

	generalSvc := service.NewGeneralTradeService(orderRepo, merchantRepo, callbackRepo, store)
	gameSvc := service.NewGameCardService(orderRepo, merchantRepo, callbackRepo, store, redisClient)
	orderSvc := service.NewOrderService(orderRepo, store)
	agisoSvc := service.NewAgisoService(agisoRepo, callbackRepo, store, cfg.HTTPClient.AgisoTimeout)

	app.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"code": 0, "msg": "ok"})
	})

	// ---------------- 平台入站接口 ----------------
	// 京东侧以 form 表单提交参数，签名校验在服务层完成

	general := app.Party("/jd/general")
	general.Post("/beginDistill", func(ctx iris.Context) {
		ctx.JSON(generalSvc.BeginDistill(ctx.Request().Context(), formParams(ctx)))
	})
	general.Post("/findDistill", func(ctx iris.Context) {
		ctx.JSON(generalSvc.FindDistill(ctx.Request().Context(), formParams(ctx)))
	})

	game := app.Party("/jd/game")
	game.Post("/preCheck", func(ctx iris.Context) {
		ctx.JSON(gameSvc.PreCheck(ctx.Request().Context(), formParams(ctx)))
	})
	game.Post("/directCharge", func(ctx iris.Context) {
		ctx.JSON(gameSvc.DirectCharge(ctx.Request().Context(), formParams(ctx)))
	})
	game.Post("/directQuery", func(ctx iris.Context) {
		ctx.JSON(gameSvc.DirectQuery(ctx.Request().Context(), formParams(ctx)))
	})
	game.Post("/cardOrder", func(ctx iris.Context) {
		ctx.JSON(gameSvc.CardOrder(ctx.Request().Context(), formParams(ctx)))
	})
	game.Post("/cardQuery", func(ctx iris.Context) {
		ctx.JSON(gameSvc.CardQuery(ctx.Request().Context(), formParams(ctx)))
	})

	// ---------------- 后台内部接口 ----------------

	registerAdminRoutes(app, cfg, adminDeps{
		store:        store,
		mqConn:       mqConn,
		orderSvc:     orderSvc,
		gameSvc:      gameSvc,
		agisoSvc:     agisoSvc,
		merchantRepo: merchantRepo,
		agisoRepo:    agisoRepo,
		callbackRepo: callbackRepo,
	})
}

// formParams 表单参数展平为单值表，重复键取第一个
func formParams(ctx iris.Context) map[string]string {
	values := ctx.FormValues()
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
