package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/qq419701/dianshang/internal/config"
	"github.com/qq419701/dianshang/internal/infra/mq"
	"github.com/qq419701/dianshang/internal/logger"
	"github.com/qq419701/dianshang/internal/repository/mysql"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/service"
)

// maxNotifyAttempts 可重试失败的最大投递次数，超过后放弃并留待人工处理
const maxNotifyAttempts = 5

func main() {
	cfg, err := config.LoadConfig("./config")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init()
	defer func() { _ = zap.L().Sync() }()

	db := mysql.Init(&cfg.MySQL)
	mqConn := mq.Init(&cfg.RabbitMQ)

	store := secret.NewStore(cfg.Secret.MasterKey)
	orderRepo := mysql.NewOrderRepository(db)
	merchantRepo := mysql.NewMerchantRepository(db)
	callbackRepo := mysql.NewCallbackRepository(db)
	callbackSvc := service.NewCallbackService(orderRepo, merchantRepo, callbackRepo, store, cfg.HTTPClient.CallbackTimeout)

	ch, err := mqConn.Channel()
	if err != nil {
		log.Fatalf("failed to open channel: %v", err)
	}
	defer ch.Close()

	if err := mq.DeclareNotifyQueue(ch); err != nil {
		log.Fatalf("failed to declare queue: %v", err)
	}

	// 手动确认模式（auto-ack=false）
	msgs, err := ch.Consume(mq.NotifyQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	zap.L().Info("notify worker started, waiting for messages")

	for d := range msgs {
		var m mq.NotifyMessage
		if err := json.Unmarshal(d.Body, &m); err != nil {
			zap.L().Warn("invalid notify message", zap.Error(err))
			// 消息格式错误，拒绝并丢弃
			_ = d.Nack(false, false)
			continue
		}
		handleMessage(context.Background(), mqConn, callbackSvc, &m, d)
	}
}

func handleMessage(ctx context.Context, mqConn *amqp.Connection, callbackSvc *service.CallbackService, m *mq.NotifyMessage, d amqp.Delivery) {
	result, err := callbackSvc.Send(ctx, m.OrderID)
	if err != nil {
		if errors.Is(err, service.ErrNetworkFailure) {
			requeue(ctx, mqConn, m)
			_ = d.Ack(false)
			return
		}
		// 订单不存在、配置缺失等：重试不会改变结果，丢弃
		zap.L().Error("notify dispatch failed",
			zap.Int64("orderId", m.OrderID),
			zap.Int("attempt", m.Attempt),
			zap.Error(err))
		_ = d.Ack(false)
		return
	}

	switch result.Outcome {
	case service.DispatchSuccess:
		zap.L().Info("notify delivered",
			zap.Int64("orderId", m.OrderID),
			zap.String("code", result.Code))
	case service.DispatchTerminalFailure:
		zap.L().Warn("notify rejected by platform",
			zap.Int64("orderId", m.OrderID),
			zap.String("code", result.Code),
			zap.String("msg", result.Message))
	case service.DispatchRetryable:
		requeue(ctx, mqConn, m)
	}
	_ = d.Ack(false)
}

// requeue 以递增的尝试次数重新投递，超过上限后放弃
func requeue(ctx context.Context, mqConn *amqp.Connection, m *mq.NotifyMessage) {
	if m.Attempt+1 >= maxNotifyAttempts {
		zap.L().Error("notify giving up after max attempts",
			zap.Int64("orderId", m.OrderID),
			zap.Int("attempts", m.Attempt+1))
		return
	}
	next := mq.NotifyMessage{OrderID: m.OrderID, Attempt: m.Attempt + 1}
	if err := mq.PublishNotify(ctx, mqConn, next); err != nil {
		zap.L().Error("requeue notify failed", zap.Int64("orderId", m.OrderID), zap.Error(err))
	}
}
