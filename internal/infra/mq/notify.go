package mq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NotifyMessage 回调通知消息体
type NotifyMessage struct {
	OrderID int64 `json:"orderId"`
	Attempt int   `json:"attempt"`
}

// DeclareNotifyQueue 声明持久化通知队列，生产者与消费者均需调用
func DeclareNotifyQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(NotifyQueue, true, false, false, false, nil)
	return err
}

// PublishNotify 投递回调通知消息
func PublishNotify(ctx context.Context, conn *amqp.Connection, msg NotifyMessage) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := DeclareNotifyQueue(ch); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(ctx, "", NotifyQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}
