package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/secret"
)

// OrderService 订单台账操作（后台内部接口使用）
type OrderService struct {
	repo  order.Repository
	store *secret.Store
}

// NewOrderService 创建订单服务
func NewOrderService(repo order.Repository, store *secret.Store) *OrderService {
	return &OrderService{repo: repo, store: store}
}

// RecordFulfillment 录入履约数据：卡密或直充账号。
// 卡密数量必须与订单数量一致；本操作只写数据不改状态，
// 状态流转由调用方显式触发（数据录入与对外通知解耦）。
func (s *OrderService) RecordFulfillment(ctx context.Context, orderID int64, cards []order.Card, account string) error {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	switch o.FulfillKind {
	case order.KindCardDelivery:
		if len(cards) != o.Quantity {
			return fmt.Errorf("%w: card count %d != order quantity %d", ErrValidation, len(cards), o.Quantity)
		}
		raw, err := json.Marshal(cards)
		if err != nil {
			return fmt.Errorf("marshal cards: %w", err)
		}
		enc, err := s.store.Encrypt(string(raw))
		if err != nil {
			return fmt.Errorf("encrypt cards: %w", err)
		}
		o.CardInfo = enc
	case order.KindDirectTopUp:
		if account == "" {
			return fmt.Errorf("%w: produce account required", ErrValidation)
		}
		o.ProduceAccount = account
	default:
		return fmt.Errorf("%w: unknown fulfill kind %d", ErrValidation, o.FulfillKind)
	}

	if err := s.repo.Update(ctx, o); err != nil {
		return err
	}
	zap.L().Info("fulfillment recorded", zap.String("orderNo", o.OrderNo), zap.Int("cards", len(cards)))
	return nil
}

// TransitionStatus 显式状态流转，非法迁移拒绝
func (s *OrderService) TransitionStatus(ctx context.Context, orderID int64, next order.Status) error {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: status %d -> %d not allowed", ErrValidation, o.Status, next)
	}
	prev := o.Status
	o.Status = next
	if err := s.repo.Update(ctx, o); err != nil {
		return err
	}
	zap.L().Info("order status transitioned",
		zap.String("orderNo", o.OrderNo),
		zap.Int("from", int(prev)),
		zap.Int("to", int(next)))
	return nil
}

// GetByID 查询订单
func (s *OrderService) GetByID(ctx context.Context, orderID int64) (*order.Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// Query 按平台订单号 + 业务类型点查
func (s *OrderService) Query(ctx context.Context, platformOrderNo string, bizType order.BizType) (*order.Order, error) {
	o, err := s.repo.GetByPlatformOrderNo(ctx, platformOrderNo, bizType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// ListRecent 查询最新订单
func (s *OrderService) ListRecent(ctx context.Context, limit int) ([]*order.Order, error) {
	return s.repo.ListRecent(ctx, limit)
}

// DecryptCards 解出订单卡密（阿奇索发货等内部场景用，绝不入日志）
func (s *OrderService) DecryptCards(o *order.Order) ([]order.Card, error) {
	if o.CardInfo == "" {
		return nil, nil
	}
	plain, err := s.store.Decrypt(o.CardInfo)
	if err != nil {
		return nil, err
	}
	var cards []order.Card
	if err := json.Unmarshal([]byte(plain), &cards); err != nil {
		return nil, fmt.Errorf("card info payload malformed: %w", err)
	}
	return cards, nil
}
