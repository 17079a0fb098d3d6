package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
)

type callbackRepo struct {
	db *gorm.DB
}

// NewCallbackRepository 创建回调流水仓储
func NewCallbackRepository(db *gorm.DB) callbacklog.Repository {
	return &callbackRepo{db: db}
}

func (r *callbackRepo) CreateCallback(ctx context.Context, l *callbacklog.CallbackLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *callbackRepo) IncrementRetry(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&callbacklog.CallbackLog{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

func (r *callbackRepo) CreateAgisoLog(ctx context.Context, l *callbacklog.AgisoLog) error {
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *callbackRepo) ListByOrder(ctx context.Context, orderID int64) ([]*callbacklog.CallbackLog, error) {
	var list []*callbacklog.CallbackLog
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
