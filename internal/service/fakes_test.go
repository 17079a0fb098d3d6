package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/secret"
)

// 内存仓储，单测里替代 MySQL；未命中一律返回 gorm.ErrRecordNotFound，
// 与真实仓储的错误约定保持一致

type memOrderRepo struct {
	nextID int64
	orders map[int64]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[int64]*order.Order{}}
}

func (r *memOrderRepo) CreateOrGet(_ context.Context, o *order.Order) (*order.Order, bool, error) {
	for _, existing := range r.orders {
		if existing.PlatformOrderNo == o.PlatformOrderNo && existing.BizType == o.BizType {
			return existing, false, nil
		}
	}
	r.nextID++
	o.ID = r.nextID
	r.orders[o.ID] = o
	return o, true, nil
}

func (r *memOrderRepo) GetByID(_ context.Context, id int64) (*order.Order, error) {
	if o, ok := r.orders[id]; ok {
		return o, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memOrderRepo) GetByPlatformOrderNo(_ context.Context, platformOrderNo string, bizType order.BizType) (*order.Order, error) {
	for _, o := range r.orders {
		if o.PlatformOrderNo == platformOrderNo && o.BizType == bizType {
			return o, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memOrderRepo) Update(_ context.Context, o *order.Order) error {
	if _, ok := r.orders[o.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	r.orders[o.ID] = o
	return nil
}

func (r *memOrderRepo) ListRecent(_ context.Context, limit int) ([]*order.Order, error) {
	list := make([]*order.Order, 0, len(r.orders))
	for id := r.nextID; id >= 1 && len(list) < limit; id-- {
		if o, ok := r.orders[id]; ok {
			list = append(list, o)
		}
	}
	return list, nil
}

type memMerchantRepo struct {
	configs []*merchant.Config
}

func (r *memMerchantRepo) GetByMerchantBiz(_ context.Context, merchantID int64, bizType order.BizType) (*merchant.Config, error) {
	for _, c := range r.configs {
		if c.MerchantID == merchantID && c.BizType == bizType {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memMerchantRepo) GetByVendorID(_ context.Context, vendorID int64) (*merchant.Config, error) {
	for _, c := range r.configs {
		if c.VendorID == vendorID && c.BizType == order.BizGeneralTrade {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memMerchantRepo) GetByCustomerID(_ context.Context, customerID int64) (*merchant.Config, error) {
	for _, c := range r.configs {
		if c.CustomerID == customerID && c.BizType == order.BizGameCard {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memMerchantRepo) Save(_ context.Context, c *merchant.Config) error {
	for i, existing := range r.configs {
		if existing.MerchantID == c.MerchantID && existing.BizType == c.BizType {
			c.ID = existing.ID
			if c.MD5Secret == "" {
				c.MD5Secret = existing.MD5Secret
			}
			if c.AESSecret == "" {
				c.AESSecret = existing.AESSecret
			}
			r.configs[i] = c
			return nil
		}
	}
	r.configs = append(r.configs, c)
	return nil
}

type memAgisoRepo struct {
	configs []*merchant.AgisoConfig
}

func (r *memAgisoRepo) GetEnabled(_ context.Context, merchantID int64) (*merchant.AgisoConfig, error) {
	for _, c := range r.configs {
		if c.MerchantID == merchantID && c.IsEnabled {
			return c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memAgisoRepo) Save(_ context.Context, c *merchant.AgisoConfig) error {
	for i, existing := range r.configs {
		if existing.MerchantID == c.MerchantID {
			c.ID = existing.ID
			if c.AppSecret == "" {
				c.AppSecret = existing.AppSecret
			}
			if c.AccessToken == "" {
				c.AccessToken = existing.AccessToken
			}
			r.configs[i] = c
			return nil
		}
	}
	r.configs = append(r.configs, c)
	return nil
}

type memCallbackRepo struct {
	nextID    int64
	callbacks []*callbacklog.CallbackLog
	agisoLogs []*callbacklog.AgisoLog
}

func (r *memCallbackRepo) CreateCallback(_ context.Context, l *callbacklog.CallbackLog) error {
	r.nextID++
	l.ID = r.nextID
	r.callbacks = append(r.callbacks, l)
	return nil
}

func (r *memCallbackRepo) IncrementRetry(_ context.Context, id int64) error {
	for _, l := range r.callbacks {
		if l.ID == id {
			l.RetryCount++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *memCallbackRepo) CreateAgisoLog(_ context.Context, l *callbacklog.AgisoLog) error {
	r.nextID++
	l.ID = r.nextID
	r.agisoLogs = append(r.agisoLogs, l)
	return nil
}

func (r *memCallbackRepo) ListByOrder(_ context.Context, orderID int64) ([]*callbacklog.CallbackLog, error) {
	var list []*callbacklog.CallbackLog
	for _, l := range r.callbacks {
		if l.OrderID == orderID {
			list = append(list, l)
		}
	}
	return list, nil
}

func newTestStore() *secret.Store {
	return secret.NewStore("unit-test-master-key")
}

// mustEncrypt 系统级加密，密钥字段入库前的形态
func mustEncrypt(t *testing.T, store *secret.Store, plain string) string {
	t.Helper()
	enc, err := store.Encrypt(plain)
	require.NoError(t, err)
	return enc
}
