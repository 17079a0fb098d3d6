package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qq419701/dianshang/internal/codec"
	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/secret"
	"github.com/qq419701/dianshang/internal/sign"
)

type callbackFixture struct {
	svc       *CallbackService
	orders    *memOrderRepo
	merchants *memMerchantRepo
	logs      *memCallbackRepo
	store     *secret.Store
}

func newCallbackFixture(t *testing.T) *callbackFixture {
	t.Helper()
	store := newTestStore()
	orders := newMemOrderRepo()
	merchants := &memMerchantRepo{}
	logs := &memCallbackRepo{}
	return &callbackFixture{
		svc:       NewCallbackService(orders, merchants, logs, store, 2),
		orders:    orders,
		merchants: merchants,
		logs:      logs,
		store:     store,
	}
}

func (f *callbackFixture) seedGeneralOrder(t *testing.T, notifyURL string, cards []order.Card) *order.Order {
	t.Helper()
	o := &order.Order{
		MerchantID:      10,
		BizType:         order.BizGeneralTrade,
		OrderNo:         "GT20240501120000AABBCCDD",
		PlatformOrderNo: "10001",
		Status:          order.StatusCompleted,
		FulfillKind:     order.KindCardDelivery,
		Quantity:        1,
		NotifyURL:       notifyURL,
	}
	if cards != nil {
		raw, _ := json.Marshal(cards)
		o.CardInfo = mustEncrypt(t, f.store, string(raw))
	}
	f.orders.nextID++
	o.ID = f.orders.nextID
	f.orders.orders[o.ID] = o

	f.merchants.configs = append(f.merchants.configs, &merchant.Config{
		MerchantID: 10,
		BizType:    order.BizGeneralTrade,
		VendorID:   88,
		MD5Secret:  mustEncrypt(t, f.store, testSigningKey),
		AESSecret:  mustEncrypt(t, f.store, testAESKey),
		IsEnabled:  true,
	})
	return o
}

func (f *callbackFixture) seedGameOrder(t *testing.T, kind order.FulfillKind, status order.Status, callbackURL string, cards []order.Card) *order.Order {
	t.Helper()
	o := &order.Order{
		MerchantID:      20,
		BizType:         order.BizGameCard,
		OrderNo:         "GC20240501120000AABBCCDD",
		PlatformOrderNo: "20001",
		Status:          status,
		FulfillKind:     kind,
		Quantity:        1,
	}
	if cards != nil {
		raw, _ := json.Marshal(cards)
		o.CardInfo = mustEncrypt(t, f.store, string(raw))
	}
	f.orders.nextID++
	o.ID = f.orders.nextID
	f.orders.orders[o.ID] = o

	cfg := &merchant.Config{
		MerchantID: 20,
		BizType:    order.BizGameCard,
		CustomerID: 1001,
		MD5Secret:  mustEncrypt(t, f.store, testGameSignKey),
		IsEnabled:  true,
	}
	if kind == order.KindCardDelivery {
		cfg.CardCallbackURL = callbackURL
	} else {
		cfg.DirectCallbackURL = callbackURL
	}
	f.merchants.configs = append(f.merchants.configs, cfg)
	return o
}

func formToMap(r *http.Request) map[string]string {
	_ = r.ParseForm()
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

func TestSendGeneralSuccess(t *testing.T) {
	f := newCallbackFixture(t)
	var received map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/notify/produce/result", r.URL.Path)
		received = formToMap(r)
		fmt.Fprint(w, `{"code":"JDO_200","message":"成功"}`)
	}))
	defer srv.Close()

	cards := []order.Card{{CardNumber: "C1", CardPassword: "P1"}}
	o := f.seedGeneralOrder(t, srv.URL+"/notify", cards)

	result, err := f.svc.Send(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, DispatchSuccess, result.Outcome)
	assert.Equal(t, "JDO_200", result.Code)

	// 回调参数对平台可验签，卡密以传输密钥加密
	require.NotNil(t, received)
	assert.Equal(t, "10001", received["jdOrderNo"])
	assert.Equal(t, "1", received["produceStatus"])
	assert.True(t, sign.GeneralTrade{}.Verify(received, testSigningKey))

	plain, err := secret.ECBDecrypt(received["product"], testAESKey)
	require.NoError(t, err)
	var got []order.Card
	require.NoError(t, json.Unmarshal([]byte(plain), &got))
	assert.Equal(t, cards, got)

	// 通知标记更新
	assert.True(t, o.Notified)
	require.NotNil(t, o.NotifySendTime)

	// 脱敏流水：签名与密文不落库
	require.Len(t, f.logs.callbacks, 1)
	l := f.logs.callbacks[0]
	assert.Equal(t, callbacklog.DirectionOutbound, l.Direction)
	assert.Equal(t, "JDO_200", l.ResultCode)
	assert.NotContains(t, l.RequestParams, "sign")
	assert.NotContains(t, l.RequestParams, "product")
}

func TestSendGeneralTerminalFailure(t *testing.T) {
	f := newCallbackFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"JDO_500","message":"参数错误"}`)
	}))
	defer srv.Close()

	o := f.seedGeneralOrder(t, srv.URL, nil)

	result, err := f.svc.Send(context.Background(), o.ID)
	require.NoError(t, err)
	// 平台明确拒绝：不算网络失败，不自动重试
	assert.Equal(t, DispatchTerminalFailure, result.Outcome)
	assert.False(t, o.Notified)
	require.Len(t, f.logs.callbacks, 1)
	assert.Equal(t, 0, f.logs.callbacks[0].RetryCount)
}

func TestSendGeneralNetworkFailureIsRetryable(t *testing.T) {
	f := newCallbackFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 连接拒绝

	o := f.seedGeneralOrder(t, srv.URL, nil)

	result, err := f.svc.Send(context.Background(), o.ID)
	require.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, DispatchRetryable, result.Outcome)
	assert.False(t, o.Notified)

	require.Len(t, f.logs.callbacks, 1)
	l := f.logs.callbacks[0]
	assert.Equal(t, "NETWORK_ERROR", l.ResultCode)
	assert.Equal(t, 1, l.RetryCount)
}

func TestSendGeneralNon2xxIsRetryable(t *testing.T) {
	f := newCallbackFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := f.seedGeneralOrder(t, srv.URL, nil)

	result, err := f.svc.Send(context.Background(), o.ID)
	require.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, DispatchRetryable, result.Outcome)
}

func TestSendGeneralWithoutNotifyURL(t *testing.T) {
	f := newCallbackFixture(t)
	o := f.seedGeneralOrder(t, "", nil)

	_, err := f.svc.Send(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestSendUnknownOrder(t *testing.T) {
	f := newCallbackFixture(t)
	_, err := f.svc.Send(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendCardDeliverCallback(t *testing.T) {
	f := newCallbackFixture(t)
	var received map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = formToMap(r)
		fmt.Fprint(w, `{"retCode":"100","retMessage":"成功"}`)
	}))
	defer srv.Close()

	cards := []order.Card{{CardNumber: "C1", CardPassword: "P1"}}
	o := f.seedGameOrder(t, order.KindCardDelivery, order.StatusCompleted, srv.URL, cards)

	result, err := f.svc.Send(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, DispatchSuccess, result.Outcome)

	require.NotNil(t, received)
	assert.Equal(t, "1001", received["customerId"])
	assert.True(t, sign.GameCard{}.Verify(received, testGameSignKey))

	// 出站 data 字段必须是 GBK 编码
	raw, err := codec.DecodeLegacy(received["data"])
	require.NoError(t, err)
	var biz struct {
		OrderID     int64        `json:"orderId"`
		OrderStatus int          `json:"orderStatus"`
		CardInfos   []order.Card `json:"cardinfos"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &biz))
	assert.Equal(t, int64(20001), biz.OrderID)
	assert.Equal(t, 0, biz.OrderStatus)
	assert.Equal(t, cards, biz.CardInfos)
}

func TestSendDirectChargeFailureCarriesReason(t *testing.T) {
	f := newCallbackFixture(t)
	var received map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = formToMap(r)
		fmt.Fprint(w, `{"retCode":"100","retMessage":"成功"}`)
	}))
	defer srv.Close()

	o := f.seedGameOrder(t, order.KindDirectTopUp, order.StatusError, srv.URL, nil)
	o.Remark = "账号不存在"

	result, err := f.svc.Send(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, DispatchSuccess, result.Outcome)

	raw, err := codec.DecodeLegacy(received["data"])
	require.NoError(t, err)
	var biz struct {
		OrderStatus  int    `json:"orderStatus"`
		FailedCode   int    `json:"failedCode"`
		FailedReason string `json:"failedReason"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &biz))
	assert.Equal(t, 2, biz.OrderStatus)
	assert.Equal(t, 1, biz.FailedCode)
	assert.Equal(t, "账号不存在", biz.FailedReason)
}
