package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
	"github.com/qq419701/dianshang/internal/sign"
)

const testAgisoSecret = "agiso-app-secret"

func TestAgisoDisabledNoNetworkCall(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	logs := &memCallbackRepo{}
	svc := NewAgisoService(&memAgisoRepo{}, logs, newTestStore(), 2)

	assert.False(t, svc.IsEnabled(context.Background(), 10))

	result := svc.AutoDeliver(context.Background(), 10, "10001", []order.Card{{CardNumber: "C1"}})
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "未配置或未启用")

	// 未启用时不发请求、不落流水
	assert.Equal(t, 0, hits)
	assert.Empty(t, logs.agisoLogs)
}

func TestAgisoDisabledConfigIgnored(t *testing.T) {
	store := newTestStore()
	repo := &memAgisoRepo{configs: []*merchant.AgisoConfig{{
		MerchantID: 10,
		AppID:      "app1",
		AppSecret:  mustEncrypt(t, store, testAgisoSecret),
		IsEnabled:  false,
	}}}
	svc := NewAgisoService(repo, &memCallbackRepo{}, store, 2)

	assert.False(t, svc.IsEnabled(context.Background(), 10))
	result := svc.QueryStock(context.Background(), 10, "555")
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "未配置或未启用")
}

func TestAgisoAutoDeliver(t *testing.T) {
	var received map[string]string
	var headers http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		received = formToMap(r)
		fmt.Fprint(w, `{"code":0,"success":true,"message":"发货成功","data":{"deliveryId":"D1"}}`)
	}))
	defer srv.Close()

	store := newTestStore()
	repo := &memAgisoRepo{configs: []*merchant.AgisoConfig{{
		MerchantID:  10,
		Host:        srv.URL,
		AppID:       "app1",
		AppSecret:   mustEncrypt(t, store, testAgisoSecret),
		AccessToken: mustEncrypt(t, store, "token-abc"),
		IsEnabled:   true,
	}}}
	logs := &memCallbackRepo{}
	svc := NewAgisoService(repo, logs, store, 2)

	require.True(t, svc.IsEnabled(context.Background(), 10))

	result := svc.AutoDeliver(context.Background(), 10, "10001", []order.Card{{CardNumber: "C1", CardPassword: "P1"}})
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "0", result.Code)
	assert.Equal(t, "发货成功", result.Message)

	assert.Equal(t, "Bearer token-abc", headers.Get("Authorization"))
	assert.Equal(t, "1", headers.Get("ApiVersion"))

	require.NotNil(t, received)
	assert.Equal(t, "app1", received["appId"])
	assert.Equal(t, "order.deliver", received["method"])
	assert.Equal(t, "10001", received["orderId"])
	assert.True(t, sign.Agiso{}.Verify(received, testAgisoSecret))

	// 流水记录调用名与结果码，发货明细不落库
	require.Len(t, logs.agisoLogs, 1)
	l := logs.agisoLogs[0]
	assert.Equal(t, "自动发货", l.APIName)
	assert.Equal(t, "0", l.ResultCode)
	assert.NotContains(t, l.RequestData, "deliveryInfo")
	assert.NotContains(t, l.RequestData, "C1")
}

func TestAgisoNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	store := newTestStore()
	repo := &memAgisoRepo{configs: []*merchant.AgisoConfig{{
		MerchantID: 10,
		Host:       srv.URL,
		AppID:      "app1",
		AppSecret:  mustEncrypt(t, store, testAgisoSecret),
		IsEnabled:  true,
	}}}
	logs := &memCallbackRepo{}
	svc := NewAgisoService(repo, logs, store, 2)

	result := svc.PullOrders(context.Background(), 10)
	require.NotNil(t, result)
	assert.False(t, result.Success)

	require.Len(t, logs.agisoLogs, 1)
	assert.Equal(t, "EXCEPTION", logs.agisoLogs[0].ResultCode)
}
