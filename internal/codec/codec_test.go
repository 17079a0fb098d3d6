package codec

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRoundTrip(t *testing.T) {
	cases := []string{
		"",
		`{"orderId":123}`,
		`{"failedReason":"充值失败：账号不存在"}`,
		"商品描述 with mixed 内容 ①②③",
	}
	for _, c := range cases {
		got, err := DecodeText(EncodeText(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestLegacyRoundTrip(t *testing.T) {
	cases := []string{
		"",
		`{"orderId":123,"orderStatus":0}`,
		`{"failedReason":"充值失败，请稍后重试"}`,
	}
	for _, c := range cases {
		enc, err := EncodeLegacy(c)
		require.NoError(t, err)
		got, err := DecodeLegacy(enc)
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestLegacyEncodingDiffersFromText(t *testing.T) {
	s := `{"failedReason":"余额不足"}`
	enc, err := EncodeLegacy(s)
	require.NoError(t, err)
	// 中文在 GBK 与 UTF-8 下字节不同，两种编码的密文不可互换
	assert.NotEqual(t, EncodeText(s), enc)
}

func TestDecodeLegacyRejectsUTF8Payload(t *testing.T) {
	// 把 UTF-8 字节串直接 Base64 后按 GBK 解码，必须报错而不是静默出乱码
	utf8Encoded := EncodeText("充值成功✓")
	_, err := DecodeLegacy(utf8Encoded)
	assert.Error(t, err)
}

func TestDecodeTextRejectsBadInput(t *testing.T) {
	_, err := DecodeText("not-base64!!!")
	assert.Error(t, err)

	// 合法 Base64 但内容不是合法 UTF-8
	bad := base64.StdEncoding.EncodeToString([]byte{0xff, 0xfe, 0x80})
	_, err = DecodeText(bad)
	assert.Error(t, err)
}
