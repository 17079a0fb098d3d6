package service

import (
	"fmt"

	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/secret"
)

// resolveCredential 解密商户配置为请求期凭据。
// 明文密钥只在本次请求的内存中存活，不回写不落日志。
func resolveCredential(cfg *merchant.Config, store *secret.Store) (*merchant.Credential, error) {
	cred := &merchant.Credential{
		MerchantID:        cfg.MerchantID,
		BizType:           cfg.BizType,
		VendorID:          cfg.VendorID,
		CustomerID:        cfg.CustomerID,
		CallbackURL:       cfg.CallbackURL,
		DirectCallbackURL: cfg.DirectCallbackURL,
		CardCallbackURL:   cfg.CardCallbackURL,
	}

	if cfg.MD5Secret != "" {
		key, err := store.Decrypt(cfg.MD5Secret)
		if err != nil {
			return nil, fmt.Errorf("decrypt signing key: %w", err)
		}
		cred.SigningKey = key
	}
	if cfg.AESSecret != "" {
		key, err := store.Decrypt(cfg.AESSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt encryption key: %w", err)
		}
		cred.EncryptionKey = key
	}
	return cred, nil
}
