package mysql

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
)

// newTestDB 内嵌 SQLite 数据库，错误翻译行为与生产 MySQL 一致：
// 唯一键冲突统一映射为 gorm.ErrDuplicatedKey。
// 跳过默认事务，允许测试在建单回调内再执行一次写入
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	// :memory: 库按连接隔离，必须收敛到单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&order.Order{},
		&merchant.Config{},
		&merchant.AgisoConfig{},
		&callbacklog.CallbackLog{},
		&callbacklog.AgisoLog{},
	))
	return db
}
