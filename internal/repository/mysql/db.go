package mysql

import (
	"log"
	"sync"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/qq419701/dianshang/internal/config"
	"github.com/qq419701/dianshang/internal/datamodels/callbacklog"
	"github.com/qq419701/dianshang/internal/datamodels/merchant"
	"github.com/qq419701/dianshang/internal/datamodels/order"
)

var (
	db   *gorm.DB
	once sync.Once
)

// Init 初始化全局 GORM 实例并自动迁移表结构
func Init(cfg *config.MySQLConfig) *gorm.DB {
	once.Do(func() {
		var err error
		// TranslateError 打开后唯一键冲突统一映射为 gorm.ErrDuplicatedKey，
		// 幂等接单的并发兜底依赖它
		db, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{TranslateError: true})
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}

		if err = db.AutoMigrate(
			&order.Order{},
			&merchant.Config{},
			&merchant.AgisoConfig{},
			&callbacklog.CallbackLog{},
			&callbacklog.AgisoLog{},
		); err != nil {
			log.Fatalf("auto migrate failed: %v", err)
		}
	})
	return db
}

// DB 获取全局 DB
func DB() *gorm.DB {
	return db
}
