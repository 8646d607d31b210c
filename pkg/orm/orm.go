package orm

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	DSN         string // "user:pass@tcp(ip:port)/db..."
	MaxIdle     int    // 最大空闲连接
	MaxOpen     int    // 最大打开连接
	MaxLifetime int    // 连接存活秒数
	LogLevel    string // silent / error / warn / info，info 会打印 SQL
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// NewMySQL 初始化 GORM
func NewMySQL(c *Config) *gorm.DB {
	db, err := gorm.Open(mysql.Open(c.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(gormLogLevel(c.LogLevel)),
	})
	if err != nil {
		panic("failed to connect database: " + err.Error())
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}

	// 连接池配置
	sqlDB.SetMaxIdleConns(c.MaxIdle)
	sqlDB.SetMaxOpenConns(c.MaxOpen)
	sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)

	return db
}
