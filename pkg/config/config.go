package config

import (
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LoadAndWatch 加载 config/{service}.yaml 并监听热更新
// 环境变量覆盖，例如：
//
//	WALLETCORE_MYSQL_DSN 覆盖 mysql.dsn
//	WALLETCORE_VAULT_MASTERSECRET 覆盖 vault.mastersecret
func LoadAndWatch(service string, out interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底，直接放当前目录也行

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "")))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	// 监听文件变更，热更新到 out
	// 注意：链注册表在进程启动时固化，热更新只影响日志级别等非关键项
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)
		if err := v.Unmarshal(out); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		log.Printf("[%s] config reloaded OK", service)
	})

	return v, nil
}
