package migration

import (
	"strings"

	"github.com/smallbiznis/affiliatepay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			return nil
		}
		if dbType := strings.ToLower(strings.TrimSpace(cfg.DBType)); dbType != "" && dbType != "postgres" {
			log.Warn("skipping schema migrations", zap.String("db_type", dbType))
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		_, err = Apply(sqlDB, log.Named("migration"))
		return err
	}),
)
