package repository

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 建表，OpenDB 与测试共用。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&WlAppModel{},
		&ConfigModel{},
		&ReleaseModel{},
		&BuildModel{},
		&BuildProcessModel{},
		&CommandModel{},
		&ClusterModel{},
		&DomainModel{},
		&SharedCertModel{},
		&DeployModel{},
		&OfflineModel{},
		&ProcessProbeModel{},
		&ResourcePlanModel{},
	)
}
