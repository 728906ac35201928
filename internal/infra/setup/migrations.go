package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"canvas-collab/internal/domain"
)

// MigrateDB handles all database migrations using the provided GORM DB instance.
// rooms 表用自定义 SQL 创建以控制索引长度，其余模型交给 AutoMigrate。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := migrateRoomsTable(db); err != nil {
		return fmt.Errorf("failed to migrate rooms table: %w", err)
	}

	err := db.AutoMigrate(
		&domain.Participant{},
		&domain.Invitation{},
		&domain.Snapshot{},
	)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

// migrateRoomsTable 处理 rooms 表迁移
func migrateRoomsTable(db *gorm.DB) error {
	var count int64
	db.Raw("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = 'rooms'").Count(&count)

	if count == 0 {
		return createRoomsTable(db)
	}
	return updateRoomsTable(db)
}

// createRoomsTable 创建 rooms 表。
// room_code 的唯一索引是短码分配原子性的保证：
// 生成-检查-插入的竞争最终由这个约束裁决。
func createRoomsTable(db *gorm.DB) error {
	sql := `
	CREATE TABLE rooms (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		company_id BIGINT UNSIGNED NOT NULL,
		created_by BIGINT UNSIGNED NOT NULL,
		created_by_role VARCHAR(50),
		title VARCHAR(191) NOT NULL,
		description TEXT,
		room_code VARCHAR(191) NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		settings TEXT NOT NULL,
		expires_at DATETIME(3),
		created_at DATETIME(3),
		updated_at DATETIME(3),
		INDEX idx_company_id (company_id),
		INDEX idx_created_by (created_by),
		INDEX idx_is_active (is_active),
		INDEX idx_expires_at (expires_at),
		UNIQUE INDEX idx_room_code (room_code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci;
	`
	if err := db.Exec(sql).Error; err != nil {
		logrus.Errorf("Failed to create rooms table: %v", err)
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	logrus.Info("Rooms table created successfully")
	return nil
}

// updateRoomsTable 通过 AutoMigrate 补齐已存在表的列和索引
func updateRoomsTable(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Room{}); err != nil {
		logrus.Errorf("Failed to auto-migrate Room table: %v", err)
		return fmt.Errorf("failed to migrate room indexes: %w", err)
	}
	logrus.Info("Rooms table schema checked/updated successfully")
	return nil
}
