package main

import (
	"log"

	"anoa.com/taskhub/internal/config"
	"anoa.com/taskhub/internal/model"
	"anoa.com/taskhub/internal/server"
	"anoa.com/taskhub/pkg/database"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db := database.Connect()
	if err := migrate(db); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	if cfg.AppEnv == "development" {
		if err := seedAdminUser(db); err != nil {
			log.Fatalf("failed to seed admin user: %v", err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
	} else {
		log.Println("REDIS_URL not set, running single-instance with in-memory stores")
	}

	srv := server.NewServer(cfg, db, redisClient)
	defer srv.Shutdown()

	if err := srv.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Project{},
		&model.ProjectMember{},
		&model.Task{},
		&model.Notification{},
	)
}

func seedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&model.User{}).
		Where("email = ?", "admin@taskhub.local").
		Count(&count).Error; err != nil {
		return err
	}

	if count > 0 {
		log.Println("Admin user already exists, skipping seed")
		return nil
	}

	password := "admin123"
	hashedPasswordBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	adminUser := model.User{
		Username:     "admin",
		Email:        "admin@taskhub.local",
		FullName:     "Administrator",
		PasswordHash: string(hashedPasswordBytes),
		Role:         "admin",
	}

	if err := db.Create(&adminUser).Error; err != nil {
		return err
	}

	log.Println("✅ Admin user seeded successfully")
	log.Println("   Email: admin@taskhub.local")
	log.Println("   Password: admin123")

	return nil
}
