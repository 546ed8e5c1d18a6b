package service

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/autopost/internal/config"
	"github.com/ifuryst/autopost/internal/repository"
)

const mongoConnectTimeout = 10 * time.Second

// Stores bundles the post and template stores of one database.
type Stores struct {
	Posts     repository.PostStore
	Templates repository.TemplateStore

	closeFn func(ctx context.Context) error
}

func (s *Stores) Close(ctx context.Context) error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn(ctx)
}

// OpenStores connects to the configured database and prepares its schema.
func OpenStores(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Stores, error) {
	if cfg.Type == "mongodb" {
		return openMongoStores(ctx, cfg, log)
	}

	db, err := NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	posts := repository.NewGormPostStore(db)
	templates := repository.NewGormTemplateStore(db)
	if err := posts.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := templates.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info("Database connected", zap.String("type", cfg.Type))
	return &Stores{
		Posts:     posts,
		Templates: templates,
		closeFn: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}, nil
}

// NewDatabase opens a gorm connection for postgres or sqlite. Timestamps are
// written in UTC so that time comparisons agree across drivers.
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode, cfg.TimeZone)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}

func openMongoStores(ctx context.Context, cfg *config.DatabaseConfig, log *zap.Logger) (*Stores, error) {
	client, db, err := NewMongo(ctx, cfg)
	if err != nil {
		return nil, err
	}

	posts := repository.NewMongoPostStore(db)
	templates := repository.NewMongoTemplateStore(db)
	if err := posts.Init(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	if err := templates.Init(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}

	log.Info("Database connected", zap.String("type", cfg.Type), zap.String("database", cfg.Database))
	return &Stores{
		Posts:     posts,
		Templates: templates,
		closeFn:   client.Disconnect,
	}, nil
}

// NewMongo connects and pings the server before returning.
func NewMongo(ctx context.Context, cfg *config.DatabaseConfig) (*mongo.Client, *mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, client.Database(cfg.Database), nil
}
