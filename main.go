package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/labbook-edu/labbook-engine/pkg/auth"
	"github.com/labbook-edu/labbook-engine/pkg/config"
	"github.com/labbook-edu/labbook-engine/pkg/database"
	"github.com/labbook-edu/labbook-engine/pkg/handlers"
	"github.com/labbook-edu/labbook-engine/pkg/middleware"
	"github.com/labbook-edu/labbook-engine/pkg/repositories"
	"github.com/labbook-edu/labbook-engine/pkg/services"
	"github.com/labbook-edu/labbook-engine/pkg/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.ConnectionString(),
		MaxConnections:  cfg.Database.MaxConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// golang-migrate needs database/sql
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, "migrations", logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	stageRepo := repositories.NewStageRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	sectionRepo := repositories.NewSectionRepository(db)
	recordRepo := repositories.NewRecordRepository(db)
	responseRepo := repositories.NewFieldResponseRepository(db)
	conversationRepo := repositories.NewConversationRepository(db)

	// The stage graph is authored data; a broken graph is fatal.
	graph, err := services.LoadStageGraph(ctx, stageRepo)
	if err != nil {
		logger.Fatal("Failed to load stage graph", zap.Error(err))
	}
	permissions := services.NewPermissionService(graph)

	formService := services.NewFormService(services.FormServiceDeps{
		Tx:            db,
		Records:       recordRepo,
		Sections:      sectionRepo,
		Responses:     responseRepo,
		Conversations: conversationRepo,
		Projects:      projectRepo,
		Graph:         graph,
		Permissions:   permissions,
		Uploads:       &cfg.Uploads,
		Logger:        logger,
	})
	recordService := services.NewRecordService(services.RecordServiceDeps{
		Tx:            db,
		Records:       recordRepo,
		Sections:      sectionRepo,
		Responses:     responseRepo,
		Conversations: conversationRepo,
		Projects:      projectRepo,
		Graph:         graph,
		Permissions:   permissions,
		Logger:        logger,
	})
	commentService := services.NewCommentService(services.CommentServiceDeps{
		Tx:            db,
		Records:       recordRepo,
		Responses:     responseRepo,
		Conversations: conversationRepo,
		Projects:      projectRepo,
		Graph:         graph,
		Permissions:   permissions,
		Logger:        logger,
	})

	blobs, err := storage.NewDiskStore(cfg.Storage.Root)
	if err != nil {
		logger.Fatal("Failed to create blob store", zap.Error(err))
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("Failed to create JWKS client", zap.Error(err))
	}
	defer jwksClient.Close()
	authMW := auth.NewMiddleware(jwksClient, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg.Version).RegisterRoutes(mux)
	handlers.NewRecordsHandler(recordService, formService, logger).RegisterRoutes(mux, authMW)
	handlers.NewCommentsHandler(commentService, logger).RegisterRoutes(mux, authMW)
	handlers.NewFilesHandler(blobs, &cfg.Uploads, logger).RegisterRoutes(mux, authMW)

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting labbook-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
