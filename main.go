package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"telemed-chat-service/internal/auth"
	"telemed-chat-service/internal/db"
	"telemed-chat-service/internal/handlers"
	"telemed-chat-service/internal/middleware"
	"telemed-chat-service/internal/observability"
	"telemed-chat-service/internal/rabbitmq"
	"telemed-chat-service/internal/repositories"
	"telemed-chat-service/internal/telemetry"
	"telemed-chat-service/internal/ws"
)

const serviceName = "telemed-chat-service"

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	if getEnv("OTEL_ENABLED", "false") == "true" {
		shutdown, err := observability.InitTracer(context.Background(), serviceName, getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"))
		if err != nil {
			log.Fatalf("failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracer shutdown: %v", err)
			}
		}()
	}

	amqpURL := getEnv("AMQP_URL", "")
	if eventsPublisher, err := observability.NewAMQPPublisher(amqpURL, getEnv("AMQP_EVENTS_EXCHANGE", "chat_events")); err != nil {
		log.Printf("ws event publishing disabled: %v", err)
	} else {
		observability.SetPublisher(eventsPublisher)
		defer eventsPublisher.Close()
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, getEnv("AMQP_AUDIT_EXCHANGE", "audit"))
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit.chat", serviceName, getEnv("ENVIRONMENT", "development"))

	verifier := auth.NewJWTVerifier(getEnv("JWT_SECRET", "change-me"))
	registry := ws.NewRegistry()
	messageRepo := repositories.NewMessageRepo(database)

	chatHandler := handlers.NewChatHandler(messageRepo)
	uploadDir := getEnv("UPLOAD_DIR", "uploads/chat")
	uploadHandler, err := handlers.NewUploadHandler(uploadDir, "/uploads/chat", 10<<20, auditEmitter)
	if err != nil {
		log.Fatalf("failed to prepare upload dir: %v", err)
	}
	chatWS := ws.NewChatWebSocketHandler(registry, messageRepo, verifier)

	router := gin.New()

	// middlewares
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{getEnv("CORS_ORIGIN", "http://localhost:3000")},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Request-ID", "X-Device-Id"},
		AllowCredentials: true,
	}))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware(serviceName))

	authMiddleware := middleware.AuthMiddleware(verifier)

	chat := router.Group("/api/chat")
	chat.GET("/history/:userId1/:userId2", authMiddleware, chatHandler.GetChatHistory)
	chat.PUT("/read", authMiddleware, chatHandler.MarkAsRead)
	chat.GET("/unread/:userId", authMiddleware, chatHandler.GetUnreadCounts)
	chat.POST("/upload", authMiddleware, uploadHandler.Handle)

	// Attachments are served without auth so image tags can load them directly.
	router.Static("/uploads/chat", uploadDir)

	router.GET("/ws/chat", chatWS.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, auditEmitter, getEnv("DEBUG_ROUTES", "false") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
