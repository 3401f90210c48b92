// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisdomlink-go/internal/config"
	"wisdomlink-go/internal/handler"
	"wisdomlink-go/internal/middleware"
	"wisdomlink-go/internal/pipeline"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/internal/service"
	"wisdomlink-go/pkg/database"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/kafka"
	"wisdomlink-go/pkg/log"
	"wisdomlink-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化主存储、Redis 与搜索索引
	database.InitMongo(cfg.Database.Mongo.URI, cfg.Database.Mongo.Database)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	esClient, err := es.Init(cfg.Elasticsearch)
	if err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.MongoDB)
	chatRepo := repository.NewChatRepository(database.MongoDB)
	threadRepo := repository.NewThreadRepository(database.MongoDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepo, esClient, producer)
	chatService := service.NewChatService(chatRepo, userRepo, esClient, producer)
	threadService := service.NewThreadService(threadRepo, userRepo, esClient, producer)
	queryService := service.NewQueryService(chatRepo, threadRepo, userRepo, esClient)
	liveService := service.NewLiveService(chatService)

	// 6. 启动后台 Kafka 消费者，执行索引对账
	reindexer := pipeline.NewReindexer(chatRepo, threadRepo, userRepo, esClient)
	go kafka.StartConsumer(cfg.Kafka, reindexer)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	userHandler := handler.NewUserHandler(userService, queryService)
	chatHandler := handler.NewChatHandler(chatService, queryService, userService)
	threadHandler := handler.NewThreadHandler(threadService, queryService)
	liveHandler := handler.NewLiveHandler(liveService)

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)

			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.Me)
				authed.PUT("/me", userHandler.UpdateMe)
				authed.DELETE("/me", userHandler.DeleteMe)
				authed.GET("/search", userHandler.SearchUsers)
				authed.GET("/:username", userHandler.GetUserInfo)
			}
		}

		chats := apiV1.Group("/chats")
		chats.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chats.POST("", chatHandler.SaveChat)
			chats.GET("", chatHandler.ListChats)
			chats.GET("/stats", chatHandler.Stats)
			chats.POST("/evaluate", chatHandler.Evaluate)
			chats.GET("/community/:community", chatHandler.ChatsByCommunity)
			chats.GET("/:id", chatHandler.GetChat)
			chats.GET("/:id/details", chatHandler.GetChatDetails)
			chats.POST("/:id/messages", chatHandler.AddMessage)
			chats.PUT("/:id/status", chatHandler.UpdateStatus)
			chats.DELETE("/:id", chatHandler.DeleteChat)
		}

		threads := apiV1.Group("/threads")
		threads.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			threads.POST("", threadHandler.SaveThread)
			threads.GET("/random", threadHandler.RandomThreads)
			threads.GET("/search", threadHandler.SearchThreads)
			threads.GET("/community/:community", threadHandler.ThreadsByCommunity)
			threads.GET("/user/:username", threadHandler.ThreadsByUsername)
			threads.GET("/:id", threadHandler.GetThread)
			threads.PUT("/:id", threadHandler.UpdateThread)
			threads.DELETE("/:id", threadHandler.DeleteThread)
		}

		// 实时连接票据签发（WebSocket 握手本身不走认证头）
		live := apiV1.Group("/live")
		live.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			live.GET("/ticket", liveHandler.IssueTicket)
		}
	}
	r.GET("/live/:ticket", liveHandler.Connect)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	if err := database.CloseMongo(ctx); err != nil {
		log.Errorf("关闭 MongoDB 连接失败: %v", err)
	}

	log.Info("服务已退出")
}
