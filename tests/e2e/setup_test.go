//go:build e2e

// Package e2e runs the community chat stack against real PostgreSQL and
// RabbitMQ containers. Two server instances share the broadcast backplane.
package e2e

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"peersupport-chat/internal/auth"
	"peersupport-chat/internal/config"
	"peersupport-chat/internal/handler"
	"peersupport-chat/internal/messaging"
	"peersupport-chat/internal/middleware"
	"peersupport-chat/internal/repository/postgres"
	"peersupport-chat/internal/service"
	"peersupport-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pollWait  = 500 * time.Millisecond
	jwtSecret = "e2e-secret-key-that-is-32-chars!!"
)

var (
	testDB  *sql.DB
	tokens  *auth.TokenService
	users   *postgres.UserRepository
	servers []*instance
)

// instance is one chat server process
type instance struct {
	baseURL string
	wsURL   string
}

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)

	cleanup, err := setupTestEnvironment(ctx)
	if err != nil {
		log.Fatalf("failed to setup test environment: %v", err)
	}

	code := m.Run()

	cleanup()
	cancel()
	os.Exit(code)
}

func setupTestEnvironment(ctx context.Context) (func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	pgCleanup, connStr, err := startPostgres(ctx)
	if err != nil {
		return cleanup, fmt.Errorf("failed to start PostgreSQL: %w", err)
	}
	cleanups = append(cleanups, pgCleanup)

	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		return cleanup, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanups = append(cleanups, func() { testDB.Close() })

	if err := config.EnsureSchema(ctx, testDB); err != nil {
		return cleanup, err
	}

	rmqCleanup, rmqURL, err := startRabbitMQ(ctx)
	if err != nil {
		return cleanup, fmt.Errorf("failed to start RabbitMQ: %w", err)
	}
	cleanups = append(cleanups, rmqCleanup)

	tokens = auth.NewTokenService(auth.TokenConfig{Secret: []byte(jwtSecret), Issuer: "e2e", TTL: time.Hour})
	users = postgres.NewUserRepository(testDB)

	for i := 0; i < 2; i++ {
		inst, stop, err := startInstance(ctx, rmqURL)
		if err != nil {
			return cleanup, fmt.Errorf("failed to start instance %d: %w", i, err)
		}
		cleanups = append(cleanups, stop)
		servers = append(servers, inst)
	}

	return cleanup, nil
}

// startInstance wires one server the way cmd/chat-server does, with broker fan-out
func startInstance(ctx context.Context, rmqURL string) (*instance, func(), error) {
	rmqCtx, rmqCancel := context.WithTimeout(ctx, 30*time.Second)
	rmq, err := messaging.NewRabbitMQWithRetry(rmqCtx, rmqURL)
	rmqCancel()
	if err != nil {
		return nil, nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())

	hub := websocket.NewHub()
	go hub.Run(runCtx)

	if err := messaging.NewBroadcastConsumer(rmq, hub).Start(runCtx); err != nil {
		stop()
		rmq.Close()
		return nil, nil, err
	}

	chat := service.NewChatService(
		postgres.NewMessageRepository(testDB),
		users,
		tokens,
		websocket.NewRoomBroadcaster(rmq),
	)
	dispatcher := websocket.NewDispatcher(hub, chat,
		websocket.WithLimiter(middleware.NewRateLimiter(runCtx, 50, 100)))
	polls := websocket.NewPollManager(dispatcher, pollWait, time.Minute)
	go polls.Run(runCtx)

	wsHandler := handler.NewWebSocketHandler(dispatcher, []string{"*"})
	pollHandler := handler.NewPollingHandler(polls, pollWait)
	communityHandler := handler.NewCommunityHandler(chat)

	r := chi.NewRouter()
	r.Use(middleware.CORS([]string{"*"}))
	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(testDB, rmq))
	r.Get("/ws", wsHandler.HandleConnection)
	r.Post("/poll", pollHandler.Open)
	r.Get("/poll/{sid}", pollHandler.Poll)
	r.Post("/poll/{sid}", pollHandler.Submit)
	r.Delete("/poll/{sid}", pollHandler.Close)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig()))
		r.Use(middleware.Auth(tokens))
		r.Get("/communities/{communityId}/messages", communityHandler.GetMessages)
	})

	srv := httptest.NewServer(r)
	inst := &instance{
		baseURL: srv.URL,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
	return inst, func() {
		srv.Close()
		stop()
		rmq.Close()
	}, nil
}

// streamContainerLogs starts a goroutine that streams container logs with a prefix
func streamContainerLogs(ctx context.Context, container testcontainers.Container, prefix string) {
	go func() {
		reader, err := container.Logs(ctx)
		if err != nil {
			log.Printf("[%s] failed to get logs: %v", prefix, err)
			return
		}
		defer reader.Close()

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			log.Printf("[%s] %s", prefix, scanner.Text())
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			log.Printf("[%s] log reader error: %v", prefix, err)
		}
	}()
}

func startPostgres(ctx context.Context) (func(), string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}
	streamContainerLogs(ctx, container, "PostgreSQL")
	cleanup := func() { container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		cleanup()
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		cleanup()
		return nil, "", err
	}

	return cleanup, fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()), nil
}

func startRabbitMQ(ctx context.Context) (func(), string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.12-management-alpine",
			ExposedPorts: []string{"5672/tcp"},
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": "guest",
				"RABBITMQ_DEFAULT_PASS": "guest",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Server startup complete"),
				wait.ForListeningPort("5672/tcp"),
			).WithDeadline(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}
	streamContainerLogs(ctx, container, "RabbitMQ")
	cleanup := func() { container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		cleanup()
		return nil, "", err
	}
	port, err := container.MappedPort(ctx, "5672")
	if err != nil {
		cleanup()
		return nil, "", err
	}

	return cleanup, fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port()), nil
}
