// Package testcontainers starts the PostgreSQL and RabbitMQ containers used by the e2e suites.
package testcontainers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RabbitMQConfig holds configuration for the RabbitMQ test container.
type RabbitMQConfig struct {
	// User is the RabbitMQ username (default: guest)
	User string
	// Password is the RabbitMQ password (default: guest)
	Password string
	// ContainerName is the name of the container (optional)
	ContainerName string
}

// StartRabbitMQ starts a RabbitMQ container and returns it with its AMQP URL.
func StartRabbitMQ(ctx context.Context, config *RabbitMQConfig, logger *slog.Logger) (testcontainers.Container, string, error) {
	cfg := RabbitMQConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.User == "" {
		cfg.User = "guest"
	}
	if cfg.Password == "" {
		cfg.Password = "guest"
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3-management-alpine",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5672/tcp"),
				wait.ForLog("Server startup complete"),
			),
			Env: map[string]string{
				"RABBITMQ_DEFAULT_USER": cfg.User,
				"RABBITMQ_DEFAULT_PASS": cfg.Password,
			},
			Name: cfg.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start RabbitMQ container: %w", err)
	}

	host, port, err := endpoint(ctx, container, "5672")
	if err != nil {
		return nil, "", err
	}

	url := fmt.Sprintf("amqp://%s:%s@%s:%d/", cfg.User, cfg.Password, host, port)
	logger.Info("RabbitMQ container started", "container_id", container.GetContainerID(), "url", url)
	return container, url, nil
}

// endpoint resolves the host and mapped port of a started container. The
// container is terminated when either lookup fails.
func endpoint(ctx context.Context, container testcontainers.Container, port string) (string, int, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", 0, terminateOnError(ctx, container, fmt.Errorf("failed to get container host: %w", err))
	}

	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", 0, terminateOnError(ctx, container, fmt.Errorf("failed to get container port: %w", err))
	}
	return host, mapped.Int(), nil
}

func terminateOnError(ctx context.Context, container testcontainers.Container, err error) error {
	if termErr := container.Terminate(ctx); termErr != nil {
		return fmt.Errorf("%w (cleanup error: %w)", err, termErr)
	}
	return err
}

// Terminate stops the container and logs failures instead of returning them.
func Terminate(ctx context.Context, container testcontainers.Container, logger *slog.Logger) {
	if container == nil {
		return
	}
	logger.Info("stopping container", "container_id", container.GetContainerID())
	if err := container.Terminate(ctx); err != nil {
		logger.Error("failed to stop container", "container_id", container.GetContainerID(), "error", err)
	}
}
