package backend_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"procodus.dev/ipdr/internal/backend"
	"procodus.dev/ipdr/internal/store"
	"procodus.dev/ipdr/pkg/metrics"
)

var _ = Describe("Backend Server", func() {
	var (
		logger *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	})

	sqliteConfig := func() *store.DBConfig {
		return &store.DBConfig{
			Logger:     logger,
			Driver:     store.DriverSQLite,
			SQLitePath: ":memory:",
		}
	}

	Describe("NewServer", func() {
		It("should create a server", func() {
			server, err := backend.NewServer(&backend.ServerConfig{
				Logger:       logger,
				DB:           sqliteConfig(),
				HTTPPort:     8080,
				GRPCPort:     9090,
				RabbitMQURL:  "amqp://localhost:5672",
				IPDRQueue:    "ipdr-rows",
				ProfileQueue: "profile-rows",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(server).NotTo(BeNil())
			Expect(server.HTTPAddr()).To(BeNil())
		})

		DescribeTable("should reject invalid configuration",
			func(mutate func(*backend.ServerConfig), msg string) {
				cfg := &backend.ServerConfig{
					Logger:   logger,
					DB:       sqliteConfig(),
					HTTPPort: 8080,
					GRPCPort: 9090,
				}
				mutate(cfg)

				server, err := backend.NewServer(cfg)
				Expect(err).To(MatchError(ContainSubstring(msg)))
				Expect(server).To(BeNil())
			},
			Entry("nil logger", func(c *backend.ServerConfig) { c.Logger = nil }, "logger cannot be nil"),
			Entry("nil database", func(c *backend.ServerConfig) { c.DB = nil }, "database config cannot be nil"),
			Entry("negative HTTP port", func(c *backend.ServerConfig) { c.HTTPPort = -1 }, "HTTP port"),
			Entry("gRPC port too large", func(c *backend.ServerConfig) { c.GRPCPort = 70000 }, "gRPC port"),
			Entry("rabbitmq without queues", func(c *backend.ServerConfig) { c.RabbitMQURL = "amqp://localhost" }, "queue name"),
		)

		It("should return error when config is nil", func() {
			_, err := backend.NewServer(nil)
			Expect(err).To(MatchError(ContainSubstring("config cannot be nil")))
		})
	})

	Describe("Server Shutdown", func() {
		It("should shutdown cleanly with no initialized components", func() {
			server, err := backend.NewServer(&backend.ServerConfig{Logger: logger, DB: sqliteConfig()})
			Expect(err).NotTo(HaveOccurred())

			Expect(server.Shutdown()).To(Succeed())
			Expect(server.Shutdown()).To(Succeed())
		})
	})

	Describe("Run", func() {
		It("should fail when the database cannot be opened", func() {
			server, err := backend.NewServer(&backend.ServerConfig{
				Logger: logger,
				DB:     &store.DBConfig{Logger: logger, Driver: "oracle"},
			})
			Expect(err).NotTo(HaveOccurred())

			err = server.Run(context.Background())
			Expect(err).To(MatchError(ContainSubstring("failed to initialize database")))
		})

		It("should serve the API, metrics and gRPC health until cancelled", func() {
			server, err := backend.NewServer(&backend.ServerConfig{
				Logger:         logger,
				DB:             sqliteConfig(),
				HealthInterval: 50 * time.Millisecond,
				Metrics:        metrics.NewSet("ipdr_server_test"),
			})
			Expect(err).NotTo(HaveOccurred())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			runErr := make(chan error, 1)
			go func() {
				runErr <- server.Run(ctx)
			}()
			Eventually(server.Ready(), 10*time.Second).Should(BeClosed())

			local := func(addr net.Addr) string {
				return net.JoinHostPort("127.0.0.1", fmt.Sprint(addr.(*net.TCPAddr).Port))
			}
			base := "http://" + local(server.HTTPAddr())

			resp, err := http.Get(base + "/health")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			body := `{"phoneNumber":"9876543210","startTime":"2024-03-01T10:10:00Z","endTime":"2024-03-01T10:25:00Z",` +
				`"privateIP":"10.12.0.7","privatePort":51234,"publicIP":"49.36.128.10","publicPort":40112,` +
				`"destIP":"142.250.183.78","destPort":443,"uplinkVolume":1,"downlinkVolume":2,"totalVolume":3,` +
				`"imei":"356938035643809","imsi":"404450123456789","originLat":28.62,"originLong":77.21,"accessType":"4G"}`
			resp, err = http.Post(base+"/ipdr/addIPDRRecord", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			resp.Body.Close()

			resp, err = http.Get(base + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			scraped, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(scraped)).To(ContainSubstring("ipdr_server_test_http_requests_total"))

			conn, err := grpc.NewClient(local(server.GRPCAddr()), grpc.WithTransportCredentials(insecure.NewCredentials()))
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			healthClient := healthpb.NewHealthClient(conn)
			Eventually(func() healthpb.HealthCheckResponse_ServingStatus {
				res, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{Service: backend.HealthService})
				if err != nil {
					return healthpb.HealthCheckResponse_UNKNOWN
				}
				return res.GetStatus()
			}, 5*time.Second).Should(Equal(healthpb.HealthCheckResponse_SERVING))

			cancel()
			Eventually(runErr, 15*time.Second).Should(Receive(BeNil()))
		})
	})
})
