package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-invoice-service/internal/aws"
	"github.com/imrishuroy/go-invoice-service/internal/config"
	"github.com/imrishuroy/go-invoice-service/internal/handlers"
	"github.com/imrishuroy/go-invoice-service/internal/idempotency"
	"github.com/imrishuroy/go-invoice-service/internal/invoices"
	"github.com/imrishuroy/go-invoice-service/internal/logging"
)

// deps holds everything built from configuration. close releases
// connections and flushes the logger.
type deps struct {
	cfg      *config.Config
	logger   *zap.Logger
	clients  *aws.AWSClients
	store    invoices.Repository
	dynamo   *invoices.DynamoStore
	mongo    *invoices.MongoStore
	closeFns []func(context.Context)
}

func (d *deps) close(ctx context.Context) {
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		d.closeFns[i](ctx)
	}
}

func bootstrap(c *cli.Context) (*deps, error) {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	d := &deps{cfg: cfg, logger: logger}
	d.closeFns = append(d.closeFns, func(context.Context) { _ = logger.Sync() })

	if cfg.Store.Backend == config.BackendDynamoDB || cfg.Events.QueueURL != "" {
		d.clients, err = aws.NewAWSClients(c.Context, aws.Settings{
			Region:           cfg.AWS.Region,
			EndpointOverride: cfg.AWS.EndpointOverride,
		})
		if err != nil {
			d.close(c.Context)
			return nil, fmt.Errorf("failed to init aws clients: %w", err)
		}
	}

	switch cfg.Store.Backend {
	case config.BackendMongo:
		ctx, cancel := context.WithTimeout(c.Context, cfg.Mongo.ConnectTimeout)
		defer cancel()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			d.close(c.Context)
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(c.Context)
			d.close(c.Context)
			return nil, fmt.Errorf("failed to ping mongodb: %w", err)
		}
		d.closeFns = append(d.closeFns, func(ctx context.Context) { _ = client.Disconnect(ctx) })
		d.mongo = invoices.NewMongoStore(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		d.store = d.mongo
		logger.Info("using mongodb store",
			zap.String("database", cfg.Mongo.Database),
			zap.String("collection", cfg.Mongo.Collection))
	default:
		d.dynamo = invoices.NewDynamoStore(d.clients.DynamoDB, cfg.DynamoDB.InvoicesTable, cfg.DynamoDB.InvoiceNumbersTable)
		d.store = d.dynamo
		logger.Info("using dynamodb store",
			zap.String("table", cfg.DynamoDB.InvoicesTable),
			zap.String("numbers_table", cfg.DynamoDB.InvoiceNumbersTable))
	}

	return d, nil
}

func (d *deps) publisher() invoices.EventPublisher {
	if d.cfg.Events.QueueURL == "" {
		d.logger.Info("no event queue configured, lifecycle events disabled")
		return invoices.NopPublisher{}
	}
	return invoices.NewSQSPublisher(aws.NewPublisher(d.clients.SQS, d.cfg.Events.QueueURL))
}

func serve(c *cli.Context) error {
	d, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer d.close(context.Background())

	if d.mongo != nil {
		if err := d.mongo.EnsureIndexes(c.Context); err != nil {
			return err
		}
	}

	if d.cfg.Logger.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	svc := invoices.NewService(d.store, d.publisher(), d.logger)
	router := handlers.NewRouter(handlers.RouterConfig{
		Invoices:       svc,
		Logger:         d.logger,
		RequestTimeout: d.cfg.Server.RequestTimeout,
	})

	if d.cfg.Server.Mode == config.ModeLambda {
		d.logger.Info("starting lambda handler")
		adapter := ginadapter.New(router)
		lambda.Start(adapter.ProxyWithContext)
		return nil
	}

	return runHTTP(c.Context, d, router)
}

func runHTTP(parent context.Context, d *deps, handler http.Handler) error {
	srv := &http.Server{
		Addr:         d.cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	d.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	d.logger.Info("server exited")
	return nil
}

func createTables(c *cli.Context) error {
	d, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer d.close(context.Background())

	if d.mongo != nil {
		if err := d.mongo.EnsureIndexes(c.Context); err != nil {
			return err
		}
		d.logger.Info("mongodb indexes ensured")
	}

	if d.clients == nil {
		return nil
	}
	if d.dynamo != nil {
		if err := d.dynamo.CreateTables(c.Context); err != nil {
			return err
		}
	}
	// the worker's dedupe table lives alongside the API's tables
	idem := idempotency.NewStore(d.clients.DynamoDB, d.cfg.DynamoDB.IdempotencyTable, 0)
	if err := idem.CreateTable(c.Context); err != nil {
		return err
	}
	d.logger.Info("dynamodb tables ensured",
		zap.String("invoices", d.cfg.DynamoDB.InvoicesTable),
		zap.String("invoice_numbers", d.cfg.DynamoDB.InvoiceNumbersTable),
		zap.String("idempotency", d.cfg.DynamoDB.IdempotencyTable))
	return nil
}
