package system

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenOutputCore/internal/api/grpcapi"
	"github.com/KevinKickass/OpenOutputCore/internal/api/rest"
	"github.com/KevinKickass/OpenOutputCore/internal/api/websocket"
	"github.com/KevinKickass/OpenOutputCore/internal/config"
	"github.com/KevinKickass/OpenOutputCore/internal/drivers"
	"github.com/KevinKickass/OpenOutputCore/internal/interfaces"
	"github.com/KevinKickass/OpenOutputCore/internal/metrics"
	"github.com/KevinKickass/OpenOutputCore/internal/mqtt"
	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/storage"
	"github.com/KevinKickass/OpenOutputCore/internal/tasks"
	"github.com/KevinKickass/OpenOutputCore/internal/trigger"
	"github.com/KevinKickass/OpenOutputCore/internal/types"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

type LifecycleManager struct {
	config    *config.Config
	storage   storage.Store
	pool      *tasks.Pool
	validator *drivers.Validator
	evaluator *trigger.Evaluator
	ctrl      *output.Controller
	wsHub     *websocket.Hub
	streamer  *grpcapi.EventStreamer
	logger    *zap.Logger

	mqttClient *mqtt.Client

	restServer *rest.Server
	grpcServer *grpc.Server

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires every component around store. A broker that
// cannot be reached disables MQTT for this run; everything else is fatal.
func NewLifecycleManager(store storage.Store, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	if cfg.Metrics.Enabled {
		metrics.Init()
	}

	validator, err := drivers.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create option validator: %w", err)
	}

	lm := &LifecycleManager{
		config:       cfg,
		storage:      store,
		validator:    validator,
		logger:       logger,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	var publisher mqtt.Publisher
	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, continuing without it",
				zap.String("broker", cfg.MQTT.Broker),
				zap.Error(err))
		} else {
			lm.mqttClient = client
			publisher = client
		}
	}

	lm.pool = tasks.NewPool(cfg.Outputs.Workers, cfg.Outputs.QueueSize, logger)
	lm.wsHub = websocket.NewHub(logger)
	lm.streamer = grpcapi.NewEventStreamer()

	dispatchers := trigger.MultiDispatcher{trigger.LogDispatcher{Logger: logger}, lm.wsHub}
	writers := output.MultiWriter{store}
	listeners := []output.Listener{lm.wsHub, lm.streamer}

	if publisher != nil {
		bridge := mqtt.NewBridge(publisher, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, lm.pool, logger)
		dispatchers = append(dispatchers, bridge)
		writers = append(writers, bridge)
		listeners = append(listeners, bridge)
	}

	lm.evaluator = trigger.NewEvaluator(store, dispatchers, lm.pool, cfg.Outputs.TriggerTimeout, logger)

	factory := drivers.NewFactory(drivers.Config{
		GPIOChip:      cfg.GPIO.Chip,
		ModbusTimeout: cfg.Modbus.DefaultTimeout,
		MQTTQoS:       cfg.MQTT.QoS,
		Topics:        mqtt.Topics{Prefix: cfg.MQTT.TopicPrefix},
	}, validator, publisher, logger)

	opts := []output.Option{
		output.WithPollInterval(cfg.Outputs.PollInterval),
		output.WithTriggerEvaluator(lm.evaluator),
	}
	for _, l := range listeners {
		opts = append(opts, output.WithListener(l))
	}
	lm.ctrl = output.NewController(store, factory.Build, writers, lm.pool, logger, opts...)

	lm.wsHub.SetStateProvider(lm.ctrl)

	return lm, nil
}

// Start starts the entire system
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.stateMu.RLock()
	current := lm.currentState
	lm.stateMu.RUnlock()
	if current != StateInitializing {
		return fmt.Errorf("cannot start from state %s", current)
	}

	lm.logger.Info("Starting OpenOutputCore")

	lm.pool.Start()
	go lm.wsHub.Run()

	if err := lm.ctrl.Start(ctx); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start output controller: %w", err)
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start gRPC: %w", err)
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("outputs", len(lm.ctrl.Outputs())),
		zap.Bool("mqtt", lm.mqttClient != nil))

	return nil
}

// Done is closed once Shutdown finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		close(lm.shutdownChan)
	})

	return shutdownErr
}

// gracefulShutdown stops the transports first so no new requests arrive,
// then applies shutdown policies and drains the task pool.
func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 8)

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			stopped := make(chan struct{})
			go func() {
				lm.grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				// open transition streams never end on their own
				lm.grpcServer.Stop()
			}
		}()
	}

	wg.Wait()

	if err := lm.ctrl.Shutdown(ctx); err != nil {
		errChan <- fmt.Errorf("output controller shutdown failed: %w", err)
	}

	if err := lm.pool.Stop(ctx); err != nil {
		errChan <- fmt.Errorf("task pool stop failed: %w", err)
	}

	if err := lm.wsHub.Stop(ctx); err != nil {
		errChan <- fmt.Errorf("websocket hub stop failed: %w", err)
	}

	if lm.mqttClient != nil {
		if err := lm.mqttClient.Close(); err != nil {
			errChan <- fmt.Errorf("mqtt close failed: %w", err)
		}
	}

	close(errChan)
	var first error
	for err := range errChan {
		lm.logger.Error("Shutdown step failed", zap.Error(err))
		if first == nil {
			first = err
		}
	}

	if first == nil {
		lm.logger.Info("Graceful shutdown completed")
	}
	return first
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()

	grpcapi.RegisterOutputServiceServer(lm.grpcServer, grpcapi.NewOutputService(lm.ctrl, lm.streamer, lm.logger))
	lm.logger.Info("Output gRPC service registered")

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", "OutputService"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.wsHub)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected state transition", zap.Error(err))
	}
	lm.currentState = state
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	on := 0
	for _, st := range lm.ctrl.OutputStatesAll(ctx) {
		if st.State == types.StateOn {
			on++
		}
	}

	return interfaces.SystemStatus{
		State:            state.String(),
		OutputCount:      len(lm.ctrl.Outputs()),
		OutputsOn:        on,
		AmpLoad:          lm.ctrl.CurrentAmpLoad(ctx),
		MaxAmps:          lm.ctrl.MaxAmps(),
		PendingTasks:     lm.pool.Pending(),
		MQTTConnected:    lm.mqttClient != nil && lm.mqttClient.IsConnected(),
		WebsocketClients: lm.wsHub.GetClientCount(),
	}
}

// Storage returns the storage backend
func (lm *LifecycleManager) Storage() storage.Store {
	return lm.storage
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Controller returns the output controller
func (lm *LifecycleManager) Controller() *output.Controller {
	return lm.ctrl
}

// Evaluator returns the trigger evaluator
func (lm *LifecycleManager) Evaluator() *trigger.Evaluator {
	return lm.evaluator
}

// Validator returns the driver option validator
func (lm *LifecycleManager) Validator() *drivers.Validator {
	return lm.validator
}
