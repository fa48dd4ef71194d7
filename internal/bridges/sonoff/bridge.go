package sonoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/sonoff-bridge/internal/accessory"
	"github.com/nerrad567/sonoff-bridge/internal/device"
	"github.com/nerrad567/sonoff-bridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTopicParts is the number of segments in a command topic:
	// sonoffbridge/command/sonoff/{uuid}
	commandTopicParts = 4

	// commandTimeout bounds one switch command, on top of the device
	// client's own timeout.
	commandTimeout = 15 * time.Second
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations. *mqtt.Client
// implements it.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// HostRegistry is the accessory registry as seen from MQTT.
// *accessory.Registry implements it.
type HostRegistry interface {
	SetOn(ctx context.Context, id string, on bool) error
	List() []accessory.Accessory
}

// Bridge is the MQTT face of the host. It handles:
//   - on/off commands routed into the accessory registry's bound handlers
//   - retained state messages for every applied poll (device.StateObserver)
//   - discovery announcements on registration (accessory.Listener)
//   - periodic health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID string
	qos      byte
	mqtt     MQTTClient
	registry HostRegistry
	health   *HealthReporter
	topics   mqtt.Topics

	// Shutdown coordination. stopping is set under runMu before wg.Wait
	// so no command goroutine is added after Stop begins.
	runMu     sync.Mutex
	stopping  bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	logger   Logger
	loggerMu sync.RWMutex
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// QoS is used for commands, acks and state. Health is always QoS 1.
	QoS byte

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	MQTTClient MQTTClient
	Registry   HostRegistry

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("accessory registry is required")
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", opts.QoS)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:  opts.BridgeID,
		qos:       opts.QoS,
		mqtt:      opts.MQTTClient,
		registry:  opts.Registry,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		DeviceCount: func() int {
			return len(opts.Registry.List())
		},
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to command topics and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.bridgeID, "accessories", len(b.registry.List()))
	return nil
}

// Stop cancels in-flight commands, waits for them and publishes a final
// "stopping" health status.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.runMu.Lock()
		b.stopping = true
		b.runMu.Unlock()

		b.ctxCancel()
		b.wg.Wait()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// handleMQTTMessage validates a command and runs it in the background so
// a slow device does not hold up the MQTT client's delivery goroutine.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	accessoryID, err := accessoryFromTopic(topic)
	if err != nil {
		return err
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAckError(cmd, accessoryID, ErrCodeInvalidCommand, fmt.Sprintf("invalid JSON: %v", err))
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if cmd.AccessoryID != "" && cmd.AccessoryID != accessoryID {
		b.publishAckError(cmd, accessoryID, ErrCodeInvalidCommand, "accessory_id does not match topic")
		return fmt.Errorf("%w: accessory_id %s on topic for %s", ErrInvalidCommand, cmd.AccessoryID, accessoryID)
	}
	if cmd.On == nil {
		b.publishAckError(cmd, accessoryID, ErrCodeInvalidCommand, `"on" is required`)
		return fmt.Errorf("%w: missing on", ErrInvalidCommand)
	}

	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.stopping {
		b.publishAckError(cmd, accessoryID, ErrCodeBridgeError, "bridge stopping")
		return nil
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"accessory_id", accessoryID,
		"on", *cmd.On,
		"source", cmd.Source)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.executeCommand(cmd, accessoryID)
	}()
	return nil
}

// executeCommand forwards the command to the bound device controller and
// acknowledges the outcome.
func (b *Bridge) executeCommand(cmd CommandMessage, accessoryID string) {
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.registry.SetOn(ctx, accessoryID, *cmd.On); err != nil {
		b.publishAckError(cmd, accessoryID, errorCode(err), err.Error())
		return
	}
	b.publishAck(cmd, accessoryID, AckAccepted)
}

// errorCode maps controller and registry errors onto ack error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, accessory.ErrAccessoryNotFound), errors.Is(err, accessory.ErrNoHandler):
		return ErrCodeNotConfigured
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, device.ErrDeviceReported):
		return ErrCodeDeviceError
	case errors.Is(err, device.ErrMalformedResponse):
		return ErrCodeProtocolError
	case errors.Is(err, device.ErrStopped), errors.Is(err, context.Canceled):
		return ErrCodeBridgeError
	default:
		return ErrCodeDeviceUnreachable
	}
}

// accessoryFromTopic extracts {uuid} from sonoffbridge/command/sonoff/{uuid}.
func accessoryFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != commandTopicParts || parts[1] != "command" || parts[3] == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return parts[3], nil
}

func (b *Bridge) publishAck(cmd CommandMessage, accessoryID string, status AckStatus) {
	b.publishJSON(b.topics.Ack(accessoryID), NewAckMessage(cmd, accessoryID, status), false)
}

func (b *Bridge) publishAckError(cmd CommandMessage, accessoryID, code, message string) {
	b.publishJSON(b.topics.Ack(accessoryID), NewAckError(cmd, accessoryID, code, message), false)
	b.logError("command failed", fmt.Errorf("accessory=%s code=%s message=%s", accessoryID, code, message))
}

// ObserveState publishes a retained state message. It implements
// device.StateObserver.
func (b *Bridge) ObserveState(accessoryID string, state device.State, reachable bool) {
	b.publishJSON(b.topics.State(accessoryID), NewStateMessage(accessoryID, state, reachable), true)
}

// AccessoryPublished announces a registered or updated accessory. It
// implements accessory.Listener.
func (b *Bridge) AccessoryPublished(a accessory.Accessory, isNew bool) {
	b.publishJSON(b.topics.Discovery(), NewDiscoveryMessage(b.bridgeID, a, isNew), false)
}

func (b *Bridge) publishJSON(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal message", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.logError("failed to publish", fmt.Errorf("%s: %w", topic, err))
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
