package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenOutputCore/internal/config"
	"github.com/KevinKickass/OpenOutputCore/internal/drivers"
	"github.com/KevinKickass/OpenOutputCore/internal/output"
	"github.com/KevinKickass/OpenOutputCore/internal/storage"
	"github.com/KevinKickass/OpenOutputCore/internal/trigger"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string  `json:"state"`
	OutputCount      int     `json:"output_count"`
	OutputsOn        int     `json:"outputs_on"`
	AmpLoad          float64 `json:"amp_load"`
	MaxAmps          float64 `json:"max_amps"`
	PendingTasks     int     `json:"pending_tasks"`
	MQTTConnected    bool    `json:"mqtt_connected"`
	WebsocketClients int     `json:"websocket_clients"`
}

type LifecycleManager interface {
	Config() *config.Config
	Storage() storage.Store
	Controller() *output.Controller
	Evaluator() *trigger.Evaluator
	Validator() *drivers.Validator
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
