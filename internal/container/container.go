package container

import (
	"fmt"
	"time"

	config "github.com/kode-sdk/kode-chat/config"
	app "github.com/kode-sdk/kode-chat/internal/app"
	client "github.com/kode-sdk/kode-chat/internal/client"
	domain "github.com/kode-sdk/kode-chat/internal/domain"
	storage "github.com/kode-sdk/kode-chat/internal/infra/storage"
	logger "github.com/kode-sdk/kode-chat/internal/logger"
	reconciler "github.com/kode-sdk/kode-chat/internal/reconciler"
	transport "github.com/kode-sdk/kode-chat/internal/transport"
	viper "github.com/spf13/viper"
)

// ServiceContainer manages all application dependencies
type ServiceContainer struct {
	viper  *viper.Viper
	config *config.Config

	client     *client.Client
	transports domain.TransportFactory
	storage    storage.TranscriptStorage
}

// NewServiceContainer creates a new service container with all dependencies
func NewServiceContainer(cfg *config.Config, v ...*viper.Viper) (*ServiceContainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	container := &ServiceContainer{
		config: cfg,
		client: client.NewFromConfig(cfg),
	}
	if len(v) > 0 && v[0] != nil {
		container.viper = v[0]
	}

	transports, err := transport.NewFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport factory: %w", err)
	}
	container.transports = transports

	if err := container.initializeStorage(); err != nil {
		return nil, err
	}

	return container, nil
}

func (c *ServiceContainer) initializeStorage() error {
	if !c.config.Storage.Enabled {
		logger.Debug("transcript archive disabled")
		return nil
	}

	store, err := storage.NewStorage(c.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize %s storage: %w", c.config.Storage.Type, err)
	}
	c.storage = store
	logger.Debug("transcript archive ready", "type", c.config.Storage.Type)
	return nil
}

// GetConfig returns the configuration
func (c *ServiceContainer) GetConfig() *config.Config {
	return c.config
}

// GetViper returns the viper instance bound to the command line, if any
func (c *ServiceContainer) GetViper() *viper.Viper {
	return c.viper
}

// GetClient returns the backend REST client
func (c *ServiceContainer) GetClient() *client.Client {
	return c.client
}

// GetStorage returns the transcript archive, nil when disabled
func (c *ServiceContainer) GetStorage() storage.TranscriptStorage {
	return c.storage
}

// NewReconciler creates a reconciler bound to the backend
func (c *ServiceContainer) NewReconciler() *reconciler.Reconciler {
	return reconciler.New(c.client, c.transports, reconciler.Options{
		ThinkingCollapseDelay: time.Duration(c.config.Stream.ThinkingCollapseMs) * time.Millisecond,
	})
}

// NewChatSession creates an archiving chat session
func (c *ServiceContainer) NewChatSession() *app.ChatSession {
	return app.NewChatSession(c.NewReconciler(), c.storage, c.config.APIBaseURL())
}

// Close releases the storage connection
func (c *ServiceContainer) Close() error {
	if c.storage == nil {
		return nil
	}
	return c.storage.Close()
}
