package publisher

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Manager keeps the publishers this build knows about, keyed by name.
type Manager struct {
	publishers map[string]Publisher
	logger     *zap.Logger
}

func NewPublishManager(logger *zap.Logger) *Manager {
	return &Manager{
		publishers: make(map[string]Publisher),
		logger:     logger,
	}
}

func (m *Manager) RegisterPublisher(publisher Publisher) error {
	name := publisher.Name()
	if _, exists := m.publishers[name]; exists {
		return fmt.Errorf("publisher %s already registered", name)
	}

	m.publishers[name] = publisher
	m.logger.Info("Publisher registered", zap.String("publisher", name))
	return nil
}

func (m *Manager) GetPublisher(name string) (Publisher, error) {
	publisher, exists := m.publishers[name]
	if !exists {
		return nil, fmt.Errorf("publisher %s not found, available: %v", name, m.Names())
	}
	return publisher, nil
}

func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.publishers))
	for name := range m.publishers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
