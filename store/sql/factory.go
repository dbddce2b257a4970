package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-crm-connect/core"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL-backed stores the service consumes. It
// satisfies both core.RepositoryStoreFactory and core.StoreProvider so it can
// be handed to the service builder either pre-built or lazy.
type RepositoryFactory struct {
	db *bun.DB

	connectionStore *ConnectionStore
	stateStore      *StateStore
	telemetryStore  *TelemetryStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.connectionStore != nil && f.stateStore != nil && f.telemetryStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) ConnectionStore() core.ConnectionStore {
	if f == nil || f.connectionStore == nil {
		return nil
	}
	return f.connectionStore
}

func (f *RepositoryFactory) StateStore() core.StateStore {
	if f == nil || f.stateStore == nil {
		return nil
	}
	return f.stateStore
}

func (f *RepositoryFactory) TelemetrySink() core.TelemetrySink {
	if f == nil || f.telemetryStore == nil {
		return nil
	}
	return f.telemetryStore
}

// TelemetryStore exposes the concrete store for operations beyond the sink
// contract, like resolving integration errors.
func (f *RepositoryFactory) TelemetryStore() *TelemetryStore {
	if f == nil {
		return nil
	}
	return f.telemetryStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	connectionStore, err := NewConnectionStore(f.db)
	if err != nil {
		return err
	}
	f.connectionStore = connectionStore

	stateStore, err := NewStateStore(f.db)
	if err != nil {
		return err
	}
	f.stateStore = stateStore

	telemetryStore, err := NewTelemetryStore(f.db)
	if err != nil {
		return err
	}
	f.telemetryStore = telemetryStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}

var (
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
)
