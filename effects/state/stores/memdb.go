package stores

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/on-the-ground/effect_stack/effects/state"
)

// MemDB is a state.CasRepo over one table of a go-memdb database. Values are
// the table's objects; the state key is looked up through index, so a value
// stored under key must index to key.
//
// go-memdb failures are schema errors, not runtime conditions: they panic,
// and the state worker turns the panic into the error of the operation.
type MemDB struct {
	db    *memdb.MemDB
	table string
	index string
}

var _ state.CasRepo = (*MemDB)(nil)

func NewMemDB(table, index string, schema *memdb.DBSchema) (*MemDB, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create memdb: %w", err)
	}
	return &MemDB{db: db, table: table, index: index}, nil
}

// Repo wraps m for state.WithEffectHandler.
func (m *MemDB) Repo() state.StateRepo {
	return state.NewCasRepo(m)
}

func (m *MemDB) Load(key any) (any, bool) {
	txn := m.db.Txn(false)
	defer txn.Abort()

	raw := m.first(txn, key)
	return raw, raw != nil
}

func (m *MemDB) Store(_ any, value any) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	m.must(txn.Insert(m.table, value))
	txn.Commit()
}

func (m *MemDB) CompareAndSwap(key, old, new any) bool {
	txn := m.db.Txn(true)
	defer txn.Abort()

	actual := m.first(txn, key)
	if actual == nil || !state.Equals(old, actual) {
		return false
	}
	m.must(txn.Insert(m.table, new))
	txn.Commit()
	return true
}

func (m *MemDB) CompareAndDelete(key, old any) bool {
	txn := m.db.Txn(true)
	defer txn.Abort()

	actual := m.first(txn, key)
	if actual == nil || !state.Equals(old, actual) {
		return false
	}
	m.must(txn.Delete(m.table, actual))
	txn.Commit()
	return true
}

func (m *MemDB) Delete(key any) {
	txn := m.db.Txn(true)
	defer txn.Abort()

	if actual := m.first(txn, key); actual != nil {
		m.must(txn.Delete(m.table, actual))
		txn.Commit()
	}
}

func (m *MemDB) first(txn *memdb.Txn, key any) any {
	raw, err := txn.First(m.table, m.index, key)
	m.must(err)
	return raw
}

func (m *MemDB) must(err error) {
	if err != nil {
		panic(fmt.Errorf("memdb table %q: %w", m.table, err))
	}
}
