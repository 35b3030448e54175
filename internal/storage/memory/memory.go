// Package memory provides an in-memory storage driver used for local runs and tests.
// Units of work are serialized by one mutex and rolled back from a snapshot on error.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/costcenter"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/ledger"
	"github.com/odyssey-erp/finops/internal/posting"
	"github.com/odyssey-erp/finops/internal/sequence"
)

var (
	_ posting.Repository    = (*Store)(nil)
	_ posting.TxRepository  = (*txRepo)(nil)
	_ sequence.Store        = (*Store)(nil)
	_ approval.ConfigSource = (*Store)(nil)
)

type seqKey struct {
	org  int64
	kind string
}

type counter struct {
	value  int64
	prefix string
}

type state struct {
	nextID       int64
	accounts     map[int64]ledger.Account
	transactions map[int64]ledger.Transaction
	vendors      map[int64]ledger.Vendor
	centers      map[int64]costcenter.Accumulator
	documents    map[uuid.UUID]document.Document
}

func (s *state) clone() state {
	out := state{
		nextID:       s.nextID,
		accounts:     maps.Clone(s.accounts),
		transactions: maps.Clone(s.transactions),
		vendors:      maps.Clone(s.vendors),
		centers:      make(map[int64]costcenter.Accumulator, len(s.centers)),
		documents:    make(map[uuid.UUID]document.Document, len(s.documents)),
	}
	for id, c := range s.centers {
		out.centers[id] = c.Clone()
	}
	for id, d := range s.documents {
		out.documents[id] = cloneDocument(d)
	}
	return out
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

func cloneDocument(d document.Document) document.Document {
	d.Transactions = slices.Clone(d.Transactions)
	return d
}

// Store keeps every entity in process.
type Store struct {
	mu   sync.Mutex
	data state

	seqMu    sync.Mutex
	counters map[seqKey]counter

	cfgMu   sync.RWMutex
	configs map[int64]approval.Configuration

	// Fault, when set, is consulted before every operation inside a unit of work.
	// A non-nil result aborts the operation with that error.
	Fault func(op string) error
	now   func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		data: state{
			accounts:     make(map[int64]ledger.Account),
			transactions: make(map[int64]ledger.Transaction),
			vendors:      make(map[int64]ledger.Vendor),
			centers:      make(map[int64]costcenter.Accumulator),
			documents:    make(map[uuid.UUID]document.Document),
		},
		counters: make(map[seqKey]counter),
		configs:  make(map[int64]approval.Configuration),
		now:      time.Now,
	}
}

// WithTx runs fn against the store. Changes are discarded when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, posting.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(ctx, &txRepo{store: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// SeedAccount stores an account and returns it with its id.
func (s *Store) SeedAccount(a ledger.Account) ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.data.id()
	}
	s.data.accounts[a.ID] = a
	return a
}

// SeedVendor stores a vendor and returns it with its id.
func (s *Store) SeedVendor(v ledger.Vendor) ledger.Vendor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = s.data.id()
	}
	s.data.vendors[v.ID] = v
	return v
}

// SeedCostCenter stores an empty cost center and returns it with its id.
func (s *Store) SeedCostCenter(c costcenter.Accumulator) costcenter.Accumulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.data.id()
	}
	s.data.centers[c.ID] = c.Clone()
	return c
}

// SaveFeature stores an approval chain for the organization.
func (s *Store) SaveFeature(orgID int64, fc approval.FeatureConfig) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	cfg, ok := s.configs[orgID]
	if !ok {
		cfg = approval.Configuration{OrganizationID: orgID, Features: map[string]approval.FeatureConfig{}}
	}
	cfg.Features[fc.Feature] = fc
	s.configs[orgID] = cfg
}

// LoadConfiguration implements approval.ConfigSource.
func (s *Store) LoadConfiguration(_ context.Context, orgID int64) (approval.Configuration, error) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	cfg, ok := s.configs[orgID]
	if !ok {
		return approval.Configuration{OrganizationID: orgID, Features: map[string]approval.FeatureConfig{}}, nil
	}
	out := approval.Configuration{OrganizationID: orgID, Features: maps.Clone(cfg.Features)}
	return out, nil
}

// Account returns the stored account.
func (s *Store) Account(id int64) (ledger.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.accounts[id]
	return a, ok
}

// Accounts returns every account ordered by code.
func (s *Store) Accounts(orgID int64) []ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Account
	for _, a := range s.data.accounts {
		if a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Account) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	return out
}

// Vendor returns the stored vendor.
func (s *Store) Vendor(id int64) (ledger.Vendor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.vendors[id]
	return v, ok
}

// CostCenter returns a copy of the stored cost center.
func (s *Store) CostCenter(id int64) (costcenter.Accumulator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.centers[id]
	return c.Clone(), ok
}

// CostCenters exposes the stored cost centers for integrity checks.
func (s *Store) CostCenters() *CostCenterReader {
	return &CostCenterReader{store: s}
}

// CostCenterReader lists and loads cost centers outside a unit of work.
type CostCenterReader struct {
	store *Store
}

// ListRefs returns every cost center ordered by organization and id.
func (r *CostCenterReader) ListRefs(context.Context) ([]costcenter.Ref, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]costcenter.Ref, 0, len(r.store.data.centers))
	for _, c := range r.store.data.centers {
		out = append(out, costcenter.Ref{OrganizationID: c.OrganizationID, ID: c.ID})
	}
	slices.SortFunc(out, func(a, b costcenter.Ref) int {
		if a.OrganizationID != b.OrganizationID {
			return int(a.OrganizationID - b.OrganizationID)
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

// Get returns a copy of the cost center with its lines.
func (r *CostCenterReader) Get(_ context.Context, orgID, id int64) (costcenter.Accumulator, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.data.centers[id]
	if !ok || c.OrganizationID != orgID {
		return costcenter.Accumulator{}, costcenter.ErrCostCenterNotFound
	}
	return c.Clone(), nil
}

// SetCostCenterTotals overwrites stored totals without touching the lines.
func (s *Store) SetCostCenterTotals(id int64, expense, income decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.centers[id]
	if !ok {
		return
	}
	c.TotalExpense, c.TotalIncome = expense, income
	s.data.centers[id] = c
}

// TransactionsFor returns the transactions whose source is docID, ordered by id.
func (s *Store) TransactionsFor(docID uuid.UUID) []ledger.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Transaction
	for _, t := range s.data.transactions {
		if t.SourceDocumentID == docID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b ledger.Transaction) int { return int(a.ID - b.ID) })
	return out
}

// GetDocument loads a document outside a unit of work.
func (s *Store) GetDocument(_ context.Context, orgID int64, id uuid.UUID) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data.documents[id]
	if !ok || d.OrganizationID != orgID {
		return document.Document{}, document.ErrDocumentNotFound
	}
	return cloneDocument(d), nil
}

// NextCounter implements sequence.Store.
func (s *Store) NextCounter(_ context.Context, orgID int64, entityType string, override *int64) (int64, string, error) {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	key := seqKey{orgID, entityType}
	c := s.counters[key]
	if override != nil {
		c.value = *override
	} else {
		c.value++
	}
	s.counters[key] = c
	return c.value, c.prefix, nil
}

// SetPrefix implements sequence.Store.
func (s *Store) SetPrefix(_ context.Context, orgID int64, entityType, prefix string) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	key := seqKey{orgID, entityType}
	c := s.counters[key]
	c.prefix = prefix
	s.counters[key] = c
	return nil
}

// CountPartials implements sequence.Store.
func (s *Store) CountPartials(_ context.Context, orgID int64, entityType string, parent uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.data.documents {
		if d.OrganizationID == orgID && string(d.Kind) == entityType && d.ParentOrderID != nil && *d.ParentOrderID == parent {
			n++
		}
	}
	return n, nil
}

// Balance is a convenience accessor for tests.
func (s *Store) Balance(id int64) decimal.Decimal {
	a, _ := s.Account(id)
	return a.Balance
}

// SeedDocument stores a document as is.
func (s *Store) SeedDocument(d document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.documents[d.ID] = cloneDocument(d)
}
