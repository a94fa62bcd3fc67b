package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/leadflow/backend/internal/application/integration"
	"github.com/leadflow/backend/internal/domain/integration"
	"github.com/leadflow/backend/internal/domain/lead"
	"github.com/leadflow/backend/internal/domain/shared"
	"github.com/leadflow/backend/internal/infrastructure/cache"
	"github.com/leadflow/backend/internal/infrastructure/locale"
	"github.com/leadflow/backend/internal/infrastructure/queue"
)

// store is an in-memory implementation of every repository dispatch uses
type store struct {
	mu      sync.Mutex
	units   map[uuid.UUID]integration.DispatchUnit
	order   []uuid.UUID
	batches map[uuid.UUID]integration.Batch
	leads   map[uuid.UUID]lead.Lead
	sets    []*integration.CredentialSet
	owners  map[uuid.UUID]*lead.Owner

	failUnitUpdate error
}

func newStore() *store {
	return &store{
		units:   map[uuid.UUID]integration.DispatchUnit{},
		batches: map[uuid.UUID]integration.Batch{},
		leads:   map[uuid.UUID]lead.Lead{},
		owners:  map[uuid.UUID]*lead.Owner{},
	}
}

func copyBatch(b integration.Batch) integration.Batch {
	outcomes := make(map[string]bool, len(b.Outcomes))
	for k, v := range b.Outcomes {
		outcomes[k] = v
	}
	b.Outcomes = outcomes
	return b
}

func copyLead(l lead.Lead) lead.Lead {
	data := make(map[string]any, len(l.IntegrationData))
	for k, v := range l.IntegrationData {
		data[k] = v
	}
	l.IntegrationData = data
	return l
}

// units

func (s *store) Save(_ context.Context, units ...*integration.DispatchUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		if _, ok := s.units[u.ID]; !ok {
			s.order = append(s.order, u.ID)
		}
		s.units[u.ID] = *u
	}
	return nil
}

func (s *store) FindByID(_ context.Context, id uuid.UUID) (*integration.DispatchUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return nil, integration.ErrUnitNotFound
	}
	return &u, nil
}

func (s *store) FindByBatch(_ context.Context, batchID uuid.UUID) ([]*integration.DispatchUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.DispatchUnit
	for _, id := range s.order {
		if u := s.units[id]; u.BatchID == batchID {
			out = append(out, &u)
		}
	}
	return out, nil
}

func (s *store) UpdateIfStatus(_ context.Context, unit *integration.DispatchUnit, expected integration.UnitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUnitUpdate != nil {
		return s.failUnitUpdate
	}
	current, ok := s.units[unit.ID]
	if !ok || current.Status != expected {
		return integration.ErrUnitStale
	}
	s.units[unit.ID] = *unit
	return nil
}

func (s *store) FindDue(_ context.Context, now time.Time, limit int) ([]*integration.DispatchUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.DispatchUnit
	for _, id := range s.order {
		u := s.units[id]
		if u.IsDue(now) && len(out) < limit {
			out = append(out, &u)
		}
	}
	return out, nil
}

func (s *store) FindStaleRunning(_ context.Context, before time.Time, limit int) ([]*integration.DispatchUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*integration.DispatchUnit
	for _, id := range s.order {
		u := s.units[id]
		if u.Status == integration.UnitStatusRunning && u.UpdatedAt.Before(before) && len(out) < limit {
			out = append(out, &u)
		}
	}
	return out, nil
}

func (s *store) FindPermanentlyFailed(_ context.Context, page, pageSize int) ([]*integration.DispatchUnit, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dead []*integration.DispatchUnit
	for _, id := range s.order {
		if u := s.units[id]; u.Status == integration.UnitStatusPermanentlyFailed {
			dead = append(dead, &u)
		}
	}
	total := int64(len(dead))
	start := (page - 1) * pageSize
	if start >= len(dead) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(dead) {
		end = len(dead)
	}
	return dead[start:end], total, nil
}

func (s *store) DeleteCompletedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, u := range s.units {
		if u.Status == integration.UnitStatusSucceeded && u.CompletedAt != nil && u.CompletedAt.Before(before) {
			delete(s.units, id)
			n++
		}
	}
	return n, nil
}

func (s *store) CountByStatus(_ context.Context) (map[integration.UnitStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[integration.UnitStatus]int64{}
	for _, u := range s.units {
		counts[u.Status]++
	}
	return counts, nil
}

func (s *store) unit(id uuid.UUID) integration.DispatchUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[id]
}

func (s *store) unitsOf(batchID uuid.UUID) []integration.DispatchUnit {
	units, _ := s.FindByBatch(context.Background(), batchID)
	out := make([]integration.DispatchUnit, len(units))
	for i, u := range units {
		out[i] = *u
	}
	return out
}

// batches

type batchRepo struct{ *store }

func (r batchRepo) CreateWithUnits(ctx context.Context, batch *integration.Batch, units []*integration.DispatchUnit) error {
	if len(units) == 0 {
		return integration.ErrBatchEmpty
	}
	r.mu.Lock()
	r.batches[batch.ID] = copyBatch(*batch)
	r.mu.Unlock()
	return r.store.Save(ctx, units...)
}

func (r batchRepo) FindByID(_ context.Context, id uuid.UUID) (*integration.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, integration.ErrBatchNotFound
	}
	b = copyBatch(b)
	return &b, nil
}

func (r batchRepo) Update(_ context.Context, batch *integration.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.batches[batch.ID].Version != batch.Version {
		return integration.ErrBatchStale
	}
	batch.Version++
	r.batches[batch.ID] = copyBatch(*batch)
	return nil
}

func (s *store) batch(id uuid.UUID) integration.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyBatch(s.batches[id])
}

func (s *store) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

// leads

type leadRepo struct{ *store }

func (r leadRepo) FindByID(_ context.Context, id uuid.UUID) (*lead.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return nil, lead.ErrLeadNotFound
	}
	l = copyLead(l)
	return &l, nil
}

func (r leadRepo) Save(_ context.Context, l *lead.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads[l.ID] = copyLead(*l)
	return nil
}

func (r leadRepo) UpdateIntegration(_ context.Context, id uuid.UUID, u lead.IntegrationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok {
		return lead.ErrLeadNotFound
	}
	l = copyLead(l)
	l.Apply(u)
	r.leads[id] = l
	return nil
}

func (s *store) lead(id uuid.UUID) lead.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyLead(s.leads[id])
}

// credential sets

type credentialRepo struct{ *store }

func (r credentialRepo) list(match func(*integration.CredentialSet) bool) []*integration.CredentialSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*integration.CredentialSet
	for _, set := range r.sets {
		if set.Enabled && match(set) {
			out = append(out, set)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r credentialRepo) ListEnabledByEntity(_ context.Context, entityID uuid.UUID) ([]*integration.CredentialSet, error) {
	return r.list(func(s *integration.CredentialSet) bool { return s.EntityID != nil && *s.EntityID == entityID }), nil
}

func (r credentialRepo) ListEnabledByProject(_ context.Context, projectID uuid.UUID) ([]*integration.CredentialSet, error) {
	return r.list(func(s *integration.CredentialSet) bool { return s.ProjectID != nil && *s.ProjectID == projectID }), nil
}

func (r credentialRepo) FindByID(_ context.Context, id uuid.UUID) (*integration.CredentialSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.sets {
		if set.ID == id {
			return set, nil
		}
	}
	return nil, integration.ErrCredentialSetAbsent
}

func (r credentialRepo) Save(_ context.Context, set *integration.CredentialSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = append(r.sets, set)
	return nil
}

// owners

type ownerDirectory struct{ *store }

func (d ownerDirectory) OwnerOf(_ context.Context, l *lead.Lead) (*lead.Owner, error) {
	if l.OwnerID == nil {
		return nil, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owners[*l.OwnerID], nil
}

// mail

type sentMail struct {
	Address  string
	Template string
	Data     map[string]any
}

type recordingMail struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMail) Send(_ context.Context, address, templateID string, data map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	m.sent = append(m.sent, sentMail{Address: address, Template: templateID, Data: data})
	return true, nil
}

func (m *recordingMail) all() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

// channels

type call struct {
	Op    string
	Creds integration.Credentials
}

// scriptedChannel returns queued results, then repeats the last one
type scriptedChannel struct {
	mu      sync.Mutex
	typ     integration.ChannelType
	results []*integration.Result
	calls   []call
}

func (c *scriptedChannel) Type() integration.ChannelType { return c.typ }
func (c *scriptedChannel) RequiredFields() []string     { return nil }
func (c *scriptedChannel) ValidateCredentials(integration.Credentials) bool {
	return true
}

func (c *scriptedChannel) next(op string, creds integration.Credentials) *integration.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{Op: op, Creds: creds})
	if len(c.results) == 0 {
		return integration.Success("Lead sent", "", nil)
	}
	res := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	return res
}

func (c *scriptedChannel) Send(_ context.Context, _ *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.next("send", creds)
}

func (c *scriptedChannel) Update(_ context.Context, _ *lead.Lead, creds integration.Credentials) *integration.Result {
	return c.next("update", creds)
}

func (c *scriptedChannel) TestConnection(_ context.Context, creds integration.Credentials) *integration.Result {
	return c.next("test", creds)
}

func (c *scriptedChannel) recorded() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

type channelSet map[integration.ChannelType]*scriptedChannel

func (cs channelSet) Create(t integration.ChannelType) (integration.Channel, error) {
	ch, ok := cs[t]
	if !ok {
		return nil, integration.NewUnsupportedTypeError(t.String())
	}
	return ch, nil
}

func (cs channelSet) AvailableTypes() []integration.ChannelType {
	out := make([]integration.ChannelType, 0, len(cs))
	for t := range cs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (cs channelSet) IsSupported(name string) bool {
	t, err := integration.ParseChannelType(name)
	if err != nil {
		return false
	}
	_, ok := cs[t]
	return ok
}

// failingProducer rejects every message
type failingProducer struct{}

func (failingProducer) Enqueue(context.Context, string, queue.Message) error {
	return errors.New("redis unavailable")
}
func (failingProducer) Close() error { return nil }

// harness wires the dispatch components over in-memory collaborators
type harness struct {
	store    *store
	queue    *queue.Memory
	mail     *recordingMail
	channels channelSet
	now      time.Time

	orchestrator *Orchestrator
	processor    *UnitProcessor
	aggregator   *Aggregator
	detector     *AutoDetector
	resend       *ResendService
	units        *UnitService
	jobs         *JobHandler
}

var operators = []string{"ops@example.com", "lead@example.com"}

func newHarness(types ...integration.ChannelType) *harness {
	h := &harness{
		store:    newStore(),
		queue:    queue.NewMemory(100),
		mail:     &recordingMail{},
		channels: channelSet{},
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, t := range types {
		h.channels[t] = &scriptedChannel{typ: t}
	}
	clock := func() time.Time { return h.now }
	log := zap.NewNop()

	manager := appintegration.NewManager(h.channels, log)
	notifier := NewNotifier(h.mail, ownerDirectory{h.store}, locale.NewService(locale.Config{}),
		NotifierConfig{OperatorEmails: operators}, log)
	notifier.now = clock

	h.orchestrator = NewOrchestrator(batchRepo{h.store}, h.store, h.queue, nil, log)
	h.orchestrator.now = clock
	h.processor = NewUnitProcessor(h.store, leadRepo{h.store}, NewRunner(leadRepo{h.store}, manager), h.queue, notifier, nil, log)
	h.processor.now = clock
	h.aggregator = NewAggregator(batchRepo{h.store}, h.store, leadRepo{h.store}, notifier,
		cache.NewMemoryStore(), shared.DefaultIdempotencyConfig(), nil, log)
	h.aggregator.now = clock
	h.detector = NewAutoDetector(leadRepo{h.store}, credentialRepo{h.store}, h.orchestrator, h.queue, nil, log)
	h.resend = NewResendService(leadRepo{h.store}, h.detector, h.orchestrator, h.queue, log)
	h.units = NewUnitService(h.store, batchRepo{h.store}, h.orchestrator, log)
	h.jobs = NewJobHandler(h.detector, h.resend, 0, log)
	return h
}

func (h *harness) addLead(mutators ...func(*lead.Lead)) *lead.Lead {
	l := lead.NewLead("John Smith", "john@example.com", "+15550100")
	for _, m := range mutators {
		m(l)
	}
	_ = leadRepo{h.store}.Save(context.Background(), l)
	return l
}

func (h *harness) addCredentialSet(t integration.ChannelType, values integration.Credentials, owner func(*integration.CredentialSet)) *integration.CredentialSet {
	set := integration.NewCredentialSet(t.String(), t, values)
	set.CreatedAt = h.now.Add(time.Duration(len(h.store.sets)) * time.Second)
	owner(set)
	_ = credentialRepo{h.store}.Save(context.Background(), set)
	return set
}

// drain reads every message currently queued on stream
func (h *harness) drain(stream string) []queue.Message {
	var out []queue.Message
	c := h.queue.Consumer(stream, 5, time.Millisecond)
	for h.queue.Len(stream) > 0 {
		msgs, err := c.Read(context.Background())
		if err != nil {
			break
		}
		out = append(out, msgs...)
	}
	return out
}

// runUnits processes every queued unit message of the given types
func (h *harness) runUnits(types ...integration.ChannelType) {
	for _, t := range types {
		for _, msg := range h.drain(queue.UnitStream(t)) {
			_ = h.processor.Handle(context.Background(), msg)
		}
	}
}

// aggregate feeds every queued outcome to the aggregator
func (h *harness) aggregate() {
	for _, msg := range h.drain(queue.StreamOutcomes) {
		_ = h.aggregator.Handle(context.Background(), msg)
	}
}
