package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"formaos-compliance/internal/config"
	"formaos-compliance/internal/domain/models"
	"formaos-compliance/pkg/logger"
)

var errInjected = errors.New("injected failure")

// memCatalog is an in-memory CatalogStore
type memCatalog struct {
	mu         sync.Mutex
	frameworks map[string]*models.Framework
	domains    []models.Domain
	controls   []models.CatalogControl
	mappings   []models.ControlMapping

	failFramework bool
	failControls  map[string]bool
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		frameworks:   map[string]*models.Framework{},
		failControls: map[string]bool{},
	}
}

func (m *memCatalog) UpsertFramework(_ context.Context, fw models.PackFramework) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFramework {
		return uuid.Nil, errInjected
	}
	if cur, ok := m.frameworks[fw.Slug]; ok {
		cur.Name = fw.Name
		cur.Description = fw.Description
		return cur.ID, nil
	}
	row := &models.Framework{ID: uuid.New(), Name: fw.Name, Slug: fw.Slug, Description: fw.Description, IsActive: true}
	m.frameworks[fw.Slug] = row
	return row.ID, nil
}

func (m *memCatalog) UpsertDomain(_ context.Context, frameworkID uuid.UUID, d models.PackDomain) (*models.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.domains {
		if m.domains[i].FrameworkID == frameworkID && m.domains[i].Name == d.Name {
			row := m.domains[i]
			return &row, nil
		}
	}
	row := models.Domain{ID: uuid.New(), FrameworkID: frameworkID, Name: d.Name, Description: d.Description}
	m.domains = append(m.domains, row)
	return &row, nil
}

func (m *memCatalog) UpsertControl(_ context.Context, frameworkID, domainID uuid.UUID, c models.PackControl) (*models.CatalogControl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failControls[c.ControlCode] {
		return nil, errInjected
	}
	row := models.CatalogControl{
		FrameworkID:                 frameworkID,
		DomainID:                    domainID,
		ControlCode:                 c.ControlCode,
		Title:                       c.Title,
		SummaryDescription:          c.SummaryDescription,
		DefaultRiskLevel:            c.DefaultRiskLevel,
		ReviewFrequencyDays:         c.ReviewFrequencyDays.Value,
		SuggestedEvidenceTypes:      c.SuggestedEvidenceTypes,
		SuggestedAutomationTriggers: c.SuggestedAutomationTriggers,
		SuggestedTaskTemplates:      c.SuggestedTaskTemplates,
	}
	for i := range m.controls {
		if m.controls[i].FrameworkID == frameworkID && m.controls[i].ControlCode == c.ControlCode {
			row.ID = m.controls[i].ID
			m.controls[i] = row
			return &row, nil
		}
	}
	row.ID = uuid.New()
	m.controls = append(m.controls, row)
	return &row, nil
}

func (m *memCatalog) UpsertMapping(_ context.Context, mapping models.ControlMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.mappings {
		cur := m.mappings[i]
		if cur.InternalControlID == mapping.InternalControlID && cur.FrameworkSlug == mapping.FrameworkSlug &&
			cur.ExternalControlReference == mapping.ExternalControlReference {
			m.mappings[i].MappingStrength = mapping.MappingStrength
			return nil
		}
	}
	mapping.ID = uuid.New()
	m.mappings = append(m.mappings, mapping)
	return nil
}

func (m *memCatalog) GetFrameworkBySlug(_ context.Context, slug string) (*models.Framework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fw, ok := m.frameworks[slug]
	if !ok {
		return nil, nil
	}
	out := *fw
	return &out, nil
}

func (m *memCatalog) ListFrameworks(_ context.Context) ([]models.Framework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Framework
	for _, fw := range m.frameworks {
		out = append(out, *fw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memCatalog) ListDomains(_ context.Context, frameworkID uuid.UUID) ([]models.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Domain
	for _, d := range m.domains {
		if d.FrameworkID == frameworkID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memCatalog) ListControls(_ context.Context, frameworkID uuid.UUID) ([]models.CatalogControl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CatalogControl
	for _, c := range m.controls {
		if c.FrameworkID == frameworkID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCatalog) ListMappings(_ context.Context, frameworkID uuid.UUID) ([]models.ControlMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owned := map[uuid.UUID]bool{}
	for _, c := range m.controls {
		if c.FrameworkID == frameworkID {
			owned[c.ID] = true
		}
	}
	var out []models.ControlMapping
	for _, mp := range m.mappings {
		if owned[mp.InternalControlID] {
			out = append(out, mp)
		}
	}
	return out, nil
}

func (m *memCatalog) GetControlsByIDs(_ context.Context, ids []uuid.UUID) ([]models.CatalogControl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.CatalogControl
	for _, c := range m.controls {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// memCompliance is an in-memory ComplianceStore
type memCompliance struct {
	mu            sync.Mutex
	schema        models.ControlsSchema
	schemaProbes  int
	frameworks    []models.ComplianceFramework
	controls      map[uuid.UUID][]models.ComplianceControl
	orgFrameworks []models.OrgFramework

	schemaErr     error
	frameworksErr error
	controlsErr   error
	orgSlugsErr   error
}

func newMemCompliance() *memCompliance {
	return &memCompliance{
		schema:   models.ControlsSchemaModern,
		controls: map[uuid.UUID][]models.ComplianceControl{},
	}
}

func (m *memCompliance) DetectControlsSchema(_ context.Context) (models.ControlsSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaProbes++
	if m.schemaErr != nil {
		return "", m.schemaErr
	}
	return m.schema, nil
}

func (m *memCompliance) GetFrameworkByCode(_ context.Context, code string) (*models.ComplianceFramework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fw := range m.frameworks {
		if fw.Code == code {
			out := fw
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memCompliance) ListFrameworks(_ context.Context) ([]models.ComplianceFramework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frameworksErr != nil {
		return nil, m.frameworksErr
	}
	return append([]models.ComplianceFramework(nil), m.frameworks...), nil
}

func (m *memCompliance) UpsertFramework(_ context.Context, code, title string, description *string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.frameworks {
		if m.frameworks[i].Code == code {
			m.frameworks[i].Title = title
			m.frameworks[i].Description = description
			return m.frameworks[i].ID, nil
		}
	}
	fw := models.ComplianceFramework{ID: uuid.New(), Code: code, Title: title, Description: description}
	m.frameworks = append(m.frameworks, fw)
	return fw.ID, nil
}

func (m *memCompliance) ListControls(_ context.Context, _ models.ControlsSchema, frameworkID uuid.UUID) ([]models.ComplianceControl, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controlsErr != nil {
		return nil, m.controlsErr
	}
	return append([]models.ComplianceControl(nil), m.controls[frameworkID]...), nil
}

func (m *memCompliance) UpsertControls(_ context.Context, _ models.ControlsSchema, rows []models.ComplianceControlSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		category := r.Category
		fcID := r.FrameworkControlID
		existing := m.controls[r.FrameworkID]
		found := false
		for i := range existing {
			if existing[i].Code == r.Code {
				existing[i].Title = r.Title
				existing[i].Category = &category
				existing[i].RiskLevel = r.RiskLevel
				existing[i].FrameworkControlID = &fcID
				found = true
			}
		}
		if !found {
			existing = append(existing, models.ComplianceControl{
				ID:                 uuid.New(),
				FrameworkID:        r.FrameworkID,
				Code:               r.Code,
				Title:              r.Title,
				Description:        r.Description,
				Category:           &category,
				RiskLevel:          r.RiskLevel,
				FrameworkControlID: &fcID,
			})
		}
		m.controls[r.FrameworkID] = existing
	}
	return nil
}

func (m *memCompliance) UpsertOrgFramework(_ context.Context, orgID, slug string, enabledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, of := range m.orgFrameworks {
		if of.OrgID == orgID && of.FrameworkSlug == slug {
			return nil
		}
	}
	m.orgFrameworks = append(m.orgFrameworks, models.OrgFramework{OrgID: orgID, FrameworkSlug: slug, EnabledAt: enabledAt})
	return nil
}

func (m *memCompliance) ListOrgFrameworkSlugs(_ context.Context, orgID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orgSlugsErr != nil {
		return nil, m.orgSlugsErr
	}
	var out []string
	for _, of := range m.orgFrameworks {
		if of.OrgID == orgID {
			out = append(out, of.FrameworkSlug)
		}
	}
	return out, nil
}

func (m *memCompliance) ListOrgFrameworks(_ context.Context) ([]models.OrgFramework, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrgFramework(nil), m.orgFrameworks...), nil
}

// addFramework registers a compliance framework with the given controls
func (m *memCompliance) addFramework(code string, controls ...models.ComplianceControl) models.ComplianceFramework {
	m.mu.Lock()
	defer m.mu.Unlock()
	fw := models.ComplianceFramework{ID: uuid.New(), Code: code, Title: code + " framework"}
	m.frameworks = append(m.frameworks, fw)
	for i := range controls {
		if controls[i].ID == uuid.Nil {
			controls[i].ID = uuid.New()
		}
		controls[i].FrameworkID = fw.ID
	}
	m.controls[fw.ID] = controls
	return fw
}

type orgLink struct {
	orgID string
	link  models.ControlTask
}

// memEvidence is an in-memory EvidenceStore
type memEvidence struct {
	mu       sync.Mutex
	evidence map[string][]models.ControlEvidence
	links    []orgLink
	tasks    map[uuid.UUID]models.Task

	failCreate   bool
	evidenceErr  error
	linksErr     error
	tasksErr     error
	createdTasks int
}

func newMemEvidence() *memEvidence {
	return &memEvidence{
		evidence: map[string][]models.ControlEvidence{},
		tasks:    map[uuid.UUID]models.Task{},
	}
}

func (m *memEvidence) ListControlEvidence(_ context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlEvidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evidenceErr != nil {
		return nil, m.evidenceErr
	}
	want := idSet(controlIDs)
	var out []models.ControlEvidence
	for _, e := range m.evidence[orgID] {
		if want[e.ControlID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvidence) ListControlTasks(_ context.Context, orgID string, controlIDs []uuid.UUID) ([]models.ControlTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linksErr != nil {
		return nil, m.linksErr
	}
	want := idSet(controlIDs)
	var out []models.ControlTask
	for _, l := range m.links {
		if l.orgID == orgID && want[l.link.ControlID] {
			out = append(out, l.link)
		}
	}
	return out, nil
}

func (m *memEvidence) ListTasksByIDs(_ context.Context, orgID string, taskIDs []uuid.UUID) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasksErr != nil {
		return nil, m.tasksErr
	}
	var out []models.Task
	for _, id := range taskIDs {
		if t, ok := m.tasks[id]; ok && t.OrgID == orgID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memEvidence) CreateTask(_ context.Context, task *models.Task) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return uuid.Nil, errInjected
	}
	t := *task
	t.ID = uuid.New()
	m.tasks[t.ID] = t
	m.createdTasks++
	return t.ID, nil
}

func (m *memEvidence) LinkControlTask(_ context.Context, orgID string, controlID, taskID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, orgLink{orgID: orgID, link: models.ControlTask{ControlID: controlID, TaskID: taskID}})
	return nil
}

func (m *memEvidence) addEvidence(orgID string, controlID uuid.UUID, status models.EvidenceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.evidence[orgID] = append(m.evidence[orgID], models.ControlEvidence{ControlID: controlID, EvidenceID: &id, Status: status})
}

func (m *memEvidence) addTask(orgID string, controlID uuid.UUID, task models.Task) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ID = uuid.New()
	task.OrgID = orgID
	m.tasks[task.ID] = task
	m.links = append(m.links, orgLink{orgID: orgID, link: models.ControlTask{ControlID: controlID, TaskID: task.ID}})
	return task.ID
}

func (m *memEvidence) linkCount(orgID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.links {
		if l.orgID == orgID {
			n++
		}
	}
	return n
}

// memEvaluations is an in-memory EvaluationStore
type memEvaluations struct {
	mu          sync.Mutex
	evaluations map[string]models.ControlEvaluation
	snapshots   []models.FrameworkSnapshotRecord
	rollups     map[string]models.ComplianceStatusRollup

	upsertErr   error
	snapshotErr error
	historyErr  error
	rollupErr   error
}

func newMemEvaluations() *memEvaluations {
	return &memEvaluations{
		evaluations: map[string]models.ControlEvaluation{},
		rollups:     map[string]models.ComplianceStatusRollup{},
	}
}

func (m *memEvaluations) UpsertEvaluations(_ context.Context, rows []models.ControlEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, r := range rows {
		m.evaluations[r.OrgID+"|"+r.ControlType+"|"+r.ControlKey] = r
	}
	return nil
}

func (m *memEvaluations) InsertSnapshot(_ context.Context, rec *models.FrameworkSnapshotRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotErr != nil {
		return m.snapshotErr
	}
	m.snapshots = append(m.snapshots, *rec)
	return nil
}

func (m *memEvaluations) ListRecentSnapshots(_ context.Context, orgID string, limit int) ([]models.SnapshotPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return nil, m.historyErr
	}
	var rows []models.FrameworkSnapshotRecord
	for _, s := range m.snapshots {
		if s.OrgID == orgID {
			rows = append(rows, s)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].EvaluatedAt.After(rows[j].EvaluatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]models.SnapshotPoint, len(rows))
	for i, r := range rows {
		id := r.FrameworkID
		out[i] = models.SnapshotPoint{FrameworkID: &id, ComplianceScore: r.ComplianceScore, EvaluatedAt: r.EvaluatedAt}
	}
	return out, nil
}

func (m *memEvaluations) UpsertStatusRollup(_ context.Context, rollup *models.ComplianceStatusRollup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rollupErr != nil {
		return m.rollupErr
	}
	m.rollups[rollup.OrgID] = *rollup
	return nil
}

func (m *memEvaluations) evaluationsFor(orgID string) []models.ControlEvaluation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ControlEvaluation
	for k, v := range m.evaluations {
		if strings.HasPrefix(k, orgID+"|") {
			out = append(out, v)
		}
	}
	return out
}

// memBlocks is an in-memory BlockStore
type memBlocks struct {
	mu     sync.Mutex
	blocks []models.ComplianceBlock
	err    error
}

func (m *memBlocks) HasOpenBlock(_ context.Context, orgID string, gate models.GateKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	for _, b := range m.blocks {
		if b.OrgID == orgID && b.GateKey == gate && b.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (m *memBlocks) CreateBlock(_ context.Context, block *models.ComplianceBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	b := *block
	b.ID = uuid.New()
	m.blocks = append(m.blocks, b)
	return nil
}

func (m *memBlocks) ResolveOpenBlocks(_ context.Context, orgID string, gates []models.GateKey, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	want := map[models.GateKey]bool{}
	for _, g := range gates {
		want[g] = true
	}
	n := 0
	for i := range m.blocks {
		b := &m.blocks[i]
		if b.OrgID == orgID && want[b.GateKey] && b.IsOpen() {
			resolved := at
			b.ResolvedAt = &resolved
			n++
		}
	}
	return n, nil
}

func (m *memBlocks) open(orgID string) []models.ComplianceBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ComplianceBlock
	for _, b := range m.blocks {
		if b.OrgID == orgID && b.IsOpen() {
			out = append(out, b)
		}
	}
	return out
}

// memActivity collects raw activity rows
type memActivity struct {
	mu      sync.Mutex
	entries []models.ActivityEntry
	err     error
}

func (m *memActivity) InsertActivity(_ context.Context, entries []models.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *memActivity) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

type fakeAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
	err    error
}

func (f *fakeAudit) LogAuditEvent(_ context.Context, event models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.ActionType
	}
	return out
}

type fakeActivityLogger struct {
	mu      sync.Mutex
	actions []string
	err     error
}

func (f *fakeActivityLogger) LogActivity(_ context.Context, _, action, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.actions = append(f.actions, action)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []*models.ComplianceEvent
	err    error
}

func (f *fakeEvents) PublishComplianceEvent(_ context.Context, event *models.ComplianceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) types() []models.ComplianceEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ComplianceEventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

type fakeEntitlements struct {
	denied map[string]bool
}

func (f fakeEntitlements) Require(_ context.Context, orgID, featureKey string) error {
	if f.denied[orgID] {
		return errors.New("organization lacks " + featureKey)
	}
	return nil
}

type memCache struct {
	mu        sync.Mutex
	snapshots map[string]*models.ComplianceSnapshot
	gets      int
}

func newMemCache() *memCache {
	return &memCache{snapshots: map[string]*models.ComplianceSnapshot{}}
}

func (c *memCache) GetSnapshot(_ context.Context, orgID string) (*models.ComplianceSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	s, ok := c.snapshots[orgID]
	return s, ok, nil
}

func (c *memCache) SetSnapshot(_ context.Context, orgID string, snapshot *models.ComplianceSnapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[orgID] = snapshot
	return nil
}

func (c *memCache) InvalidateSnapshot(_ context.Context, orgID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, orgID)
	return nil
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	out := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// engine bundles an Evaluator with its in-memory collaborators
type engine struct {
	compliance  *memCompliance
	evidence    *memEvidence
	evaluations *memEvaluations
	blocks      *memBlocks
	activityLog *memActivity
	audit       *fakeAudit
	activity    *fakeActivityLogger
	events      *fakeEvents
	cache       *memCache
	entitled    fakeEntitlements

	evaluator *Evaluator
	now       time.Time
}

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

func newEngine(t *testing.T) *engine {
	t.Helper()
	e := &engine{
		compliance:  newMemCompliance(),
		evidence:    newMemEvidence(),
		evaluations: newMemEvaluations(),
		blocks:      &memBlocks{},
		activityLog: &memActivity{},
		audit:       &fakeAudit{},
		activity:    &fakeActivityLogger{},
		events:      &fakeEvents{},
		cache:       newMemCache(),
		entitled:    fakeEntitlements{denied: map[string]bool{}},
		now:         fixedNow,
	}
	cfg := config.EvaluationConfig{
		SnapshotHistoryLimit: 200,
		Serialize:            true,
		LockTTL:              time.Second,
		LockWait:             100 * time.Millisecond,
		SnapshotCacheTTL:     time.Minute,
	}
	e.evaluator = NewEvaluator(cfg, EvaluatorDeps{
		Compliance:   e.compliance,
		Evidence:     e.evidence,
		Evaluations:  e.evaluations,
		Blocks:       e.blocks,
		ActivityLog:  e.activityLog,
		Schema:       NewSchemaDetector(e.compliance),
		Entitlements: e.entitled,
		Audit:        e.audit,
		Activity:     e.activity,
		Events:       e.events,
		Locker:       NewLocalLocker(),
		Cache:        e.cache,
	}, logger.NewNop())
	e.evaluator.now = func() time.Time { return e.now }
	return e
}

// newControl builds a mandatory control with the given code and risk tier
func newControl(code string, risk models.RiskLevel) models.ComplianceControl {
	return models.ComplianceControl{
		ID:        uuid.New(),
		Code:      code,
		Title:     "Control " + code,
		RiskLevel: risk,
	}
}

func ptr[T any](v T) *T {
	return &v
}
