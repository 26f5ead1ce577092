package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/phasecraft/phaseflow/pkg/models"
	"github.com/phasecraft/phaseflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Registry loads and validates workflow templates. A template that passes
// Register is structurally sound: no dangling dependencies, no cycles, all
// output-schema references compile.
type Registry struct {
	store  storage.Store
	logger Logger
}

func NewRegistry(store storage.Store, logger Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// ParseTemplate decodes a YAML template document.
func ParseTemplate(data []byte) (models.WorkflowTemplate, error) {
	var t models.WorkflowTemplate
	if err := yaml.Unmarshal(data, &t); err != nil {
		return models.WorkflowTemplate{}, errors.Wrap(err, "decode template")
	}
	return t, nil
}

// LoadTemplateFile reads and decodes a template from disk.
func LoadTemplateFile(path string) (models.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.WorkflowTemplate{}, errors.Wrapf(err, "read template %s", path)
	}
	return ParseTemplate(data)
}

// Register validates a template and persists it.
func (r *Registry) Register(t models.WorkflowTemplate) error {
	if err := ValidateTemplate(t); err != nil {
		return err
	}
	if err := r.store.SaveTemplate(t); err != nil {
		return errors.Wrapf(err, "save template %s", t.ID)
	}
	r.logger.Infof("Registered template '%s' (%s) with %d phases", t.Name, t.ID, len(t.Phases))
	return nil
}

// Resolve fetches a template by ID.
func (r *Registry) Resolve(templateID string) (models.WorkflowTemplate, error) {
	t, err := r.store.GetTemplate(templateID)
	if err != nil {
		return models.WorkflowTemplate{}, errors.Wrapf(err, "resolve template %s", templateID)
	}
	return t, nil
}

// Snapshot returns a frozen deep copy of a template, taken once per run
// start. Later edits to the registered template never reach the copy.
func (r *Registry) Snapshot(t models.WorkflowTemplate) models.WorkflowTemplate {
	return SnapshotTemplate(t)
}

// SnapshotTemplate deep-copies a template.
func SnapshotTemplate(t models.WorkflowTemplate) models.WorkflowTemplate {
	out := t
	out.Phases = make([]models.PhaseDefinition, len(t.Phases))
	copy(out.Phases, t.Phases)
	for i := range out.Phases {
		out.Phases[i].DependsOn = append([]string(nil), t.Phases[i].DependsOn...)
		out.Phases[i].ToolAllowlist = append([]string(nil), t.Phases[i].ToolAllowlist...)
	}
	out.Schemas = make(map[string]string, len(t.Schemas))
	for k, v := range t.Schemas {
		out.Schemas[k] = v
	}
	return out
}

// ValidateTemplate checks structural soundness: phase IDs are unique, every
// depends_on resolves within the template, the induced graph is acyclic, and
// every output-schema reference compiles.
func ValidateTemplate(t models.WorkflowTemplate) error {
	if t.ID == "" {
		return errors.New("template ID cannot be empty")
	}
	if len(t.Phases) == 0 {
		return errors.Errorf("template %s has no phases", t.ID)
	}

	ids := make(map[string]struct{}, len(t.Phases))
	for _, p := range t.Phases {
		if p.ID == "" {
			return errors.Errorf("template %s: phase with empty ID", t.ID)
		}
		if _, dup := ids[p.ID]; dup {
			return errors.Errorf("template %s: duplicate phase ID %q", t.ID, p.ID)
		}
		ids[p.ID] = struct{}{}
	}

	for _, p := range t.Phases {
		for _, dep := range p.DependsOn {
			if _, ok := ids[dep]; !ok {
				return errors.Errorf("template %s: phase %q depends on unknown phase %q", t.ID, p.ID, dep)
			}
		}
		switch p.Type {
		case models.InteractivePhaseType, models.AutomatedPhaseType, models.LoopPhaseType:
		default:
			return errors.Errorf("template %s: phase %q has invalid type %q", t.ID, p.ID, p.Type)
		}
	}

	if members := findCycle(t.Phases); len(members) > 0 {
		return &TemplateCycleError{TemplateID: t.ID, Members: members}
	}

	for _, p := range t.Phases {
		if p.OutputSchema == "" {
			continue
		}
		doc, ok := t.Schemas[p.OutputSchema]
		if !ok {
			return errors.Errorf("template %s: phase %q references unknown schema %q", t.ID, p.ID, p.OutputSchema)
		}
		if _, err := compileSchema(p.OutputSchema, doc); err != nil {
			return errors.Wrapf(err, "template %s: schema %q", t.ID, p.OutputSchema)
		}
	}
	return nil
}

func compileSchema(ref, doc string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("phaseflow:///%s.json", ref)
	if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// findCycle runs Kahn's algorithm over the phase graph and returns the
// members left unsorted, which are exactly the phases on or downstream of a
// cycle. Empty result means acyclic.
func findCycle(phases []models.PhaseDefinition) []string {
	inDegree := make(map[string]int, len(phases))
	dependents := make(map[string][]string, len(phases))
	for _, p := range phases {
		inDegree[p.ID] += 0
		for _, dep := range p.DependsOn {
			inDegree[p.ID]++
			dependents[dep] = append(dependents[dep], p.ID)
		}
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sorted := 0
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		sorted++
		for _, next := range dependents[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if sorted == len(phases) {
		return nil
	}
	var members []string
	for _, p := range phases {
		if inDegree[p.ID] > 0 {
			members = append(members, p.ID)
		}
	}
	return members
}
