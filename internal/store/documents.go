package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ksargent/cascade/pkg/models"
)

// epicManifest is the on-disk shape of epic.yaml: the epic and its
// roadmaps inline, with plans referenced by document path.
type epicManifest struct {
	Epic     models.WorkUnit   `yaml:"epic"`
	Roadmaps []roadmapManifest `yaml:"roadmaps"`
	Metadata treeMetadata      `yaml:"metadata"`
}

// roadmapManifest nests a roadmap's unit fields with its plan references.
type roadmapManifest struct {
	Unit  models.WorkUnit `yaml:"roadmap"`
	Plans []planRef       `yaml:"plans"`
}

// planRef points a roadmap at a plan document.
type planRef struct {
	ID   string `yaml:"id"`
	Path string `yaml:"path"`
}

// treeMetadata holds derived values recomputed on every save.
type treeMetadata struct {
	CompletionPercentage float64 `yaml:"completion_percentage" json:"completion_percentage"`
}

// planDocument is the on-disk shape of plans/<id>.json: the plan with
// its phases and tasks nested inline.
type planDocument struct {
	Plan     planNode     `json:"plan"`
	Metadata treeMetadata `json:"metadata"`
}

// planNode nests a plan's unit fields with its phases.
type planNode struct {
	models.WorkUnit `yaml:",inline"`
	Phases          []phaseNode `json:"phases"`
}

// phaseNode nests a phase's unit fields with its tasks.
type phaseNode struct {
	models.WorkUnit `yaml:",inline"`
	Tasks           []models.WorkUnit `json:"tasks"`
}

// Load reads the persisted tree. It returns ErrNotFound when no manifest
// exists and a CorruptError when a document cannot be parsed (after one
// restore attempt from its sidecar backup) or the assembled tree fails
// validation.
func (s *Store) Load() (*models.Tree, error) {
	if !s.Exists() {
		return nil, fmt.Errorf("%w in %s", ErrNotFound, s.dir)
	}

	var manifest epicManifest
	err := s.readDocument(s.ManifestPath(), func(data []byte) error {
		return yaml.Unmarshal(data, &manifest)
	})
	if err != nil {
		return nil, err
	}

	epic := manifest.Epic.Clone()
	epic.Children = nil
	tree := &models.Tree{
		RootID: epic.ID,
		Units:  map[string]*models.WorkUnit{epic.ID: epic},
	}

	for i := range manifest.Roadmaps {
		roadmap := manifest.Roadmaps[i].Unit.Clone()
		roadmap.Children = nil
		tree.Units[roadmap.ID] = roadmap
		epic.Children = append(epic.Children, roadmap.ID)

		for _, ref := range manifest.Roadmaps[i].Plans {
			var doc planDocument
			path := s.PlanPath(ref.ID)
			if ref.Path != "" && filepath.IsAbs(ref.Path) {
				path = ref.Path
			} else if ref.Path != "" {
				path = filepath.Join(s.dir, ref.Path)
			}
			err := s.readDocument(path, func(data []byte) error {
				return json.Unmarshal(data, &doc)
			})
			if err != nil {
				return nil, err
			}
			addPlan(tree, roadmap, &doc)
		}
	}

	if err := tree.Validate(); err != nil {
		return nil, &CorruptError{Path: s.ManifestPath(), Err: err}
	}
	return tree, nil
}

// addPlan splays a plan document into the tree under the given roadmap.
func addPlan(tree *models.Tree, roadmap *models.WorkUnit, doc *planDocument) {
	plan := doc.Plan.WorkUnit.Clone()
	plan.Children = nil
	tree.Units[plan.ID] = plan
	roadmap.Children = append(roadmap.Children, plan.ID)

	for i := range doc.Plan.Phases {
		phase := doc.Plan.Phases[i].WorkUnit.Clone()
		phase.Children = nil
		tree.Units[phase.ID] = phase
		plan.Children = append(plan.Children, phase.ID)

		for j := range doc.Plan.Phases[i].Tasks {
			task := doc.Plan.Phases[i].Tasks[j].Clone()
			task.Children = nil
			tree.Units[task.ID] = task
			phase.Children = append(phase.Children, task.ID)
		}
	}
}

// Save persists the tree atomically: every plan document and the epic
// manifest are written via temp-and-rename, with the previous content
// kept as a sidecar backup. Derived completion percentages are
// recomputed here.
func (s *Store) Save(tree *models.Tree) error {
	if err := tree.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid tree: %w", err)
	}

	epic := tree.Root()
	manifest := epicManifest{
		Epic:     *flatUnit(epic),
		Metadata: treeMetadata{CompletionPercentage: tree.CompletionPercentage()},
	}

	for _, roadmap := range tree.Children(epic) {
		rm := roadmapManifest{Unit: *flatUnit(roadmap)}
		for _, plan := range tree.Children(roadmap) {
			doc := buildPlanDocument(tree, plan)
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal plan %s: %w", plan.ID, err)
			}
			if err := writeAtomic(s.PlanPath(plan.ID), data); err != nil {
				return fmt.Errorf("save plan %s: %w", plan.ID, err)
			}
			rm.Plans = append(rm.Plans, planRef{
				ID:   plan.ID,
				Path: plansDirName + "/" + plan.ID + ".json",
			})
		}
		manifest.Roadmaps = append(manifest.Roadmaps, rm)
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeAtomic(s.ManifestPath(), data); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// buildPlanDocument collects a plan subtree into its document form.
func buildPlanDocument(tree *models.Tree, plan *models.WorkUnit) *planDocument {
	doc := &planDocument{
		Plan: planNode{WorkUnit: *flatUnit(plan)},
	}

	var leaves, done int
	for _, phase := range tree.Children(plan) {
		pn := phaseNode{WorkUnit: *flatUnit(phase)}
		tasks := tree.Children(phase)
		for _, task := range tasks {
			pn.Tasks = append(pn.Tasks, *flatUnit(task))
			leaves++
			if task.Status == models.StatusCompleted {
				done++
			}
		}
		if len(tasks) == 0 {
			leaves++
			if phase.Status == models.StatusCompleted {
				done++
			}
		}
		doc.Plan.Phases = append(doc.Plan.Phases, pn)
	}
	if len(doc.Plan.Phases) == 0 {
		leaves = 1
		if plan.Status == models.StatusCompleted {
			done = 1
		}
	}
	doc.Metadata.CompletionPercentage = float64(done) / float64(leaves) * 100

	return doc
}

// flatUnit copies a unit for serialization with the Children list
// dropped; nesting carries the ordering on disk.
func flatUnit(u *models.WorkUnit) *models.WorkUnit {
	c := u.Clone()
	c.Children = nil
	return c
}

// Snapshot returns a deep copy of the tree for later diffing. The copy
// never aliases the live tree's mutable state.
func (s *Store) Snapshot(tree *models.Tree) *models.Tree {
	return tree.Clone()
}
