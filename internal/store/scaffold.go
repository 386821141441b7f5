package store

import (
	"fmt"

	"github.com/ksargent/cascade/pkg/models"
)

// Scaffold seeds a new work-breakdown tree: the epic with one roadmap
// placeholder, one plan, one phase, and a task per given title.
// Decomposing a parent always seeds its children this way — units are
// never deleted afterwards, only completed, blocked, or reset.
func Scaffold(epicTitle string, taskTitles []string) (*models.Tree, error) {
	if epicTitle == "" {
		return nil, fmt.Errorf("epic title cannot be empty")
	}
	if len(taskTitles) == 0 {
		taskTitles = []string{"define scope", "implement"}
	}

	epic := models.NewUnit(models.KindEpic, epicTitle)
	tree := models.NewTree(epic)

	roadmap := models.NewUnit(models.KindRoadmap, epicTitle+" roadmap")
	if err := tree.Add(epic.ID, roadmap); err != nil {
		return nil, err
	}

	plan := models.NewUnit(models.KindPlan, "initial plan")
	if err := tree.Add(roadmap.ID, plan); err != nil {
		return nil, err
	}

	phase := models.NewUnit(models.KindPhase, "phase 1")
	if err := tree.Add(plan.ID, phase); err != nil {
		return nil, err
	}

	for _, title := range taskTitles {
		if err := tree.Add(phase.ID, models.NewUnit(models.KindTask, title)); err != nil {
			return nil, err
		}
	}

	return tree, nil
}
