package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/halfcourt/refguard/internal/models"
)

var _ list.Item = runItem{}

// runItem wraps [models.RunRecord] to implement [list.Item].
type runItem struct {
	run models.RunRecord
}

func (i runItem) FilterValue() string { return i.run.ID }
func (i runItem) Title() string {
	return fmt.Sprintf("%s  %s", i.run.StartedAt.Format("2006-01-02 15:04"), i.run.ID)
}
func (i runItem) Description() string {
	desc := string(i.run.Status)
	if i.run.FinishedAt != nil {
		desc = fmt.Sprintf("%s • score %.1f", desc, i.run.OverallScore)
	}
	return desc
}
