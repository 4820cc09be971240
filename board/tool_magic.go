package board

import (
	"github.com/golang/glog"

	"golang.org/x/exp/slices"
)

// MagicTool draws like the stroke tool, then replaces a recognized closed path
// with a clean primitive outline on release.
type MagicTool struct {
}

func (self *MagicTool) Name() ToolName {
	return ToolMagic
}

func (self *MagicTool) OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft {
	return &Draft{
		Tool:    ToolMagic,
		Options: *options,
		Start:   p,
		Current: p,
		Points:  []float64{p.X, p.Y},
	}
}

func (self *MagicTool) OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft {
	return appendDraftPoint(draft, p)
}

func (self *MagicTool) OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape {
	shape, classification := Recognize(newId, slices.Clone(draft.Points), &draft.Options)
	if classification != nil {
		glog.V(1).Infof("[tool]magic %s aspect=%.2f variance=%.2f axis=%.2f solidity=%.2f corner=%.2f\n",
			classification.Class,
			classification.Stats.Aspect,
			classification.Stats.Variance,
			classification.Stats.AxisScore,
			classification.Stats.Solidity,
			classification.Stats.CornerScore,
		)
	}
	return shape
}
