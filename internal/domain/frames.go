package domain

import (
	"context"
	"fmt"
	"math"
)

// progressEvery is how many time steps pass between progress reports and
// cancellation checks inside the frame pass.
const progressEvery = 100

// extremaAccumulator folds the running extrema of the frame pass. Positions
// are in the source Z-up convention.
type extremaAccumulator struct {
	minPos, maxPos Vec3
	maxAvg         float64
	maxStoryAvg    float64
	maxDisp        float64
	minDisp        float64
}

func newExtremaAccumulator() extremaAccumulator {
	return extremaAccumulator{
		minPos:  Vec3{math.Inf(1), math.Inf(1), math.Inf(1)},
		maxPos:  Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
		minDisp: math.Inf(1),
	}
}

func (a *extremaAccumulator) observeNode(pos Vec3, disp Displacement) {
	m := disp.Magnitude()
	a.maxDisp = math.Max(a.maxDisp, m)
	a.minDisp = math.Min(a.minDisp, m)
	for i := range pos {
		a.minPos[i] = math.Min(a.minPos[i], pos[i])
		a.maxPos[i] = math.Max(a.maxPos[i], pos[i])
	}
}

func (a *extremaAccumulator) result() Extrema {
	return Extrema{
		MinPosition:                 a.minPos,
		MaxPosition:                 a.maxPos,
		MaxAverageDisplacement:      a.maxAvg,
		MaxAverageStoryDisplacement: a.maxStoryAvg,
		MaxDisplacement:             a.maxDisp,
		MinDisplacement:             a.minDisp,
	}
}

// FrameResult is the output of CalculateFrames. Extrema.MinPosition and
// MaxPosition are Z-up; the initial-position extrema are left zero.
type FrameResult struct {
	Frames  []Frame
	Extrema Extrema
}

// CalculateFrames runs the single forward pass over the time series. Only
// located nodes contribute; they are visited in the given order. Displacements
// must already be in meters. Frame positions are emitted Y-up.
//
// It returns ErrEmptyDataset when there are no time steps or no located nodes.
func CalculateFrames(ctx context.Context, nodes []*NodeRecord, timeSteps []float64, progress ProgressReporter) (FrameResult, error) {
	progress = progressOrNoop(progress)

	located := make([]*NodeRecord, 0, len(nodes))
	for _, n := range nodes {
		if n.Located {
			located = append(located, n)
		}
	}
	if len(timeSteps) == 0 {
		return FrameResult{}, fmt.Errorf("%w: no time steps", ErrEmptyDataset)
	}
	if len(located) == 0 {
		return FrameResult{}, fmt.Errorf("%w: none of %d nodes has a position", ErrEmptyDataset, len(nodes))
	}

	acc := newExtremaAccumulator()
	frames := make([]Frame, 0, len(timeSteps))

	for t, ts := range timeSteps {
		if t%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return FrameResult{}, err
			}
			progress.Report(50 + float64(t)/float64(len(timeSteps))*50)
		}
		frames = append(frames, buildFrame(t, ts, located, &acc))
	}

	return FrameResult{Frames: frames, Extrema: acc.result()}, nil
}

type storySum struct {
	nodeIDs []string
	sum     Displacement
}

func buildFrame(t int, ts float64, nodes []*NodeRecord, acc *extremaAccumulator) Frame {
	positions := make(map[string]Vec3, len(nodes))
	stories := make(map[string]*storySum)
	var storyOrder []string
	var total Displacement

	for _, n := range nodes {
		d := n.displacementAt(t)
		final := Vec3{
			n.InitialPosition[0] + d.H1,
			n.InitialPosition[1] + d.H2,
			n.InitialPosition[2] + d.V,
		}
		acc.observeNode(final, d)
		positions[n.ID] = ToYUp(final)
		total = total.add(d)

		s, ok := stories[n.Story]
		if !ok {
			s = &storySum{}
			stories[n.Story] = s
			storyOrder = append(storyOrder, n.Story)
		}
		s.nodeIDs = append(s.nodeIDs, n.ID)
		s.sum = s.sum.add(d)
	}

	avg := total.div(float64(len(nodes)))
	acc.maxAvg = math.Max(acc.maxAvg, avg.Magnitude())

	aggregates := make(map[string]StoryAggregate, len(stories))
	for _, id := range storyOrder {
		s := stories[id]
		storyAvg := s.sum.div(float64(len(s.nodeIDs)))
		acc.maxStoryAvg = math.Max(acc.maxStoryAvg, storyAvg.Magnitude())
		aggregates[id] = StoryAggregate{NodeIDs: s.nodeIDs, AverageDisplacement: storyAvg}
	}

	return Frame{
		Index:               t,
		Number:              t + 1,
		Time:                ts,
		Positions:           positions,
		AverageDisplacement: avg,
		Stories:             aggregates,
	}
}
