package domain

import "time"

// Vec3 is a position in meters. Inside the build it is Z-up (source convention);
// every Vec3 exposed on AnimationData and Frame is Y-up.
type Vec3 [3]float64

// Displacement is a per-axis displacement in meters, kept in instrument axis order.
type Displacement struct {
	H1 float64 `json:"h1"`
	H2 float64 `json:"h2"`
	V  float64 `json:"v"`
}

// Magnitude returns the Euclidean norm of the displacement.
func (d Displacement) Magnitude() float64 {
	return hypot3(d.H1, d.H2, d.V)
}

func (d Displacement) add(o Displacement) Displacement {
	return Displacement{H1: d.H1 + o.H1, H2: d.H2 + o.H2, V: d.V + o.V}
}

func (d Displacement) div(n float64) Displacement {
	return Displacement{H1: d.H1 / n, H2: d.H2 / n, V: d.V / n}
}

// NodeRecord is one instrumented building corner at one story.
type NodeRecord struct {
	ID     string `json:"id"`
	Story  string `json:"story"`
	Corner string `json:"corner"` // NW, NE, SW or SE by convention; not validated

	// InitialPosition is in meters. Y-up once the record leaves BuildAnimationData.
	InitialPosition Vec3 `json:"initial_position"`
	// Located reports whether any direction file supplied a coordinate for the node.
	Located bool `json:"located"`

	DispH1 []float64 `json:"-"`
	DispH2 []float64 `json:"-"`
	DispV  []float64 `json:"-"`
}

func (n *NodeRecord) sequence(dir Direction) *[]float64 {
	switch dir {
	case DirectionH1:
		return &n.DispH1
	case DirectionH2:
		return &n.DispH2
	default:
		return &n.DispV
	}
}

// displacementAt returns the node's displacement at step t, with missing samples as 0.
func (n *NodeRecord) displacementAt(t int) Displacement {
	return Displacement{
		H1: sampleAt(n.DispH1, t),
		H2: sampleAt(n.DispH2, t),
		V:  sampleAt(n.DispV, t),
	}
}

func sampleAt(seq []float64, t int) float64 {
	if t < len(seq) {
		return seq[t]
	}
	return 0
}

// NodeMapping is the parsed node→story/corner mapping, keyed by node ID with
// the file's row order preserved.
type NodeMapping struct {
	Nodes map[string]*NodeRecord
	Order []string
}

// StoryAggregate is the per-story state for one frame.
type StoryAggregate struct {
	NodeIDs             []string     `json:"node_ids"`
	AverageDisplacement Displacement `json:"average_displacement"`
}

// Frame is the derived animation state at one time step.
type Frame struct {
	Index               int                       `json:"index"`
	Number              int                       `json:"frame"`
	Time                float64                   `json:"time"`
	Positions           map[string]Vec3           `json:"positions"`
	AverageDisplacement Displacement              `json:"average_displacement"`
	Stories             map[string]StoryAggregate `json:"stories"`
}

// Extrema are the running global min/max values folded during the frame pass.
type Extrema struct {
	MinPosition                 Vec3    `json:"min_position"`
	MaxPosition                 Vec3    `json:"max_position"`
	MinInitialPosition          Vec3    `json:"min_initial_position"`
	MaxInitialPosition          Vec3    `json:"max_initial_position"`
	MaxAverageDisplacement      float64 `json:"max_average_displacement"`
	MaxAverageStoryDisplacement float64 `json:"max_average_story_displacement"`
	MaxDisplacement             float64 `json:"max_displacement"`
	MinDisplacement             float64 `json:"min_displacement"`
}

// FileDiagnostics summarizes how one direction file was parsed.
type FileDiagnostics struct {
	Filename      string     `json:"filename"`
	Direction     Direction  `json:"direction"`
	Columns       int        `json:"columns"`
	TimeSteps     int        `json:"time_steps"`
	UnmappedNodes int        `json:"unmapped_nodes"`
	Stats         ParseStats `json:"stats"`
}

// AnimationData is the immutable result of one ingestion.
type AnimationData struct {
	ID          string                 `json:"id"`
	Nodes       map[string]*NodeRecord `json:"-"`
	NodeOrder   []string               `json:"-"`
	TimeSteps   []float64              `json:"-"`
	Frames      []Frame                `json:"-"`
	SampleRate  float64                `json:"sample_rate"`
	Extrema     Extrema                `json:"extrema"`
	Diagnostics []FileDiagnostics      `json:"diagnostics"`
	BuiltAt     time.Time              `json:"built_at"`
}

// Frame returns the frame with the given 1-based number.
func (a *AnimationData) Frame(number int) (Frame, bool) {
	if number < 1 || number > len(a.Frames) {
		return Frame{}, false
	}
	return a.Frames[number-1], true
}

// Dataset is the raw text input of one ingestion.
type Dataset struct {
	Mapping    string
	Directions map[string]string // filename -> export text
}
