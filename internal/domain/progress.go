package domain

// ProgressReporter receives completion percentages (0-100) during a build.
// It has no effect on the result.
type ProgressReporter interface {
	Report(percent float64)
}

// ProgressFunc adapts a plain function to ProgressReporter.
type ProgressFunc func(percent float64)

func (f ProgressFunc) Report(percent float64) { f(percent) }

type noProgress struct{}

func (noProgress) Report(float64) {}

func progressOrNoop(p ProgressReporter) ProgressReporter {
	if p == nil {
		return noProgress{}
	}
	if f, ok := p.(ProgressFunc); ok && f == nil {
		return noProgress{}
	}
	return p
}
