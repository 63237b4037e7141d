// Package report renders HTML visualisations of persisted analyses.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/trajectory.report/internal/analysis"
)

var categoryLabels = []string{
	"direct intersect",
	"intersection related",
	"road related",
	"chain forward",
	"chain backward",
}

// CategoryChart builds a bar chart of the lane category counts of one
// analysis.
func CategoryChart(analysisID string, s analysis.Summary) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Trajectory analysis " + analysisID}),
		charts.WithTitleOpts(opts.Title{
			Title: "Lane associations",
			Subtitle: fmt.Sprintf("analysis=%s intersections=%d roads=%d",
				analysisID, s.IntersectionCount, s.RoadCount),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	data := []opts.BarData{
		{Value: s.DirectIntersectCount},
		{Value: s.IntersectionRelatedCount},
		{Value: s.RoadRelatedCount},
		{Value: s.ChainForwardCount},
		{Value: s.ChainBackwardCount},
	}
	bar.SetXAxis(categoryLabels).AddSeries("lanes", data)
	return bar
}

// Render writes the category chart for one analysis as a standalone HTML
// page.
func Render(w io.Writer, analysisID string, s analysis.Summary) error {
	if err := CategoryChart(analysisID, s).Render(w); err != nil {
		return fmt.Errorf("render analysis chart: %w", err)
	}
	return nil
}
