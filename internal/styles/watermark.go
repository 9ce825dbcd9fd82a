package styles

import "fmt"

// appendWatermark appends an overlay stage to filterComplex before the
// final mapped label, spec §4.7's "a watermark, if requested, is
// appended to the graph before the final mapped label". Returns the
// graph unchanged when cfg is nil.
func appendWatermark(filterComplex, outputLabel string, cfg *WatermarkConfig) (string, string) {
	if cfg == nil || cfg.ImagePath == "" {
		return filterComplex, outputLabel
	}

	x, y := cfg.X, cfg.Y
	if x == "" {
		x = "main_w-overlay_w-20"
	}
	if y == "" {
		y = "main_h-overlay_h-20"
	}

	next := outputLabel + "_wm"
	graph := fmt.Sprintf(
		"%s;[%s][1:v]overlay=%s:%s:format=auto[%s]",
		filterComplex, outputLabel, x, y, next,
	)
	return graph, next
}
