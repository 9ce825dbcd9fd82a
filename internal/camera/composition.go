package camera

import (
	"math"
	"sort"
)

// SubjectArrangement classifies how many distinct subjects occupy a
// scene and how they are laid out, driving both the cinematic split
// gate and a recommended zoom bias.
type SubjectArrangement int

const (
	ArrangementNoSubjects SubjectArrangement = iota
	ArrangementSingle
	ArrangementSideBySide
	ArrangementInterview
	ArrangementGroup
)

// RecommendedZoom returns the fraction of frame width the crop target
// should occupy for this arrangement, before any per-track adjustment.
func (a SubjectArrangement) RecommendedZoom() float64 {
	switch a {
	case ArrangementSingle:
		return 0.15
	case ArrangementSideBySide:
		return 0.5
	case ArrangementInterview:
		return 0.35
	case ArrangementGroup:
		return 0.6
	default:
		return 0.5
	}
}

// CameraHint recommends how the camera should behave for a scene's
// composition, independent of the trajectory method actually driving
// the crop (L1-ADMM vs. simple follow).
type CameraHint int

const (
	HintCenterDefault CameraHint = iota
	HintLockOn
	HintFrameBoth
	HintFollowActive
	HintWideShot
)

// IsStatic reports whether the hint implies the camera should hold its
// framing rather than track a moving subject.
func (h CameraHint) IsStatic() bool {
	return h == HintLockOn || h == HintFrameBoth || h == HintWideShot
}

// FocusZone is a scored region of interest within a scene, in raw
// pixel space.
type FocusZone struct {
	CX, CY, W, H float64
	Confidence   float64
}

func centeredZone(frameW, frameH float64) FocusZone {
	return FocusZone{CX: frameW / 2, CY: frameH / 2, W: frameW * 0.5, H: frameH * 0.5, Confidence: 0}
}

func zoneFromBBox(b BBox, confidence float64) FocusZone {
	return FocusZone{CX: b.cx(), CY: b.cy(), W: b.W, H: b.H, Confidence: confidence}
}

// SceneComposition is the result of analyzing a scene's detections:
// how many subjects, how they're arranged, and where the camera should
// look.
type SceneComposition struct {
	Arrangement    SubjectArrangement
	PrimaryFocus   FocusZone
	SecondaryFocus *FocusZone
	CameraHint     CameraHint
	SubjectCount   int
}

// SceneCompositionAnalyzer classifies the subject arrangement of a
// scene from its per-frame face and object detections, feeding the
// cinematic tier's split-appropriateness gate and zoom bias. Grounded
// on original_source/vclip-media/src/intelligent/cinematic/composition.rs's
// SceneCompositionAnalyzer.
type SceneCompositionAnalyzer struct {
	FrameWidth, FrameHeight float64
}

func NewSceneCompositionAnalyzer(frameWidth, frameHeight float64) SceneCompositionAnalyzer {
	return SceneCompositionAnalyzer{FrameWidth: frameWidth, FrameHeight: frameHeight}
}

// trackedBox tracks a subject's union bbox and appearance count across
// the frames sampled for a scene.
type trackedBox struct {
	trackID          uint32
	frames           int
	cxs, cys, ws, hs []float64
}

func (t *trackedBox) add(cx, cy, w, h float64) {
	t.frames++
	t.cxs = append(t.cxs, cx)
	t.cys = append(t.cys, cy)
	t.ws = append(t.ws, w)
	t.hs = append(t.hs, h)
}

func (t *trackedBox) medianBBox() BBox {
	w, h := median(t.ws), median(t.hs)
	return BBox{X: median(t.cxs) - w/2, Y: median(t.cys) - h/2, W: w, H: h}
}

func (t *trackedBox) unionBBox() BBox {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := range t.cxs {
		w, h := t.ws[i], t.hs[i]
		x0, y0 := t.cxs[i]-w/2, t.cys[i]-h/2
		x1, y1 := x0+w, y0+h
		minX, minY = math.Min(minX, x0), math.Min(minY, y0)
		maxX, maxY = math.Max(maxX, x1), math.Max(maxY, y1)
	}
	return BBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

func (t *trackedBox) area() float64 {
	b := t.medianBBox()
	return b.W * b.H
}

// Analyze classifies the subject arrangement of a scene from its
// per-frame face candidates (tracked) and object detections
// (untracked, grouped only by frame), both in raw pixel space.
func (a SceneCompositionAnalyzer) Analyze(faceFrames [][]Candidate, objectFrames [][]BBox) SceneComposition {
	tracks := a.countUniqueTracks(faceFrames)
	if len(tracks) == 0 {
		if fallback := fallbackTrackFromObjects(objectFrames); fallback != nil {
			tracks = []*trackedBox{fallback}
		}
	}
	arrangement := a.determineArrangement(tracks)
	primary, secondary := a.computeFocusZones(arrangement, tracks)
	hint := a.determineCameraHint(arrangement, len(tracks))

	return SceneComposition{
		Arrangement:    arrangement,
		PrimaryFocus:   primary,
		SecondaryFocus: secondary,
		CameraHint:     hint,
		SubjectCount:   len(tracks),
	}
}

// countUniqueTracks keeps only tracks appearing in at least 10% of the
// sampled frames, filtering out single-frame detector noise.
func (a SceneCompositionAnalyzer) countUniqueTracks(faceFrames [][]Candidate) []*trackedBox {
	byTrack := map[uint32]*trackedBox{}
	for _, frame := range faceFrames {
		for _, c := range frame {
			tb, ok := byTrack[c.TrackID]
			if !ok {
				tb = &trackedBox{trackID: c.TrackID}
				byTrack[c.TrackID] = tb
			}
			cx := float64(c.BBox[0]+c.BBox[2]) / 2
			cy := float64(c.BBox[1]+c.BBox[3]) / 2
			tb.add(cx, cy, float64(c.BBox[2]-c.BBox[0]), float64(c.BBox[3]-c.BBox[1]))
		}
	}

	minFrames := int(float64(len(faceFrames)) * 0.1)
	if minFrames < 1 {
		minFrames = 1
	}

	out := make([]*trackedBox, 0, len(byTrack))
	for _, tb := range byTrack {
		if tb.frames >= minFrames {
			out = append(out, tb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].trackID < out[j].trackID })
	return out
}

// fallbackTrackFromObjects treats undifferentiated object detections
// (present in at least 10% of frames) as a single untracked subject,
// for faceless scenes like a presenter gesturing at a whiteboard where
// the face detector has nothing to report.
func fallbackTrackFromObjects(objectFrames [][]BBox) *trackedBox {
	if len(objectFrames) == 0 {
		return nil
	}
	tb := &trackedBox{trackID: math.MaxUint32}
	present := 0
	for _, boxes := range objectFrames {
		if len(boxes) == 0 {
			continue
		}
		present++
		union := unionBoxes(boxes)
		tb.add(union.cx(), union.cy(), union.W, union.H)
	}
	if float64(present) < float64(len(objectFrames))*0.1 {
		return nil
	}
	return tb
}

func unionBoxes(boxes []BBox) BBox {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, b := range boxes {
		minX, minY = math.Min(minX, b.X), math.Min(minY, b.Y)
		maxX, maxY = math.Max(maxX, b.X+b.W), math.Max(maxY, b.Y+b.H)
	}
	return BBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

func (a SceneCompositionAnalyzer) determineArrangement(tracks []*trackedBox) SubjectArrangement {
	switch len(tracks) {
	case 0:
		return ArrangementNoSubjects
	case 1:
		return ArrangementSingle
	case 2:
		b0, b1 := tracks[0].medianBBox(), tracks[1].medianBBox()
		area0, area1 := b0.W*b0.H, b1.W*b1.H
		ratio := area0 / area1
		if ratio < 1 {
			ratio = 1 / ratio
		}
		if ratio > 2.0 {
			return ArrangementInterview
		}
		xDiff := math.Abs(b0.cx()-b1.cx()) / a.FrameWidth
		yDiff := math.Abs(b0.cy()-b1.cy()) / a.FrameHeight
		if xDiff > 0.3 && yDiff < 0.15 {
			return ArrangementSideBySide
		}
		return ArrangementGroup
	default:
		return ArrangementGroup
	}
}

func (a SceneCompositionAnalyzer) computeFocusZones(arrangement SubjectArrangement, tracks []*trackedBox) (FocusZone, *FocusZone) {
	switch arrangement {
	case ArrangementNoSubjects:
		return centeredZone(a.FrameWidth, a.FrameHeight), nil

	case ArrangementSingle:
		return zoneFromBBox(tracks[0].medianBBox(), 1.0), nil

	case ArrangementInterview:
		sorted := append([]*trackedBox(nil), tracks...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].area() > sorted[j].area() })
		primary := zoneFromBBox(sorted[0].medianBBox(), 1.0)
		secondary := zoneFromBBox(sorted[1].medianBBox(), 0.6)
		return primary, &secondary

	case ArrangementSideBySide, ArrangementGroup:
		union := unionAll(tracks)
		return zoneFromBBox(union, 1.0), nil

	default:
		return centeredZone(a.FrameWidth, a.FrameHeight), nil
	}
}

func unionAll(tracks []*trackedBox) BBox {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, t := range tracks {
		b := t.unionBBox()
		minX, minY = math.Min(minX, b.X), math.Min(minY, b.Y)
		maxX, maxY = math.Max(maxX, b.X+b.W), math.Max(maxY, b.Y+b.H)
	}
	return BBox{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}
}

func (a SceneCompositionAnalyzer) determineCameraHint(arrangement SubjectArrangement, trackCount int) CameraHint {
	switch arrangement {
	case ArrangementNoSubjects:
		return HintCenterDefault
	case ArrangementSingle:
		return HintLockOn
	case ArrangementSideBySide:
		return HintFrameBoth
	case ArrangementInterview:
		return HintFollowActive
	case ArrangementGroup:
		if trackCount > 3 {
			return HintWideShot
		}
		return HintFollowActive
	default:
		return HintCenterDefault
	}
}
