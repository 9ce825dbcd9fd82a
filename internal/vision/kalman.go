package vision

// kalmanState is the 8-dimensional constant-velocity state
// [cx, cy, w, h, vx, vy, vw, vh] spec §4.5 names for the tracker.
type kalmanState [8]float64

// KalmanTrack is one tracked face, carrying a constant-velocity Kalman
// filter in addition to the IoU-matching bookkeeping
// iluha78-FD/internal/vision/track.go's Track already provides.
type KalmanTrack struct {
	ID              uint32
	state           kalmanState
	covDiag         [8]float64 // diagonal process/measurement covariance approximation
	Hits            int
	TimeSinceUpdate int
	Confidence      float32
	Embedding       []float32 // most recent appearance embedding, nil unless a ReIDEmbedder is configured
}

// lostTrack is a pruned track's last-known embedding, kept around for
// reidMaxAge frames so a reappearing subject is re-identified instead
// of minted as a brand new track ID.
type lostTrack struct {
	embedding []float32
	age       int
}

func (t *KalmanTrack) BBox() [4]float32 {
	cx, cy, w, h := t.state[0], t.state[1], t.state[2], t.state[3]
	return [4]float32{
		float32(cx - w/2), float32(cy - h/2),
		float32(cx + w/2), float32(cy + h/2),
	}
}

// predict advances the state by one frame under the constant-velocity
// model and inflates covariance, the Kalman predict step.
func (t *KalmanTrack) predict() {
	for i := 0; i < 4; i++ {
		t.state[i] += t.state[i+4]
		t.covDiag[i] += processNoise
	}
}

// update corrects the predicted state towards a measured box using a
// fixed Kalman gain derived from the diagonal covariance approximation
// (a simplified filter; full cross-covariance terms are unnecessary at
// this tracker's precision requirements).
func (t *KalmanTrack) update(meas [4]float32) {
	cx := float64(meas[0]+meas[2]) / 2
	cy := float64(meas[1]+meas[3]) / 2
	w := float64(meas[2] - meas[0])
	h := float64(meas[3] - meas[1])
	measured := [4]float64{cx, cy, w, h}

	for i := 0; i < 4; i++ {
		gain := t.covDiag[i] / (t.covDiag[i] + measurementNoise)
		innovation := measured[i] - t.state[i]
		t.state[i] += gain * innovation
		t.state[i+4] = gain * innovation // velocity re-estimated from this frame's correction
		t.covDiag[i] = (1 - gain) * t.covDiag[i]
	}
}

const (
	processNoise     = 1.0
	measurementNoise = 4.0
)

// KalmanTracker performs IoU-greedy assignment between predicted track
// boxes and new detections, then runs the Kalman predict/update cycle
// on matches — the tracking half of
// iluha78-FD/internal/vision/track.go's Tracker, replacing its simple
// position-copy update with a constant-velocity filter per spec §4.5.
type KalmanTracker struct {
	tracks        map[uint32]*KalmanTrack
	nextID        uint32
	iouThreshold  float32
	maxGap        int

	reidThreshold float64
	reidMaxAge    int
	lost          map[uint32]*lostTrack
}

func NewKalmanTracker(iouThreshold float32, maxGap int) *KalmanTracker {
	return &KalmanTracker{
		tracks:       make(map[uint32]*KalmanTrack),
		iouThreshold: iouThreshold,
		maxGap:       maxGap,
	}
}

// EnableReID turns on the lost-track re-identification fallback: tracks
// pruned for lacking updates are kept, by appearance embedding only,
// for reidMaxAge further frames, and a detection whose embedding is
// within reidThreshold cosine similarity of one of them is reassigned
// that track's old ID rather than spawned as a new one.
func (k *KalmanTracker) EnableReID(threshold float64, maxAge int) {
	k.reidThreshold = threshold
	k.reidMaxAge = maxAge
	k.lost = make(map[uint32]*lostTrack)
}

// TrackedDetection pairs a detection with its assigned track ID.
type TrackedDetection struct {
	FaceDetection
	TrackID uint32
	// Reidentified reports whether TrackID was recovered from the
	// lost-track buffer rather than freshly assigned.
	Reidentified bool
	// Embedding is the track's current appearance embedding, nil unless
	// a ReIDEmbedder is configured.
	Embedding []float32
}

// Update predicts all existing tracks forward, greedily matches them to
// this frame's detections by IoU (highest IoU first, spec §4.5's
// IoU-based greedy tracking), corrects matched tracks, spawns new
// tracks for unmatched detections, and prunes tracks stale beyond
// max_track_gap. embeddings, when non-nil, must be aligned by index
// with detections; a nil or short entry simply skips the appearance
// update for that detection.
func (k *KalmanTracker) Update(detections []FaceDetection, embeddings [][]float32) []TrackedDetection {
	for _, tr := range k.tracks {
		tr.predict()
		tr.TimeSinceUpdate++
	}

	var candidates []matchCandidate
	for id, tr := range k.tracks {
		predBox := tr.BBox()
		for di, det := range detections {
			if v := iouBox(predBox, det.BBox); v >= k.iouThreshold {
				candidates = append(candidates, matchCandidate{id, di, v})
			}
		}
	}
	// Greedy assignment: highest IoU pairs win first.
	sortCandidatesDesc(candidates)

	matchedTrack := make(map[uint32]bool)
	matchedDet := make(map[int]bool)
	out := make([]TrackedDetection, 0, len(detections))

	for _, c := range candidates {
		if matchedTrack[c.trackID] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackID] = true
		matchedDet[c.detIdx] = true

		tr := k.tracks[c.trackID]
		det := detections[c.detIdx]
		tr.update(det.BBox)
		tr.Hits++
		tr.TimeSinceUpdate = 0
		tr.Confidence = det.Confidence
		if e := embeddingAt(embeddings, c.detIdx); e != nil {
			tr.Embedding = e
		}

		out = append(out, TrackedDetection{FaceDetection: det, TrackID: c.trackID, Embedding: tr.Embedding})
	}

	for di, det := range detections {
		if matchedDet[di] {
			continue
		}
		embedding := embeddingAt(embeddings, di)

		id, reidentified := k.reidentify(embedding)
		if !reidentified {
			k.nextID++
			id = k.nextID
		}

		cx := float64(det.BBox[0]+det.BBox[2]) / 2
		cy := float64(det.BBox[1]+det.BBox[3]) / 2
		w := float64(det.BBox[2] - det.BBox[0])
		h := float64(det.BBox[3] - det.BBox[1])
		k.tracks[id] = &KalmanTrack{
			ID:         id,
			state:      kalmanState{cx, cy, w, h, 0, 0, 0, 0},
			covDiag:    [8]float64{10, 10, 10, 10, 10, 10, 10, 10},
			Hits:       1,
			Confidence: det.Confidence,
			Embedding:  embedding,
		}
		out = append(out, TrackedDetection{FaceDetection: det, TrackID: id, Reidentified: reidentified, Embedding: embedding})
	}

	for id, tr := range k.tracks {
		if tr.TimeSinceUpdate > k.maxGap {
			k.pruneTrack(id, tr)
		}
	}
	k.ageLostTracks()

	return out
}

func embeddingAt(embeddings [][]float32, i int) []float32 {
	if i >= len(embeddings) {
		return nil
	}
	return embeddings[i]
}

// pruneTrack removes a stale track, keeping its embedding in the
// lost-track buffer (if re-identification is enabled and it carries
// one) instead of discarding it outright.
func (k *KalmanTracker) pruneTrack(id uint32, tr *KalmanTrack) {
	delete(k.tracks, id)
	if k.lost != nil && tr.Embedding != nil {
		k.lost[id] = &lostTrack{embedding: tr.Embedding}
	}
}

func (k *KalmanTracker) ageLostTracks() {
	for id, lt := range k.lost {
		lt.age++
		if lt.age > k.reidMaxAge {
			delete(k.lost, id)
		}
	}
}

// reidentify looks for the best cosine-similarity match in the
// lost-track buffer for a freshly detected, unmatched face. Returns
// ok=false when re-identification is disabled, the detection carries
// no embedding, or nothing clears reidThreshold.
func (k *KalmanTracker) reidentify(embedding []float32) (id uint32, ok bool) {
	if k.lost == nil || embedding == nil {
		return 0, false
	}
	var bestID uint32
	bestScore := k.reidThreshold
	found := false
	for lostID, lt := range k.lost {
		if score := CosineSimilarity(embedding, lt.embedding); score >= bestScore {
			bestScore = score
			bestID = lostID
			found = true
		}
	}
	if !found {
		return 0, false
	}
	delete(k.lost, bestID)
	return bestID, true
}

func (k *KalmanTracker) ActiveCount() int { return len(k.tracks) }

type matchCandidate struct {
	trackID uint32
	detIdx  int
	iou     float32
}

func sortCandidatesDesc(c []matchCandidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].iou > c[j-1].iou; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}
