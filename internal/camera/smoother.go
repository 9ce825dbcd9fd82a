package camera

import "math"

// SmootherConfig holds spec §4.6.2's tunables: the zoom-aware dead
// zone, the EMA time constant, pan/zoom velocity+acceleration clamps,
// dropout handling, and the scene-change reset blend factor.
type SmootherConfig struct {
	DeadZoneFraction          float64
	SmoothingTimeWindowMS     float64
	MaxPanSpeedPxPerSec       float64
	MaxAccelerationPxPerSec2  float64
	MaxZoomSpeedPerSec        float64
	MaxZoomAccelerationPerSec2 float64
	MaxDropoutHoldSec         float64
	SceneChangeResetFactor    float64
}

func DefaultSmootherConfig() SmootherConfig {
	return SmootherConfig{
		DeadZoneFraction:           0.05,
		SmoothingTimeWindowMS:      300,
		MaxPanSpeedPxPerSec:        800,
		MaxAccelerationPxPerSec2:   2000,
		MaxZoomSpeedPerSec:         0.5,
		MaxZoomAccelerationPerSec2: 1.0,
		MaxDropoutHoldSec:          1.0,
		SceneChangeResetFactor:     1.0,
	}
}

// Smoother carries per-scene state forward frame by frame: the last
// emitted keyframe, its velocity (for acceleration clamping), and
// dropout bookkeeping. One Smoother instance is scoped to a single
// scene/shot.
type Smoother struct {
	cfg SmootherConfig

	frameWidth, frameHeight float64
	safeCX, safeCY          float64 // relax target on extended dropout
	safeW, safeH            float64

	havePrev    bool
	prev        Keyframe
	prevVelCX   float64
	prevVelCY   float64
	prevVelZoom float64

	lastDetectionTimeMS float64
	dropoutAccumSec     float64
}

func NewSmoother(cfg SmootherConfig, frameWidth, frameHeight float64) *Smoother {
	return &Smoother{
		cfg:         cfg,
		frameWidth:  frameWidth,
		frameHeight: frameHeight,
		safeCX:      frameWidth / 2,
		safeCY:      frameHeight / 2,
		safeW:       frameWidth,
		safeH:       frameHeight,
	}
}

// zoomOf derives a zoom level from the desired crop width relative to
// the source frame: a crop half the frame width is zoom=2.
func (s *Smoother) zoomOf(w float64) float64 {
	if w <= 0 || s.frameWidth <= 0 {
		return 1.0
	}
	z := s.frameWidth / w
	if z < 0.1 {
		z = 0.1
	}
	return z
}

// Step feeds one frame's target through the dead-zone + EMA smoother
// and returns the emitted keyframe. detectionTimeMS is the median
// timestamp of this frame's detections (spec §4.6.2's "real Δt, not a
// synthetic grid"); the previous emitted time is the EMA baseline.
func (s *Smoother) Step(target Target, detectionTimeMS float64) Keyframe {
	if !s.havePrev {
		kf := Keyframe{Time: detectionTimeMS, CX: target.CX, CY: target.CY, W: target.W, H: target.H}
		s.commit(kf, detectionTimeMS)
		return kf
	}

	dtSec := (detectionTimeMS - s.lastDetectionTimeMS) / 1000.0
	if dtSec < 0 {
		dtSec = 0
	}

	zoom := s.zoomOf(s.prev.W)
	deadZoneRadius := s.cfg.DeadZoneFraction * s.frameWidth / math.Sqrt(zoom)

	dx := target.CX - s.prev.CX
	dy := target.CY - s.prev.CY
	dist := math.Sqrt(dx*dx + dy*dy)

	var nextCX, nextCY, nextW, nextH float64
	if dist <= deadZoneRadius {
		// Tripod-lock: keep the last emitted centre, but still let size
		// track so zoom changes are not frozen by a positional dead zone.
		nextCX, nextCY = s.prev.CX, s.prev.CY
		s.prevVelCX, s.prevVelCY = 0, 0
		nextW, nextH = s.emaSize(target, dtSec)
	} else {
		tau := s.cfg.SmoothingTimeWindowMS / 1000.0
		alpha := 1 - math.Exp(-dtSec/tau)
		nextCX = s.prev.CX + alpha*(target.CX-s.prev.CX)
		nextCY = s.prev.CY + alpha*(target.CY-s.prev.CY)
		nextW, nextH = s.emaSize(target, dtSec)
	}

	nextCX, nextCY = s.clampPan(nextCX, nextCY, dtSec)
	nextW, nextH = s.clampZoom(nextW, nextH, dtSec)

	kf := Keyframe{Time: detectionTimeMS, CX: nextCX, CY: nextCY, W: nextW, H: nextH}
	s.commit(kf, detectionTimeMS)
	return kf
}

func (s *Smoother) emaSize(target Target, dtSec float64) (float64, float64) {
	tau := s.cfg.SmoothingTimeWindowMS / 1000.0
	alpha := 1 - math.Exp(-dtSec/tau)
	w := s.prev.W + alpha*(target.W-s.prev.W)
	h := s.prev.H + alpha*(target.H-s.prev.H)
	return w, h
}

// clampPan limits pan velocity and acceleration relative to the
// previous emitted position.
func (s *Smoother) clampPan(cx, cy, dtSec float64) (float64, float64) {
	if dtSec <= 0 {
		return s.prev.CX, s.prev.CY
	}
	dx := cx - s.prev.CX
	dy := cy - s.prev.CY
	dist := math.Sqrt(dx*dx + dy*dy)
	maxDist := s.cfg.MaxPanSpeedPxPerSec * dtSec
	if dist > maxDist && dist > 0 {
		scale := maxDist / dist
		dx *= scale
		dy *= scale
	}

	velCX := dx / dtSec
	velCY := dy / dtSec
	maxDeltaV := s.cfg.MaxAccelerationPxPerSec2 * dtSec
	velCX = clampDelta(velCX, s.prevVelCX, maxDeltaV)
	velCY = clampDelta(velCY, s.prevVelCY, maxDeltaV)

	s.prevVelCX = velCX
	s.prevVelCY = velCY
	return s.prev.CX + velCX*dtSec, s.prev.CY + velCY*dtSec
}

// clampZoom limits zoom velocity and acceleration, operating on the
// zoom ratio derived from crop width and reapplying it to width/height
// in proportion.
func (s *Smoother) clampZoom(w, h, dtSec float64) (float64, float64) {
	if dtSec <= 0 {
		return s.prev.W, s.prev.H
	}
	prevZoom := s.zoomOf(s.prev.W)
	targetZoom := s.zoomOf(w)

	dz := targetZoom - prevZoom
	maxDz := s.cfg.MaxZoomSpeedPerSec * dtSec
	if math.Abs(dz) > maxDz {
		if dz > 0 {
			dz = maxDz
		} else {
			dz = -maxDz
		}
	}

	velZoom := dz / dtSec
	maxDeltaV := s.cfg.MaxZoomAccelerationPerSec2 * dtSec
	velZoom = clampDelta(velZoom, s.prevVelZoom, maxDeltaV)
	s.prevVelZoom = velZoom

	nextZoom := prevZoom + velZoom*dtSec
	if nextZoom < 0.1 {
		nextZoom = 0.1
	}
	nextW := s.frameWidth / nextZoom
	aspect := 1.0
	if s.prev.W > 0 {
		aspect = h / w
	}
	nextH := nextW * aspect
	return nextW, nextH
}

func clampDelta(v, prev, maxDelta float64) float64 {
	d := v - prev
	if d > maxDelta {
		d = maxDelta
	} else if d < -maxDelta {
		d = -maxDelta
	}
	return prev + d
}

func (s *Smoother) commit(kf Keyframe, detectionTimeMS float64) {
	s.prev = kf
	s.havePrev = true
	s.lastDetectionTimeMS = detectionTimeMS
	s.dropoutAccumSec = 0
}

// Dropout must be called each frame interval where no detections were
// available, with the time elapsed since the previous frame; it sums
// those intervals into the time since the last detection. Up to
// MaxDropoutHoldSec of accumulated dropout it holds the last emitted
// position; beyond that it relaxes toward the safe centre.
func (s *Smoother) Dropout(elapsedSec float64) Keyframe {
	if !s.havePrev {
		return Keyframe{Time: 0, CX: s.safeCX, CY: s.safeCY, W: s.safeW, H: s.safeH}
	}

	s.dropoutAccumSec += elapsedSec
	if s.dropoutAccumSec <= s.cfg.MaxDropoutHoldSec {
		return s.prev
	}

	tau := s.cfg.SmoothingTimeWindowMS / 1000.0
	alpha := 1 - math.Exp(-elapsedSec/tau)
	nextCX := s.prev.CX + alpha*(s.safeCX-s.prev.CX)
	nextCY := s.prev.CY + alpha*(s.safeCY-s.prev.CY)
	nextW := s.prev.W + alpha*(s.safeW-s.prev.W)
	nextH := s.prev.H + alpha*(s.safeH-s.prev.H)

	kf := Keyframe{Time: s.prev.Time, CX: nextCX, CY: nextCY, W: nextW, H: nextH}
	s.prev = kf
	return kf
}

// SceneChange blends the smoother's state toward newTarget by
// SceneChangeResetFactor (1.0 = full teleport to the new focus,
// matching spec §4.6.2).
func (s *Smoother) SceneChange(newTarget Target, timeMS float64) Keyframe {
	f := s.cfg.SceneChangeResetFactor
	if !s.havePrev {
		kf := Keyframe{Time: timeMS, CX: newTarget.CX, CY: newTarget.CY, W: newTarget.W, H: newTarget.H}
		s.commit(kf, timeMS)
		return kf
	}

	kf := Keyframe{
		Time: timeMS,
		CX:   s.prev.CX + f*(newTarget.CX-s.prev.CX),
		CY:   s.prev.CY + f*(newTarget.CY-s.prev.CY),
		W:    s.prev.W + f*(newTarget.W-s.prev.W),
		H:    s.prev.H + f*(newTarget.H-s.prev.H),
	}
	s.prevVelCX, s.prevVelCY, s.prevVelZoom = 0, 0, 0
	s.commit(kf, timeMS)
	return kf
}
