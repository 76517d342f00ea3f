package face

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// CornersToBounds converts [x1, y1, x2, y2] to Bounds. Invalid input yields zero bounds.
func CornersToBounds(bbox []float64) Bounds {
	if len(bbox) != 4 {
		return Bounds{}
	}
	return Bounds{
		X:      bbox[0],
		Y:      bbox[1],
		Width:  bbox[2] - bbox[0],
		Height: bbox[3] - bbox[1],
	}
}

// Primary returns the index of the largest face in a frame, or -1 when there is none.
// The first face wins on equal area so results follow detector order.
func Primary(samples []Sample) int {
	best := -1
	bestArea := 0.0
	for i := range samples {
		area := samples[i].Bounds.Area()
		if area > bestArea {
			bestArea = area
			best = i
		}
	}
	return best
}

// Expand grows the box by margin (fraction of each side) and clamps it to the frame.
func (b Bounds) Expand(margin float64, frameWidth, frameHeight int) Bounds {
	dx := b.Width * margin
	dy := b.Height * margin
	x1 := max(0, b.X-dx)
	y1 := max(0, b.Y-dy)
	x2 := b.X + b.Width + dx
	y2 := b.Y + b.Height + dy
	if frameWidth > 0 {
		x2 = min(float64(frameWidth), x2)
	}
	if frameHeight > 0 {
		y2 = min(float64(frameHeight), y2)
	}
	if x2 <= x1 || y2 <= y1 {
		return Bounds{}
	}
	return Bounds{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// TrackingIoU is the overlap above which faces in consecutive frames are treated as the same subject.
const TrackingIoU = 0.3

// SameSubject reports whether two samples plausibly belong to the same person across frames.
func SameSubject(prev, next Sample) bool {
	return ComputeIoU(prev.Bounds.Corners(), next.Bounds.Corners()) >= TrackingIoU
}
