package facematch

// BoxArea returns the area of a [x1, y1, x2, y2] bounding box, or 0 if invalid.
func BoxArea(bbox []float64) float64 {
	if len(bbox) != 4 {
		return 0
	}
	w := bbox[2] - bbox[0]
	h := bbox[3] - bbox[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ConvertPixelBBoxToRelative converts pixel bbox to relative (0-1) coordinates.
// Input bbox is [x1, y1, x2, y2] in pixels, output is [x1, y1, x2, y2] in relative coords.
func ConvertPixelBBoxToRelative(bbox []float64, width, height int) []float64 {
	if len(bbox) != 4 || width <= 0 || height <= 0 {
		return bbox
	}
	return []float64{
		bbox[0] / float64(width),
		bbox[1] / float64(height),
		bbox[2] / float64(width),
		bbox[3] / float64(height),
	}
}

// SelectPrimary returns the index of the face to use when a frame contains
// several: the highest detection score, with the larger box breaking ties.
// Returns -1 for an empty slice.
func SelectPrimary(scores []float64, boxes [][]float64) int {
	best := -1
	for i := range scores {
		if best < 0 || scores[i] > scores[best] {
			best = i
			continue
		}
		if scores[i] == scores[best] && i < len(boxes) && best < len(boxes) &&
			BoxArea(boxes[i]) > BoxArea(boxes[best]) {
			best = i
		}
	}
	return best
}
