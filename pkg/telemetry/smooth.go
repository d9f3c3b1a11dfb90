package telemetry

// Point is one value of a derived series.
type Point struct {
	Moisture  float64 `json:"moisture"`
	Timestamp int64   `json:"timestamp"`
}

// MovingAverage computes the trailing k-point mean of the moisture values in
// rs, which must already be sorted oldest first. The result has len(rs)-k+1
// points; each carries the timestamp of the last raw reading in its window.
// It returns nil when k < 1 or len(rs) < k.
func MovingAverage(rs []Reading, k int) []Point {
	if k < 1 || len(rs) < k {
		return nil
	}
	out := make([]Point, 0, len(rs)-k+1)
	var sum float64
	for i, r := range rs {
		sum += r.Moisture
		if i >= k {
			sum -= rs[i-k].Moisture
		}
		if i >= k-1 {
			out = append(out, Point{Moisture: sum / float64(k), Timestamp: r.Timestamp})
		}
	}
	return out
}
