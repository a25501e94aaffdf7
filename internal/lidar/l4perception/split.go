package l4perception

// SeparateClouds partitions cloud by an inlier index set. planeCloud holds
// the inlier points and obstacleCloud the rest, both in original order, so
// len(planeCloud)+len(obstacleCloud) == len(cloud). The input is not modified.
func SeparateClouds[P any](cloud []P, inliers IndexSet) (planeCloud, obstacleCloud []P, err error) {
	if err := inliers.Validate(len(cloud)); err != nil {
		return nil, nil, err
	}
	planeCloud = make([]P, 0, len(inliers))
	obstacleCloud = make([]P, 0, len(cloud)-len(inliers))
	next := 0
	for i, p := range cloud {
		if next < len(inliers) && inliers[next] == i {
			planeCloud = append(planeCloud, p)
			next++
			continue
		}
		obstacleCloud = append(obstacleCloud, p)
	}
	return planeCloud, obstacleCloud, nil
}

// Complement returns the indices in [0, n) that are not in s.
func (s IndexSet) Complement(n int) IndexSet {
	out := make(IndexSet, 0, max(n-len(s), 0))
	next := 0
	for i := 0; i < n; i++ {
		if next < len(s) && s[next] == i {
			next++
			continue
		}
		out = append(out, i)
	}
	return out
}
